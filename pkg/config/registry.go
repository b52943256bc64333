package config

import (
	"fmt"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/pkg/device/drivers"
	"github.com/marmos91/dittocifs/pkg/platform"
	"github.com/marmos91/dittocifs/pkg/registry"
	"github.com/marmos91/dittocifs/pkg/smb/session"
)

// InitializeRegistry builds the share registry from cfg.Shares using the
// built-in drivers and the native platform services.
func InitializeRegistry(cfg *Config) (*registry.Registry, error) {
	ps := platform.Default()
	reg := registry.NewRegistry(drivers.Default(), ps)

	for _, s := range cfg.Shares {
		if err := reg.AddShare(s.registryConfig()); err != nil {
			return nil, fmt.Errorf("failed to add share %q: %w", s.Name, err)
		}
	}

	logger.Debug("Registry initialized", "shares", reg.CountShares(), "platform", ps.Name())
	return reg, nil
}

func (s ShareConfig) registryConfig() *registry.ShareConfig {
	return &registry.ShareConfig{
		Name:           s.Name,
		Driver:         s.Driver,
		Params:         s.Params,
		Comment:        s.Comment,
		Hidden:         s.Hidden,
		MaxUses:        s.MaxUses,
		AllowedClients: s.AllowedClients,
		DeniedClients:  s.DeniedClients,
	}
}

// DomainMapper builds the client-address to domain mapper. Unmatched
// clients get cfg.Server.Domain.
func DomainMapper(cfg *Config) (*session.DomainMapper, error) {
	mappings := make([]session.DomainMapping, 0, len(cfg.DomainMappings))
	for i, m := range cfg.DomainMappings {
		dm, err := domainMapping(m)
		if err != nil {
			return nil, fmt.Errorf("domain_mappings[%d]: %w", i, err)
		}
		mappings = append(mappings, dm)
	}
	return session.NewDomainMapper(cfg.Server.Domain, mappings...), nil
}
