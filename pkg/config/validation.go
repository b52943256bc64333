package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dittocifs/pkg/account/store"
	"github.com/marmos91/dittocifs/pkg/device/drivers"
	"github.com/marmos91/dittocifs/pkg/registry"
	"github.com/marmos91/dittocifs/pkg/smb/session"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags first, then the rules that span fields.
// Share params are not parsed here; a bad params string only fails the
// tree connect to that share.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	var errs []error
	if err := cfg.Server.Validate(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, validateShares(cfg.Shares)...)
	for i, m := range cfg.DomainMappings {
		if _, err := domainMapping(m); err != nil {
			errs = append(errs, fmt.Errorf("domain_mappings[%d]: %w", i, err))
		}
	}
	if cfg.Accounts.Type == store.TypePostgres {
		if err := cfg.Accounts.Postgres.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("accounts: %w", err))
		}
	}
	return errors.Join(errs...)
}

func validateShares(shares []ShareConfig) []error {
	var errs []error
	known := drivers.Default().Names()
	seen := make(map[string]bool, len(shares))

	for i, s := range shares {
		key := strings.ToLower(s.Name)
		switch {
		case strings.EqualFold(s.Name, registry.IPCShareName):
			errs = append(errs, fmt.Errorf("shares[%d]: %s is built in and cannot be configured", i, registry.IPCShareName))
		case strings.ContainsAny(s.Name, `\/:*?"<>|`):
			errs = append(errs, fmt.Errorf("shares[%d]: name %q contains reserved characters", i, s.Name))
		case seen[key]:
			errs = append(errs, fmt.Errorf("shares[%d]: duplicate share name %q", i, s.Name))
		}
		seen[key] = true

		if !slices.Contains(known, strings.ToLower(s.Driver)) {
			errs = append(errs, fmt.Errorf("shares[%d]: unknown driver %q (available: %s)",
				i, s.Driver, strings.Join(known, ", ")))
		}
	}
	return errs
}

// domainMapping converts m into a session mapping. Exactly one of a range
// or a subnet must be given.
func domainMapping(m DomainMappingConfig) (session.DomainMapping, error) {
	hasRange := m.Low != "" || m.High != ""
	switch {
	case hasRange && m.Subnet != "":
		return nil, fmt.Errorf("domain %s: set either low/high or subnet, not both", m.Domain)
	case m.Subnet != "":
		return session.ParseSubnetMapping(m.Domain, m.Subnet)
	case hasRange:
		return session.ParseRangeMapping(m.Domain, m.Low, m.High)
	default:
		return nil, fmt.Errorf("domain %s: low/high or subnet is required", m.Domain)
	}
}
