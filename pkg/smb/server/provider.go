package server

import (
	"strings"

	"github.com/marmos91/dittocifs/pkg/dcerpc/srvsvc"
	"github.com/marmos91/dittocifs/pkg/registry"
)

// Version reported by NetrServerGetInfo.
const (
	serverVersionMajor = 6
	serverVersionMinor = 1
)

// srvsvcProvider feeds SRVSVC from the share registry and the live
// session manager.
type srvsvcProvider struct {
	srv *Server
}

// Shares lists the visible shares. Hidden shares are never enumerated;
// IPC$ is reported as a special IPC share.
func (p *srvsvcProvider) Shares() []srvsvc.Share {
	var out []srvsvc.Share
	for _, sh := range p.srv.registry.ListShares() {
		if sh.Hidden {
			continue
		}
		typ := srvsvc.STypeDiskTree
		if sh.Type == registry.ShareTypeIPC {
			typ = srvsvc.STypeIPC | srvsvc.STypeSpecial
		}
		out = append(out, srvsvc.Share{
			Name:        sh.Name,
			Type:        typ,
			Comment:     sh.Comment,
			Path:        sh.Path(),
			MaxUses:     sh.MaxUses,
			CurrentUses: uint32(p.srv.sessions.ShareUses(sh.Name)),
		})
	}
	return out
}

// Connections lists tree connections. A qualifier of \\client matches by
// client address, anything else by share name.
func (p *srvsvcProvider) Connections(qualifier string) []srvsvc.Connection {
	client, byClient := strings.CutPrefix(qualifier, `\\`)

	var out []srvsvc.Connection
	for _, sess := range p.srv.sessions.Sessions() {
		ip := sess.ClientIP()
		addr := sess.ClientAddr
		if ip != nil {
			addr = ip.String()
		}
		if byClient && !strings.EqualFold(client, addr) {
			continue
		}
		for _, t := range sess.Trees() {
			if qualifier != "" && !byClient && !strings.EqualFold(qualifier, t.Share.Name) {
				continue
			}
			out = append(out, srvsvc.Connection{
				ID:        t.ID,
				Share:     t.Share.Name,
				User:      sess.User,
				Client:    addr,
				Opens:     uint32(t.Opens()),
				Connected: t.Connected,
			})
		}
	}
	return out
}

func (p *srvsvcProvider) Server() srvsvc.ServerDetails {
	return srvsvc.ServerDetails{
		Name:         p.srv.cfg.ServerName,
		Comment:      p.srv.cfg.Comment,
		VersionMajor: serverVersionMajor,
		VersionMinor: serverVersionMinor,
	}
}
