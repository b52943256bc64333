package api

import (
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/dittocifs/pkg/locking"
	"github.com/marmos91/dittocifs/pkg/netbios"
	"github.com/marmos91/dittocifs/pkg/registry"
	"github.com/marmos91/dittocifs/pkg/smb/server"
	"github.com/marmos91/dittocifs/pkg/smb/session"
)

// Sources are the live components the API reports on. Any of them may be
// nil; the matching endpoint then returns an empty list.
type Sources struct {
	Server   *server.Server
	Sessions *session.Manager
	Registry *registry.Registry
	Locks    *locking.Manager
	Names    *netbios.NameTable
}

type handlers struct {
	src     Sources
	started time.Time
}

// ============================================================================
// Health
// ============================================================================

type healthData struct {
	Service     string `json:"service"`
	Uptime      string `json:"uptime"`
	Connections int    `json:"connections"`
	Sessions    int    `json:"sessions"`
	OpenFiles   int    `json:"open_files"`
}

func (h *handlers) liveness(w http.ResponseWriter, r *http.Request) {
	d := healthData{
		Service: "dittocifs",
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	}
	if h.src.Server != nil {
		d.Connections = h.src.Server.ConnectionCount()
		d.OpenFiles = h.src.Server.OpenFiles()
	}
	if h.src.Sessions != nil {
		d.Sessions = h.src.Sessions.Count()
	}
	writeJSON(w, http.StatusOK, Response{Status: "healthy", Timestamp: time.Now().UTC(), Data: d})
}

// ============================================================================
// NetBIOS names
// ============================================================================

type nameView struct {
	Name       string       `json:"name"`
	Type       string       `json:"type"`
	Group      bool         `json:"group"`
	Local      bool         `json:"local"`
	State      string       `json:"state"`
	Addresses  []netip.Addr `json:"addresses"`
	TTLSeconds int64        `json:"ttl_seconds"`
}

func (h *handlers) listNames(w http.ResponseWriter, r *http.Request) {
	out := []nameView{}
	if t := h.src.Names; t != nil {
		for _, n := range t.Names() {
			out = append(out, nameView{
				Name:       n.Name,
				Type:       fmt.Sprintf("0x%02X", n.Type),
				Group:      n.Group,
				Local:      n.Local,
				State:      t.State(n.Key()).String(),
				Addresses:  n.Addrs,
				TTLSeconds: int64(n.TTL / time.Second),
			})
		}
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}

// ============================================================================
// Sessions
// ============================================================================

type treeView struct {
	ID        uint32    `json:"id"`
	Share     string    `json:"share"`
	Opens     int       `json:"opens"`
	Connected time.Time `json:"connected"`
}

type sessionView struct {
	ID      uint64        `json:"id"`
	User    string        `json:"user"`
	Domain  string        `json:"domain"`
	Client  string        `json:"client"`
	Guest   bool          `json:"guest"`
	Created time.Time     `json:"created"`
	Trees   []treeView    `json:"trees"`
	Stats   session.Stats `json:"stats"`
}

func (h *handlers) viewSession(s *session.Session) sessionView {
	v := sessionView{
		ID:      s.ID,
		User:    s.User,
		Domain:  s.Domain,
		Client:  s.ClientAddr,
		Guest:   s.Guest,
		Created: s.Created,
		Trees:   []treeView{},
		Stats:   h.src.Sessions.Stats(s),
	}
	for _, t := range s.Trees() {
		v.Trees = append(v.Trees, treeView{ID: t.ID, Share: t.Share.Name, Opens: t.Opens(), Connected: t.Connected})
	}
	return v
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	out := []sessionView{}
	if h.src.Sessions != nil {
		for _, s := range h.src.Sessions.Sessions() {
			out = append(out, h.viewSession(s))
		}
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid session id"))
		return
	}
	if h.src.Sessions == nil {
		writeJSON(w, http.StatusNotFound, errorResponse("session not found"))
		return
	}
	s, ok := h.src.Sessions.GetSession(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("session not found"))
		return
	}
	writeJSON(w, http.StatusOK, okResponse(h.viewSession(s)))
}

// ============================================================================
// Shares
// ============================================================================

type shareView struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Driver      string `json:"driver,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Hidden      bool   `json:"hidden"`
	MaxUses     uint32 `json:"max_uses"`
	CurrentUses int    `json:"current_uses"`
}

func (h *handlers) listShares(w http.ResponseWriter, r *http.Request) {
	out := []shareView{}
	if h.src.Registry != nil {
		for _, s := range h.src.Registry.ListShares() {
			v := shareView{
				Name:    s.Name,
				Type:    s.Type.String(),
				Driver:  s.Driver,
				Comment: s.Comment,
				Hidden:  s.Hidden,
				MaxUses: s.MaxUses,
			}
			if h.src.Sessions != nil {
				v.CurrentUses = h.src.Sessions.ShareUses(s.Name)
			}
			out = append(out, v)
		}
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}

// ============================================================================
// Locks
// ============================================================================

type lockView struct {
	Offset    uint64    `json:"offset"`
	Length    uint64    `json:"length"`
	PID       uint32    `json:"pid"`
	SessionID uint64    `json:"session_id"`
	Acquired  time.Time `json:"acquired"`
}

type fileLocksView struct {
	Share string     `json:"share"`
	Path  string     `json:"path"`
	Locks []lockView `json:"locks"`
}

func (h *handlers) listLocks(w http.ResponseWriter, r *http.Request) {
	out := []fileLocksView{}
	if h.src.Locks != nil {
		for _, fl := range h.src.Locks.Snapshot() {
			v := fileLocksView{Share: fl.Share, Path: fl.Path}
			for _, l := range fl.Locks {
				v.Locks = append(v.Locks, lockView{
					Offset:    l.Offset,
					Length:    l.Length,
					PID:       l.PID,
					SessionID: l.SessionID,
					Acquired:  l.Acquired,
				})
			}
			out = append(out, v)
		}
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}
