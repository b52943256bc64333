package registry

import (
	"net"
	"strings"
	"sync"

	"github.com/marmos91/dittocifs/pkg/device"
)

// ShareType distinguishes disk shares from the IPC$ pipe share.
type ShareType int

const (
	ShareTypeDisk ShareType = iota
	ShareTypeIPC
)

func (t ShareType) String() string {
	if t == ShareTypeIPC {
		return "ipc"
	}
	return "disk"
}

// IPCShareName is the always-present named-pipe share.
const IPCShareName = "IPC$"

// ShareConfig contains all configuration needed to create a share.
type ShareConfig struct {
	Name    string
	Driver  string
	Params  string // key=value[,key=value]* handed to Device.CreateContext
	Comment string
	Hidden  bool   // omitted from share enumeration, still reachable by name
	MaxUses uint32 // 0 = unlimited

	// Access Control
	AllowedClients []string // IP addresses or CIDR ranges allowed (empty = all allowed)
	DeniedClients  []string // IP addresses or CIDR ranges denied (takes precedence)
}

// Share is a configured share bound to its driver. The device context is
// created on the first successful connect and reused afterwards.
type Share struct {
	Name           string
	Driver         string
	Params         string
	Comment        string
	Hidden         bool
	Type           ShareType
	MaxUses        uint32
	AllowedClients []string
	DeniedClients  []string

	device device.Device

	mu      sync.Mutex
	context device.Context
}

// Device returns the driver instance backing the share, nil for IPC$.
func (s *Share) Device() device.Device { return s.device }

// Context returns the cached device context, if one has been created.
func (s *Share) Context() device.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.context
}

// instantiate returns the cached context or creates one. Failures are not
// cached so a corrected configuration takes effect on the next connect.
func (s *Share) instantiate() (device.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.context != nil {
		return s.context, nil
	}
	c, err := s.device.CreateContext(s.Params)
	if err != nil {
		return nil, err
	}
	s.context = c
	return c, nil
}

// Path is the backing location reported to clients.
func (s *Share) Path() string {
	if c := s.Context(); c != nil {
		return c.Describe()
	}
	return ""
}

// ReadOnly reports whether the cached context refuses writes.
func (s *Share) ReadOnly() bool {
	c := s.Context()
	return c != nil && c.ReadOnly()
}

// AllowsClient applies the denied list first, then the allowed list.
func (s *Share) AllowsClient(clientIP string) bool {
	for _, denied := range s.DeniedClients {
		if MatchesIPPattern(clientIP, denied) {
			return false
		}
	}
	if len(s.AllowedClients) == 0 {
		return true
	}
	for _, allowed := range s.AllowedClients {
		if MatchesIPPattern(clientIP, allowed) {
			return true
		}
	}
	return false
}

// MatchesIPPattern checks an IP against a single address or a CIDR range.
func MatchesIPPattern(clientIP string, pattern string) bool {
	if _, ipNet, err := net.ParseCIDR(pattern); err == nil {
		ip := net.ParseIP(clientIP)
		return ip != nil && ipNet.Contains(ip)
	}
	return clientIP == pattern
}

func shareKey(name string) string { return strings.ToUpper(name) }
