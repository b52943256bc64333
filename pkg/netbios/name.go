package netbios

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"
)

// MaxNameLength is the longest NetBIOS name; the 16th byte is the type suffix.
const MaxNameLength = 15

// Common name type suffixes.
const (
	TypeWorkstation byte = 0x00
	TypeMessenger   byte = 0x03
	TypeServer      byte = 0x20
	TypeDomainMB    byte = 0x1B
	TypeDomain      byte = 0x1C
	TypeMasterBr    byte = 0x1D
	TypeBrowser     byte = 0x1E
)

// ErrInvalidName is returned for empty or over-long names.
var ErrInvalidName = errors.New("netbios: invalid name")

// State is the registration state of a name table entry.
type State uint8

const (
	Unregistered State = iota
	Registering
	Registered
	Refreshing
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "Unregistered"
	case Registering:
		return "Registering"
	case Registered:
		return "Registered"
	case Refreshing:
		return "Refreshing"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Key identifies a name: the upper-cased name and its type suffix.
type Key struct {
	Name string
	Type byte
}

// KeyOf normalises name for use as a table key.
func KeyOf(name string, typ byte) Key {
	return Key{Name: canonical(name), Type: typ}
}

func (k Key) String() string {
	return fmt.Sprintf("%s<%02X>", k.Name, k.Type)
}

func canonical(name string) string {
	return strings.ToUpper(strings.TrimRight(name, " \x00"))
}

// Name is a NetBIOS name together with the addresses registered for it.
type Name struct {
	Name  string
	Type  byte
	Addrs []netip.Addr
	Group bool
	TTL   time.Duration
	// Local is set for names this host owns.
	Local bool
}

// NewName returns a unique local name bound to addrs.
func NewName(name string, typ byte, addrs ...netip.Addr) Name {
	return Name{Name: canonical(name), Type: typ, Addrs: addrs, Local: true}
}

// Key returns the table key of n.
func (n Name) Key() Key { return KeyOf(n.Name, n.Type) }

func (n Name) String() string { return n.Key().String() }

// Validate checks the name length.
func (n Name) Validate() error {
	c := canonical(n.Name)
	if c == "" || len(c) > MaxNameLength {
		return fmt.Errorf("%w: %q", ErrInvalidName, n.Name)
	}
	return nil
}

// HasAddr reports whether a is registered for n.
func (n Name) HasAddr(a netip.Addr) bool {
	return slices.Contains(n.Addrs, a)
}

// clone copies n so callers never share the address slice with the table.
func (n Name) clone() Name {
	n.Addrs = slices.Clone(n.Addrs)
	return n
}
