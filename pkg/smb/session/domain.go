package session

import (
	"bytes"
	"fmt"
	"net"
)

// DomainMapping assigns a domain to client addresses.
type DomainMapping interface {
	MapDomain(ip net.IP) (domain string, ok bool)
}

// RangeDomainMapping matches addresses in the inclusive range [Low, High].
type RangeDomainMapping struct {
	Domain string
	Low    net.IP
	High   net.IP
}

func (m RangeDomainMapping) MapDomain(ip net.IP) (string, bool) {
	ip16, lo, hi := ip.To16(), m.Low.To16(), m.High.To16()
	if ip16 == nil || lo == nil || hi == nil {
		return "", false
	}
	if bytes.Compare(ip16, lo) >= 0 && bytes.Compare(ip16, hi) <= 0 {
		return m.Domain, true
	}
	return "", false
}

// SubnetDomainMapping matches addresses inside Subnet.
type SubnetDomainMapping struct {
	Domain string
	Subnet *net.IPNet
}

func (m SubnetDomainMapping) MapDomain(ip net.IP) (string, bool) {
	if m.Subnet != nil && m.Subnet.Contains(ip) {
		return m.Domain, true
	}
	return "", false
}

// ParseRangeMapping builds a RangeDomainMapping from textual addresses.
func ParseRangeMapping(domain, low, high string) (RangeDomainMapping, error) {
	lo, hi := net.ParseIP(low), net.ParseIP(high)
	if lo == nil || hi == nil {
		return RangeDomainMapping{}, fmt.Errorf("domain %s: invalid range %s-%s", domain, low, high)
	}
	if (lo.To4() == nil) != (hi.To4() == nil) {
		return RangeDomainMapping{}, fmt.Errorf("domain %s: range %s-%s mixes address families", domain, low, high)
	}
	if bytes.Compare(lo.To16(), hi.To16()) > 0 {
		return RangeDomainMapping{}, fmt.Errorf("domain %s: range start %s is after end %s", domain, low, high)
	}
	return RangeDomainMapping{Domain: domain, Low: lo, High: hi}, nil
}

// ParseSubnetMapping builds a SubnetDomainMapping from CIDR notation.
func ParseSubnetMapping(domain, cidr string) (SubnetDomainMapping, error) {
	_, subnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return SubnetDomainMapping{}, fmt.Errorf("domain %s: %w", domain, err)
	}
	return SubnetDomainMapping{Domain: domain, Subnet: subnet}, nil
}

// DomainMapper resolves the domain of a client. The first matching
// mapping wins; unmatched clients get the default domain.
type DomainMapper struct {
	Default  string
	mappings []DomainMapping
}

// NewDomainMapper returns a mapper trying mappings in order.
func NewDomainMapper(def string, mappings ...DomainMapping) *DomainMapper {
	return &DomainMapper{Default: def, mappings: mappings}
}

// DomainFor returns the domain for ip. A nil mapper yields "".
func (d *DomainMapper) DomainFor(ip net.IP) string {
	if d == nil {
		return ""
	}
	if ip != nil {
		for _, m := range d.mappings {
			if domain, ok := m.MapDomain(ip); ok {
				return domain
			}
		}
	}
	return d.Default
}

// clientIP strips the port from a remote address.
func clientIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func parseIP(addr string) net.IP { return net.ParseIP(clientIP(addr)) }
