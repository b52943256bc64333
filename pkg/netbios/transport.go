package netbios

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/marmos91/dittocifs/internal/logger"
)

// DefaultPort is the NetBIOS name service port.
const DefaultPort = 137

// Transport carries name service datagrams.
type Transport interface {
	// Broadcast sends data to every host on the segment.
	Broadcast(ctx context.Context, data []byte) error
	// Send sends data to one host.
	Send(ctx context.Context, data []byte, to netip.AddrPort) error
	// Receive blocks for the next datagram. It returns net.ErrClosed once
	// the transport is closed.
	Receive(ctx context.Context) ([]byte, netip.AddrPort, error)
	// LocalAddr is the IPv4 address advertised for local names.
	LocalAddr() netip.Addr
	Close() error
}

// ============================================================================
// UDP
// ============================================================================

// UDPConfig configures a UDPTransport.
type UDPConfig struct {
	// ListenAddress defaults to 0.0.0.0:137.
	ListenAddress string
	// BroadcastAddress defaults to 255.255.255.255.
	BroadcastAddress string
	// AdvertiseAddress is the IPv4 address put in registrations. When
	// empty the first non-loopback IPv4 interface address is used.
	AdvertiseAddress string
}

// UDPTransport is a Transport over a UDP socket.
type UDPTransport struct {
	conn      *net.UDPConn
	bcast     netip.AddrPort
	local     netip.Addr
	closeOnce sync.Once
}

// ListenUDP opens the name service socket.
func ListenUDP(cfg UDPConfig) (*UDPTransport, error) {
	listen := cfg.ListenAddress
	if listen == "" {
		listen = fmt.Sprintf("0.0.0.0:%d", DefaultPort)
	}
	laddr, err := net.ResolveUDPAddr("udp4", listen)
	if err != nil {
		return nil, fmt.Errorf("resolve UDP %s: %w", listen, err)
	}

	bcastHost := cfg.BroadcastAddress
	if bcastHost == "" {
		bcastHost = "255.255.255.255"
	}
	bip, err := netip.ParseAddr(bcastHost)
	if err != nil || !bip.Is4() {
		return nil, fmt.Errorf("invalid broadcast address %q", bcastHost)
	}
	port := uint16(laddr.Port)
	if port == 0 {
		port = DefaultPort
	}

	local, err := advertiseAddr(cfg.AdvertiseAddress)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen UDP %s: %w", listen, err)
	}
	logger.Info("NetBIOS name service listening", logger.KeyAddress, conn.LocalAddr().String(), "broadcast", bip.String(), "advertise", local.String())

	return &UDPTransport{
		conn:  conn,
		bcast: netip.AddrPortFrom(bip, port),
		local: local,
	}, nil
}

func advertiseAddr(s string) (netip.Addr, error) {
	if s != "" {
		a, err := netip.ParseAddr(s)
		if err != nil || !a.Is4() {
			return netip.Addr{}, fmt.Errorf("invalid advertise address %q", s)
		}
		return a, nil
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("list interface addresses: %w", err)
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip, ok := netip.AddrFromSlice(ipn.IP.To4()); ok && !ip.IsLoopback() {
			return ip, nil
		}
	}
	return netip.AddrFrom4([4]byte{127, 0, 0, 1}), nil
}

func (t *UDPTransport) Broadcast(ctx context.Context, data []byte) error {
	return t.Send(ctx, data, t.bcast)
}

func (t *UDPTransport) Send(ctx context.Context, data []byte, to netip.AddrPort) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
	} else {
		_ = t.conn.SetWriteDeadline(time.Time{})
	}
	_, err := t.conn.WriteToUDPAddrPort(data, to)
	return err
}

// Receive polls with a short read deadline so context cancellation is
// observed promptly.
func (t *UDPTransport) Receive(ctx context.Context) ([]byte, netip.AddrPort, error) {
	buf := make([]byte, 1500)
	for {
		if err := ctx.Err(); err != nil {
			return nil, netip.AddrPort{}, err
		}
		if err := t.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			return nil, netip.AddrPort{}, err
		}
		n, from, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return nil, netip.AddrPort{}, err
		}
		return buf[:n:n], netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), nil
	}
}

func (t *UDPTransport) LocalAddr() netip.Addr { return t.local }

// Addr returns the bound socket address.
func (t *UDPTransport) Addr() net.Addr { return t.conn.LocalAddr() }

func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() { err = t.conn.Close() })
	return err
}

// ============================================================================
// In-memory bus
// ============================================================================

type datagram struct {
	data []byte
	from netip.AddrPort
}

// Bus is an in-memory broadcast segment. Every Transport joined to it
// receives broadcasts from the others.
type Bus struct {
	mu    sync.RWMutex
	hosts map[netip.Addr]*BusTransport
}

// NewBus returns an empty segment.
func NewBus() *Bus {
	return &Bus{hosts: make(map[netip.Addr]*BusTransport)}
}

// Join attaches a host with address addr.
func (b *Bus) Join(addr netip.Addr) *BusTransport {
	t := &BusTransport{
		bus:   b,
		addr:  addr,
		inbox: make(chan datagram, 64),
		done:  make(chan struct{}),
	}
	b.mu.Lock()
	b.hosts[addr] = t
	b.mu.Unlock()
	return t
}

func (b *Bus) deliver(to *BusTransport, dg datagram) {
	select {
	case <-to.done:
	case to.inbox <- dg:
	default:
		// full inbox, the datagram is lost like on a real segment
	}
}

// BusTransport is one host on a Bus.
type BusTransport struct {
	bus       *Bus
	addr      netip.Addr
	inbox     chan datagram
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	sendErr error
}

// FailSends makes every subsequent Broadcast and Send return err; nil
// restores normal operation.
func (t *BusTransport) FailSends(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

func (t *BusTransport) failure() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sendErr
}

func (t *BusTransport) Broadcast(ctx context.Context, data []byte) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	dg := datagram{data: append([]byte(nil), data...), from: netip.AddrPortFrom(t.addr, DefaultPort)}

	t.bus.mu.RLock()
	defer t.bus.mu.RUnlock()
	for addr, peer := range t.bus.hosts {
		if addr != t.addr {
			t.bus.deliver(peer, dg)
		}
	}
	return nil
}

func (t *BusTransport) Send(ctx context.Context, data []byte, to netip.AddrPort) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.bus.mu.RLock()
	peer, ok := t.bus.hosts[to.Addr()]
	t.bus.mu.RUnlock()
	if ok {
		t.bus.deliver(peer, datagram{data: append([]byte(nil), data...), from: netip.AddrPortFrom(t.addr, DefaultPort)})
	}
	return nil
}

func (t *BusTransport) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.done:
		return net.ErrClosed
	default:
	}
	return t.failure()
}

func (t *BusTransport) Receive(ctx context.Context) ([]byte, netip.AddrPort, error) {
	select {
	case <-ctx.Done():
		return nil, netip.AddrPort{}, ctx.Err()
	case <-t.done:
		return nil, netip.AddrPort{}, net.ErrClosed
	case dg := <-t.inbox:
		return dg.data, dg.from, nil
	}
}

func (t *BusTransport) LocalAddr() netip.Addr { return t.addr }

func (t *BusTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.bus.mu.Lock()
		delete(t.bus.hosts, t.addr)
		t.bus.mu.Unlock()
	})
	return nil
}
