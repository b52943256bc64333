package netbios

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/internal/telemetry"
)

// ErrDuplicateName is returned by AddName when another host holds the name.
var ErrDuplicateName = errors.New("netbios: duplicate name")

// Config holds the name service timing parameters.
type Config struct {
	// Retries is the number of registration or query broadcasts sent
	// before giving up (default 3).
	Retries int
	// AttemptTimeout bounds the wait for a response to one broadcast
	// (default 750ms).
	AttemptTimeout time.Duration
	// TTL is advertised for local names (default 300000s, zero means
	// infinite).
	TTL time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 750 * time.Millisecond
	}
	if c.TTL < 0 {
		c.TTL = 0
	} else if c.TTL == 0 {
		c.TTL = 300000 * time.Second
	}
}

// Service runs the name service protocol for one host.
type Service struct {
	table *NameTable
	tr    Transport
	cfg   Config

	mu      sync.Mutex
	nextTrn uint16
	pending map[uint16]chan *Packet
}

// NewService returns a service that records names in table and talks
// over tr.
func NewService(table *NameTable, tr Transport, cfg Config) *Service {
	cfg.ApplyDefaults()
	return &Service{
		table:   table,
		tr:      tr,
		cfg:     cfg,
		nextTrn: uint16(rand.IntN(1 << 16)),
		pending: make(map[uint16]chan *Packet),
	}
}

// Table returns the name table.
func (s *Service) Table() *NameTable { return s.table }

// ============================================================================
// Transactions
// ============================================================================

func (s *Service) begin() (uint16, <-chan *Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		s.nextTrn++
		if _, busy := s.pending[s.nextTrn]; !busy && s.nextTrn != 0 {
			break
		}
	}
	ch := make(chan *Packet, 4)
	s.pending[s.nextTrn] = ch
	return s.nextTrn, ch
}

func (s *Service) end(id uint16) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Service) route(p *Packet) bool {
	s.mu.Lock()
	ch, ok := s.pending[p.TrnID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- p:
	default:
	}
	return true
}

func (s *Service) broadcast(ctx context.Context, p *Packet) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	return s.tr.Broadcast(ctx, data)
}

func (s *Service) send(ctx context.Context, p *Packet, to netip.AddrPort) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	return s.tr.Send(ctx, data, to)
}

// ============================================================================
// Operations
// ============================================================================

// AddName registers a local name. Addresses default to the transport's
// local address. The name is claimed when no host objects within
// Retries x AttemptTimeout; a negative response yields ErrDuplicateName.
// A WACK extends the current attempt once.
func (s *Service) AddName(ctx context.Context, n Name) (NameEvent, error) {
	ctx, span := telemetry.StartNameSpan(ctx, telemetry.SpanNameAdd, n.Name, n.Type)
	defer span.End()

	if len(n.Addrs) == 0 {
		n.Addrs = []netip.Addr{s.tr.LocalAddr()}
	}
	if n.TTL == 0 {
		n.TTL = s.cfg.TTL
	}
	if err := s.table.BeginAdd(n); err != nil {
		if errors.Is(err, ErrNameExists) {
			span.SetAttributes(telemetry.NameStatus(AddDuplicate.String()))
			return NameEvent{Name: n, Status: AddDuplicate}, fmt.Errorf("%w: %w", ErrDuplicateName, err)
		}
		return NameEvent{}, err
	}

	id, ch := s.begin()
	defer s.end(id)

	status, err := s.claim(ctx, NewRegistrationRequest(id, n), ch)
	ev, cerr := s.table.CompleteAdd(n.Key(), status)
	if cerr != nil {
		// the entry was removed underneath us, e.g. by ReleaseName
		return NameEvent{Name: n, Status: AddFailed}, cerr
	}
	span.SetAttributes(telemetry.NameStatus(status.String()))

	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.WarnCtx(ctx, "NetBIOS name registration failed", logger.NetBIOSName(n.Name, n.Type), logger.KeyNameStatus, status.String(), logger.KeyError, err)
		return ev, err
	}
	logger.InfoCtx(ctx, "NetBIOS name registered", logger.NetBIOSName(n.Name, n.Type), logger.KeyAddress, n.Addrs)
	return ev, nil
}

func (s *Service) claim(ctx context.Context, req *Packet, responses <-chan *Packet) (Status, error) {
	for attempt := 1; attempt <= s.cfg.Retries; attempt++ {
		if err := s.broadcast(ctx, req); err != nil {
			if ctx.Err() != nil {
				return AddFailed, ctx.Err()
			}
			return AddIOError, fmt.Errorf("broadcast registration: %w", err)
		}
		logger.Debug("NetBIOS registration sent", logger.KeyTrnID, req.TrnID, logger.KeyAttempt, attempt)

		timer := time.NewTimer(s.cfg.AttemptTimeout)
		extended := false
	wait:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return AddFailed, ctx.Err()
			case resp := <-responses:
				if resp.Opcode == OpWACK {
					// The owner is checking. One extension per attempt keeps
					// the claim bounded by 2 x Retries x AttemptTimeout.
					if !extended {
						extended = true
						timer.Reset(s.cfg.AttemptTimeout)
					}
					continue
				}
				timer.Stop()
				if resp.Rcode != RcodeOK {
					return AddDuplicate, fmt.Errorf("%w: rcode %d", ErrDuplicateName, resp.Rcode)
				}
				return AddSuccess, nil
			case <-timer.C:
				break wait
			}
		}
	}

	// Nobody objected: claim the name.
	if err := s.broadcast(ctx, NewOverwriteDemand(req.TrnID, nameOf(req))); err != nil {
		if ctx.Err() != nil {
			return AddFailed, ctx.Err()
		}
		return AddIOError, fmt.Errorf("broadcast overwrite demand: %w", err)
	}
	return AddSuccess, nil
}

func nameOf(req *Packet) Name {
	n, _ := req.claimedName()
	return n
}

// QueryName resolves a name from the table or, failing that, by broadcast.
// Answers from the network are recorded as remote names.
func (s *Service) QueryName(ctx context.Context, name string, typ byte) ([]netip.Addr, error) {
	ctx, span := telemetry.StartNameSpan(ctx, telemetry.SpanNameQuery, name, typ)
	defer span.End()

	if n, ok := s.table.Lookup(name, typ); ok {
		return n.Addrs, nil
	}

	id, ch := s.begin()
	defer s.end(id)
	req := NewQueryRequest(id, canonical(name), typ)

	for attempt := 1; attempt <= s.cfg.Retries; attempt++ {
		if err := s.broadcast(ctx, req); err != nil {
			telemetry.RecordError(ctx, err)
			return nil, fmt.Errorf("broadcast query: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case resp := <-ch:
			if resp.Rcode != RcodeOK || len(resp.Answers) == 0 {
				return nil, fmt.Errorf("%w: %s", ErrNameNotFound, KeyOf(name, typ))
			}
			found, _ := resp.claimedName()
			if _, err := s.table.RegisterName(found); err != nil && !errors.Is(err, ErrNameExists) {
				logger.DebugCtx(ctx, "Ignoring bad query answer", logger.KeyError, err)
			}
			return found.Addrs, nil
		case <-time.After(s.cfg.AttemptTimeout):
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNameNotFound, KeyOf(name, typ))
}

// RefreshName re-announces a registered local name. A transport failure
// counts against the table's refresh failure bound.
func (s *Service) RefreshName(ctx context.Context, key Key) (NameEvent, error) {
	ctx, span := telemetry.StartNameSpan(ctx, telemetry.SpanNameRefresh, key.Name, key.Type)
	defer span.End()

	n, ok := s.table.Get(key)
	if !ok {
		return NameEvent{}, fmt.Errorf("%w: %s", ErrNameNotFound, key)
	}
	if err := s.table.BeginRefresh(key); err != nil {
		return NameEvent{}, err
	}

	id, _ := s.begin()
	s.end(id)
	sendErr := s.broadcast(ctx, NewRefreshRequest(id, n))

	ev, err := s.table.CompleteRefresh(key, sendErr == nil)
	if err != nil {
		return ev, err
	}
	span.SetAttributes(telemetry.NameStatus(ev.Status.String()))
	if sendErr != nil {
		telemetry.RecordError(ctx, sendErr)
		logger.WarnCtx(ctx, "NetBIOS name refresh failed",
			logger.NetBIOSName(key.Name, key.Type),
			"failures", s.table.Failures(key),
			"state", s.table.State(key).String(),
			logger.KeyError, sendErr)
		return ev, fmt.Errorf("broadcast refresh: %w", sendErr)
	}
	return ev, nil
}

// ReleaseName drops a name; local names are released on the network.
func (s *Service) ReleaseName(ctx context.Context, key Key) error {
	n, ok := s.table.Remove(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNameNotFound, key)
	}
	if !n.Local {
		return nil
	}
	id, _ := s.begin()
	s.end(id)
	if err := s.broadcast(ctx, NewReleaseRequest(id, n)); err != nil {
		return fmt.Errorf("broadcast release: %w", err)
	}
	logger.Info("NetBIOS name released", logger.NetBIOSName(n.Name, n.Type))
	return nil
}

// ============================================================================
// Responder
// ============================================================================

// Serve answers the network until ctx is cancelled or the transport is
// closed. It must be running for AddName and QueryName to see responses.
func (s *Service) Serve(ctx context.Context) error {
	for {
		data, from, err := s.tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Debug("NetBIOS receive error", logger.KeyError, err)
			continue
		}
		if from.Addr() == s.tr.LocalAddr() {
			continue
		}

		p, err := ParsePacket(data)
		if err != nil {
			logger.Debug("Dropping NetBIOS packet", logger.KeyClient, from.String(), logger.KeyError, err)
			continue
		}
		s.handle(ctx, p, from)
	}
}

func (s *Service) handle(ctx context.Context, p *Packet, from netip.AddrPort) {
	if p.Response || p.Opcode == OpWACK {
		if !s.route(p) {
			logger.Debug("Unsolicited NetBIOS response", logger.KeyTrnID, p.TrnID, logger.KeyClient, from.String())
		}
		return
	}

	switch p.Opcode {
	case OpQuery:
		s.answerQuery(ctx, p, from)
	case OpRegistration, OpRefresh, OpRefreshAlt:
		s.observeRegistration(ctx, p, from)
	case OpRelease:
		if claim, ok := p.claimedName(); ok {
			if s.table.ReleaseRemote(claim.Key(), claim.Addrs) {
				logger.Debug("Remote NetBIOS name released", logger.NetBIOSName(claim.Name, claim.Type))
			}
		}
	default:
		logger.Debug("Ignoring NetBIOS request", "opcode", p.Opcode.String())
	}
}

func (s *Service) answerQuery(ctx context.Context, p *Packet, from netip.AddrPort) {
	if len(p.Questions) == 0 || p.Questions[0].QType != RRTypeNB {
		return
	}
	q := p.Questions[0]
	n, ok := s.table.Lookup(q.Name, q.Type)
	if !ok || !n.Local {
		return
	}
	if err := s.send(ctx, NewQueryResponse(p.TrnID, n), from); err != nil {
		logger.Debug("NetBIOS query response failed", logger.KeyClient, from.String(), logger.KeyError, err)
	}
}

// observeRegistration records a remote claim, or defends a local name
// with a negative response.
func (s *Service) observeRegistration(ctx context.Context, p *Packet, from netip.AddrPort) {
	claim, ok := p.claimedName()
	if !ok {
		return
	}
	_, err := s.table.RegisterName(claim)
	if err == nil {
		return
	}
	if !errors.Is(err, ErrNameExists) {
		logger.Debug("Ignoring NetBIOS registration", logger.KeyClient, from.String(), logger.KeyError, err)
		return
	}

	owned, ok := s.table.Get(claim.Key())
	if !ok {
		return
	}
	logger.Warn("Defending NetBIOS name", logger.NetBIOSName(owned.Name, owned.Type), logger.KeyClient, from.String())
	if err := s.send(ctx, NewRegistrationResponse(p.TrnID, owned, RcodeActErr), from); err != nil {
		logger.Debug("NetBIOS defence failed", logger.KeyClient, from.String(), logger.KeyError, err)
	}
}

// RefreshLoop refreshes every registered local name and expires stale
// remote names each interval until ctx is cancelled.
func (s *Service) RefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, key := range s.table.LocalNames() {
				if _, err := s.RefreshName(ctx, key); err != nil && ctx.Err() == nil {
					logger.Debug("Refresh pass error", logger.NetBIOSName(key.Name, key.Type), logger.KeyError, err)
				}
			}
			if n := s.table.Expire(); n > 0 {
				logger.Debug("Expired remote NetBIOS names", logger.KeyCount, n)
			}
		}
	}
}
