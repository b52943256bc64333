// Package server implements the SMB2 server: NetBIOS session framing,
// command dispatch and the glue between sessions, shares, byte-range
// locks and the RPC pipes on IPC$.
//
// Supported commands: NEGOTIATE (dialect 2.0.2), SESSION_SETUP, LOGOFF,
// TREE_CONNECT, TREE_DISCONNECT, CREATE, CLOSE, READ and WRITE on pipes,
// IOCTL (FSCTL_PIPE_TRANSCEIVE), LOCK and ECHO.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/pkg/dcerpc"
	"github.com/marmos91/dittocifs/pkg/dcerpc/srvsvc"
	"github.com/marmos91/dittocifs/pkg/locking"
	"github.com/marmos91/dittocifs/pkg/metrics"
	"github.com/marmos91/dittocifs/pkg/registry"
	"github.com/marmos91/dittocifs/pkg/smb/session"
	"github.com/marmos91/dittocifs/pkg/smb/types"
)

// Deps are the collaborators a Server works with. Registry and Sessions
// are required; the rest fall back to defaults.
type Deps struct {
	Registry   *registry.Registry
	Sessions   *session.Manager
	Locks      *locking.Manager
	Pipes      *dcerpc.PipeManager
	Auth       Authenticator
	Metrics    metrics.SMBMetrics
	RPCMetrics metrics.RPCMetrics
}

// Server accepts SMB connections and serves them until its context ends.
type Server struct {
	cfg      Config
	registry *registry.Registry
	sessions *session.Manager
	locks    *locking.Manager
	pipes    *dcerpc.PipeManager
	auth     Authenticator
	metrics  metrics.SMBMetrics
	files    *fileTable
	handlers map[types.Command]handler

	guid    uuid.UUID
	started time.Time

	mu    sync.Mutex
	conns map[*connection]struct{}
	wg    sync.WaitGroup
}

// New builds a server and registers the srvsvc pipe on IPC$.
func New(cfg Config, deps Deps) *Server {
	cfg.ApplyDefaults()

	s := &Server{
		cfg:      cfg,
		registry: deps.Registry,
		sessions: deps.Sessions,
		locks:    deps.Locks,
		pipes:    deps.Pipes,
		auth:     deps.Auth,
		metrics:  deps.Metrics,
		files:    newFileTable(),
		guid:     uuid.New(),
		started:  time.Now(),
		conns:    make(map[*connection]struct{}),
	}
	if s.locks == nil {
		s.locks = locking.NewManager(nil)
	}
	if s.pipes == nil {
		s.pipes = dcerpc.NewPipeManager()
	}
	if s.auth == nil {
		s.auth = GuestAuthenticator{AllowGuest: cfg.guestAllowed()}
	}
	s.handlers = commandTable()

	svc := srvsvc.NewHandler(&srvsvcProvider{srv: s})
	s.pipes.Register("srvsvc", metrics.InstrumentService("srvsvc", svc, deps.RPCMetrics))
	return s
}

// GUID is the server GUID reported in NEGOTIATE.
func (s *Server) GUID() uuid.UUID { return s.guid }

// Config returns the effective configuration.
func (s *Server) Config() Config { return s.cfg }

// Serve listens on the configured address and serves until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("smb listen on %s: %w", s.cfg.ListenAddress, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves connections accepted from ln until ctx is done or
// accepting fails. ln is closed on return.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	logger.Info("SMB server listening", logger.KeyAddress, ln.Addr().String(),
		"server_name", s.cfg.ServerName, "guid", s.guid.String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		return s.acceptLoop(gctx, ln)
	})

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	s.drain()
	logger.Info("SMB server stopped", logger.KeyAddress, ln.Addr().String())
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("smb accept: %w", err)
		}

		if limit := s.cfg.MaxConnections; limit > 0 && s.ConnectionCount() >= limit {
			logger.Warn("Connection limit reached, rejecting client",
				logger.KeyClient, conn.RemoteAddr().String(), "max_connections", limit)
			_ = conn.Close()
			continue
		}

		c := newConnection(s, conn)
		s.track(c, true)
		if s.metrics != nil {
			s.metrics.RecordConnectionAccepted()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(c, false)
			c.serve(ctx)
		}()
	}
}

func (s *Server) track(c *connection, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// OpenFiles returns the number of open handles across all connections.
func (s *Server) OpenFiles() int { return s.files.count() }

// drain interrupts blocked reads, waits for connections to finish their
// current request and force-closes whatever is left after the shutdown
// timeout.
func (s *Server) drain() {
	s.mu.Lock()
	for c := range s.conns {
		_ = c.conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.Timeouts.Shutdown):
		s.mu.Lock()
		n := len(s.conns)
		for c := range s.conns {
			_ = c.conn.Close()
		}
		s.mu.Unlock()
		logger.Warn("Force-closed SMB connections after shutdown timeout", logger.KeyCount, n)
		<-done
	}
}

// closeSession drops the session's open files and pipes, then lets the
// session manager release its locks and trees.
func (s *Server) closeSession(id uint64) error {
	for _, f := range s.files.removeSession(id) {
		s.releaseFile(f)
	}
	err := s.sessions.CloseSession(id)
	if s.metrics != nil {
		s.metrics.SetActiveSessions(s.sessions.Count())
	}
	return err
}

// releaseFile forgets an open that is closed directly or goes away with
// its tree or session. Locks taken through the handle are released.
func (s *Server) releaseFile(f *openFile) {
	if f.pipe != nil {
		s.pipes.Close(f.id)
	}
	if n := f.releaseLocks(s.locks); n > 0 {
		logger.Debug("Released locks of closed handle", logger.KeyPath, f.path,
			logger.KeySessionID, f.sessionID, logger.KeyCount, n)
	}
	f.tree.FileClosed()
}
