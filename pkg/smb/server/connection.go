package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/pkg/smb/header"
	"github.com/marmos91/dittocifs/pkg/smb/types"
)

// connection serves one client. Requests are handled one at a time in
// receipt order; replies leave through the frame writer.
type connection struct {
	server *Server
	conn   net.Conn
	addr   string
	out    frameWriter

	// sessions created on this connection, closed when it drops
	sessionsMu sync.Mutex
	sessions   map[uint64]struct{}

	dialect uint16
}

func newConnection(s *Server, conn net.Conn) *connection {
	return &connection{
		server:   s,
		conn:     conn,
		addr:     conn.RemoteAddr().String(),
		out:      frameWriter{conn: conn, timeout: s.cfg.Timeouts.Write},
		sessions: make(map[uint64]struct{}),
	}
}

func (c *connection) trackSession(id uint64) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	c.sessions[id] = struct{}{}
}

func (c *connection) untrackSession(id uint64) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	delete(c.sessions, id)
}

func (c *connection) ownsSession(id uint64) bool {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	_, ok := c.sessions[id]
	return ok
}

// serve reads and answers requests until the client goes away, the idle
// timeout fires or the server shuts down.
func (c *connection) serve(ctx context.Context) {
	defer c.close()
	logger.Debug("New SMB connection", logger.KeyClient, c.addr)

	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := readFrame(c.conn, int(c.server.cfg.MaxMessageSize), c.server.cfg.Timeouts.Idle, c.server.cfg.Timeouts.Read)
		if err != nil {
			c.logReadError(err)
			return
		}

		reply, err := c.handleFrame(ctx, frame)
		if err != nil {
			logger.Debug("Dropping SMB connection", logger.KeyClient, c.addr, logger.KeyError, err)
			return
		}
		if len(reply) == 0 {
			continue
		}
		if err := c.out.write(reply); err != nil {
			logger.Debug("Error writing SMB reply", logger.KeyClient, c.addr, logger.KeyError, err)
			return
		}
	}
}

func (c *connection) logReadError(err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("SMB connection closed by client", logger.KeyClient, c.addr)
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("SMB connection timed out", logger.KeyClient, c.addr)
	case errors.Is(err, net.ErrClosed):
	default:
		logger.Debug("Error reading SMB request", logger.KeyClient, c.addr, logger.KeyError, err)
	}
}

// close recovers from a handler panic, then runs CloseSession for every
// session the connection still owns.
func (c *connection) close() {
	if r := recover(); r != nil {
		logger.Error("Panic in SMB connection handler", logger.KeyClient, c.addr,
			logger.KeyError, r, "stack", string(debug.Stack()))
	}

	c.sessionsMu.Lock()
	ids := make([]uint64, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.sessions = make(map[uint64]struct{})
	c.sessionsMu.Unlock()

	slices.Sort(ids)
	for _, id := range ids {
		if err := c.server.closeSession(id); err != nil {
			logger.Debug("Session already gone at disconnect", logger.KeySessionID, id, logger.KeyError, err)
		}
	}

	_ = c.conn.Close()
	if c.server.metrics != nil {
		c.server.metrics.RecordConnectionClosed()
	}
	logger.Debug("SMB connection closed", logger.KeyClient, c.addr, "sessions", len(ids))
}

// handleFrame answers one transport frame. The returned error is fatal
// for the connection; protocol errors are answered in-band.
func (c *connection) handleFrame(ctx context.Context, frame []byte) ([]byte, error) {
	if header.IsSMB1Message(frame) {
		return c.handleSMB1Negotiate(frame)
	}
	if !header.IsSMB2Message(frame) {
		return nil, header.ErrInvalidProtocolID
	}
	return c.handleCompound(ctx, frame), nil
}

// handleCompound splits a chain on NextCommand and answers each request
// in order. Related requests inherit the session, tree and FileID of the
// one before them.
func (c *connection) handleCompound(ctx context.Context, frame []byte) []byte {
	var (
		out     bytes.Buffer
		prev    *response
		lastHdr int
	)

	for data := frame; len(data) > 0; {
		hdr, err := header.Parse(data)
		if err != nil {
			// cannot address a reply without a header
			logger.Debug("Unparseable SMB2 header in chain", logger.KeyClient, c.addr, logger.KeyError, err)
			break
		}

		end := len(data)
		if hdr.NextCommand > 0 {
			if int(hdr.NextCommand) < header.Size || int(hdr.NextCommand) > len(data) {
				logger.Debug("Invalid NextCommand offset", logger.KeyClient, c.addr, "next_command", hdr.NextCommand)
				break
			}
			end = int(hdr.NextCommand)
		}
		body := data[header.Size:end]

		req := &request{conn: c, hdr: hdr, body: body}
		if hdr.Flags&types.FlagRelatedOps != 0 && prev != nil {
			req.related = prev
		}

		resp := c.server.dispatch(ctx, req)

		if out.Len() > 0 {
			// 8-byte align the previous reply and point at this one
			pad := (8 - out.Len()%8) % 8
			out.Write(make([]byte, pad))
			raw := out.Bytes()
			next := uint32(out.Len() - lastHdr)
			raw[lastHdr+20] = byte(next)
			raw[lastHdr+21] = byte(next >> 8)
			raw[lastHdr+22] = byte(next >> 16)
			raw[lastHdr+23] = byte(next >> 24)
		}
		lastHdr = out.Len()
		out.Write(resp.encode())
		prev = resp

		if hdr.NextCommand == 0 {
			break
		}
		data = data[end:]
	}
	return out.Bytes()
}
