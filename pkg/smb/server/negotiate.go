package server

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/internal/wire"
	"github.com/marmos91/dittocifs/pkg/smb/header"
	"github.com/marmos91/dittocifs/pkg/smb/types"
)

const (
	// maxTransactSize is the 2.0.2 limit for a single read, write or
	// transact.
	maxTransactSize = 65536

	negotiateRequestSize  = 36
	negotiateResponseSize = 64

	smb1HeaderSize = 32
	smb1Negotiate  = 0x72
)

// SMB1 dialect strings that announce SMB2 support.
const (
	smb1Dialect2002     = "SMB 2.002"
	smb1DialectWildcard = "SMB 2.???"
)

// handleNegotiate selects dialect 2.0.2 [MS-SMB2 3.3.5.4].
func handleNegotiate(ctx context.Context, s *Server, req *request) ([]byte, error) {
	r := wire.LE(req.body)
	r.ExpectUint16(negotiateRequestSize)
	count := int(r.Uint16())
	r.Skip(32) // security mode, reserved, capabilities, client GUID, start time
	dialects := make([]uint16, 0, count)
	for i := 0; i < count; i++ {
		dialects = append(dialects, r.Uint16())
	}
	if err := r.Err(); err != nil {
		return nil, malformed(req.hdr.Command, "%v", err)
	}
	if count == 0 {
		return nil, malformed(req.hdr.Command, "no dialects offered")
	}

	found := false
	for _, d := range dialects {
		if d == types.Dialect0202 {
			found = true
			break
		}
	}
	if !found {
		logger.DebugCtx(ctx, "No common dialect", "offered", fmt.Sprintf("%04x", dialects))
		return nil, statusErr(types.StatusNotSupported, "no supported dialect among %d offered", count)
	}

	req.conn.dialect = types.Dialect0202
	logger.DebugCtx(ctx, "Dialect negotiated", logger.KeyDialect, "2.0.2")
	return s.negotiateResponse(types.Dialect0202), nil
}

// negotiateResponse builds the 65-byte NEGOTIATE response body without a
// security blob; SESSION_SETUP accepts guests without one.
func (s *Server) negotiateResponse(dialect uint16) []byte {
	var secMode uint16 = types.NegotiateSigningEnabled

	w := wire.NewLEWriter(negotiateResponseSize + 1)
	w.Uint16(negotiateResponseSize + 1)
	w.Uint16(secMode)
	w.Uint16(dialect)
	w.Uint16(0)
	guid := s.guid
	w.Bytes(guid[:])
	w.Uint32(0) // capabilities
	w.Uint32(maxTransactSize)
	w.Uint32(maxTransactSize)
	w.Uint32(maxTransactSize)
	w.Uint64(types.Filetime(time.Now()))
	w.Uint64(types.Filetime(s.started))
	w.Uint16(header.Size + negotiateResponseSize)
	w.Uint16(0)
	w.Uint32(0)
	w.Uint8(0)
	return w.Data()
}

// handleSMB1Negotiate answers a legacy SMB1 NEGOTIATE that offers SMB2 with
// an SMB2 NEGOTIATE response, as clients probing with SMB1 expect. Other
// SMB1 traffic closes the connection.
func (c *connection) handleSMB1Negotiate(frame []byte) ([]byte, error) {
	if len(frame) < smb1HeaderSize+3 || frame[4] != smb1Negotiate {
		return nil, fmt.Errorf("unsupported SMB1 command 0x%02x", frame[min(4, len(frame)-1)])
	}

	body := frame[smb1HeaderSize:]
	byteCount := int(body[1]) | int(body[2])<<8
	raw := body[3:]
	if byteCount < len(raw) {
		raw = raw[:byteCount]
	}

	var dialect uint16
	for _, d := range bytes.Split(raw, []byte{0}) {
		name := string(bytes.TrimPrefix(d, []byte{0x02}))
		switch name {
		case smb1DialectWildcard:
			dialect = types.DialectWildcard
		case smb1Dialect2002:
			if dialect == 0 {
				dialect = types.Dialect0202
			}
		}
	}
	if dialect == 0 {
		return nil, fmt.Errorf("SMB1 negotiate from %s offers no SMB2 dialect", c.addr)
	}

	// a wildcard reply makes the client renegotiate over SMB2
	if dialect == types.Dialect0202 {
		c.dialect = dialect
	}
	logger.Debug("SMB1 negotiate upgraded", logger.KeyClient, c.addr, logger.KeyDialect, fmt.Sprintf("0x%04x", dialect))

	hdr := &header.Header{
		Command: types.CommandNegotiate,
		Credits: 1,
		Flags:   types.FlagServerToRedir,
	}
	resp := &response{hdr: hdr, body: c.server.negotiateResponse(dialect)}
	return resp.encode(), nil
}

// ============================================================================
// SESSION_SETUP / LOGOFF
// ============================================================================

const sessionSetupRequestSize = 25

// handleSessionSetup authenticates the client and creates its session
// [MS-SMB2 3.3.5.5]. Repeated setups on a live session are accepted as-is.
func handleSessionSetup(ctx context.Context, s *Server, req *request) ([]byte, error) {
	if req.conn.dialect == 0 {
		return nil, statusErr(types.StatusAccessDenied, "session setup before negotiate")
	}

	r := wire.LE(req.body)
	r.ExpectUint16(sessionSetupRequestSize)
	r.Skip(10) // flags, security mode, capabilities, channel
	secOffset := int(r.Uint16())
	secLength := int(r.Uint16())
	prevID := r.Uint64()
	if err := r.Err(); err != nil {
		return nil, malformed(req.hdr.Command, "%v", err)
	}

	var blob []byte
	if secLength > 0 {
		start := secOffset - header.Size
		if start < 24 || start+secLength > len(req.body) {
			return nil, malformed(req.hdr.Command, "security buffer %d+%d outside body", secOffset, secLength)
		}
		blob = req.body[start : start+secLength]
	}

	if id := req.hdr.SessionID; id != 0 {
		if sess, ok := s.sessions.GetSession(id); ok && req.conn.ownsSession(id) {
			req.outSessionID = sess.ID
			return sessionSetupResponse(sess.Guest), nil
		}
		return nil, statusErr(types.StatusUserSessionDeleted, "session 0x%x", id)
	}

	user, err := s.auth.Authenticate(ctx, AuthRequest{
		ClientAddr:    req.conn.addr,
		SecurityBlob:  blob,
		PrevSessionID: prevID,
	})
	if err != nil {
		logger.InfoCtx(ctx, "Session setup rejected", logger.KeyError, err)
		return nil, err
	}

	if prevID != 0 {
		// reconnect: the old session's locks and trees go away first
		if err := s.closeSession(prevID); err == nil {
			logger.DebugCtx(ctx, "Previous session closed on reconnect", logger.KeySessionID, prevID)
		}
	}

	sess := s.sessions.CreateSession(req.conn.addr, user)
	req.conn.trackSession(sess.ID)
	req.outSessionID = sess.ID

	logger.InfoCtx(ctx, "Session established", logger.KeySessionID, sess.ID,
		logger.KeyUser, sess.User, logger.KeyDomain, sess.Domain)
	return sessionSetupResponse(sess.Guest), nil
}

func sessionSetupResponse(guest bool) []byte {
	var flags uint16
	if guest {
		flags = types.SessionFlagIsGuest
	}
	w := wire.NewLEWriter(9)
	w.Uint16(9)
	w.Uint16(flags)
	w.Uint16(header.Size + 8)
	w.Uint16(0)
	w.Uint8(0)
	return w.Data()
}

// handleLogoff ends the session [MS-SMB2 3.3.5.6].
func handleLogoff(ctx context.Context, s *Server, req *request) ([]byte, error) {
	id := req.sess.ID
	req.conn.untrackSession(id)
	if err := s.closeSession(id); err != nil {
		return nil, err
	}
	logger.InfoCtx(ctx, "Session logged off", logger.KeySessionID, id)
	return simpleResponse(), nil
}

// simpleResponse is the 4-byte body shared by LOGOFF, TREE_DISCONNECT,
// ECHO and LOCK.
func simpleResponse() []byte {
	return []byte{4, 0, 0, 0}
}

// handleEcho answers a keepalive [MS-SMB2 3.3.5.17].
func handleEcho(context.Context, *Server, *request) ([]byte, error) {
	return simpleResponse(), nil
}
