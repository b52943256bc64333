package server

import (
	"context"
	"time"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/internal/telemetry"
	"github.com/marmos91/dittocifs/pkg/metrics"
	"github.com/marmos91/dittocifs/pkg/smb/header"
	"github.com/marmos91/dittocifs/pkg/smb/session"
	"github.com/marmos91/dittocifs/pkg/smb/types"
)

// handlerFunc returns the response body for a request. A non-nil error
// becomes an ERROR response carrying StatusFor(err).
type handlerFunc func(ctx context.Context, s *Server, req *request) ([]byte, error)

// handler describes how a command is dispatched.
type handler struct {
	run         handlerFunc
	needSession bool
	needTree    bool
}

func commandTable() map[types.Command]handler {
	return map[types.Command]handler{
		types.CommandNegotiate:      {run: handleNegotiate},
		types.CommandSessionSetup:   {run: handleSessionSetup},
		types.CommandLogoff:         {run: handleLogoff, needSession: true},
		types.CommandTreeConnect:    {run: handleTreeConnect, needSession: true},
		types.CommandTreeDisconnect: {run: handleTreeDisconnect, needSession: true, needTree: true},
		types.CommandCreate:         {run: handleCreate, needSession: true, needTree: true},
		types.CommandClose:          {run: handleClose, needSession: true, needTree: true},
		types.CommandRead:           {run: handleRead, needSession: true, needTree: true},
		types.CommandWrite:          {run: handleWrite, needSession: true, needTree: true},
		types.CommandLock:           {run: handleLock, needSession: true, needTree: true},
		types.CommandIoctl:          {run: handleIoctl, needSession: true, needTree: true},
		types.CommandEcho:           {run: handleEcho},
	}
}

// request is one decoded SMB2 command on its way through dispatch.
type request struct {
	conn    *connection
	hdr     *header.Header
	body    []byte
	related *response

	sess *session.Session
	tree *session.Tree

	// set by handlers
	status       types.Status // success-class status other than STATUS_SUCCESS
	outSessionID uint64
	outTreeID    uint32
	outFileID    FileID
}

// resolveFileID substitutes the FileID of the previous related response
// for the all-ones placeholder.
func (r *request) resolveFileID(id FileID) FileID {
	if id == placeholderFileID && r.related != nil {
		return r.related.fileID
	}
	return id
}

var placeholderFileID = FileID{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
}

// response is an encoded-on-demand SMB2 reply.
type response struct {
	hdr    *header.Header
	body   []byte
	fileID FileID
}

func (r *response) encode() []byte {
	out := r.hdr.Encode()
	return append(out, r.body...)
}

// errorBody is the 9-byte SMB2 ERROR response [MS-SMB2 2.2.2].
func errorBody() []byte {
	b := make([]byte, 9)
	b[0] = 9
	return b
}

// dispatch runs one command and builds its reply. It never fails: every
// problem is reported to the client as an NT status.
func (s *Server) dispatch(ctx context.Context, req *request) *response {
	start := time.Now()
	hdr := req.hdr
	cmd := hdr.Command.String()

	if req.related != nil {
		if hdr.SessionID == 0 || hdr.SessionID == ^uint64(0) {
			hdr.SessionID = req.related.hdr.SessionID
		}
		if hdr.TreeID == 0 || hdr.TreeID == ^uint32(0) {
			hdr.TreeID = req.related.hdr.TreeID
		}
	}

	ctx, span := telemetry.StartSMBSpan(ctx, cmd,
		telemetry.SMBMessageID(hdr.MessageID),
		telemetry.SessionID(hdr.SessionID),
		telemetry.TreeID(hdr.TreeID),
		telemetry.ClientAddr(req.conn.conn.RemoteAddr()),
	)
	defer span.End()

	lc := logger.NewLogContext(req.conn.addr).WithCommand(cmd)
	lc.TraceID, lc.SpanID = telemetry.TraceID(ctx), telemetry.SpanID(ctx)
	ctx = logger.WithContext(ctx, lc)

	req.outSessionID = hdr.SessionID
	req.outTreeID = hdr.TreeID

	var (
		body []byte
		err  error
	)
	if req.related != nil && req.related.hdr.Status.IsError() {
		// a failed link fails the rest of the chain with the same status
		err = &StatusError{Status: req.related.hdr.Status}
	} else {
		ctx, err = s.resolve(ctx, req)
		if err == nil {
			body, err = s.run(ctx, req)
		}
	}

	status := StatusFor(err)
	if err == nil {
		status = req.status
	}
	respHdr := header.NewResponse(hdr, status)
	respHdr.SessionID = req.outSessionID
	respHdr.TreeID = req.outTreeID

	if err != nil {
		body = errorBody()
		span.SetAttributes(telemetry.SMBStatus(uint32(status)))
		telemetry.RecordError(ctx, err)
		if status == types.StatusInternalError {
			logger.WarnCtx(ctx, "SMB command failed", logger.KeyMessageID, hdr.MessageID,
				logger.KeyStatus, status.String(), logger.KeyError, err)
		} else {
			logger.DebugCtx(ctx, "SMB command refused", logger.KeyMessageID, hdr.MessageID,
				logger.KeyStatus, status.String(), logger.KeyError, err)
		}
	} else {
		logger.DebugCtx(ctx, "SMB command served", logger.KeyMessageID, hdr.MessageID,
			logger.KeyStatus, status.String(), logger.KeyDurationMs, lc.DurationMs())
	}

	metrics.RecordRequest(s.metrics, cmd, start, status.String())
	return &response{hdr: respHdr, body: body, fileID: req.outFileID}
}

// resolve binds the session and tree the command addresses.
func (s *Server) resolve(ctx context.Context, req *request) (context.Context, error) {
	h, ok := s.handlers[req.hdr.Command]
	if !ok {
		return ctx, statusErr(types.StatusNotSupported, "command %s", req.hdr.Command)
	}
	if h.needSession {
		sess, ok := s.sessions.GetSession(req.hdr.SessionID)
		if !ok || !req.conn.ownsSession(sess.ID) {
			return ctx, statusErr(types.StatusUserSessionDeleted, "session 0x%x", req.hdr.SessionID)
		}
		req.sess = sess
		lc := logger.FromContext(ctx).WithSession(sess.ID, sess.User)
		ctx = logger.WithContext(ctx, lc)
	}
	if h.needTree {
		tree, ok := req.sess.Tree(req.hdr.TreeID)
		if !ok {
			return ctx, statusErr(types.StatusNetworkNameDeleted, "tree %d", req.hdr.TreeID)
		}
		req.tree = tree
		lc := logger.FromContext(ctx).WithTree(tree.ID, tree.Share.Name)
		ctx = logger.WithContext(ctx, lc)
	}
	return ctx, nil
}

func (s *Server) run(ctx context.Context, req *request) ([]byte, error) {
	return s.handlers[req.hdr.Command].run(ctx, s, req)
}
