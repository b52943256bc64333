package srvsvc

import (
	"context"
	"strings"
	"time"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/internal/telemetry"
	"github.com/marmos91/dittocifs/pkg/dcerpc"
)

// Share describes one exported share as seen by SRVSVC.
type Share struct {
	Name        string
	Type        uint32
	Comment     string
	Path        string
	MaxUses     uint32 // 0 means unlimited
	CurrentUses uint32
}

// Connection describes one tree connection for NetrConnectionEnum.
type Connection struct {
	ID        uint32
	Share     string
	User      string
	Client    string
	Opens     uint32
	Connected time.Time
}

// ServerDetails feeds NetrServerGetInfo.
type ServerDetails struct {
	Name         string
	Comment      string
	VersionMajor uint32
	VersionMinor uint32
}

// Provider supplies the live data the handler reports.
type Provider interface {
	Shares() []Share
	// Connections returns the connections matching qualifier, which is
	// either a share name or a client name prefixed with \\. Empty matches all.
	Connections(qualifier string) []Connection
	Server() ServerDetails
}

// Handler serves the SRVSVC interface. It implements dcerpc.Service.
type Handler struct {
	provider Provider
	now      func() time.Time
}

// NewHandler returns a handler backed by p.
func NewHandler(p Provider) *Handler {
	return &Handler{provider: p, now: time.Now}
}

// Syntax implements dcerpc.Service.
func (h *Handler) Syntax() dcerpc.SyntaxID { return Syntax }

// Invoke implements dcerpc.Service.
func (h *Handler) Invoke(ctx context.Context, opnum uint16, stub []byte) ([]byte, error) {
	ctx, span := telemetry.StartRPCSpan(ctx, "srvsvc", opnum)
	defer span.End()

	var (
		out []byte
		err error
	)
	switch opnum {
	case OpNetrShareEnum:
		out, err = h.shareEnum(stub)
	case OpNetrShareGetInfo:
		out, err = h.shareGetInfo(stub)
	case OpNetrServerGetInfo:
		out, err = h.serverGetInfo(stub)
	case OpNetrConnectionEnum:
		out, err = h.connectionEnum(stub)
	default:
		err = dcerpc.ErrUnknownOpnum
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	logger.DebugCtx(ctx, "SRVSVC call served", logger.KeyOpnum, opnum, logger.KeyBytesWritten, len(out))
	return out, nil
}

// ShareInfoFor projects s onto level.
func ShareInfoFor(level uint32, s Share) *ShareInfo {
	maxUses := s.MaxUses
	if maxUses == 0 {
		maxUses = 0xFFFFFFFF
	}
	return &ShareInfo{
		Level:       level,
		Name:        s.Name,
		Type:        s.Type,
		Comment:     s.Comment,
		MaxUses:     maxUses,
		CurrentUses: s.CurrentUses,
		Path:        s.Path,
		Flags:       CSCManualReintegration,
	}
}

func readServerName(r *dcerpc.Buffer) string {
	if r.GetPointer() {
		return r.GetString()
	}
	return ""
}

// readResume reads a [unique] DWORD resume handle.
func readResume(r *dcerpc.Buffer) (uint32, bool) {
	if r.GetPointer() {
		return r.GetInt(), true
	}
	return 0, false
}

func writeResume(w *dcerpc.Buffer, present bool, v uint32) {
	w.PutPointer(present)
	if present {
		w.PutInt(v)
	}
}

// ============================================================================
// NetrShareEnum (opnum 15)
// ============================================================================

func (h *Handler) shareEnum(stub []byte) ([]byte, error) {
	r := dcerpc.NewReadBuffer(stub)
	readServerName(r)
	level := r.GetInt()
	if sw := r.GetInt(); r.Err() == nil && sw != level {
		r.Fail(dcerpc.ErrInvalidLength, "union switch %d differs from level %d", sw, level)
	}
	if r.GetPointer() {
		if echo, err := NewShareInfoList(level); err == nil {
			if err := echo.Decode(r); err != nil {
				return nil, err
			}
		} else {
			r.GetInt()
			if r.GetPointer() {
				r.Fail(dcerpc.ErrInvalidLength, "populated container at unsupported level %d", level)
			}
		}
	}
	r.GetInt() // preferred maximum length
	resume, hasResume := readResume(r)
	if err := r.Err(); err != nil {
		return nil, err
	}

	w := dcerpc.NewBuffer(512)
	w.PutInt(level)
	w.PutInt(level)

	list, err := NewShareInfoList(level)
	if err != nil {
		w.PutPointer(false)
		w.PutInt(0)
		writeResume(w, hasResume, 0)
		w.PutInt(ErrorInvalidLevel)
		return w.Bytes(), nil
	}

	shares := h.provider.Shares()
	start := min(int(resume), len(shares))
	for _, s := range shares[start:] {
		list.AddShare(ShareInfoFor(level, s))
	}

	w.PutPointer(true)
	if err := list.Encode(w); err != nil {
		return nil, err
	}
	w.PutInt(uint32(len(shares)))
	writeResume(w, hasResume, 0)
	w.PutInt(NerrSuccess)
	return w.Bytes(), nil
}

// ShareEnumResult is a decoded NetrShareEnum response.
type ShareEnumResult struct {
	Shares       *ShareInfoList
	TotalEntries uint32
	Status       uint32
}

// ParseShareEnumResponse decodes a NetrShareEnum response stub.
func ParseShareEnumResponse(stub []byte) (*ShareEnumResult, error) {
	r := dcerpc.NewReadBuffer(stub)
	level := r.GetInt()
	r.GetInt()
	res := &ShareEnumResult{}
	if r.GetPointer() {
		list, err := NewShareInfoList(level)
		if err != nil {
			return nil, err
		}
		if err := list.Decode(r); err != nil {
			return nil, err
		}
		res.Shares = list
	}
	res.TotalEntries = r.GetInt()
	readResume(r)
	res.Status = r.GetInt()
	if err := r.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// ============================================================================
// NetrShareGetInfo (opnum 16)
// ============================================================================

func (h *Handler) shareGetInfo(stub []byte) ([]byte, error) {
	r := dcerpc.NewReadBuffer(stub)
	readServerName(r)
	netName := r.GetString()
	level := r.GetInt()
	if err := r.Err(); err != nil {
		return nil, err
	}

	w := dcerpc.NewBuffer(256)
	w.PutInt(level)

	if !SupportedShareLevel(level) {
		w.PutPointer(false)
		w.PutInt(ErrorInvalidLevel)
		return w.Bytes(), nil
	}

	for _, s := range h.provider.Shares() {
		if !strings.EqualFold(s.Name, netName) {
			continue
		}
		info := ShareInfoFor(level, s)
		strs := dcerpc.NewBuffer(128)
		w.PutPointer(true)
		if err := info.WriteObject(w, strs); err != nil {
			return nil, err
		}
		w.PutBuffer(strs)
		w.PutInt(NerrSuccess)
		return w.Bytes(), nil
	}

	w.PutPointer(false)
	w.PutInt(NerrNetNameNotFound)
	return w.Bytes(), nil
}

// ParseShareGetInfoResponse decodes a NetrShareGetInfo response stub. The
// returned share is nil when the server reported an error.
func ParseShareGetInfoResponse(stub []byte) (*ShareInfo, uint32, error) {
	r := dcerpc.NewReadBuffer(stub)
	level := r.GetInt()
	var info *ShareInfo
	if r.GetPointer() {
		info = &ShareInfo{Level: level}
		if err := info.ReadObject(r); err != nil {
			return nil, 0, err
		}
		if err := info.ReadStrings(r); err != nil {
			return nil, 0, err
		}
	}
	status := r.GetInt()
	if err := r.Err(); err != nil {
		return nil, 0, err
	}
	return info, status, nil
}

// ============================================================================
// NetrServerGetInfo (opnum 21)
// ============================================================================

func (h *Handler) serverGetInfo(stub []byte) ([]byte, error) {
	r := dcerpc.NewReadBuffer(stub)
	readServerName(r)
	level := r.GetInt()
	if err := r.Err(); err != nil {
		return nil, err
	}

	w := dcerpc.NewBuffer(128)
	w.PutInt(level)
	if level != ServerLevel100 && level != ServerLevel101 {
		w.PutPointer(false)
		w.PutInt(ErrorInvalidLevel)
		return w.Bytes(), nil
	}

	d := h.provider.Server()
	info := &ServerInfo{
		Level:        level,
		PlatformID:   PlatformIDNT,
		Name:         d.Name,
		VersionMajor: d.VersionMajor,
		VersionMinor: d.VersionMinor,
		Type:         SVTypeWorkstation | SVTypeServer | SVTypeNT,
		Comment:      d.Comment,
	}
	strs := dcerpc.NewBuffer(64)
	w.PutPointer(true)
	if err := info.WriteObject(w, strs); err != nil {
		return nil, err
	}
	w.PutBuffer(strs)
	w.PutInt(NerrSuccess)
	return w.Bytes(), nil
}

// ============================================================================
// NetrConnectionEnum (opnum 8)
// ============================================================================

func (h *Handler) connectionEnum(stub []byte) ([]byte, error) {
	r := dcerpc.NewReadBuffer(stub)
	readServerName(r)
	var qualifier string
	if r.GetPointer() {
		qualifier = r.GetString()
	}
	level := r.GetInt()
	r.GetInt()
	if r.GetPointer() {
		if echo, err := NewConnectionInfoList(level); err == nil {
			if err := echo.Decode(r); err != nil {
				return nil, err
			}
		} else {
			r.GetInt()
			if r.GetPointer() {
				r.Fail(dcerpc.ErrInvalidLength, "populated container at unsupported level %d", level)
			}
		}
	}
	r.GetInt()
	resume, hasResume := readResume(r)
	if err := r.Err(); err != nil {
		return nil, err
	}

	w := dcerpc.NewBuffer(256)
	w.PutInt(level)
	w.PutInt(level)

	list, err := NewConnectionInfoList(level)
	if err != nil {
		w.PutPointer(false)
		w.PutInt(0)
		writeResume(w, hasResume, 0)
		w.PutInt(ErrorInvalidLevel)
		return w.Bytes(), nil
	}

	conns := h.provider.Connections(qualifier)
	now := h.now()
	start := min(int(resume), len(conns))
	for _, c := range conns[start:] {
		ci := &ConnectionInfo{
			ID:       c.ID,
			Type:     STypeDiskTree,
			NumOpens: c.Opens,
			NumUsers: 1,
			UserName: c.User,
			NetName:  c.Share,
		}
		if !c.Connected.IsZero() && now.After(c.Connected) {
			ci.Time = uint32(now.Sub(c.Connected) / time.Second)
		}
		// a share qualifier reports the client on the other end
		if qualifier != "" && !strings.HasPrefix(qualifier, `\\`) {
			ci.NetName = c.Client
		}
		list.AddConnection(ci)
	}

	w.PutPointer(true)
	if err := list.Encode(w); err != nil {
		return nil, err
	}
	w.PutInt(uint32(len(conns)))
	writeResume(w, hasResume, 0)
	w.PutInt(NerrSuccess)
	return w.Bytes(), nil
}
