package dcerpc

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/marmos91/dittocifs/internal/logger"
)

// ErrUnknownOpnum is returned by a Service for operations it does not
// implement. The pipe answers with an nca_op_rng_error fault.
var ErrUnknownOpnum = errors.New("dcerpc: unknown opnum")

// Service is an RPC interface served over a named pipe.
type Service interface {
	// Syntax identifies the abstract syntax accepted at bind time.
	Syntax() SyntaxID

	// Invoke executes opnum against the NDR request stub and returns the
	// NDR response stub. A *BufferError or ErrUnknownOpnum becomes a fault.
	Invoke(ctx context.Context, opnum uint16, stub []byte) ([]byte, error)
}

// maxPipeRead caps a single pipe READ.
const maxPipeRead = 65536

// Pipe is the server end of one open named pipe.
type Pipe struct {
	mu        sync.Mutex
	name      string
	service   Service
	bound     bool
	contextID uint16
	pending   bytes.Buffer
}

// NewPipe returns an unbound pipe serving svc.
func NewPipe(name string, svc Service) *Pipe {
	return &Pipe{name: name, service: svc}
}

func (p *Pipe) Name() string { return p.name }

// Write processes one client PDU and queues the reply for Read.
func (p *Pipe) Write(ctx context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	resp, err := p.process(ctx, data)
	if err != nil {
		return err
	}
	p.pending.Write(resp)
	return nil
}

// Read drains up to maxLen queued reply bytes.
func (p *Pipe) Read(maxLen int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if maxLen <= 0 || p.pending.Len() == 0 {
		return nil
	}
	out := make([]byte, min(maxLen, maxPipeRead, p.pending.Len()))
	n, _ := p.pending.Read(out)
	return out[:n]
}

// Transact is a combined write and read (FSCTL_PIPE_TRANSCEIVE).
func (p *Pipe) Transact(ctx context.Context, data []byte, maxOutput int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	resp, err := p.process(ctx, data)
	if err != nil {
		return nil, err
	}
	if maxOutput > 0 && len(resp) > maxOutput {
		p.pending.Write(resp[maxOutput:])
		resp = resp[:maxOutput]
	}
	return resp, nil
}

func (p *Pipe) process(ctx context.Context, data []byte) ([]byte, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	switch h.PacketType {
	case PDUBind, PDUAlter:
		bind, err := ParseBind(data)
		if err != nil {
			return nil, err
		}
		return p.bind(bind), nil

	case PDURequest:
		req, err := ParseRequest(data)
		if err != nil {
			return nil, err
		}
		if !p.bound {
			return (&Fault{ContextID: req.ContextID, Status: FaultProtoError}).Encode(h.CallID), nil
		}
		return p.invoke(ctx, req), nil

	default:
		logger.Debug("Ignoring unsupported PDU on pipe", logger.KeyPipe, p.name, "ptype", h.PacketType)
		return nil, nil
	}
}

func (p *Pipe) bind(req *Bind) []byte {
	want := p.service.Syntax()
	ack := &BindAck{
		MaxXmitFrag:  min(req.MaxXmitFrag, 4280),
		MaxRecvFrag:  min(req.MaxRecvFrag, 4280),
		AssocGroupID: req.AssocGroupID,
	}
	if req.Header.PacketType == PDUAlter {
		ack.PacketType = PDUAlterAck
	} else {
		ack.SecAddr = `\PIPE\` + p.name
		if ack.AssocGroupID == 0 {
			ack.AssocGroupID = 0x53f0
		}
	}

	for _, pc := range req.Contexts {
		// provider rejection: abstract syntax not supported
		res := ContextResult{Result: 2, Reason: 1}
		if pc.AbstractSyntax == want {
			// proposed transfer syntaxes not supported
			res.Reason = 2
			for _, ts := range pc.TransferSyntaxes {
				if ts == NDRSyntax {
					res = ContextResult{TransferSyntax: NDRSyntax}
					if !p.bound {
						p.bound = true
						p.contextID = pc.ContextID
					}
					break
				}
			}
		}
		ack.Results = append(ack.Results, res)
	}
	return ack.Encode(req.Header.CallID)
}

func (p *Pipe) invoke(ctx context.Context, req *Request) []byte {
	stub, err := p.service.Invoke(ctx, req.OpNum, req.Stub)
	switch {
	case err == nil:
		return (&Response{ContextID: req.ContextID, Stub: stub}).Encode(req.Header.CallID)
	case errors.Is(err, ErrUnknownOpnum):
		logger.Debug("RPC opnum not supported", logger.KeyPipe, p.name, logger.KeyOpnum, req.OpNum)
		return (&Fault{ContextID: req.ContextID, Status: FaultOpRangeError}).Encode(req.Header.CallID)
	default:
		logger.Warn("RPC call failed", logger.KeyPipe, p.name, logger.KeyOpnum, req.OpNum, logger.KeyError, err)
		return (&Fault{ContextID: req.ContextID, Status: FaultProtoError}).Encode(req.Header.CallID)
	}
}

// ============================================================================
// Pipe Manager
// ============================================================================

// PipeManager tracks open pipes by SMB FileID.
type PipeManager struct {
	mu       sync.RWMutex
	services map[string]Service
	pipes    map[[16]byte]*Pipe
}

// NewPipeManager returns an empty manager.
func NewPipeManager() *PipeManager {
	return &PipeManager{
		services: make(map[string]Service),
		pipes:    make(map[[16]byte]*Pipe),
	}
}

// Register exposes svc under pipe name (case-insensitive, without \PIPE\).
func (m *PipeManager) Register(name string, svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[normalizePipeName(name)] = svc
}

// IsSupported reports whether name has a registered service.
func (m *PipeManager) IsSupported(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.services[normalizePipeName(name)]
	return ok
}

// Open creates a pipe instance for fileID.
func (m *PipeManager) Open(fileID [16]byte, name string) (*Pipe, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalizePipeName(name)
	svc, ok := m.services[key]
	if !ok {
		return nil, false
	}
	p := NewPipe(key, svc)
	m.pipes[fileID] = p
	return p, true
}

func (m *PipeManager) Get(fileID [16]byte) *Pipe {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pipes[fileID]
}

func (m *PipeManager) Close(fileID [16]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pipes, fileID)
}

// Count returns the number of open pipes.
func (m *PipeManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pipes)
}

func normalizePipeName(name string) string {
	name = strings.ReplaceAll(name, "/", `\`)
	name = strings.TrimPrefix(name, `\`)
	if len(name) >= 5 && strings.EqualFold(name[:5], `PIPE\`) {
		name = name[5:]
	}
	return strings.ToLower(name)
}

// Bound reports whether a presentation context has been accepted.
func (p *Pipe) Bound() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bound
}

// Pending returns the number of reply bytes not yet read.
func (p *Pipe) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Len()
}
