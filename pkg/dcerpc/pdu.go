package dcerpc

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/marmos91/dittocifs/internal/wire"
)

// PDU types used over SMB named pipes [C706 12.6.4].
const (
	PDURequest  uint8 = 0
	PDUResponse uint8 = 2
	PDUFault    uint8 = 3
	PDUBind     uint8 = 11
	PDUBindAck  uint8 = 12
	PDUBindNak  uint8 = 13
	PDUAlter    uint8 = 14
	PDUAlterAck uint8 = 15
)

// PFC flags.
const (
	FlagFirstFrag uint8 = 0x01
	FlagLastFrag  uint8 = 0x02
)

// Fault status codes.
const (
	FaultOpRangeError uint32 = 0x1C010003 // nca_op_rng_error
	FaultProtoError   uint32 = 0x1C01000B // nca_proto_error
	FaultUnkIf        uint32 = 0x1C010002 // nca_unk_if
)

// HeaderSize is the size of the connection-oriented common header.
const HeaderSize = 16

// ndrDataRep is little-endian integers, ASCII characters, IEEE floats.
var ndrDataRep = [4]byte{0x10, 0, 0, 0}

// NDRSyntax is the NDR 2.0 transfer syntax.
var NDRSyntax = SyntaxID{
	UUID:    uuid.MustParse("8a885d04-1ceb-11c9-9fe8-08002b104860"),
	Version: 2,
}

// SyntaxID is an interface or transfer syntax identifier.
type SyntaxID struct {
	UUID    uuid.UUID
	Version uint32
}

// Header is the 16-byte connection-oriented PDU header.
type Header struct {
	VersionMajor uint8
	VersionMinor uint8
	PacketType   uint8
	Flags        uint8
	DataRep      [4]byte
	FragLength   uint16
	AuthLength   uint16
	CallID       uint32
}

// ParseHeader decodes and validates a PDU header.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, newBufferError(ErrBufferExhausted, 0, "PDU header needs %d bytes, have %d", HeaderSize, len(data))
	}
	r := wire.LE(data)
	h := &Header{
		VersionMajor: r.Uint8(),
		VersionMinor: r.Uint8(),
		PacketType:   r.Uint8(),
		Flags:        r.Uint8(),
	}
	copy(h.DataRep[:], r.Bytes(4))
	h.FragLength = r.Uint16()
	h.AuthLength = r.Uint16()
	h.CallID = r.Uint32()

	if h.VersionMajor != 5 {
		return nil, newBufferError(ErrMalformedPDU, 0, "unsupported RPC version %d.%d", h.VersionMajor, h.VersionMinor)
	}
	if h.DataRep[0]&0xF0 != 0x10 {
		return nil, newBufferError(ErrMalformedPDU, 4, "big-endian data representation not supported")
	}
	if int(h.FragLength) > len(data) || h.FragLength < HeaderSize {
		return nil, newBufferError(ErrInvalidLength, 8, "frag length %d, have %d bytes", h.FragLength, len(data))
	}
	return h, nil
}

func (h *Header) encode(w *wire.Writer) {
	w.Uint8(h.VersionMajor)
	w.Uint8(h.VersionMinor)
	w.Uint8(h.PacketType)
	w.Uint8(h.Flags)
	w.Bytes(h.DataRep[:])
	w.Uint16(h.FragLength)
	w.Uint16(h.AuthLength)
	w.Uint32(h.CallID)
}

// startPDU writes a single-fragment header with a placeholder length.
func startPDU(ptype uint8, callID uint32, capacity int) *wire.Writer {
	w := wire.NewLEWriter(capacity)
	h := Header{
		VersionMajor: 5,
		PacketType:   ptype,
		Flags:        FlagFirstFrag | FlagLastFrag,
		DataRep:      ndrDataRep,
		CallID:       callID,
	}
	h.encode(w)
	return w
}

func finishPDU(w *wire.Writer) []byte {
	w.PutUint16At(8, uint16(w.Len()))
	return w.Data()
}

// ============================================================================
// Bind
// ============================================================================

// PresentationContext is one entry of a bind context list.
type PresentationContext struct {
	ContextID        uint16
	AbstractSyntax   SyntaxID
	TransferSyntaxes []SyntaxID
}

// Bind is a BIND or ALTER_CONTEXT PDU.
type Bind struct {
	Header       Header
	MaxXmitFrag  uint16
	MaxRecvFrag  uint16
	AssocGroupID uint32
	Contexts     []PresentationContext
}

func readSyntax(r *wire.Reader) SyntaxID {
	var s SyntaxID
	b := NewReadBuffer(r.Bytes(20))
	s.UUID = b.GetUUID()
	s.Version = b.GetInt()
	return s
}

// ParseBind decodes a BIND or ALTER_CONTEXT PDU.
func ParseBind(data []byte) (*Bind, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if h.PacketType != PDUBind && h.PacketType != PDUAlter {
		return nil, newBufferError(ErrMalformedPDU, 2, "not a bind PDU: type %d", h.PacketType)
	}

	r := wire.LE(data[:h.FragLength])
	r.Skip(HeaderSize)
	b := &Bind{
		Header:       *h,
		MaxXmitFrag:  r.Uint16(),
		MaxRecvFrag:  r.Uint16(),
		AssocGroupID: r.Uint32(),
	}
	n := r.Uint8()
	r.Skip(3)
	for i := 0; i < int(n) && r.Err() == nil; i++ {
		pc := PresentationContext{ContextID: r.Uint16()}
		nts := r.Uint8()
		r.Skip(1)
		pc.AbstractSyntax = readSyntax(r)
		for j := 0; j < int(nts) && r.Err() == nil; j++ {
			pc.TransferSyntaxes = append(pc.TransferSyntaxes, readSyntax(r))
		}
		b.Contexts = append(b.Contexts, pc)
	}
	if err := r.Err(); err != nil {
		return nil, newBufferError(ErrBufferExhausted, r.Position(), "%v", err)
	}
	return b, nil
}

// ContextResult is the per-context negotiation result in a BIND_ACK.
type ContextResult struct {
	Result         uint16 // 0 acceptance, 2 provider rejection
	Reason         uint16
	TransferSyntax SyntaxID
}

// BindAck is a BIND_ACK or ALTER_CONTEXT_RESP PDU.
type BindAck struct {
	PacketType   uint8
	MaxXmitFrag  uint16
	MaxRecvFrag  uint16
	AssocGroupID uint32
	SecAddr      string
	Results      []ContextResult
}

// Encode serialises the acknowledgement for callID.
func (a *BindAck) Encode(callID uint32) []byte {
	ptype := a.PacketType
	if ptype == 0 {
		ptype = PDUBindAck
	}
	w := startPDU(ptype, callID, 128)
	w.Uint16(a.MaxXmitFrag)
	w.Uint16(a.MaxRecvFrag)
	w.Uint32(a.AssocGroupID)
	if a.SecAddr == "" {
		w.Uint16(0)
	} else {
		w.Uint16(uint16(len(a.SecAddr) + 1))
		w.Bytes([]byte(a.SecAddr))
		w.Uint8(0)
	}
	w.Pad(4)
	w.Uint8(uint8(len(a.Results)))
	w.Zeros(3)
	for _, res := range a.Results {
		w.Uint16(res.Result)
		w.Uint16(res.Reason)
		sb := NewBuffer(20)
		sb.PutUUID(res.TransferSyntax.UUID)
		sb.PutInt(res.TransferSyntax.Version)
		w.Bytes(sb.Bytes())
	}
	return finishPDU(w)
}

// ============================================================================
// Request / Response / Fault
// ============================================================================

// Request is a REQUEST PDU.
type Request struct {
	Header    Header
	AllocHint uint32
	ContextID uint16
	OpNum     uint16
	Stub      []byte
}

// ParseRequest decodes a REQUEST PDU. The stub excludes any auth trailer.
func ParseRequest(data []byte) (*Request, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if h.PacketType != PDURequest {
		return nil, newBufferError(ErrMalformedPDU, 2, "not a request PDU: type %d", h.PacketType)
	}
	if h.FragLength < HeaderSize+8 {
		return nil, newBufferError(ErrBufferExhausted, HeaderSize, "request body truncated")
	}
	req := &Request{
		Header:    *h,
		AllocHint: binary.LittleEndian.Uint32(data[16:20]),
		ContextID: binary.LittleEndian.Uint16(data[20:22]),
		OpNum:     binary.LittleEndian.Uint16(data[22:24]),
	}
	end := int(h.FragLength)
	if h.AuthLength > 0 {
		end -= int(h.AuthLength) + 8
	}
	if end < 24 {
		return nil, newBufferError(ErrInvalidLength, 10, "auth length %d exceeds fragment", h.AuthLength)
	}
	req.Stub = data[24:end]
	return req, nil
}

// Response is a RESPONSE PDU.
type Response struct {
	ContextID uint16
	Stub      []byte
}

// Encode serialises the response for callID.
func (r *Response) Encode(callID uint32) []byte {
	w := startPDU(PDUResponse, callID, HeaderSize+8+len(r.Stub))
	w.Uint32(uint32(len(r.Stub)))
	w.Uint16(r.ContextID)
	w.Uint8(0)
	w.Uint8(0)
	w.Bytes(r.Stub)
	return finishPDU(w)
}

// Fault is a FAULT PDU.
type Fault struct {
	ContextID uint16
	Status    uint32
}

// Encode serialises the fault for callID.
func (f *Fault) Encode(callID uint32) []byte {
	w := startPDU(PDUFault, callID, HeaderSize+16)
	w.Uint32(0)
	w.Uint16(f.ContextID)
	w.Uint8(0)
	w.Uint8(0)
	w.Uint32(f.Status)
	w.Uint32(0)
	return finishPDU(w)
}
