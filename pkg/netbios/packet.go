package netbios

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/marmos91/dittocifs/internal/wire"
)

// ErrMalformedPacket is returned for name service packets that cannot be
// decoded.
var ErrMalformedPacket = errors.New("netbios: malformed packet")

// Opcode is the name service operation.
type Opcode uint8

const (
	OpQuery        Opcode = 0
	OpRegistration Opcode = 5
	OpRelease      Opcode = 6
	OpWACK         Opcode = 7
	OpRefresh      Opcode = 8
	OpRefreshAlt   Opcode = 9
)

func (o Opcode) String() string {
	switch o {
	case OpQuery:
		return "QUERY"
	case OpRegistration:
		return "REGISTRATION"
	case OpRelease:
		return "RELEASE"
	case OpWACK:
		return "WACK"
	case OpRefresh, OpRefreshAlt:
		return "REFRESH"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(o))
	}
}

// Header flag bits (NM_FLAGS).
const (
	FlagAuthoritative uint8 = 0x40
	FlagTruncated     uint8 = 0x20
	FlagRecursionDes  uint8 = 0x10
	FlagRecursionAv   uint8 = 0x08
	FlagBroadcast     uint8 = 0x01
)

// Response codes.
const (
	RcodeOK     uint8 = 0
	RcodeFmtErr uint8 = 1
	RcodeSrvErr uint8 = 2
	RcodeNamErr uint8 = 3
	RcodeImpErr uint8 = 4
	RcodeRfsErr uint8 = 5
	RcodeActErr uint8 = 6
	RcodeCftErr uint8 = 7
)

// Resource record types and the only class in use.
const (
	RRTypeNB     uint16 = 0x0020
	RRTypeNBStat uint16 = 0x0021
	ClassIN      uint16 = 0x0001
)

const (
	nbFlagGroup   uint16 = 0x8000
	headerLen            = 12
	encodedLen           = 32
	maxLabelLen          = 63
	pointerMask          = 0xC0
	maxPacketSize        = 576
)

// Question is a QUESTION_SECTION entry.
type Question struct {
	Name  string
	Type  byte
	Scope string
	QType uint16
}

// NBAddress is one NB_FLAGS / NB_ADDRESS pair.
type NBAddress struct {
	Group bool
	Addr  netip.Addr
}

// Resource is a RESOURCE_RECORD. NB records are decoded into Addresses;
// other record types keep their raw RDATA.
type Resource struct {
	Name      string
	Type      byte
	Scope     string
	RRType    uint16
	TTL       uint32
	Addresses []NBAddress
	RData     []byte
}

// Packet is a name service packet.
type Packet struct {
	TrnID      uint16
	Response   bool
	Opcode     Opcode
	Flags      uint8
	Rcode      uint8
	Questions  []Question
	Answers    []Resource
	Authority  []Resource
	Additional []Resource
}

// IsBroadcast reports whether the B flag is set.
func (p *Packet) IsBroadcast() bool { return p.Flags&FlagBroadcast != 0 }

// Marshal encodes p.
func (p *Packet) Marshal() ([]byte, error) {
	w := wire.NewBEWriter(maxPacketSize)
	w.Uint16(p.TrnID)

	var hdr uint16
	if p.Response {
		hdr |= 0x8000
	}
	hdr |= uint16(p.Opcode&0x0F) << 11
	hdr |= uint16(p.Flags&0x7F) << 4
	hdr |= uint16(p.Rcode & 0x0F)
	w.Uint16(hdr)

	w.Uint16(uint16(len(p.Questions)))
	w.Uint16(uint16(len(p.Answers)))
	w.Uint16(uint16(len(p.Authority)))
	w.Uint16(uint16(len(p.Additional)))

	for _, q := range p.Questions {
		if err := putName(w, q.Name, q.Type, q.Scope); err != nil {
			return nil, err
		}
		qt := q.QType
		if qt == 0 {
			qt = RRTypeNB
		}
		w.Uint16(qt)
		w.Uint16(ClassIN)
	}
	for _, section := range [][]Resource{p.Answers, p.Authority, p.Additional} {
		for _, rr := range section {
			if err := putResource(w, rr); err != nil {
				return nil, err
			}
		}
	}
	if err := w.Err(); err != nil {
		return nil, err
	}
	return w.Data(), nil
}

func putResource(w *wire.Writer, rr Resource) error {
	if err := putName(w, rr.Name, rr.Type, rr.Scope); err != nil {
		return err
	}
	rrType := rr.RRType
	if rrType == 0 {
		rrType = RRTypeNB
	}
	w.Uint16(rrType)
	w.Uint16(ClassIN)
	w.Uint32(rr.TTL)

	if rrType != RRTypeNB {
		w.Uint16(uint16(len(rr.RData)))
		w.Bytes(rr.RData)
		return nil
	}
	w.Uint16(uint16(6 * len(rr.Addresses)))
	for _, a := range rr.Addresses {
		if !a.Addr.Is4() {
			return fmt.Errorf("netbios: %s is not an IPv4 address", a.Addr)
		}
		var flags uint16
		if a.Group {
			flags |= nbFlagGroup
		}
		w.Uint16(flags)
		ip := a.Addr.As4()
		w.Bytes(ip[:])
	}
	return nil
}

// putName writes the first-level encoding of name padded to 15 bytes plus
// the type suffix, followed by the scope labels.
func putName(w *wire.Writer, name string, typ byte, scope string) error {
	raw, err := padName(name, typ)
	if err != nil {
		return err
	}
	w.Uint8(encodedLen)
	var enc [encodedLen]byte
	for i, b := range raw {
		enc[2*i] = 'A' + b>>4
		enc[2*i+1] = 'A' + b&0x0F
	}
	w.Bytes(enc[:])

	if scope != "" {
		for _, label := range strings.Split(scope, ".") {
			if label == "" || len(label) > maxLabelLen {
				return fmt.Errorf("%w: bad scope %q", ErrInvalidName, scope)
			}
			w.Uint8(uint8(len(label)))
			w.Bytes([]byte(label))
		}
	}
	w.Uint8(0)
	return nil
}

func padName(name string, typ byte) ([16]byte, error) {
	var raw [16]byte
	pad := byte(' ')
	if name == "*" {
		pad = 0
	} else {
		name = canonical(name)
	}
	if name == "" || len(name) > MaxNameLength {
		return raw, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	n := copy(raw[:MaxNameLength], name)
	for i := n; i < MaxNameLength; i++ {
		raw[i] = pad
	}
	raw[MaxNameLength] = typ
	return raw, nil
}

// ParsePacket decodes a name service packet.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedPacket, len(data))
	}
	r := wire.BE(data)
	p := &Packet{TrnID: r.Uint16()}
	hdr := r.Uint16()
	p.Response = hdr&0x8000 != 0
	p.Opcode = Opcode(hdr >> 11 & 0x0F)
	p.Flags = uint8(hdr >> 4 & 0x7F)
	p.Rcode = uint8(hdr & 0x0F)

	qd, an, ns, ar := int(r.Uint16()), int(r.Uint16()), int(r.Uint16()), int(r.Uint16())
	// a question is at least 38 bytes, a record with a compressed name 12
	if qd*38+(an+ns+ar)*12 > r.Remaining() {
		return nil, fmt.Errorf("%w: %d records cannot fit in %d bytes", ErrMalformedPacket, qd+an+ns+ar, r.Remaining())
	}

	for range qd {
		var q Question
		var err error
		if q.Name, q.Type, q.Scope, err = readName(r, data); err != nil {
			return nil, err
		}
		q.QType = r.Uint16()
		r.Uint16() // class
		p.Questions = append(p.Questions, q)
	}
	var err error
	if p.Answers, err = readResources(r, data, an); err != nil {
		return nil, err
	}
	if p.Authority, err = readResources(r, data, ns); err != nil {
		return nil, err
	}
	if p.Additional, err = readResources(r, data, ar); err != nil {
		return nil, err
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	return p, nil
}

func readResources(r *wire.Reader, data []byte, count int) ([]Resource, error) {
	var out []Resource
	for range count {
		rr, err := readResource(r, data)
		if err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, nil
}

func readResource(r *wire.Reader, data []byte) (Resource, error) {
	var rr Resource
	var err error
	if rr.Name, rr.Type, rr.Scope, err = readName(r, data); err != nil {
		return rr, err
	}
	rr.RRType = r.Uint16()
	r.Uint16() // class
	rr.TTL = r.Uint32()
	rdlen := int(r.Uint16())
	rdata := r.Bytes(rdlen)
	if err := r.Err(); err != nil {
		return rr, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}

	if rr.RRType != RRTypeNB {
		rr.RData = rdata
		return rr, nil
	}
	if rdlen%6 != 0 {
		return rr, fmt.Errorf("%w: NB record length %d", ErrMalformedPacket, rdlen)
	}
	for off := 0; off < rdlen; off += 6 {
		flags := uint16(rdata[off])<<8 | uint16(rdata[off+1])
		rr.Addresses = append(rr.Addresses, NBAddress{
			Group: flags&nbFlagGroup != 0,
			Addr:  netip.AddrFrom4([4]byte(rdata[off+2 : off+6])),
		})
	}
	return rr, nil
}

// readName decodes a compressed or uncompressed encoded name at the
// reader's position.
func readName(r *wire.Reader, data []byte) (string, byte, string, error) {
	first := r.Uint8()
	if r.Err() != nil {
		return "", 0, "", fmt.Errorf("%w: truncated name", ErrMalformedPacket)
	}
	if first&pointerMask == pointerMask {
		off := int(first&^pointerMask)<<8 | int(r.Uint8())
		if r.Err() != nil || off >= len(data) || off < headerLen {
			return "", 0, "", fmt.Errorf("%w: bad name pointer", ErrMalformedPacket)
		}
		sub := wire.BE(data)
		sub.Seek(off)
		if b := data[off]; b&pointerMask == pointerMask {
			return "", 0, "", fmt.Errorf("%w: chained name pointer", ErrMalformedPacket)
		}
		return readName(sub, data)
	}
	if first != encodedLen {
		return "", 0, "", fmt.Errorf("%w: name length %d", ErrMalformedPacket, first)
	}

	enc := r.Bytes(encodedLen)
	if r.Err() != nil {
		return "", 0, "", fmt.Errorf("%w: truncated name", ErrMalformedPacket)
	}
	var raw [16]byte
	for i := range raw {
		hi, lo := enc[2*i]-'A', enc[2*i+1]-'A'
		if hi > 0x0F || lo > 0x0F {
			return "", 0, "", fmt.Errorf("%w: bad name encoding", ErrMalformedPacket)
		}
		raw[i] = hi<<4 | lo
	}

	var labels []string
	for {
		n := r.Uint8()
		if r.Err() != nil {
			return "", 0, "", fmt.Errorf("%w: unterminated scope", ErrMalformedPacket)
		}
		if n == 0 {
			break
		}
		if n > maxLabelLen {
			return "", 0, "", fmt.Errorf("%w: scope label length %d", ErrMalformedPacket, n)
		}
		labels = append(labels, string(r.Bytes(int(n))))
	}

	name := strings.TrimRight(string(raw[:MaxNameLength]), " \x00")
	return name, raw[MaxNameLength], strings.Join(labels, "."), nil
}

// ============================================================================
// Packet constructors
// ============================================================================

func ttlSeconds(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(d / time.Second)
}

func nbAddresses(n Name) []NBAddress {
	out := make([]NBAddress, 0, len(n.Addrs))
	for _, a := range n.Addrs {
		out = append(out, NBAddress{Group: n.Group, Addr: a})
	}
	return out
}

func nameRequest(trnID uint16, op Opcode, flags uint8, n Name) *Packet {
	return &Packet{
		TrnID:     trnID,
		Opcode:    op,
		Flags:     flags,
		Questions: []Question{{Name: n.Name, Type: n.Type, QType: RRTypeNB}},
		Additional: []Resource{{
			Name:      n.Name,
			Type:      n.Type,
			RRType:    RRTypeNB,
			TTL:       ttlSeconds(n.TTL),
			Addresses: nbAddresses(n),
		}},
	}
}

// NewRegistrationRequest builds a broadcast NAME REGISTRATION REQUEST.
func NewRegistrationRequest(trnID uint16, n Name) *Packet {
	return nameRequest(trnID, OpRegistration, FlagRecursionDes|FlagBroadcast, n)
}

// NewOverwriteDemand builds the NAME OVERWRITE DEMAND a B-node sends once
// its registration went unchallenged.
func NewOverwriteDemand(trnID uint16, n Name) *Packet {
	return nameRequest(trnID, OpRegistration, FlagBroadcast, n)
}

// NewRefreshRequest builds a broadcast NAME REFRESH REQUEST.
func NewRefreshRequest(trnID uint16, n Name) *Packet {
	return nameRequest(trnID, OpRefresh, FlagBroadcast, n)
}

// NewReleaseRequest builds a broadcast NAME RELEASE REQUEST.
func NewReleaseRequest(trnID uint16, n Name) *Packet {
	return nameRequest(trnID, OpRelease, FlagBroadcast, n)
}

// NewQueryRequest builds a broadcast NAME QUERY REQUEST.
func NewQueryRequest(trnID uint16, name string, typ byte) *Packet {
	return &Packet{
		TrnID:     trnID,
		Opcode:    OpQuery,
		Flags:     FlagRecursionDes | FlagBroadcast,
		Questions: []Question{{Name: name, Type: typ, QType: RRTypeNB}},
	}
}

// NewQueryResponse builds a positive NAME QUERY RESPONSE for n.
func NewQueryResponse(trnID uint16, n Name) *Packet {
	return &Packet{
		TrnID:    trnID,
		Response: true,
		Opcode:   OpQuery,
		Flags:    FlagAuthoritative | FlagRecursionDes,
		Answers: []Resource{{
			Name:      n.Name,
			Type:      n.Type,
			RRType:    RRTypeNB,
			TTL:       ttlSeconds(n.TTL),
			Addresses: nbAddresses(n),
		}},
	}
}

// NewRegistrationResponse builds a NAME REGISTRATION RESPONSE. A non-zero
// rcode is a negative response; RcodeActErr defends an active name.
func NewRegistrationResponse(trnID uint16, n Name, rcode uint8) *Packet {
	return &Packet{
		TrnID:    trnID,
		Response: true,
		Opcode:   OpRegistration,
		Flags:    FlagAuthoritative | FlagRecursionDes | FlagRecursionAv,
		Rcode:    rcode,
		Answers: []Resource{{
			Name:      n.Name,
			Type:      n.Type,
			RRType:    RRTypeNB,
			TTL:       ttlSeconds(n.TTL),
			Addresses: nbAddresses(n),
		}},
	}
}

// claimedName returns the name a registration, refresh or release packet
// speaks about.
func (p *Packet) claimedName() (Name, bool) {
	var rr *Resource
	switch {
	case len(p.Additional) > 0:
		rr = &p.Additional[0]
	case len(p.Answers) > 0:
		rr = &p.Answers[0]
	default:
		return Name{}, false
	}
	n := Name{Name: rr.Name, Type: rr.Type, TTL: time.Duration(rr.TTL) * time.Second}
	for _, a := range rr.Addresses {
		n.Addrs = append(n.Addrs, a.Addr)
		n.Group = n.Group || a.Group
	}
	return n, true
}
