// Package header parses and encodes the 64-byte SMB2 message header.
//
//	Offset  Size  Field
//	     0     4  ProtocolID      0xFE 'S' 'M' 'B'
//	     4     2  StructureSize   always 64
//	     6     2  CreditCharge
//	     8     4  Status          NT_STATUS in responses
//	    12     2  Command
//	    14     2  Credits         requested or granted
//	    16     4  Flags
//	    20     4  NextCommand     compound offset
//	    24     8  MessageID
//	    32     4  ProcessID       sync requests only
//	    36     4  TreeID
//	    40     8  SessionID
//	    48    16  Signature
//
// Reference: [MS-SMB2] 2.2.1.2
package header

import (
	"encoding/binary"
	"errors"

	"github.com/marmos91/dittocifs/pkg/smb/types"
)

// Size is the fixed size of an SMB2 header.
const Size = 64

// Parsing errors.
var (
	// ErrMessageTooShort indicates fewer than 64 bytes were received.
	ErrMessageTooShort = errors.New("message too short for SMB2 header")

	// ErrInvalidProtocolID indicates the message does not start with 0xFE 'S' 'M' 'B'.
	ErrInvalidProtocolID = errors.New("invalid SMB2 protocol ID")

	// ErrInvalidHeaderSize indicates StructureSize is not 64.
	ErrInvalidHeaderSize = errors.New("invalid SMB2 header structure size")
)

// Header is the sync form of the SMB2 header, used for requests and responses.
type Header struct {
	CreditCharge uint16
	Status       types.Status
	Command      types.Command
	Credits      uint16
	Flags        types.HeaderFlags
	NextCommand  uint32
	MessageID    uint64
	ProcessID    uint32
	TreeID       uint32
	SessionID    uint64
	Signature    [16]byte
}

// Parse decodes the header at the start of data.
func Parse(data []byte) (*Header, error) {
	if len(data) < Size {
		return nil, ErrMessageTooShort
	}
	if binary.LittleEndian.Uint32(data[0:4]) != types.SMB2ProtocolID {
		return nil, ErrInvalidProtocolID
	}
	if binary.LittleEndian.Uint16(data[4:6]) != Size {
		return nil, ErrInvalidHeaderSize
	}

	h := &Header{
		CreditCharge: binary.LittleEndian.Uint16(data[6:8]),
		Status:       types.Status(binary.LittleEndian.Uint32(data[8:12])),
		Command:      types.Command(binary.LittleEndian.Uint16(data[12:14])),
		Credits:      binary.LittleEndian.Uint16(data[14:16]),
		Flags:        types.HeaderFlags(binary.LittleEndian.Uint32(data[16:20])),
		NextCommand:  binary.LittleEndian.Uint32(data[20:24]),
		MessageID:    binary.LittleEndian.Uint64(data[24:32]),
		ProcessID:    binary.LittleEndian.Uint32(data[32:36]),
		TreeID:       binary.LittleEndian.Uint32(data[36:40]),
		SessionID:    binary.LittleEndian.Uint64(data[40:48]),
	}
	copy(h.Signature[:], data[48:64])
	return h, nil
}

// Encode serializes the header in wire format.
func (h *Header) Encode() []byte {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint32(buf[0:4], types.SMB2ProtocolID)
	binary.LittleEndian.PutUint16(buf[4:6], Size)
	binary.LittleEndian.PutUint16(buf[6:8], h.CreditCharge)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Status))
	binary.LittleEndian.PutUint16(buf[12:14], uint16(h.Command))
	binary.LittleEndian.PutUint16(buf[14:16], h.Credits)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.Flags))
	binary.LittleEndian.PutUint32(buf[20:24], h.NextCommand)
	binary.LittleEndian.PutUint64(buf[24:32], h.MessageID)
	binary.LittleEndian.PutUint32(buf[32:36], h.ProcessID)
	binary.LittleEndian.PutUint32(buf[36:40], h.TreeID)
	binary.LittleEndian.PutUint64(buf[40:48], h.SessionID)
	copy(buf[48:64], h.Signature[:])
	return buf
}

// minCredits is granted on every response so clients never stall.
const minCredits = 32

// NewResponse builds the response header for req.
func NewResponse(req *Header, status types.Status) *Header {
	credits := max(req.Credits, minCredits)
	return &Header{
		CreditCharge: req.CreditCharge,
		Status:       status,
		Command:      req.Command,
		Credits:      credits,
		Flags:        types.FlagServerToRedir,
		MessageID:    req.MessageID,
		ProcessID:    req.ProcessID,
		TreeID:       req.TreeID,
		SessionID:    req.SessionID,
	}
}

// IsSMB2Message checks only the protocol ID.
func IsSMB2Message(data []byte) bool {
	return len(data) >= 4 && binary.LittleEndian.Uint32(data[0:4]) == types.SMB2ProtocolID
}

// IsSMB1Message reports whether data starts with 0xFF 'S' 'M' 'B'.
func IsSMB1Message(data []byte) bool {
	return len(data) >= 4 && binary.LittleEndian.Uint32(data[0:4]) == types.SMB1ProtocolID
}
