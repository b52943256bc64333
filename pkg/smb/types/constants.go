// Package types holds SMB2 wire constants and NT status codes.
// Reference: [MS-SMB2] and [MS-ERREF].
package types

import "fmt"

// SMB1ProtocolID is 0xFF 'S' 'M' 'B' read as a little-endian uint32.
const SMB1ProtocolID uint32 = 0x424D53FF

// SMB2ProtocolID is 0xFE 'S' 'M' 'B' read as a little-endian uint32.
const SMB2ProtocolID uint32 = 0x424D53FE

// Command is an SMB2 command code [MS-SMB2] 2.2.1.
type Command uint16

const (
	CommandNegotiate      Command = 0x0000
	CommandSessionSetup   Command = 0x0001
	CommandLogoff         Command = 0x0002
	CommandTreeConnect    Command = 0x0003
	CommandTreeDisconnect Command = 0x0004
	CommandCreate         Command = 0x0005
	CommandClose          Command = 0x0006
	CommandFlush          Command = 0x0007
	CommandRead           Command = 0x0008
	CommandWrite          Command = 0x0009
	CommandLock           Command = 0x000A
	CommandIoctl          Command = 0x000B
	CommandCancel         Command = 0x000C
	CommandEcho           Command = 0x000D
	CommandQueryDirectory Command = 0x000E
	CommandChangeNotify   Command = 0x000F
	CommandQueryInfo      Command = 0x0010
	CommandSetInfo        Command = 0x0011
	CommandOplockBreak    Command = 0x0012
)

var commandNames = map[Command]string{
	CommandNegotiate:      "NEGOTIATE",
	CommandSessionSetup:   "SESSION_SETUP",
	CommandLogoff:         "LOGOFF",
	CommandTreeConnect:    "TREE_CONNECT",
	CommandTreeDisconnect: "TREE_DISCONNECT",
	CommandCreate:         "CREATE",
	CommandClose:          "CLOSE",
	CommandFlush:          "FLUSH",
	CommandRead:           "READ",
	CommandWrite:          "WRITE",
	CommandLock:           "LOCK",
	CommandIoctl:          "IOCTL",
	CommandCancel:         "CANCEL",
	CommandEcho:           "ECHO",
	CommandQueryDirectory: "QUERY_DIRECTORY",
	CommandChangeNotify:   "CHANGE_NOTIFY",
	CommandQueryInfo:      "QUERY_INFO",
	CommandSetInfo:        "SET_INFO",
	CommandOplockBreak:    "OPLOCK_BREAK",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("COMMAND_0x%04X", uint16(c))
}

// HeaderFlags [MS-SMB2] 2.2.1.1.
type HeaderFlags uint32

const (
	FlagServerToRedir HeaderFlags = 0x00000001
	FlagAsyncCommand  HeaderFlags = 0x00000002
	FlagRelatedOps    HeaderFlags = 0x00000004
	FlagSigned        HeaderFlags = 0x00000008
)

// IsResponse reports whether the server-to-redirector bit is set.
func (f HeaderFlags) IsResponse() bool { return f&FlagServerToRedir != 0 }

// Dialects [MS-SMB2] 2.2.3.
const (
	Dialect0202     uint16 = 0x0202
	Dialect0210     uint16 = 0x0210
	DialectWildcard uint16 = 0x02FF
)

// Security mode bits.
const (
	NegotiateSigningEnabled  uint16 = 0x0001
	NegotiateSigningRequired uint16 = 0x0002
)

// Session flags [MS-SMB2] 2.2.6.
const (
	SessionFlagIsGuest uint16 = 0x0001
	SessionFlagIsNull  uint16 = 0x0002
)

// Share types [MS-SMB2] 2.2.10.
const (
	ShareTypeDisk uint8 = 0x01
	ShareTypePipe uint8 = 0x02
)

// Create dispositions [MS-SMB2] 2.2.13.
const (
	FileSupersede   uint32 = 0
	FileOpen        uint32 = 1
	FileCreate      uint32 = 2
	FileOpenIf      uint32 = 3
	FileOverwrite   uint32 = 4
	FileOverwriteIf uint32 = 5
)

// Create actions returned in the CREATE response.
const (
	FileOpened  uint32 = 1
	FileCreated uint32 = 2
)

// File attributes.
const (
	FileAttributeDirectory uint32 = 0x00000010
	FileAttributeNormal    uint32 = 0x00000080
)

// Lock flags [MS-SMB2] 2.2.26.1.
const (
	LockFlagShared          uint32 = 0x00000001
	LockFlagExclusive       uint32 = 0x00000002
	LockFlagUnlock          uint32 = 0x00000004
	LockFlagFailImmediately uint32 = 0x00000010
)

// FSCTL codes.
const (
	FsctlPipeTransceive uint32 = 0x0011C017
)

// IOCTL request flags.
const (
	IoctlIsFsctl uint32 = 0x00000001
)
