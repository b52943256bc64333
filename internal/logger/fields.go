package logger

import "log/slog"

// Standard field keys. Use them consistently so logs can be queried across
// the SMB, NetBIOS and RPC layers.
const (
	// ========================================================================
	// Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// SMB session & tree
	// ========================================================================
	KeyCommand   = "command"
	KeyMessageID = "message_id"
	KeySessionID = "session_id"
	KeyTreeID    = "tree_id"
	KeyShare     = "share"
	KeyStatus    = "status"
	KeyClient    = "client"
	KeyUser      = "user"
	KeyDomain    = "domain"
	KeyDialect   = "dialect"

	// ========================================================================
	// NetBIOS
	// ========================================================================
	KeyNetBIOSName = "netbios_name"
	KeyNameType    = "name_type"
	KeyNameStatus  = "name_status"
	KeyTrnID       = "trn_id"
	KeyAttempt     = "attempt"

	// ========================================================================
	// DCE/RPC
	// ========================================================================
	KeyPipe      = "pipe"
	KeyOpnum     = "opnum"
	KeyInfoLevel = "info_level"

	// ========================================================================
	// Locking
	// ========================================================================
	KeyPID    = "pid"
	KeyOffset = "offset"
	KeyLength = "length"
	KeyPath   = "path"

	// ========================================================================
	// Devices & stores
	// ========================================================================
	KeyDriver    = "driver"
	KeyStoreType = "store_type"
	KeyBucket    = "bucket"

	// ========================================================================
	// General
	// ========================================================================
	KeyError        = "error"
	KeyDurationMs   = "duration_ms"
	KeyCount        = "count"
	KeyBytesRead    = "bytes_read"
	KeyBytesWritten = "bytes_written"
	KeyAddress      = "address"
)

// Err returns an error attribute; nil errors render as an empty string.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

func SessionID(id uint64) slog.Attr { return slog.Uint64(KeySessionID, id) }

func TreeID(id uint32) slog.Attr { return slog.Uint64(KeyTreeID, uint64(id)) }

func Share(name string) slog.Attr { return slog.String(KeyShare, name) }

func Client(addr string) slog.Attr { return slog.String(KeyClient, addr) }

// NetBIOSName groups a name with its type byte.
func NetBIOSName(name string, typ byte) slog.Attr {
	return slog.Group("nb", slog.String(KeyNetBIOSName, name), slog.Int(KeyNameType, int(typ)))
}

func PID(pid uint32) slog.Attr { return slog.Uint64(KeyPID, uint64(pid)) }
