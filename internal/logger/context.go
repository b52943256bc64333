package logger

import (
	"context"
	"time"
)

type contextKey struct{}

// LogContext carries request-scoped fields that *Ctx calls prepend.
type LogContext struct {
	TraceID   string
	SpanID    string
	Command   string // SMB2 command or NetBIOS opcode
	Share     string
	Client    string // remote address
	SessionID uint64
	TreeID    uint32
	User      string
	StartTime time.Time
}

// NewLogContext starts a context for a request from client.
func NewLogContext(client string) *LogContext {
	return &LogContext{Client: client, StartTime: time.Now()}
}

// WithContext stores lc in ctx.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext returns the LogContext in ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

// Clone returns a shallow copy; nil stays nil.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithSession returns a copy bound to a session and user.
func (lc *LogContext) WithSession(id uint64, user string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.SessionID, c.User = id, user
	}
	return c
}

// WithTree returns a copy bound to a tree connection.
func (lc *LogContext) WithTree(id uint32, share string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TreeID, c.Share = id, share
	}
	return c
}

// WithCommand returns a copy for one command.
func (lc *LogContext) WithCommand(cmd string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.Command = cmd
	}
	return c
}

// DurationMs returns milliseconds since StartTime.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Duration(lc.StartTime)
}

func withContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}
	out := make([]any, 0, 16+len(args))
	if lc.TraceID != "" {
		out = append(out, KeyTraceID, lc.TraceID)
	}
	if lc.SpanID != "" {
		out = append(out, KeySpanID, lc.SpanID)
	}
	if lc.Command != "" {
		out = append(out, KeyCommand, lc.Command)
	}
	if lc.Client != "" {
		out = append(out, KeyClient, lc.Client)
	}
	if lc.SessionID != 0 {
		out = append(out, KeySessionID, lc.SessionID)
	}
	if lc.TreeID != 0 {
		out = append(out, KeyTreeID, lc.TreeID)
	}
	if lc.Share != "" {
		out = append(out, KeyShare, lc.Share)
	}
	if lc.User != "" {
		out = append(out, KeyUser, lc.User)
	}
	return append(out, args...)
}
