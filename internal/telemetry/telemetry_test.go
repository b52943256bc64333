package telemetry

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "dittocifs", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Init(ctx, DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())
	assert.NotNil(t, Tracer())
}

func TestSpansAreNoOpWhenDisabled(t *testing.T) {
	ctx, span := StartSMBSpan(context.Background(), "TREE_CONNECT", Share("docs"), SessionID(7))
	defer span.End()

	// no-op spans carry no IDs
	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))

	RecordError(ctx, errors.New("boom"))
	RecordError(ctx, nil)
	AddEvent(ctx, "tree.opened", TreeID(3))
	SetAttributes(ctx, SMBStatus(0xC00000CC))
}

func TestRPCAndNameSpans(t *testing.T) {
	_, span := StartRPCSpan(context.Background(), "srvsvc", 15)
	span.End()

	_, span = StartNameSpan(context.Background(), SpanNameAdd, "FILESRV", 0x20)
	span.End()
}

func TestAttributeHelpers(t *testing.T) {
	assert.Equal(t, attribute.String(AttrSMBCommand, "LOCK"), SMBCommand("LOCK"))
	assert.Equal(t, attribute.Int64(AttrSMBTreeID, 9), TreeID(9))
	assert.Equal(t, attribute.String(AttrSMBShare, "docs"), Share("docs"))

	nb := NetBIOSName("FILESRV", 0x20)
	require.Len(t, nb, 2)
	assert.Equal(t, attribute.Int(AttrNBType, 0x20), nb[1])

	addr := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 445}
	assert.Equal(t, attribute.String(AttrClientAddr, "10.0.0.5:445"), ClientAddr(addr))
	assert.Equal(t, attribute.String(AttrClientAddr, ""), ClientAddr(nil))
}

func TestInitProfilingDisabled(t *testing.T) {
	stop, err := InitProfiling(ProfilingConfig{})
	require.NoError(t, err)
	assert.NoError(t, stop())
	assert.False(t, IsProfilingEnabled())
}

func TestInitProfilingRejectsUnknownType(t *testing.T) {
	_, err := InitProfiling(ProfilingConfig{Enabled: true, ProfileTypes: []string{"heap_everything"}})
	assert.Error(t, err)
	assert.False(t, IsProfilingEnabled())
}
