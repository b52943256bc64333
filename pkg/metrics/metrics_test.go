package metrics

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittocifs/pkg/dcerpc"
	"github.com/marmos91/dittocifs/pkg/netbios"
)

// ============================================================================
// Registry
// ============================================================================

func TestRegistry(t *testing.T) {
	reset()
	t.Cleanup(reset)

	assert.False(t, IsEnabled())
	assert.Nil(t, GetRegistry())
	assert.Nil(t, Registerer())

	reg := InitRegistry()
	require.NotNil(t, reg)
	assert.True(t, IsEnabled())
	assert.Same(t, reg, InitRegistry())
	assert.Same(t, reg, GetRegistry())

	families, err := Gatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

// ============================================================================
// RPC instrumentation
// ============================================================================

type stubService struct{ err error }

func (s stubService) Syntax() dcerpc.SyntaxID { return dcerpc.SyntaxID{} }

func (s stubService) Invoke(_ context.Context, opnum uint16, _ []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []byte{byte(opnum)}, nil
}

type call struct {
	iface   string
	opnum   uint16
	outcome string
}

type recordingRPC struct {
	mu    sync.Mutex
	calls []call
}

func (r *recordingRPC) RecordCall(iface string, opnum uint16, _ time.Duration, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{iface, opnum, outcome})
}

func TestInstrumentServiceNilMetrics(t *testing.T) {
	svc := stubService{}
	assert.Equal(t, dcerpc.Service(svc), InstrumentService("srvsvc", svc, nil))
}

func TestInstrumentServiceOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome string
	}{
		{"ok", nil, OutcomeOK},
		{"unknown opnum", dcerpc.ErrUnknownOpnum, OutcomeUnknownOpnum},
		{"fault", errors.New("boom"), OutcomeFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingRPC{}
			svc := InstrumentService("srvsvc", stubService{err: tt.err}, rec)

			_, err := svc.Invoke(context.Background(), 15, nil)
			assert.ErrorIs(t, err, tt.err)
			require.Len(t, rec.calls, 1)
			assert.Equal(t, call{"srvsvc", 15, tt.outcome}, rec.calls[0])
		})
	}
}

// ============================================================================
// NetBIOS listener
// ============================================================================

type recordingNB struct {
	statuses []string
	groups   []bool
	names    int
}

func (r *recordingNB) RecordNameEvent(status string, group bool) {
	r.statuses = append(r.statuses, status)
	r.groups = append(r.groups, group)
}

func (r *recordingNB) SetRegisteredNames(count int) { r.names = count }

func TestNameListener(t *testing.T) {
	assert.Nil(t, NameListener(nil, nil))

	table := netbios.NewNameTable(0)
	rec := &recordingNB{}
	table.AddListener(NameListener(rec, table))

	addr := netip.MustParseAddr("192.168.1.10")
	_, err := table.RegisterName(netbios.Name{Name: "WORKGROUP", Type: 0x00, Group: true, Addrs: []netip.Addr{addr}})
	require.NoError(t, err)

	assert.Equal(t, []string{"RegisterName"}, rec.statuses)
	assert.Equal(t, []bool{true}, rec.groups)
	assert.Equal(t, 1, rec.names)
}
