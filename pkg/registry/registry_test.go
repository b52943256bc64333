package registry

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittocifs/pkg/device"
)

// fakeDevice accepts "ok" and rejects anything else until fixed is set.
type fakeDevice struct {
	creates atomic.Int32
	fixed   atomic.Bool
}

type fakeContext struct{ readOnly bool }

func (c *fakeContext) Driver() string   { return "fake" }
func (c *fakeContext) Describe() string { return "fake:/" }
func (c *fakeContext) ReadOnly() bool   { return c.readOnly }

func (d *fakeDevice) CreateContext(params string) (device.Context, error) {
	d.creates.Add(1)
	if params != "ok" && !d.fixed.Load() {
		return nil, device.NewContextError(device.ErrSyntax, "fake", "", "bad params %q", params)
	}
	return &fakeContext{readOnly: true}, nil
}

func (d *fakeDevice) TreeOpened(device.SessionInfo, device.TreeInfo) {}
func (d *fakeDevice) TreeClosed(device.SessionInfo, device.TreeInfo) {}

func newTestRegistry(t *testing.T) (*Registry, *fakeDevice) {
	t.Helper()
	dev := &fakeDevice{}
	drivers := device.NewDrivers()
	drivers.Register("fake", func(device.Options) device.Device { return dev })
	return NewRegistry(drivers, nil), dev
}

// ============================================================================
// Share Management
// ============================================================================

func TestIPCAlwaysPresent(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)

	assert.True(t, reg.ShareExists("ipc$"))
	assert.Equal(t, 1, reg.CountShares())
	assert.Error(t, reg.RemoveShare("IPC$"))

	share, c, err := reg.Connect("IPC$", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, ShareTypeIPC, share.Type)
	assert.Nil(t, c)
	assert.Nil(t, share.Device())
}

func TestAddShare(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.AddShare(&ShareConfig{Name: "Public", Driver: "FAKE", Params: "ok", Comment: "Team files"}))
	require.NoError(t, reg.AddShare(&ShareConfig{Name: "backup", Driver: "fake", Hidden: true}))

	err := reg.AddShare(&ShareConfig{Name: "PUBLIC", Driver: "fake"})
	assert.ErrorIs(t, err, ErrShareExists)

	err = reg.AddShare(&ShareConfig{Name: "tape", Driver: "tape"})
	assert.ErrorIs(t, err, &device.ContextError{Code: device.ErrUnknownDriver})

	assert.Error(t, reg.AddShare(&ShareConfig{Name: "", Driver: "fake"}))
	assert.Error(t, reg.AddShare(&ShareConfig{Name: `a\b`, Driver: "fake"}))

	var names []string
	for _, s := range reg.ListShares() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"backup", "IPC$", "Public"}, names)

	share, err := reg.GetShare("public")
	require.NoError(t, err)
	assert.Equal(t, "fake", share.Driver)
	assert.Equal(t, "Team files", share.Comment)
	assert.Nil(t, share.Context(), "no context before the first connect")

	require.NoError(t, reg.RemoveShare("PUBLIC"))
	_, err = reg.GetShare("public")
	assert.ErrorIs(t, err, ErrShareNotFound)
	assert.ErrorIs(t, reg.RemoveShare("public"), ErrShareNotFound)
}

// ============================================================================
// Connect
// ============================================================================

func TestConnectCachesContext(t *testing.T) {
	t.Parallel()
	reg, dev := newTestRegistry(t)
	require.NoError(t, reg.AddShare(&ShareConfig{Name: "docs", Driver: "fake", Params: "ok"}))

	share, c1, err := reg.Connect("DOCS", "")
	require.NoError(t, err)
	_, c2, err := reg.Connect("docs", "")
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, int32(1), dev.creates.Load())
	assert.Equal(t, "fake:/", share.Path())
	assert.True(t, share.ReadOnly())
}

func TestConnectDoesNotCacheFailure(t *testing.T) {
	t.Parallel()
	reg, dev := newTestRegistry(t)
	require.NoError(t, reg.AddShare(&ShareConfig{Name: "docs", Driver: "fake", Params: "broken"}))

	_, c, err := reg.Connect("docs", "")
	assert.Nil(t, c)
	var ce *device.ContextError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, device.ErrSyntax, ce.Code)

	share, _ := reg.GetShare("docs")
	assert.Nil(t, share.Context())

	dev.fixed.Store(true)
	_, c, err = reg.Connect("docs", "")
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, int32(2), dev.creates.Load())
}

func TestConnectUnknownShare(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)

	_, _, err := reg.Connect("nope", "")
	assert.ErrorIs(t, err, ErrShareNotFound)
}

// ============================================================================
// Access Control
// ============================================================================

func TestClientAccess(t *testing.T) {
	t.Parallel()
	reg, dev := newTestRegistry(t)
	require.NoError(t, reg.AddShare(&ShareConfig{
		Name:           "lab",
		Driver:         "fake",
		Params:         "ok",
		AllowedClients: []string{"192.168.1.0/24", "10.0.0.5"},
		DeniedClients:  []string{"192.168.1.66"},
	}))

	tests := []struct {
		client string
		ok     bool
	}{
		{"192.168.1.20", true},
		{"10.0.0.5", true},
		{"192.168.1.66", false},
		{"10.0.0.6", false},
		{"not-an-ip", false},
	}
	for _, tt := range tests {
		t.Run(tt.client, func(t *testing.T) {
			_, _, err := reg.Connect("lab", tt.client)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrAccessDenied)
			}
		})
	}
	assert.Equal(t, int32(1), dev.creates.Load())
}

func TestMatchesIPPattern(t *testing.T) {
	t.Parallel()
	assert.True(t, MatchesIPPattern("10.1.2.3", "10.0.0.0/8"))
	assert.False(t, MatchesIPPattern("11.1.2.3", "10.0.0.0/8"))
	assert.True(t, MatchesIPPattern("10.1.2.3", "10.1.2.3"))
	assert.False(t, MatchesIPPattern("garbage", "10.0.0.0/8"))
}
