package locking

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerSeparatesFiles(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	_, err := m.Lock("docs", "a.txt", 0, 100, 5, 1)
	require.NoError(t, err)
	_, err = m.Lock("docs", "b.txt", 0, 100, 7, 2)
	require.NoError(t, err)
	_, err = m.Lock("backup", "a.txt", 0, 100, 7, 2)
	require.NoError(t, err)

	assert.Equal(t, 3, m.Count())
	assert.Equal(t, 3, m.Files())

	snap := m.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, FileKey{"backup", "a.txt"}, snap[0].FileKey)
	assert.Equal(t, FileKey{"docs", "b.txt"}, snap[2].FileKey)
}

func TestManagerUnlockPrunes(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	_, err := m.Lock("docs", "a.txt", 0, 100, 5, 1)
	require.NoError(t, err)
	require.NoError(t, m.Unlock("docs", "a.txt", 0, 100, 5, 1))
	assert.Zero(t, m.Files())

	assert.ErrorIs(t, m.Unlock("docs", "a.txt", 0, 100, 5, 1), ErrNotLocked)

	// a failed first lock leaves no empty table behind
	_, err = m.Lock("docs", "b.txt", 10, 0, 5, 1)
	require.NoError(t, err)
	_, err = m.Lock("docs", "c.txt", ^uint64(0), 2, 5, 1)
	assert.ErrorIs(t, err, ErrInvalidRange)
	assert.Equal(t, 1, m.Files())
}

func TestManagerReleaseSession(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	for i, path := range []string{"a", "b", "c"} {
		_, err := m.Lock("docs", path, 0, 10, uint32(i), 1)
		require.NoError(t, err)
	}
	_, err := m.Lock("docs", "a", 100, 10, 9, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, m.SessionCount(1))

	assert.Equal(t, 3, m.ReleaseSession(1))
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, 1, m.Files())
	assert.Zero(t, m.SessionCount(1))

	assert.Equal(t, 1, m.ReleasePID(9))
	assert.Zero(t, m.Files())
}

func TestManagerTest(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	assert.Nil(t, m.Test("docs", "a", 0, 1, 5, 1))

	_, err := m.Lock("docs", "a", 0, 10, 5, 1)
	require.NoError(t, err)
	assert.NotNil(t, m.Test("docs", "a", 0, 1, 6, 1))
}

func TestManagerMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m := NewManager(metrics)

	_, err := m.Lock("docs", "a", 0, 100, 5, 1)
	require.NoError(t, err)
	_, err = m.Lock("docs", "a", 50, 100, 7, 1)
	require.Error(t, err)
	_, err = m.Lock("docs", "a", 50, 100, 5, 1) // merges, still one lock
	require.NoError(t, err)
	_, err = m.Lock("docs", "b", 0, 10, 5, 1)
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.acquireTotal.WithLabelValues("docs", StatusGranted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.acquireTotal.WithLabelValues("docs", StatusConflict)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.active.WithLabelValues("docs")))

	require.NoError(t, m.Unlock("docs", "a", 0, 50, 5, 1))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.active.WithLabelValues("docs")))

	assert.Equal(t, 2, m.ReleaseSession(1))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.active.WithLabelValues("docs")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.releaseTotal.WithLabelValues("docs", ReasonDisconnect)))
}

func TestManagerReleaseOwner(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m := NewManager(metrics)

	_, err := m.Lock("docs", "a", 0, 10, 5, 1)
	require.NoError(t, err)
	_, err = m.Lock("docs", "a", 20, 10, 6, 1)
	require.NoError(t, err)
	_, err = m.Lock("docs", "b", 0, 10, 5, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, m.ReleaseOwner("docs", "a", 5, 1))
	assert.Zero(t, m.ReleaseOwner("docs", "missing", 5, 1))
	assert.Equal(t, 2, m.Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.releaseTotal.WithLabelValues("docs", ReasonClose)))

	assert.Equal(t, 1, m.ReleaseOwner("docs", "a", 6, 1))
	assert.Equal(t, 1, m.Files(), "empty table is pruned")
}

func TestManagerLockRanges(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	_, err := m.Lock("docs", "a", 0, 10, 5, 1)
	require.NoError(t, err)
	_, err = m.Lock("docs", "a", 100, 10, 7, 2)
	require.NoError(t, err)

	_, err = m.LockRanges("docs", "a", []Range{{Offset: 10, Length: 10}, {Offset: 100, Length: 1}}, 5, 1)
	require.ErrorIs(t, err, ErrLockConflict)
	assert.Equal(t, 2, m.Count())

	got, err := m.LockRanges("docs", "new", []Range{{Offset: 0, Length: 1}, {Offset: 5, Length: 1}}, 5, 1)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, m.Files())
}

func TestManagerConcurrentOwners(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for pid := range uint32(16) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Lock("docs", "hot", 0, 10, pid, uint64(pid)); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
				_ = m.Unlock("docs", "hot", 0, 10, pid, uint64(pid))
			}
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, granted, 1)
	assert.Zero(t, m.Count())
}
