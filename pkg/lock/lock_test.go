package lock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wxharvest/pkg/errors"
	"wxharvest/pkg/logger"
)

func newTestLock(t *testing.T, ttl time.Duration) *FileLock {
	t.Helper()
	l, err := New(filepath.Join(t.TempDir(), "data", ".lock"), ttl, logger.NewNopLogger())
	require.NoError(t, err)
	return l
}

func TestAcquireAndRelease(t *testing.T) {
	l := newTestLock(t, time.Minute)

	lease, err := l.Acquire("login")
	require.NoError(t, err)
	assert.True(t, l.Held())
	assert.True(t, lease.Valid())

	rec, err := l.Holder()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, os.Getpid(), rec.PID)
	assert.Equal(t, "login", rec.Purpose)

	_, err = l.Acquire("renewal")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLockBusy))

	require.NoError(t, lease.Release())
	assert.False(t, l.Held())
	assert.False(t, lease.Valid())
	assert.NoError(t, lease.Release())

	again, err := l.Acquire("renewal")
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestConcurrentAcquireHasSingleWinner(t *testing.T) {
	l := newTestLock(t, time.Minute)

	var winners int32
	var busy int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Acquire("login")
			if err == nil {
				atomic.AddInt32(&winners, 1)
				return
			}
			if errors.IsType(err, errors.ErrorTypeLockBusy) {
				atomic.AddInt32(&busy, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners)
	assert.Equal(t, int32(15), busy)
}

func TestStaleLockIsReclaimed(t *testing.T) {
	l := newTestLock(t, time.Minute)

	stale, err := l.Acquire("login")
	require.NoError(t, err)

	l.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.False(t, l.Held())

	fresh, err := l.Acquire("login")
	require.NoError(t, err)
	assert.True(t, fresh.Valid())
	assert.False(t, stale.Valid())

	// the stale holder must not remove the new marker
	require.NoError(t, stale.Release())
	assert.True(t, fresh.Valid())
	require.NoError(t, fresh.Release())
}

func writeMarker(t *testing.T, l *FileLock, nonce string, expires time.Time) {
	t.Helper()
	data, err := json.Marshal(Record{HolderNonce: nonce, PID: 1, AcquiredAt: expires.Add(-time.Minute), ExpiresAt: expires})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(l.Path(), data, 0600))
}

func TestReclaimKeepsReplacedMarker(t *testing.T) {
	l := newTestLock(t, time.Minute)
	stale := &Record{HolderNonce: "expired-holder"}
	writeMarker(t, l, "fresh-holder", time.Now().Add(time.Minute))

	assert.False(t, l.removeStale(stale))
	rec, err := l.Holder()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "fresh-holder", rec.HolderNonce)

	writeMarker(t, l, "expired-holder", time.Now().Add(-time.Minute))
	assert.True(t, l.removeStale(stale))
	assert.False(t, l.Held())

	leftovers, err := filepath.Glob(l.Path() + ".*")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestReclaimWaitsForOtherReclaimer(t *testing.T) {
	l := newTestLock(t, time.Minute)
	writeMarker(t, l, "crashed", time.Now().Add(-time.Minute))
	guard := l.Path() + ".reclaim"
	require.NoError(t, os.WriteFile(guard, nil, 0600))

	_, err := l.Acquire("login")
	assert.True(t, errors.IsType(err, errors.ErrorTypeLockBusy))

	old := time.Now().Add(-10 * time.Minute)
	require.NoError(t, os.Chtimes(guard, old, old))
	_, err = l.Acquire("login")
	assert.True(t, errors.IsType(err, errors.ErrorTypeLockBusy), "an abandoned guard is cleared, not taken")

	lease, err := l.Acquire("login")
	require.NoError(t, err)
	require.NoError(t, lease.Release())
}

func TestConcurrentReclaimHasSingleWinner(t *testing.T) {
	for round := 0; round < 50; round++ {
		l := newTestLock(t, time.Minute)
		writeMarker(t, l, "crashed", time.Now().Add(-time.Minute))

		var mu sync.Mutex
		var leases []*Lease
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if lease, err := l.Acquire("login"); err == nil {
					mu.Lock()
					leases = append(leases, lease)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.Len(t, leases, 1, "round %d", round)
		assert.True(t, leases[0].Valid())
	}
}

func TestCorruptMarkerUsesModTime(t *testing.T) {
	l := newTestLock(t, time.Minute)
	require.NoError(t, os.WriteFile(l.Path(), []byte("garbage"), 0600))

	_, err := l.Acquire("login")
	assert.True(t, errors.IsType(err, errors.ErrorTypeLockBusy))

	old := time.Now().Add(-10 * time.Minute)
	require.NoError(t, os.Chtimes(l.Path(), old, old))

	lease, err := l.Acquire("login")
	require.NoError(t, err)
	require.NoError(t, lease.Release())
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New("", time.Minute, nil)
	assert.Error(t, err)

	_, err = New(filepath.Join(t.TempDir(), ".lock"), 0, nil)
	assert.Error(t, err)
}
