package lockfile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fastConfig() Config {
	return Config{
		WaitAttempts:   5,
		WaitInterval:   10 * time.Millisecond,
		CreateAttempts: 2,
		CreateInterval: 10 * time.Millisecond,
	}
}

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svcgate.lock")
	m := New(path, testLogger()).WithConfig(fastConfig())

	handle, err := m.Acquire(context.Background())
	require.NoError(t, err)

	// Lock file should exist while held and record our PID.
	pid, _, err := m.ReadInfo()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	handle.Release()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "lock file should be removed after release")
}

func TestReleaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svcgate.lock")
	m := New(path, testLogger()).WithConfig(fastConfig())

	handle, err := m.Acquire(context.Background())
	require.NoError(t, err)

	handle.Release()
	handle.Release()
}

func TestAcquireBusyTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svcgate.lock")
	m1 := New(path, testLogger()).WithConfig(fastConfig())

	handle, err := m1.Acquire(context.Background())
	require.NoError(t, err)
	defer handle.Release()

	// A second manager with a short budget must time out, not create a
	// second lock.
	m2 := New(path, testLogger()).WithConfig(fastConfig())
	_, err = m2.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrBusyTimeout)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svcgate.lock")
	m1 := New(path, testLogger()).WithConfig(fastConfig())

	handle, err := m1.Acquire(context.Background())
	require.NoError(t, err)

	m2 := New(path, testLogger()).WithConfig(Config{
		WaitAttempts:   50,
		WaitInterval:   10 * time.Millisecond,
		CreateAttempts: 2,
		CreateInterval: 10 * time.Millisecond,
	})

	var wg sync.WaitGroup
	var second *Handle
	var secondErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		second, secondErr = m2.Acquire(context.Background())
	}()

	time.Sleep(30 * time.Millisecond)
	handle.Release()
	wg.Wait()

	require.NoError(t, secondErr, "second acquire should succeed once the first releases")
	second.Release()
}

func TestMutualExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svcgate.lock")

	// Two contenders; at most one may hold the lock at any instant.
	var holders int32
	var mu sync.Mutex
	maxHolders := 0

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := New(path, testLogger()).WithConfig(Config{
				WaitAttempts:   100,
				WaitInterval:   5 * time.Millisecond,
				CreateAttempts: 2,
				CreateInterval: 5 * time.Millisecond,
			})
			handle, err := m.Acquire(context.Background())
			if err != nil {
				// Losing the race within the budget is a legal outcome.
				return
			}
			mu.Lock()
			holders++
			if int(holders) > maxHolders {
				maxHolders = int(holders)
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			handle.Release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxHolders, 1, "two invocations must never both hold the lock")
}

func TestWaitFreeOnFreePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svcgate.lock")
	m := New(path, testLogger()).WithConfig(fastConfig())

	assert.NoError(t, m.WaitFree(context.Background()))
}

func TestWaitFreeBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svcgate.lock")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	m := New(path, testLogger()).WithConfig(fastConfig())
	err := m.WaitFree(context.Background())
	assert.ErrorIs(t, err, ErrBusyTimeout)
}

func TestReadInfoMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svcgate.lock")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	m := New(path, testLogger())
	_, _, err := m.ReadInfo()
	assert.Error(t, err)
}
