// Package lockfile serializes mutating firewall operations across process
// invocations with a PID-recording lock file. There is no in-process locking;
// concurrency only arises between separate invocations of the tool.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/svcgate/svcgate/internal/retry"
)

var (
	// ErrBusyTimeout means another invocation held the lock for the whole
	// wait budget.
	ErrBusyTimeout = errors.New("lock is busy")

	// ErrCreateFailed means the lock file could not be created. Proceeding
	// without it risks concurrent rule mutation, so callers treat this as
	// fatal.
	ErrCreateFailed = errors.New("lock file could not be created")
)

// Config contains the bounded-wait budgets for lock acquisition.
type Config struct {
	// WaitAttempts and WaitInterval bound how long a caller waits for an
	// existing lock to disappear (30 x 200ms by default, a 6-second budget).
	WaitAttempts int           `yaml:"wait_attempts" env:"SVCGATE_LOCK_WAIT_ATTEMPTS" env-default:"30"`
	WaitInterval time.Duration `yaml:"wait_interval" env:"SVCGATE_LOCK_WAIT_INTERVAL" env-default:"200ms"`

	// CreateAttempts and CreateInterval bound the creation of our own lock
	// file once the path is free.
	CreateAttempts int           `yaml:"create_attempts" env:"SVCGATE_LOCK_CREATE_ATTEMPTS" env-default:"3"`
	CreateInterval time.Duration `yaml:"create_interval" env:"SVCGATE_LOCK_CREATE_INTERVAL" env-default:"100ms"`
}

// DefaultConfig returns the default acquisition budgets.
func DefaultConfig() Config {
	return Config{
		WaitAttempts:   30,
		WaitInterval:   200 * time.Millisecond,
		CreateAttempts: 3,
		CreateInterval: 100 * time.Millisecond,
	}
}

// Manager acquires and releases the per-user lock file.
type Manager struct {
	path   string
	cfg    Config
	logger *slog.Logger
}

// New creates a lock manager for the given lock file path.
func New(path string, logger *slog.Logger) *Manager {
	return &Manager{
		path:   path,
		cfg:    DefaultConfig(),
		logger: logger,
	}
}

// WithConfig overrides the acquisition budgets and returns the same manager.
func (m *Manager) WithConfig(cfg Config) *Manager {
	if cfg.WaitAttempts > 0 {
		m.cfg.WaitAttempts = cfg.WaitAttempts
	}
	if cfg.WaitInterval > 0 {
		m.cfg.WaitInterval = cfg.WaitInterval
	}
	if cfg.CreateAttempts > 0 {
		m.cfg.CreateAttempts = cfg.CreateAttempts
	}
	if cfg.CreateInterval > 0 {
		m.cfg.CreateInterval = cfg.CreateInterval
	}
	return m
}

// Path returns the lock file path, for user-facing guidance on failures.
func (m *Manager) Path() string {
	return m.path
}

// lockInfo is the JSON body of the lock file. Recording the owning PID lets
// an administrator distinguish a stale lock from a live one; this package
// does not probe liveness itself.
type lockInfo struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// WaitFree polls until no lock file exists, within the wait budget. It
// returns ErrBusyTimeout once the budget is exhausted. Read-only callers use
// this alone so they never observe mid-transition state; they do not take the
// lock themselves.
func (m *Manager) WaitFree(ctx context.Context) error {
	policy := retry.Policy{Attempts: m.cfg.WaitAttempts, Interval: m.cfg.WaitInterval}

	err := policy.Do(ctx, func() error {
		if _, err := os.Stat(m.path); err == nil {
			return fmt.Errorf("%w: held by another invocation (%s)", ErrBusyTimeout, m.path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to stat lock file %s: %w", m.path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

// Acquire waits for the path to be free and then creates our own lock file.
// The returned handle must be released on every exit path.
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	if err := m.WaitFree(ctx); err != nil {
		return nil, err
	}

	policy := retry.Policy{Attempts: m.cfg.CreateAttempts, Interval: m.cfg.CreateInterval}

	err := policy.Do(ctx, func() error {
		f, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCreateFailed, err)
		}
		defer f.Close()

		info := lockInfo{PID: os.Getpid(), AcquiredAt: time.Now()}
		if err := json.NewEncoder(f).Encode(&info); err != nil {
			// An empty lock file still excludes others; keep it.
			m.logger.Warn("failed to write lock info",
				slog.String("path", m.path),
				slog.Any("error", err),
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug("lock acquired",
		slog.String("path", m.path),
		slog.Int("pid", os.Getpid()),
	)

	return &Handle{path: m.path, logger: m.logger}, nil
}

// ReadInfo reads the owning process identity from an existing lock file.
func (m *Manager) ReadInfo() (pid int, acquiredAt time.Time, err error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return 0, time.Time{}, err
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return 0, time.Time{}, fmt.Errorf("malformed lock file %s: %w", m.path, err)
	}
	return info.PID, info.AcquiredAt, nil
}

// Handle represents exclusive ownership of the mutation critical section.
type Handle struct {
	path   string
	logger *slog.Logger
	once   sync.Once
}

// Release removes the lock file. It is idempotent so it can be registered on
// both the normal and the signal-triggered exit path.
func (h *Handle) Release() {
	h.once.Do(func() {
		if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.Warn("failed to remove lock file",
				slog.String("path", h.path),
				slog.Any("error", err),
			)
			return
		}
		h.logger.Debug("lock released", slog.String("path", h.path))
	})
}
