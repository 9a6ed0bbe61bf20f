// Package firewall adapts external firewall engines behind a narrow
// interface. Engines are treated as unreliable collaborators: listing queries
// are retried, and all text parsing of engine output lives inside this
// package.
package firewall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrBackendUnavailable means the engine's status listing could not be
	// obtained after exhausting retries.
	ErrBackendUnavailable = errors.New("firewall backend unavailable")

	// ErrPermissionDenied means a privileged engine call was rejected. It is
	// never retried.
	ErrPermissionDenied = errors.New("permission denied by firewall backend")

	// ErrProfilesUnsupported means the engine has no notion of application
	// profiles; callers fall back to explicit port rules.
	ErrProfilesUnsupported = errors.New("application profiles not supported by this backend")
)

// Backend is the adapter contract for one firewall engine.
//
// QueryStatus returns a textual rule listing containing a status line
// ("Status: active|inactive") and zero or more rule lines, each beginning
// with either the target port number or the application profile name,
// followed by an action and scope, optionally suffixed "(v6)". QueryNumbered
// returns the same rules with a "[ N]" index prefix, one line per deletable
// rule; DeleteByIndex takes those indexes.
type Backend interface {
	QueryStatus(ctx context.Context) (string, error)
	QueryNumbered(ctx context.Context) (string, error)

	SetEnabled(ctx context.Context, enabled bool) error

	// SupportsProfile reports whether the engine recognizes the named
	// application profile.
	SupportsProfile(ctx context.Context, profile string) bool

	AllowProfile(ctx context.Context, profile string) error
	AllowPort(ctx context.Context, port int, proto string) error

	DeleteProfile(ctx context.Context, profile string) error
	DeletePort(ctx context.Context, port int, proto string) error
	DeleteByIndex(ctx context.Context, index int) error

	// Reload re-activates the engine's rule set. Failure is non-fatal to
	// callers: a rule mutation may already have taken effect, so callers log
	// and continue.
	Reload(ctx context.Context) error
}

// Config contains firewall backend configuration.
type Config struct {
	// Backend is the firewall engine to drive ("ufw", "iptables" or "nft").
	Backend string

	// Table is the nftables table name (nft backend only).
	Table string

	// Chain is the chain name (iptables and nft backends).
	Chain string
}

// New creates a firewall backend based on the configured engine.
func New(cfg *Config, runner CommandRunner, logger *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case "ufw":
		return NewUFW(runner, logger), nil
	case "iptables":
		return NewIPTables(cfg, logger)
	case "nft":
		return NewNFT(cfg, runner, logger), nil
	default:
		return nil, fmt.Errorf("unknown firewall backend: %s", cfg.Backend)
	}
}

// classifyPermission inspects an engine failure for an authorization
// rejection, which must abort immediately instead of being retried.
func classifyPermission(out []byte, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(string(out) + " " + err.Error())
	for _, marker := range []string{
		"permission denied",
		"operation not permitted",
		"you need to be root",
		"must be run as root",
	} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}
	return nil
}
