package firewall

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/svcgate/svcgate/internal/retry"
)

// UFW drives the ufw engine through its command-line interface. ufw is the
// default backend; its listing format is the canonical one the classifier
// parses.
type UFW struct {
	runner       CommandRunner
	logger       *slog.Logger
	statusPolicy retry.Policy
	reloadPolicy retry.Policy
}

// NewUFW creates a ufw backend.
func NewUFW(runner CommandRunner, logger *slog.Logger) *UFW {
	return &UFW{
		runner:       runner,
		logger:       logger,
		statusPolicy: retry.Policy{Attempts: 5, Interval: 1 * time.Second},
		reloadPolicy: retry.Policy{Attempts: 3, Interval: 1 * time.Second},
	}
}

// QueryStatus returns the rule listing, retrying while the engine reports no
// usable status line.
func (u *UFW) QueryStatus(ctx context.Context) (string, error) {
	return u.queryListing(ctx, "status")
}

// QueryNumbered returns the indexed rule listing used for rule deletion.
func (u *UFW) QueryNumbered(ctx context.Context) (string, error) {
	return u.queryListing(ctx, "status", "numbered")
}

func (u *UFW) queryListing(ctx context.Context, args ...string) (string, error) {
	listing, err := retry.DoWithResult(ctx, u.statusPolicy, func() (string, error) {
		out, err := u.runner.Output("ufw", args...)
		if pe := classifyPermission(out, err); pe != nil {
			return "", retry.Permanent(pe)
		}
		if err != nil {
			return "", err
		}
		if !strings.Contains(string(out), "Status:") {
			return "", fmt.Errorf("status line missing from ufw listing")
		}
		return string(out), nil
	})
	if err != nil {
		if retry.IsPermanent(err) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return listing, nil
}

// SetEnabled starts or stops the engine. Enable is forced so ufw does not
// prompt on a tty.
func (u *UFW) SetEnabled(ctx context.Context, enabled bool) error {
	if enabled {
		return u.run("--force", "enable")
	}
	return u.run("disable")
}

// SupportsProfile reports whether ufw knows the named application profile.
func (u *UFW) SupportsProfile(ctx context.Context, profile string) bool {
	out, err := u.runner.Output("ufw", "app", "list")
	if err != nil {
		u.logger.Warn("ufw app list failed", slog.Any("error", err))
		return false
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == profile {
			return true
		}
	}
	return false
}

func (u *UFW) AllowProfile(ctx context.Context, profile string) error {
	return u.run("allow", profile)
}

// AllowPort adds the rule in the bare-port form. ufw lists a proto-qualified
// rule with "51413/tcp" as its first token, which the state classifier does
// not count as a port rule; the bare form lists as the port number alone, one
// line per IP family.
func (u *UFW) AllowPort(ctx context.Context, port int, proto string) error {
	return u.run("allow", strconv.Itoa(port))
}

func (u *UFW) DeleteProfile(ctx context.Context, profile string) error {
	return u.run("delete", "allow", profile)
}

// DeletePort removes the bare-port rule pair added by AllowPort.
func (u *UFW) DeletePort(ctx context.Context, port int, proto string) error {
	return u.run("delete", "allow", strconv.Itoa(port))
}

// DeleteByIndex deletes one rule from the numbered listing. Deletion
// renumbers subsequent rules, so callers delete in descending index order.
func (u *UFW) DeleteByIndex(ctx context.Context, index int) error {
	return u.run("--force", "delete", strconv.Itoa(index))
}

// Reload re-activates the rule set, retrying transient failures. Callers
// treat a reload failure as non-fatal since the rule mutation itself may
// already have succeeded.
func (u *UFW) Reload(ctx context.Context) error {
	return u.reloadPolicy.Do(ctx, func() error {
		return u.run("reload")
	})
}

func (u *UFW) run(args ...string) error {
	out, err := u.runner.Output("ufw", args...)
	if pe := classifyPermission(out, err); pe != nil {
		return pe
	}
	if err != nil {
		return fmt.Errorf("ufw %s failed: %w", strings.Join(args, " "), err)
	}
	u.logger.Debug("ufw command completed",
		slog.String("args", strings.Join(args, " ")),
	)
	return nil
}
