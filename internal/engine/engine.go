// Package engine drives idempotent transitions between rule states. Given the
// classified state and a requested target state it decides which backend
// operations to perform, in what order, and how to recover from partial
// completion. Callers hold the mutation lock around Allow and Deny; the
// engine itself performs no locking.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/svcgate/svcgate/internal/firewall"
	"github.com/svcgate/svcgate/internal/rulestate"
)

// ErrPartialRemoval means one or more rule deletions failed mid-remediation.
// The firewall may be left PARTIAL; that state is recoverable by a subsequent
// allow or deny.
var ErrPartialRemoval = errors.New("one or more rule removals failed")

// Engine reconciles the target service's rule state against the firewall.
type Engine struct {
	backend firewall.Backend
	target  rulestate.Target
	logger  *slog.Logger
}

// New creates a transition engine for one target service.
func New(backend firewall.Backend, target rulestate.Target, logger *slog.Logger) *Engine {
	return &Engine{
		backend: backend,
		target:  target,
		logger:  logger,
	}
}

// Outcome reports the resulting rule state and whether any backend mutation
// was performed. A request against an already-satisfied state is a successful
// no-op with Changed == false.
type Outcome struct {
	State   rulestate.RuleState
	Changed bool
}

// FirewallState queries whether the firewall engine itself is running.
func (e *Engine) FirewallState(ctx context.Context) (rulestate.FirewallState, error) {
	listing, err := e.backend.QueryStatus(ctx)
	if err != nil {
		return rulestate.FirewallInactive, err
	}
	return rulestate.ParseFirewallState(listing), nil
}

// RuleState queries and classifies the target's current rule state.
func (e *Engine) RuleState(ctx context.Context) (rulestate.RuleState, error) {
	listing, err := e.backend.QueryStatus(ctx)
	if err != nil {
		return rulestate.Unknown, err
	}
	return rulestate.Classify(listing, e.target), nil
}

// Allow transitions the service to ALLOW. The firewall is enabled first if
// needed; a PARTIAL state is fully denied before allowing cleanly so Allow
// never leaves a mixed rule set behind.
func (e *Engine) Allow(ctx context.Context) (Outcome, error) {
	listing, err := e.ensureActive(ctx)
	if err != nil {
		return Outcome{State: rulestate.Unknown}, err
	}

	state := rulestate.Classify(listing, e.target)
	e.logger.Debug("classified rule state",
		slog.String("state", state.String()),
		slog.String("profile", e.target.Profile),
		slog.Int("port", e.target.Port),
	)

	switch state {
	case rulestate.Allow:
		return Outcome{State: rulestate.Allow}, nil

	case rulestate.Deny:
		if err := e.addRule(ctx); err != nil {
			return Outcome{State: state}, err
		}

	case rulestate.Partial:
		// Resolve the mixed rule set by denying fully first, then allowing
		// cleanly.
		e.logger.Info("resolving partial rule state before allowing")
		if err := e.remediate(ctx); err != nil {
			return Outcome{State: rulestate.Partial}, err
		}
		if err := e.addRule(ctx); err != nil {
			return Outcome{State: rulestate.Partial}, err
		}

	default:
		return Outcome{State: state}, fmt.Errorf("cannot allow from state %s", state)
	}

	e.reloadBestEffort(ctx)
	return Outcome{State: rulestate.Allow, Changed: true}, nil
}

// Deny transitions the service to DENY. An inactive firewall already denies
// everything, so there is nothing to remove.
func (e *Engine) Deny(ctx context.Context) (Outcome, error) {
	listing, err := e.backend.QueryStatus(ctx)
	if err != nil {
		return Outcome{State: rulestate.Unknown}, err
	}

	if rulestate.ParseFirewallState(listing) != rulestate.FirewallActive {
		return Outcome{State: rulestate.Inactive}, nil
	}

	state := rulestate.Classify(listing, e.target)
	e.logger.Debug("classified rule state",
		slog.String("state", state.String()),
		slog.String("profile", e.target.Profile),
		slog.Int("port", e.target.Port),
	)

	switch state {
	case rulestate.Deny:
		return Outcome{State: rulestate.Deny}, nil

	case rulestate.Allow:
		if err := e.removeAllowed(ctx, listing); err != nil {
			return Outcome{State: rulestate.Partial}, fmt.Errorf("%w: %v", ErrPartialRemoval, err)
		}
		e.reloadBestEffort(ctx)

	case rulestate.Partial:
		// remediate reloads on its own when at least one removal succeeded.
		if err := e.remediate(ctx); err != nil {
			return Outcome{State: rulestate.Partial}, err
		}

	default:
		return Outcome{State: state}, fmt.Errorf("cannot deny from state %s", state)
	}

	return Outcome{State: rulestate.Deny, Changed: true}, nil
}

// ensureActive brings the firewall engine up if needed and returns a fresh
// listing taken while active.
func (e *Engine) ensureActive(ctx context.Context) (string, error) {
	listing, err := e.backend.QueryStatus(ctx)
	if err != nil {
		return "", err
	}
	if rulestate.ParseFirewallState(listing) == rulestate.FirewallActive {
		return listing, nil
	}

	e.logger.Info("firewall inactive, enabling")
	if err := e.backend.SetEnabled(ctx, true); err != nil {
		return "", fmt.Errorf("failed to enable firewall: %w", err)
	}

	listing, err = e.backend.QueryStatus(ctx)
	if err != nil {
		return "", err
	}
	if rulestate.ParseFirewallState(listing) != rulestate.FirewallActive {
		return "", errors.New("firewall could not be brought active")
	}
	return listing, nil
}

// addRule adds the allow rule, preferring the application profile when the
// backend recognizes it and falling back to an explicit port rule.
func (e *Engine) addRule(ctx context.Context) error {
	if e.backend.SupportsProfile(ctx, e.target.Profile) {
		e.logger.Info("allowing service by application profile",
			slog.String("profile", e.target.Profile),
		)
		if err := e.backend.AllowProfile(ctx, e.target.Profile); err != nil {
			return fmt.Errorf("failed to allow profile %s: %w", e.target.Profile, err)
		}
		return nil
	}

	e.logger.Info("allowing service by port",
		slog.Int("port", e.target.Port),
		slog.String("proto", e.target.Proto),
	)
	if err := e.backend.AllowPort(ctx, e.target.Port, e.target.Proto); err != nil {
		return fmt.Errorf("failed to allow port %d/%s: %w", e.target.Port, e.target.Proto, err)
	}
	return nil
}

// removeAllowed removes whichever complete rule class the listing shows.
func (e *Engine) removeAllowed(ctx context.Context, listing string) error {
	// The state is ALLOW, so exactly one class is fully present.
	profileCount, _ := rulestate.Counts(listing, e.target)
	if profileCount == 2 {
		e.logger.Info("removing profile rules", slog.String("profile", e.target.Profile))
		return e.backend.DeleteProfile(ctx, e.target.Profile)
	}

	e.logger.Info("removing port rules",
		slog.Int("port", e.target.Port),
		slog.String("proto", e.target.Proto),
	)
	return e.backend.DeletePort(ctx, e.target.Port, e.target.Proto)
}

// remediate deletes every rule line matching the target, by index, highest
// first. Descending order is required because deleting by index renumbers the
// rules that follow; working from the back avoids index drift.
//
// A reload is issued when at least one removal succeeded, even if others
// failed: the successful removals are durable and should be activated.
func (e *Engine) remediate(ctx context.Context) error {
	numbered, err := e.backend.QueryNumbered(ctx)
	if err != nil {
		return err
	}

	indexes := rulestate.MatchingIndexes(numbered, e.target)
	sort.Sort(sort.Reverse(sort.IntSlice(indexes)))

	var failed []int
	succeeded := 0
	for _, idx := range indexes {
		e.logger.Info("deleting rule", slog.Int("index", idx))
		if err := e.backend.DeleteByIndex(ctx, idx); err != nil {
			e.logger.Error("failed to delete rule",
				slog.Int("index", idx),
				slog.Any("error", err),
			)
			failed = append(failed, idx)
			continue
		}
		succeeded++
	}

	if succeeded > 0 {
		e.reloadBestEffort(ctx)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: indexes %v", ErrPartialRemoval, failed)
	}
	return nil
}

// reloadBestEffort reloads the backend's rule set. The rule change is the
// durable effect; reload is only an activation step, so its failure is
// logged, not raised.
func (e *Engine) reloadBestEffort(ctx context.Context) {
	if err := e.backend.Reload(ctx); err != nil {
		e.logger.Warn("firewall reload failed after rule change", slog.Any("error", err))
	}
}
