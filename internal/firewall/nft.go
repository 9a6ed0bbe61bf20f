package firewall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/svcgate/svcgate/internal/retry"
)

// NFT drives nftables through the nft CLI with a dedicated inet table, so one
// rule covers both IP families. "Enabled" means the table and chain exist.
// Listings are rendered into the canonical ufw shape; the numbered listing
// uses nft rule handles as indexes, which stay stable across deletions.
type NFT struct {
	runner       CommandRunner
	logger       *slog.Logger
	table        string
	chain        string
	statusPolicy retry.Policy
}

// NewNFT creates an nftables backend.
func NewNFT(cfg *Config, runner CommandRunner, logger *slog.Logger) *NFT {
	table := cfg.Table
	if table == "" {
		table = "svcgate"
	}
	chain := cfg.Chain
	if chain == "" {
		chain = "input"
	}

	return &NFT{
		runner:       runner,
		logger:       logger,
		table:        table,
		chain:        chain,
		statusPolicy: retry.Policy{Attempts: 5, Interval: 1 * time.Second},
	}
}

// nftRuleLine matches an accept rule in "nft -a list chain" output:
// "tcp dport 51413 accept # handle 7".
var nftRuleLine = regexp.MustCompile(`^(tcp|udp) dport (\d+) accept(?:.*# handle (\d+))?$`)

func (b *NFT) listChain(ctx context.Context, withHandles bool) (string, bool, error) {
	args := []string{"list", "chain", "inet", b.table, b.chain}
	if withHandles {
		args = append([]string{"-a"}, args...)
	}

	out, err := retry.DoWithResult(ctx, b.statusPolicy, func() ([]byte, error) {
		out, err := b.runner.Output("nft", args...)
		if pe := classifyPermission(out, err); pe != nil {
			return nil, retry.Permanent(pe)
		}
		if err != nil {
			// A missing table or chain means the firewall is simply not set
			// up, not that the engine is unreachable.
			if strings.Contains(strings.ToLower(string(out)+err.Error()), "no such file or directory") {
				return nil, retry.Permanent(errNFTNotSetUp)
			}
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		if errors.Is(err, errNFTNotSetUp) {
			return "", false, nil
		}
		if retry.IsPermanent(err) {
			return "", false, err
		}
		return "", false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return string(out), true, nil
}

var errNFTNotSetUp = errors.New("nftables table not set up")

func (b *NFT) QueryStatus(ctx context.Context) (string, error) {
	listing, active, err := b.listChain(ctx, false)
	if err != nil {
		return "", err
	}
	if !active {
		return "Status: inactive\n", nil
	}

	var sb strings.Builder
	sb.WriteString("Status: active\n\n")
	for _, line := range strings.Split(listing, "\n") {
		m := nftRuleLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		// One inet rule covers both families; render the pair the canonical
		// listing shape expects.
		sb.WriteString(renderRuleLine(m[2], false))
		sb.WriteString(renderRuleLine(m[2], true))
	}
	return sb.String(), nil
}

func (b *NFT) QueryNumbered(ctx context.Context) (string, error) {
	listing, active, err := b.listChain(ctx, true)
	if err != nil {
		return "", err
	}
	if !active {
		return "Status: inactive\n", nil
	}

	var sb strings.Builder
	sb.WriteString("Status: active\n\n")
	for _, line := range strings.Split(listing, "\n") {
		m := nftRuleLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil || m[3] == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("[%2s] ", m[3]))
		sb.WriteString(renderRuleLine(m[2], false))
	}
	return sb.String(), nil
}

func (b *NFT) SetEnabled(ctx context.Context, enabled bool) error {
	if !enabled {
		if err := b.run("delete", "table", "inet", b.table); err != nil {
			if strings.Contains(err.Error(), "No such file") {
				return nil
			}
			return err
		}
		return nil
	}

	if err := b.run("add", "table", "inet", b.table); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	chainDef := "{ type filter hook input priority 0 ; policy accept ; }"
	if err := b.run("add", "chain", "inet", b.table, b.chain, chainDef); err != nil {
		return fmt.Errorf("failed to create chain: %w", err)
	}
	return nil
}

func (b *NFT) SupportsProfile(ctx context.Context, profile string) bool {
	return false
}

func (b *NFT) AllowProfile(ctx context.Context, profile string) error {
	return ErrProfilesUnsupported
}

func (b *NFT) AllowPort(ctx context.Context, port int, proto string) error {
	return b.run("add", "rule", "inet", b.table, b.chain,
		proto, "dport", strconv.Itoa(port), "accept")
}

func (b *NFT) DeleteProfile(ctx context.Context, profile string) error {
	return ErrProfilesUnsupported
}

func (b *NFT) DeletePort(ctx context.Context, port int, proto string) error {
	listing, active, err := b.listChain(ctx, true)
	if err != nil {
		return err
	}
	if !active {
		return nil
	}

	want := strconv.Itoa(port)
	var errs []string
	for _, line := range strings.Split(listing, "\n") {
		m := nftRuleLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil || m[2] != want || m[3] == "" {
			continue
		}
		if err := b.DeleteByIndex(ctx, mustAtoi(m[3])); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to delete port rules: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DeleteByIndex deletes one rule by its nft handle.
func (b *NFT) DeleteByIndex(ctx context.Context, index int) error {
	return b.run("delete", "rule", "inet", b.table, b.chain, "handle", strconv.Itoa(index))
}

// Reload is a no-op: nftables rules take effect as soon as they are applied.
func (b *NFT) Reload(ctx context.Context) error {
	return nil
}

func (b *NFT) run(args ...string) error {
	out, err := b.runner.Output("nft", args...)
	if pe := classifyPermission(out, err); pe != nil {
		return pe
	}
	if err != nil {
		return fmt.Errorf("nft %s failed: %w", strings.Join(args, " "), err)
	}
	b.logger.Debug("nft command completed", slog.String("args", strings.Join(args, " ")))
	return nil
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
