package firewall

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coreos/go-iptables/iptables"
)

// IPTables drives iptables/ip6tables through a dedicated allow chain. The
// engine has no application-profile concept, so only port rules are
// supported; "enabled" means the chain exists and is linked from INPUT.
//
// Rule listings are rendered into the same textual shape ufw produces, so
// classification stays engine-agnostic.
type IPTables struct {
	ipt4   *iptables.IPTables
	ipt6   *iptables.IPTables
	chain  string
	logger *slog.Logger
}

// NewIPTables creates an iptables backend.
func NewIPTables(cfg *Config, logger *slog.Logger) (*IPTables, error) {
	ipt4, err := iptables.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create iptables handler (IPv4): %w", err)
	}

	ipt6, err := iptables.NewWithProtocol(iptables.ProtocolIPv6)
	if err != nil {
		return nil, fmt.Errorf("failed to create iptables handler (IPv6): %w", err)
	}

	chain := cfg.Chain
	if chain == "" {
		chain = "svcgate-allow"
	}

	return &IPTables{
		ipt4:   ipt4,
		ipt6:   ipt6,
		chain:  chain,
		logger: logger,
	}, nil
}

// iptRule is one concrete rule in the allow chain.
type iptRule struct {
	ipt  *iptables.IPTables
	spec []string
	port string
	v6   bool
}

func (b *IPTables) enabled() (bool, error) {
	ok, err := b.ipt4.ChainExists("filter", b.chain)
	if err != nil {
		if pe := classifyPermission(nil, err); pe != nil {
			return false, pe
		}
		return false, fmt.Errorf("failed to check chain %s: %w", b.chain, err)
	}
	return ok, nil
}

// listRules returns the chain's rules, IPv4 first then IPv6, in chain order.
// The index of an entry in the returned slice (1-based) is its listing index.
func (b *IPTables) listRules() ([]iptRule, error) {
	var rules []iptRule

	for _, ipt := range []*iptables.IPTables{b.ipt4, b.ipt6} {
		exists, err := ipt.ChainExists("filter", b.chain)
		if err != nil {
			return nil, fmt.Errorf("failed to check chain %s: %w", b.chain, err)
		}
		if !exists {
			continue
		}

		specs, err := ipt.List("filter", b.chain)
		if err != nil {
			return nil, fmt.Errorf("failed to list chain %s: %w", b.chain, err)
		}

		for _, line := range specs {
			fields := strings.Fields(line)
			// Skip the "-N chain" header line.
			if len(fields) < 2 || fields[0] != "-A" {
				continue
			}
			port := dportOf(fields)
			if port == "" {
				continue
			}
			rules = append(rules, iptRule{
				ipt: ipt,
				// Drop "-A <chain>"; Delete takes the bare rulespec.
				spec: fields[2:],
				port: port,
				v6:   ipt == b.ipt6,
			})
		}
	}

	return rules, nil
}

// dportOf extracts the --dport value from a listed rulespec.
func dportOf(fields []string) string {
	for i, f := range fields {
		if f == "--dport" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

func (b *IPTables) QueryStatus(ctx context.Context) (string, error) {
	enabled, err := b.enabled()
	if err != nil {
		return "", err
	}
	if !enabled {
		return "Status: inactive\n", nil
	}

	rules, err := b.listRules()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var sb strings.Builder
	sb.WriteString("Status: active\n\n")
	for _, r := range rules {
		sb.WriteString(renderRuleLine(r.port, r.v6))
	}
	return sb.String(), nil
}

func (b *IPTables) QueryNumbered(ctx context.Context) (string, error) {
	enabled, err := b.enabled()
	if err != nil {
		return "", err
	}
	if !enabled {
		return "Status: inactive\n", nil
	}

	rules, err := b.listRules()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var sb strings.Builder
	sb.WriteString("Status: active\n\n")
	for i, r := range rules {
		sb.WriteString(fmt.Sprintf("[%2d] ", i+1))
		sb.WriteString(renderRuleLine(r.port, r.v6))
	}
	return sb.String(), nil
}

// renderRuleLine renders one rule in the canonical listing shape.
func renderRuleLine(port string, v6 bool) string {
	if v6 {
		return fmt.Sprintf("%-26s ALLOW IN    Anywhere (v6)\n", port+" (v6)")
	}
	return fmt.Sprintf("%-26s ALLOW IN    Anywhere\n", port)
}

// SetEnabled creates or tears down the allow chain and its INPUT link.
func (b *IPTables) SetEnabled(ctx context.Context, enabled bool) error {
	if enabled {
		for _, ipt := range []*iptables.IPTables{b.ipt4, b.ipt6} {
			if err := ipt.NewChain("filter", b.chain); err != nil {
				// Chain might already exist, that's ok
				if !strings.Contains(err.Error(), "File exists") {
					if pe := classifyPermission(nil, err); pe != nil {
						return pe
					}
					return fmt.Errorf("failed to create chain: %w", err)
				}
			}
			if err := ipt.AppendUnique("filter", "INPUT", "-j", b.chain); err != nil {
				return fmt.Errorf("failed to add jump rule: %w", err)
			}
		}
		return nil
	}

	var errs []string
	for _, ipt := range []*iptables.IPTables{b.ipt4, b.ipt6} {
		if err := ipt.ClearChain("filter", b.chain); err != nil {
			if !strings.Contains(err.Error(), "No such file") {
				errs = append(errs, fmt.Sprintf("failed to clear chain: %v", err))
			}
		}
		_ = ipt.DeleteIfExists("filter", "INPUT", "-j", b.chain)
		if err := ipt.DeleteChain("filter", b.chain); err != nil {
			if !strings.Contains(err.Error(), "No such file") {
				errs = append(errs, fmt.Sprintf("failed to delete chain: %v", err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("teardown errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (b *IPTables) SupportsProfile(ctx context.Context, profile string) bool {
	return false
}

func (b *IPTables) AllowProfile(ctx context.Context, profile string) error {
	return ErrProfilesUnsupported
}

func (b *IPTables) AllowPort(ctx context.Context, port int, proto string) error {
	spec := []string{"-p", proto, "--dport", fmt.Sprintf("%d", port), "-j", "ACCEPT"}
	for _, ipt := range []*iptables.IPTables{b.ipt4, b.ipt6} {
		if err := ipt.AppendUnique("filter", b.chain, spec...); err != nil {
			if pe := classifyPermission(nil, err); pe != nil {
				return pe
			}
			return fmt.Errorf("failed to add iptables rule: %w", err)
		}
	}
	return nil
}

func (b *IPTables) DeleteProfile(ctx context.Context, profile string) error {
	return ErrProfilesUnsupported
}

func (b *IPTables) DeletePort(ctx context.Context, port int, proto string) error {
	want := fmt.Sprintf("%d", port)
	rules, err := b.listRules()
	if err != nil {
		return err
	}

	var errs []string
	for _, r := range rules {
		if r.port != want {
			continue
		}
		if err := r.ipt.Delete("filter", b.chain, r.spec...); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to delete port rules: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DeleteByIndex deletes the rule at the given position in the numbered
// listing. The chain is re-listed on each call, so callers deleting several
// rules must work from the highest index down.
func (b *IPTables) DeleteByIndex(ctx context.Context, index int) error {
	rules, err := b.listRules()
	if err != nil {
		return err
	}
	if index < 1 || index > len(rules) {
		return fmt.Errorf("rule index %d out of range (1-%d)", index, len(rules))
	}

	r := rules[index-1]
	if err := r.ipt.Delete("filter", b.chain, r.spec...); err != nil {
		if pe := classifyPermission(nil, err); pe != nil {
			return pe
		}
		return fmt.Errorf("failed to delete rule %d: %w", index, err)
	}
	return nil
}

// Reload is a no-op: iptables rules take effect as soon as they are applied.
func (b *IPTables) Reload(ctx context.Context) error {
	return nil
}
