package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/svcgate/svcgate/internal/config"
	"github.com/svcgate/svcgate/internal/engine"
	"github.com/svcgate/svcgate/internal/firewall"
	"github.com/svcgate/svcgate/internal/lockfile"
	"github.com/svcgate/svcgate/internal/logging"
	"github.com/svcgate/svcgate/internal/rulestate"
)

var (
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "svcgate",
	Short: "Control a single service's firewall reachability",
	Long: `svcgate manages the host firewall rules for one network service,
transitioning it between allowed and denied idempotently. Concurrent
invocations are serialized through a per-user lock file.`,
	Args: cobra.NoArgs,
	// Running without a verb is a usage error (non-zero exit), unlike the
	// explicit help command.
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = cmd.Help()
		return errors.New("a command is required: allow, deny, state or status")
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
}

// setup loads configuration and builds the transition engine.
func setup() (*config.Config, *slog.Logger, *engine.Engine, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.InitLogger(cfg.Logging.Level, cfg.Logging.Format)

	backend, err := firewall.New(&firewall.Config{
		Backend: cfg.Firewall.Backend,
		Table:   cfg.Firewall.Table,
		Chain:   cfg.Firewall.Chain,
	}, firewall.NewExecRunner(), logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create firewall backend: %w", err)
	}

	target := rulestate.Target{
		Profile: cfg.Service.Profile,
		Port:    cfg.Service.Port,
		Proto:   cfg.Service.Protocol,
	}

	return cfg, logger, engine.New(backend, target, logger), nil
}

// runMutation acquires the lock, runs op, and releases on every exit path.
// wantState names the target state for the idempotent no-op message.
func runMutation(wantState rulestate.RuleState, op func(context.Context, *engine.Engine) (engine.Outcome, error)) error {
	cfg, logger, eng, err := setup()
	if err != nil {
		return err
	}

	ctx := context.Background()

	locker := lockfile.New(cfg.LockPath(), logger).WithConfig(cfg.Lock.Budgets)
	handle, err := locker.Acquire(ctx)
	if err != nil {
		if errors.Is(err, lockfile.ErrBusyTimeout) || errors.Is(err, lockfile.ErrCreateFailed) {
			return fmt.Errorf("%w (is another svcgate running? check %s)", err, locker.Path())
		}
		return err
	}
	defer handle.Release()

	stop := releaseOnSignal(handle, logger)
	defer stop()

	out, err := op(ctx, eng)
	if err != nil {
		return err
	}

	if !out.Changed {
		fmt.Printf("INFO: Already %s\n", wantState)
		return nil
	}
	fmt.Println(out.State)
	return nil
}

// runQuery waits for any in-flight mutation to finish and then runs a
// read-only query. Read-only commands never take the lock themselves; when
// the wait budget runs out they read anyway rather than failing.
func runQuery(op func(context.Context, *engine.Engine) (string, error)) error {
	cfg, logger, eng, err := setup()
	if err != nil {
		return err
	}

	ctx := context.Background()

	locker := lockfile.New(cfg.LockPath(), logger).WithConfig(cfg.Lock.Budgets)
	if err := locker.WaitFree(ctx); err != nil {
		if !errors.Is(err, lockfile.ErrBusyTimeout) {
			return err
		}
		logger.Warn("lock still held after wait budget, reading anyway",
			slog.String("path", locker.Path()),
		)
	}

	line, err := op(ctx, eng)
	if err != nil {
		return err
	}
	fmt.Println(line)
	return nil
}

// releaseOnSignal releases the lock when a terminating signal arrives, so an
// interrupted mutation cannot leave the lock behind. SIGKILL cannot be
// handled; only a fresh invocation removing the stale file recovers from it.
func releaseOnSignal(handle *lockfile.Handle, logger *slog.Logger) (stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigChan:
			logger.Warn("received terminating signal, releasing lock",
				slog.String("signal", sig.String()),
			)
			handle.Release()
			fmt.Fprintln(os.Stderr, "ERROR: interrupted")
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}
