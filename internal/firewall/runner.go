package firewall

import (
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner abstracts command execution so backends can be tested without
// a real firewall engine.
type CommandRunner interface {
	// Run executes a command, discarding output on success.
	Run(name string, args ...string) error

	// Output executes a command and returns its combined output. The output
	// is returned even when the command fails, since engines report failure
	// detail on stderr.
	Output(name string, args ...string) ([]byte, error)
}

// ExecRunner executes commands on the host. All firewall engines are invoked
// with the privileges of the current process; elevation is assumed to have
// happened before svcgate started.
type ExecRunner struct{}

// NewExecRunner creates the real command runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("command %s failed: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (r *ExecRunner) Output(name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("command %s failed: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return out, nil
}
