package run

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/smol-labs/homelab-bootstrap/internal/errors"
	"github.com/smol-labs/homelab-bootstrap/internal/logging"
)

//go:generate mockgen -source=run.go -destination=../../test/mocks/mock_runner.go -package=mocks

// Runner executes an external command and returns its trimmed stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
	// RunInput is Run with data piped to the command's stdin. Used for
	// anything that must never appear in an argv (vault master passwords).
	RunInput(ctx context.Context, input string, name string, args ...string) (string, error)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

var _ Runner = (*ExecRunner)(nil)

// Run executes the command and returns stdout with surrounding whitespace removed.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	return r.RunInput(ctx, "", name, args...)
}

// RunInput executes the command with the given stdin.
func (r *ExecRunner) RunInput(ctx context.Context, input string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var outb, errb bytes.Buffer
	cmd.Stdout = &outb
	cmd.Stderr = &errb
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}

	logging.WithField("command", name).Debug("Executing external command")

	if err := cmd.Run(); err != nil {
		return strings.TrimSpace(outb.String()), errors.NewCLIError("command failed", err, map[string]interface{}{
			"command": name,
			"stderr":  strings.TrimSpace(errb.String()),
		})
	}

	return strings.TrimSpace(outb.String()), nil
}
