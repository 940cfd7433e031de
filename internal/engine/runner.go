package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

type Command struct {
	Name string
	Args []string
}

// String renders the command for logs with password flags masked.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		parts = append(parts, maskSecret(a))
	}
	return strings.Join(parts, " ")
}

func maskSecret(arg string) string {
	if strings.HasPrefix(arg, "--password=") {
		return "--password=***"
	}
	if strings.HasPrefix(arg, "postgres://") {
		if i := strings.Index(arg, "@"); i > 0 {
			if j := strings.Index(arg[len("postgres://"):i], ":"); j >= 0 {
				return arg[:len("postgres://")+j+1] + "***" + arg[i:]
			}
		}
	}
	return arg
}

// ExitError reports a dump or restore tool that ran but did not succeed.
type ExitError struct {
	Command  Command
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command.Name, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Runner executes one external command to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands as child processes. Stderr is mirrored to Stderr
// (os.Stderr when nil) and kept for ExitError diagnostics.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (r ExecRunner) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)

	stdout := r.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := r.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	var captured bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = io.MultiWriter(stderr, &captured)

	slog.Debug("Running command", "command", c.String())

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{
				Command:  c,
				ExitCode: exitErr.ExitCode(),
				Stderr:   captured.String(),
				Err:      err,
			}
		}
		return fmt.Errorf("failed to run %s: %w", c.Name, err)
	}

	return nil
}
