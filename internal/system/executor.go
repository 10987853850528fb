package system

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Executor abstracts command execution to ease testing.
type Executor interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	LookPath(name string) (string, error)
}

// LocalExecutor executes commands using the local OS. Standard error is folded into
// the returned error so failures explain themselves.
type LocalExecutor struct{}

func (LocalExecutor) Run(ctx context.Context, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return commandError(err, name, stderr.String())
	}
	return nil
}

func (LocalExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, commandError(err, name, stderr.String())
	}
	return out, nil
}

func (LocalExecutor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func commandError(err error, name, stderr string) error {
	if msg := strings.TrimSpace(stderr); msg != "" {
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return errors.Wrapf(err, "%s failed: %s", name, msg)
	}
	return errors.Wrapf(err, "%s failed", name)
}
