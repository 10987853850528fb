// Package decrypt supervises the external decryption program.
package decrypt

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	apperrors "PS3DL/internal/errors"
	"PS3DL/internal/logger"
	"PS3DL/internal/model"
	"PS3DL/internal/progress"
)

const (
	stderrTailBytes = 4096
	// minWaitDelay bounds how long Wait may block on pipes held open by
	// descendants after the child itself has exited.
	minWaitDelay = time.Second
)

// Config describes the external decryption program.
type Config struct {
	BinaryPath   string
	Mode         string
	KeyType      string
	BuildCommand string
}

// Result describes a finished decryption run.
type Result struct {
	OutputPath  string
	InputBytes  int64
	OutputBytes int64
	Elapsed     time.Duration
	Polls       int
	// Stalled is set when the output stopped growing for the stall threshold at least once.
	Stalled bool
	// Suspicious is set when the output is smaller than half the input.
	Suspicious bool
}

// Supervisor runs the decryption program and infers progress from output growth.
type Supervisor struct {
	cfg      Config
	logger   logger.Logger
	reporter progress.Reporter
}

// Option customises Supervisor construction.
type Option func(*Supervisor)

// WithProgressReporter overrides the progress reporter implementation.
func WithProgressReporter(reporter progress.Reporter) Option {
	return func(s *Supervisor) {
		s.reporter = reporter
	}
}

// NewSupervisor constructs a Supervisor.
func NewSupervisor(cfg Config, log logger.Logger, opts ...Option) (*Supervisor, error) {
	if log == nil {
		return nil, apperrors.SystemError(apperrors.CodeSystemGeneric, "logger must not be nil", nil).
			WithModule("decrypt").
			WithOperation("NewSupervisor")
	}
	if cfg.Mode == "" {
		cfg.Mode = "d"
	}
	if cfg.KeyType == "" {
		cfg.KeyType = "key"
	}
	cfg.BinaryPath = resolveBinary(cfg.BinaryPath)

	s := &Supervisor{cfg: cfg, logger: log}
	for _, opt := range opts {
		opt(s)
	}
	s.reporter = progress.OrNoop(s.reporter)
	return s, nil
}

// BinaryPath returns the resolved path of the decryption program.
func (s *Supervisor) BinaryPath() string {
	return s.cfg.BinaryPath
}

// Check verifies the decryption program exists and may be executed by this user.
func (s *Supervisor) Check() error {
	path := s.cfg.BinaryPath
	if path == "" {
		return s.dependencyError(apperrors.CodeBinaryMissing, "decryption binary path is not configured", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if stdErrors.Is(err, os.ErrNotExist) {
			return s.dependencyError(apperrors.CodeBinaryMissing, "decryption binary not found", nil)
		}
		return s.dependencyError(apperrors.CodeBinaryMissing, "failed to inspect decryption binary", err)
	}
	if info.IsDir() {
		return s.dependencyError(apperrors.CodeBinaryNotExecutable, "decryption binary path is a directory", nil)
	}
	if err := checkExecutable(path, info); err != nil {
		return s.dependencyError(apperrors.CodeBinaryNotExecutable, "decryption binary is not executable", err).
			WithField("hint", "chmod +x "+path)
	}
	return nil
}

// Args returns the positional arguments of one invocation:
// mode, key type, key, input path, output path.
func (s *Supervisor) Args(key model.ResolvedKey, input, output string) []string {
	return []string{s.cfg.Mode, s.cfg.KeyType, key.String(), input, output}
}

// Run decrypts job.InputPath into job.OutputPath. The program writes to a ".part"
// sibling which is renamed once it exits successfully. Progress is the size of that
// file; when it stops changing for job.StallThreshold polls progress turns
// indeterminate, and after job.Timeout the program is killed.
func (s *Supervisor) Run(ctx context.Context, job model.DecryptionJob) (Result, error) {
	if err := s.Check(); err != nil {
		return Result{}, err
	}
	if err := validateJob(job); err != nil {
		return Result{}, err
	}

	input, err := os.Stat(job.InputPath)
	if err != nil {
		return Result{}, apperrors.SystemError(apperrors.CodeSystemGeneric, "failed to inspect decryption input", err).
			WithModule("decrypt").
			WithOperation("Run").
			WithField("path", job.InputPath)
	}

	part := job.OutputPath + ".part"
	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return Result{}, apperrors.SystemError(apperrors.CodeSystemGeneric, "failed to create output directory", err).
			WithModule("decrypt").
			WithOperation("Run").
			WithField("path", filepath.Dir(job.OutputPath))
	}
	if err := os.Remove(part); err != nil && !stdErrors.Is(err, os.ErrNotExist) {
		return Result{}, apperrors.SystemError(apperrors.CodeSystemGeneric, "failed to remove stale output", err).
			WithModule("decrypt").
			WithOperation("Run").
			WithField("path", part)
	}

	stderr := newTailBuffer(stderrTailBytes)
	cmd := exec.Command(s.cfg.BinaryPath, s.Args(job.Key, job.InputPath, part)...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	cmd.WaitDelay = max(4*job.PollInterval, minWaitDelay)
	isolate(cmd)

	label := filepath.Base(job.OutputPath)
	s.logger.InfoContext(ctx, "starting decryption",
		logger.String("binary", s.cfg.BinaryPath),
		logger.String("input", job.InputPath),
		logger.String("output", job.OutputPath),
	)

	if err := cmd.Start(); err != nil {
		return Result{}, apperrors.ProcessError(apperrors.CodeProcessFailed, "failed to start decryption binary", err).
			WithModule("decrypt").
			WithOperation("Run").
			WithField("binary", s.cfg.BinaryPath)
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	res := Result{OutputPath: job.OutputPath, InputBytes: input.Size()}
	s.reporter.OnStart(label, res.InputBytes, progress.UnitBytes)

	var (
		begin     = time.Now()
		lastSize  = int64(-1)
		unchanged int
		stalled   bool
	)

	ticker := time.NewTicker(job.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case werr := <-waitCh:
			res.Elapsed = time.Since(begin)
			return s.finish(cmd, job, part, res, werr, stderr)
		case <-ctx.Done():
			terminate(cmd, waitCh)
			return res, apperrors.ProcessError(apperrors.CodeProcessFailed, "decryption cancelled", ctx.Err()).
				WithModule("decrypt").
				WithOperation("Run").
				WithField("input", job.InputPath)
		case <-ticker.C:
		}

		// exit wins over any other observation made in the same poll
		select {
		case werr := <-waitCh:
			res.Elapsed = time.Since(begin)
			return s.finish(cmd, job, part, res, werr, stderr)
		default:
		}

		res.Polls++
		size := fileSize(part)
		if size != lastSize {
			if stalled {
				s.logger.Info("Decryption output is growing again (%d bytes)", size)
			}
			lastSize, unchanged, stalled = size, 0, false
			s.reporter.OnProgress(label, bounded(size, res.InputBytes), res.InputBytes)
		} else {
			unchanged++
			if unchanged >= job.StallThreshold {
				if !stalled {
					s.logger.Warn("Decryption output unchanged for %d polls, the process is still running", unchanged)
				}
				stalled, res.Stalled = true, true
				s.reporter.OnIndeterminate(label, size)
			}
		}

		if elapsed := time.Since(begin); elapsed > job.Timeout {
			terminate(cmd, waitCh)
			res.Elapsed = elapsed
			return res, apperrors.ProcessError(apperrors.CodeTimeout, "decryption timed out, the process was terminated", nil).
				WithModule("decrypt").
				WithOperation("Run").
				WithFields(apperrors.Metadata{
					"timeout":      job.Timeout.String(),
					"output_bytes": lastSize,
					"input":        job.InputPath,
				})
		}
	}
}

func (s *Supervisor) finish(cmd *exec.Cmd, job model.DecryptionJob, part string, res Result, werr error, stderr *tailBuffer) (Result, error) {
	if stdErrors.Is(werr, exec.ErrWaitDelay) {
		// exited cleanly but a descendant still held stderr open
		s.logger.Warn("Decryption binary exited but left processes holding its output open")
		killTree(cmd)
		werr = nil
	}
	if werr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if stdErrors.As(werr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return res, apperrors.ProcessError(apperrors.CodeProcessFailed,
			fmt.Sprintf("decryption binary exited with code %d", exitCode), werr).
			WithModule("decrypt").
			WithOperation("Run").
			WithFields(apperrors.Metadata{
				"exit_code": exitCode,
				"stderr":    stderr.String(),
				"input":     job.InputPath,
			})
	}

	info, err := os.Stat(part)
	if err != nil {
		return res, apperrors.ProcessError(apperrors.CodeOutputMissing, "decryption finished without creating its output", err).
			WithModule("decrypt").
			WithOperation("Run").
			WithField("path", part)
	}
	res.OutputBytes = info.Size()

	if err := os.Rename(part, job.OutputPath); err != nil {
		return res, apperrors.SystemError(apperrors.CodeSystemGeneric, "failed to move decrypted output into place", err).
			WithModule("decrypt").
			WithOperation("Run").
			WithFields(apperrors.Metadata{"source": part, "target": job.OutputPath})
	}

	label := filepath.Base(job.OutputPath)
	s.reporter.OnProgress(label, res.OutputBytes, res.OutputBytes)
	s.reporter.OnComplete(label, res.OutputBytes, res.Elapsed)

	if res.OutputBytes < res.InputBytes/2 {
		res.Suspicious = true
		s.logger.Warn("Decrypted output %s is %d bytes, less than half of the %d byte input", job.OutputPath, res.OutputBytes, res.InputBytes)
	}

	s.logger.Info("Decryption completed in %s", res.Elapsed.Round(time.Millisecond))
	return res, nil
}

func (s *Supervisor) dependencyError(code, message string, err error) *apperrors.AppError {
	appErr := apperrors.DependencyError(code, message, err).
		WithModule("decrypt").
		WithOperation("Check").
		WithField("path", s.cfg.BinaryPath)
	if s.cfg.BuildCommand != "" {
		appErr.WithField("build_command", s.cfg.BuildCommand)
	}
	return appErr
}

func validateJob(job model.DecryptionJob) error {
	invalid := func(msg string) error {
		return apperrors.ValidationError(apperrors.CodeValidationGeneric, msg, nil).
			WithModule("decrypt").
			WithOperation("Run")
	}
	switch {
	case job.InputPath == "" || job.OutputPath == "":
		return invalid("decryption job needs input and output paths")
	case job.Key == "":
		return invalid("decryption job has no key")
	case job.Timeout <= 0:
		return invalid("decryption timeout must be greater than 0")
	case job.PollInterval <= 0:
		return invalid("poll interval must be greater than 0")
	case job.StallThreshold <= 0:
		return invalid("stall threshold must be greater than 0")
	}
	return nil
}

// terminate kills the child's process group and waits for it to be reaped.
func terminate(cmd *exec.Cmd, waitCh <-chan error) {
	killTree(cmd)
	<-waitCh
}

func resolveBinary(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if !strings.ContainsRune(path, filepath.Separator) && !strings.ContainsRune(path, '/') {
		if found, err := exec.LookPath(path); err == nil {
			return found
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func bounded(n, limit int64) int64 {
	if limit > 0 && n > limit {
		return limit
	}
	return n
}
