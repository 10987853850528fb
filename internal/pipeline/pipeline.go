// Package pipeline drives one target through key resolution, transfer, extraction,
// decryption and renaming. Every stage is skipped when its output already exists, so an
// interrupted acquisition resumes where it stopped.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"PS3DL/internal/archive"
	"PS3DL/internal/config"
	"PS3DL/internal/decrypt"
	apperrors "PS3DL/internal/errors"
	"PS3DL/internal/errors/logging"
	"PS3DL/internal/history"
	"PS3DL/internal/keys"
	"PS3DL/internal/logger"
	"PS3DL/internal/model"
	"PS3DL/internal/system"
	"PS3DL/internal/transfer"
)

// KeyResolver finds the decryption key of a target.
type KeyResolver interface {
	LoadIndex(ctx context.Context) (keys.Index, error)
	RefreshIndex(ctx context.Context) (keys.Index, error)
	Resolve(ctx context.Context, index keys.Index, target model.Target) (model.ResolvedKey, error)
}

// Fetcher downloads a remote file with resume support.
type Fetcher interface {
	Fetch(ctx context.Context, req transfer.Request) error
}

// Unpacker extracts an archive into a folder.
type Unpacker interface {
	Extract(ctx context.Context, archivePath, destDir string) (archive.Result, error)
}

// Decryptor runs the external decryption program.
type Decryptor interface {
	Check() error
	Run(ctx context.Context, job model.DecryptionJob) (decrypt.Result, error)
}

// Renamer gives the final artifact its descriptive name. It never fails.
type Renamer interface {
	TryRename(ctx context.Context, path string) (string, bool)
}

// Dependencies are the stage implementations. Renamer and History are optional.
type Dependencies struct {
	Keys      KeyResolver
	Transfer  Fetcher
	Extractor Unpacker
	Decryptor Decryptor
	Renamer   Renamer
	History   history.Repository
}

// Outcome describes what one Acquire call produced.
type Outcome struct {
	Target       model.Target
	ArtifactPath string
	RunID        string
	// Skipped is set when the artifact already existed and no stage ran.
	Skipped bool
	Renamed bool
	Decrypt decrypt.Result
	Elapsed time.Duration
}

// Pipeline acquires targets one at a time.
type Pipeline struct {
	cfg         *config.Config
	deps        Dependencies
	logger      logger.Logger
	refreshKeys bool
	freeSpace   func(path string, required uint64) error
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithRefreshKeys forces a fresh key listing instead of the cached one.
func WithRefreshKeys(refresh bool) Option {
	return func(p *Pipeline) {
		p.refreshKeys = refresh
	}
}

// WithFreeSpaceCheck replaces the disk space preflight.
func WithFreeSpaceCheck(check func(path string, required uint64) error) Option {
	return func(p *Pipeline) {
		if check != nil {
			p.freeSpace = check
		}
	}
}

// New constructs a Pipeline from its stages.
func New(cfg *config.Config, deps Dependencies, log logger.Logger, opts ...Option) (*Pipeline, error) {
	fail := func(msg string) error {
		return apperrors.SystemError(apperrors.CodeSystemGeneric, msg, nil).
			WithModule("pipeline").
			WithOperation("New")
	}
	switch {
	case cfg == nil:
		return nil, fail("config must not be nil")
	case log == nil:
		return nil, fail("logger must not be nil")
	case deps.Keys == nil || deps.Transfer == nil || deps.Extractor == nil || deps.Decryptor == nil:
		return nil, fail("keys, transfer, extractor and decryptor stages are required")
	}

	p := &Pipeline{
		cfg:       cfg,
		deps:      deps,
		logger:    log,
		freeSpace: system.EnsureFreeSpace,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// acquisition is the working state of one Acquire call.
type acquisition struct {
	target       model.Target
	staging      string
	archivePath  string
	payloadPath  string
	artifactPath string
	key          model.ResolvedKey
	outcome      *Outcome
}

// Acquire runs every stage for target. Fatal errors abort this target only; partial
// files are kept so the next call resumes.
func (p *Pipeline) Acquire(ctx context.Context, target model.Target) (Outcome, error) {
	begin := time.Now()
	outcome := Outcome{Target: target}

	if err := target.Validate(); err != nil {
		return outcome, err
	}

	a := &acquisition{
		target:       target,
		staging:      p.cfg.StagingDir(target.ID),
		artifactPath: filepath.Join(p.cfg.ISODir(), target.ArtifactName()),
		outcome:      &outcome,
	}
	a.archivePath = filepath.Join(a.staging, target.ArchiveName())
	a.payloadPath = filepath.Join(a.staging, target.PayloadName())
	outcome.ArtifactPath = a.artifactPath

	if path, ok := p.alreadyAcquired(ctx, a); ok {
		p.logger.Info("%s is already downloaded and decrypted: %s", target.DisplayTitle(), path)
		outcome.ArtifactPath = path
		outcome.Skipped = true
		outcome.Elapsed = time.Since(begin)
		return outcome, nil
	}

	run := p.startRun(ctx, target)
	outcome.RunID = run.ID
	ctx = logger.ContextWithTrace(ctx, logger.TraceContext{RunID: run.ID, TargetID: target.ID})

	p.logger.InfoContext(ctx, "acquisition started",
		logger.String("title", target.DisplayTitle()),
		logger.String("artifact", a.artifactPath),
	)

	err := p.runStages(ctx, a)
	outcome.Elapsed = time.Since(begin)
	p.finishRun(ctx, run, outcome, err)

	if err != nil {
		return outcome, err
	}
	p.logger.InfoContext(ctx, "acquisition finished",
		logger.String("artifact", outcome.ArtifactPath),
		logger.Duration("elapsed", outcome.Elapsed),
	)
	return outcome, nil
}

func (p *Pipeline) runStages(ctx context.Context, a *acquisition) error {
	stages := []struct {
		name string
		fn   func(context.Context, *acquisition) error
	}{
		{"preflight", p.preflight},
		{"keys", p.resolveKey},
		{"transfer", p.fetchArchive},
		{"extract", p.extractPayload},
		{"decrypt", p.decryptPayload},
		{"rename", p.renameArtifact},
	}

	for _, stage := range stages {
		stageCtx := logger.ContextWithStage(ctx, stage.name)
		p.logger.DebugContext(stageCtx, "stage started")
		if err := stage.fn(stageCtx, a); err != nil {
			if appErr, ok := apperrors.As(err); ok {
				appErr.WithField("stage", stage.name)
			}
			return err
		}
		p.logger.DebugContext(stageCtx, "stage finished")
	}
	return nil
}

// alreadyAcquired reports a finished artifact from the ledger or at the default path.
func (p *Pipeline) alreadyAcquired(ctx context.Context, a *acquisition) (string, bool) {
	if p.deps.History != nil {
		run, found, err := p.deps.History.LastCompleted(ctx, a.target.ID)
		if err != nil {
			logging.Warn(ctx, p.logger, "history lookup failed", err)
		} else if found && nonEmptyFile(run.ArtifactPath) {
			return run.ArtifactPath, true
		}
	}
	if nonEmptyFile(a.artifactPath) {
		return a.artifactPath, true
	}
	return "", false
}

func (p *Pipeline) preflight(ctx context.Context, a *acquisition) error {
	if err := p.deps.Decryptor.Check(); err != nil {
		return err
	}

	if a.target.SizeHint == "" {
		return nil
	}
	size, err := system.ParseSize(a.target.SizeHint)
	if err != nil {
		logging.Warn(ctx, p.logger, "skipping disk space check", err)
		return nil
	}

	// archive or payload plus the decrypted copy
	required := 2 * size
	staged := uint64(fileSize(a.archivePath) + fileSize(a.payloadPath))
	if staged >= required {
		return nil
	}
	return p.freeSpace(p.cfg.ISODir(), required-staged)
}

func (p *Pipeline) resolveKey(ctx context.Context, a *acquisition) error {
	var (
		index keys.Index
		err   error
	)
	if p.refreshKeys {
		index, err = p.deps.Keys.RefreshIndex(ctx)
	} else {
		index, err = p.deps.Keys.LoadIndex(ctx)
	}
	if err != nil {
		return err
	}

	a.key, err = p.deps.Keys.Resolve(ctx, index, a.target)
	return err
}

func (p *Pipeline) fetchArchive(ctx context.Context, a *acquisition) error {
	if nonEmptyFile(a.payloadPath) {
		p.logger.Info("Payload %s already extracted, skipping download", filepath.Base(a.payloadPath))
		return nil
	}

	return p.deps.Transfer.Fetch(ctx, transfer.Request{
		URL:         RemoteURL(p.cfg.URLs.ISOBase, a.target.RemoteLink),
		Destination: a.archivePath,
		Name:        a.target.ArchiveName(),
	})
}

func (p *Pipeline) extractPayload(ctx context.Context, a *acquisition) error {
	if nonEmptyFile(a.payloadPath) {
		return nil
	}

	result, err := p.deps.Extractor.Extract(ctx, a.archivePath, a.staging)
	if err != nil {
		return err
	}
	if _, err := archive.PromotePayload(result, ".iso", a.payloadPath); err != nil {
		return err
	}

	if err := transfer.Remove(a.archivePath); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("Failed to remove archive %s: %v", a.archivePath, err)
	}
	return nil
}

func (p *Pipeline) decryptPayload(ctx context.Context, a *acquisition) error {
	dc := p.cfg.Decryption
	result, err := p.deps.Decryptor.Run(ctx, model.DecryptionJob{
		InputPath:      a.payloadPath,
		OutputPath:     a.artifactPath,
		Key:            a.key,
		Timeout:        dc.Timeout,
		PollInterval:   dc.PollInterval,
		StallThreshold: dc.StallThreshold,
	})
	if err != nil {
		return err
	}
	a.outcome.Decrypt = result

	if err := os.RemoveAll(a.staging); err != nil {
		p.logger.Warn("Failed to remove staging folder %s: %v", a.staging, err)
	}
	return nil
}

func (p *Pipeline) renameArtifact(ctx context.Context, a *acquisition) error {
	if p.deps.Renamer == nil {
		return nil
	}
	path, renamed := p.deps.Renamer.TryRename(ctx, a.artifactPath)
	a.outcome.ArtifactPath = path
	a.outcome.Renamed = renamed
	return nil
}

func (p *Pipeline) startRun(ctx context.Context, target model.Target) history.Run {
	if p.deps.History == nil {
		return history.Run{}
	}
	run, err := p.deps.History.Start(ctx, target)
	if err != nil {
		logging.Warn(ctx, p.logger, "failed to record run", err)
		return history.Run{}
	}
	return run
}

func (p *Pipeline) finishRun(ctx context.Context, run history.Run, outcome Outcome, runErr error) {
	if p.deps.History == nil || run.ID == "" {
		return
	}
	status, artifact, errText := history.StatusCompleted, outcome.ArtifactPath, ""
	if runErr != nil {
		status, artifact, errText = history.StatusFailed, "", runErr.Error()
	}
	// the run outcome is recorded even when ctx was cancelled
	if err := p.deps.History.Finish(context.WithoutCancel(ctx), run.ID, status, artifact, errText); err != nil {
		logging.Warn(ctx, p.logger, "failed to record run result", err)
	}
}

// RemoteURL joins the payload base URL and a target link. Absolute links are used
// as they are.
func RemoteURL(base, link string) string {
	if strings.Contains(link, "://") {
		return link
	}
	if base == "" {
		return link
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(link, "/")
}

func nonEmptyFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
