package descriptor

import (
	"context"
	stdErrors "errors"
	"os"
	"path/filepath"

	apperrors "PS3DL/internal/errors"
	"PS3DL/internal/errors/logging"
	"PS3DL/internal/logger"
	"PS3DL/internal/model"
)

// Renamer gives a decrypted payload its canonical name. It is cosmetic: every failure
// is logged and the payload keeps its name.
type Renamer struct {
	source BlockSource
	logger logger.Logger
}

// NewRenamer constructs a Renamer reading blocks from source.
func NewRenamer(source BlockSource, log logger.Logger) *Renamer {
	return &Renamer{source: source, logger: log}
}

// TryRename renames payloadPath to "{identifier}-{name}{ext}" next to it. It returns the
// resulting path and whether a rename happened.
func (r *Renamer) TryRename(ctx context.Context, payloadPath string) (string, bool) {
	meta, err := r.metadata(ctx, payloadPath)
	if err != nil {
		logging.Warn(ctx, r.logger, "keeping original file name", err)
		return payloadPath, false
	}

	target := filepath.Join(filepath.Dir(payloadPath), FileName(meta, filepath.Ext(payloadPath)))
	if target == payloadPath {
		return payloadPath, false
	}

	if _, err := os.Stat(target); err == nil {
		r.logger.Warn("Not renaming %s: %s already exists", filepath.Base(payloadPath), filepath.Base(target))
		return payloadPath, false
	} else if !stdErrors.Is(err, os.ErrNotExist) {
		r.logger.Warn("Not renaming %s: %v", filepath.Base(payloadPath), err)
		return payloadPath, false
	}

	if err := os.Rename(payloadPath, target); err != nil {
		r.logger.Warn("Failed to rename %s: %v", filepath.Base(payloadPath), err)
		return payloadPath, false
	}

	r.logger.Info("Renamed %s to %s", filepath.Base(payloadPath), filepath.Base(target))
	return target, true
}

func (r *Renamer) metadata(ctx context.Context, payloadPath string) (meta model.DescriptorMetadata, err error) {
	fail := func(msg string, cause error) *apperrors.AppError {
		return apperrors.New(apperrors.ErrCategoryValidation, apperrors.CodeDescriptorGeneric, msg, cause).
			WithModule("descriptor").
			WithOperation("TryRename").
			WithField("path", payloadPath)
	}

	if r.source == nil {
		return meta, fail("no descriptor source configured", nil)
	}

	block, err := r.source.Block(ctx, payloadPath)
	if err != nil {
		return meta, fail("failed to read descriptor block", err)
	}

	entries, err := Parse(block)
	if err != nil {
		return meta, fail("descriptor block is malformed", err)
	}

	m, ok := Metadata(entries)
	if !ok {
		return meta, fail("descriptor block lacks TITLE_ID or TITLE", nil)
	}
	return m, nil
}
