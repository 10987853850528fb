// Package system wraps the host facilities the pipeline depends on: free disk space and
// external helper commands.
package system

import (
	"strings"

	apperrors "PS3DL/internal/errors"

	"github.com/dustin/go-humanize"
)

// ParseSize converts a human readable size hint such as "4.2 GiB" or "700 MB" into bytes.
func ParseSize(hint string) (uint64, error) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return 0, apperrors.ValidationError(apperrors.CodeValidationGeneric, "size hint is empty", nil).
			WithModule("system").
			WithOperation("ParseSize")
	}
	n, err := humanize.ParseBytes(hint)
	if err != nil {
		return 0, apperrors.ValidationError(apperrors.CodeValidationGeneric, "size hint is not a size", err).
			WithModule("system").
			WithOperation("ParseSize").
			WithField("hint", hint)
	}
	return n, nil
}

// EnsureFreeSpace fails when the filesystem holding path has less than required bytes
// available to unprivileged users.
func EnsureFreeSpace(path string, required uint64) error {
	available, err := FreeSpace(path)
	if err != nil {
		return apperrors.SystemError(apperrors.CodeSystemGeneric, "failed to get disk space information", err).
			WithModule("system").
			WithOperation("EnsureFreeSpace").
			WithField("path", path)
	}
	if available < required {
		return apperrors.SystemError(apperrors.CodeSystemGeneric, "insufficient disk space", nil).
			WithModule("system").
			WithOperation("EnsureFreeSpace").
			WithFields(apperrors.Metadata{
				"path":      path,
				"required":  humanize.IBytes(required),
				"available": humanize.IBytes(available),
			})
	}
	return nil
}
