// Package archive unpacks downloaded zip archives into a staging directory.
package archive

import (
	"context"
	stdErrors "errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "PS3DL/internal/errors"
	"PS3DL/internal/logger"
	"PS3DL/internal/progress"

	"github.com/klauspost/compress/zip"
)

// ChunkSize is the fixed size in which entry data is streamed to disk.
const ChunkSize = 8 * 1024

// Result lists what an extraction produced.
type Result struct {
	Files      []string
	Dirs       []string
	TotalBytes int64
}

// FindByExt returns the first extracted file with the given extension, compared case
// insensitively.
func (r Result) FindByExt(ext string) (string, bool) {
	ext = strings.ToLower(ext)
	for _, f := range r.Files {
		if strings.ToLower(filepath.Ext(f)) == ext {
			return f, true
		}
	}
	return "", false
}

// Extractor unpacks archives, writing each entry through a ".part" sibling.
type Extractor struct {
	logger   logger.Logger
	reporter progress.Reporter
}

// Option customises Extractor construction.
type Option func(*Extractor)

// WithProgressReporter overrides the progress reporter implementation.
func WithProgressReporter(reporter progress.Reporter) Option {
	return func(e *Extractor) {
		e.reporter = reporter
	}
}

// NewExtractor constructs an Extractor.
func NewExtractor(log logger.Logger, opts ...Option) *Extractor {
	e := &Extractor{logger: log}
	for _, opt := range opts {
		opt(e)
	}
	e.reporter = progress.OrNoop(e.reporter)
	return e
}

// Extract unpacks archivePath into destDir. A zero-byte file is ARC-001; a file that
// does not open as an archive is ARC-002.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string) (Result, error) {
	info, err := os.Stat(archivePath)
	if err != nil {
		return Result{}, apperrors.SystemError(apperrors.CodeSystemGeneric, "failed to inspect archive", err).
			WithModule("archive").
			WithOperation("Extract").
			WithField("path", archivePath)
	}
	if info.Size() == 0 {
		return Result{}, apperrors.ValidationError(apperrors.CodeArchiveEmpty, "archive is empty, a re-download is needed", nil).
			WithModule("archive").
			WithOperation("Extract").
			WithField("path", archivePath)
	}

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return Result{}, corrupt("archive header is invalid, a re-download may be needed", err, archivePath)
	}
	defer reader.Close()

	if len(reader.File) == 0 {
		return Result{}, apperrors.ValidationError(apperrors.CodeArchiveEmpty, "archive holds no entries", nil).
			WithModule("archive").
			WithOperation("Extract").
			WithField("path", archivePath)
	}

	dest, err := filepath.Abs(destDir)
	if err != nil {
		return Result{}, apperrors.SystemError(apperrors.CodeSystemGeneric, "failed to resolve destination", err).
			WithModule("archive").
			WithOperation("Extract").
			WithField("path", destDir)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return Result{}, apperrors.SystemError(apperrors.CodeSystemGeneric, "failed to create destination", err).
			WithModule("archive").
			WithOperation("Extract").
			WithField("path", dest)
	}

	var total int64
	files := 0
	for _, f := range reader.File {
		if isDir(f) {
			continue
		}
		files++
		total += int64(f.UncompressedSize64)
	}

	label := filepath.Base(archivePath)
	unit := progress.UnitBytes
	if total <= 0 {
		unit = progress.UnitItems
		total = int64(files)
	}
	e.reporter.OnStart(label, total, unit)
	e.logger.Info("Extracting %s (%d entries)", label, len(reader.File))

	var (
		result Result
		done   int64
		count  int64
		begin  = time.Now()
		buf    = make([]byte, ChunkSize)
	)
	if unit == progress.UnitBytes {
		result.TotalBytes = total
	}

	for _, f := range reader.File {
		if err := ctx.Err(); err != nil {
			return result, apperrors.SystemError(apperrors.CodeSystemGeneric, "extraction cancelled", err).
				WithModule("archive").
				WithOperation("Extract").
				WithField("path", archivePath)
		}

		target, err := entryPath(dest, f.Name)
		if err != nil {
			return result, corrupt("archive entry escapes the destination directory", err, archivePath).
				WithField("entry", f.Name)
		}

		if isDir(f) {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return result, writeFailure("failed to create directory", err, target)
			}
			result.Dirs = append(result.Dirs, target)
			continue
		}

		onChunk := func(n int) {
			if unit == progress.UnitBytes {
				done += int64(n)
				e.reporter.OnProgress(label, done, total)
			}
		}
		if err := e.extractFile(ctx, f, target, buf, onChunk); err != nil {
			return result, err
		}
		result.Files = append(result.Files, target)

		count++
		if unit == progress.UnitItems {
			e.reporter.OnProgress(label, count, total)
		}
	}

	if unit == progress.UnitBytes {
		e.reporter.OnComplete(label, done, time.Since(begin))
	} else {
		e.reporter.OnComplete(label, count, time.Since(begin))
	}
	return result, nil
}

func (e *Extractor) extractFile(ctx context.Context, f *zip.File, target string, buf []byte, onChunk func(int)) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return writeFailure("failed to create directory", err, filepath.Dir(target))
	}

	rc, err := f.Open()
	if err != nil {
		return corrupt("failed to open archive entry", err, target).WithField("entry", f.Name)
	}
	defer rc.Close()

	part := target + ".part"
	out, err := os.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return writeFailure("failed to create file", err, part)
	}

	if err := copyChunks(ctx, out, rc, buf, onChunk); err != nil {
		out.Close()
		_ = os.Remove(part)
		var we *writeErr
		if stdErrors.As(err, &we) {
			return writeFailure("failed to write extracted data", we.err, part)
		}
		if ctx.Err() != nil {
			return apperrors.SystemError(apperrors.CodeSystemGeneric, "extraction cancelled", err).
				WithModule("archive").
				WithOperation("Extract").
				WithField("entry", f.Name)
		}
		return corrupt("archive entry is corrupt, a re-download may be needed", err, target).WithField("entry", f.Name)
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return writeFailure("failed to flush extracted file", err, part)
	}
	if err := out.Close(); err != nil {
		return writeFailure("failed to close extracted file", err, part)
	}
	if err := os.Rename(part, target); err != nil {
		return writeFailure("failed to move extracted file into place", err, target)
	}
	return nil
}

func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, buf []byte, onChunk func(int)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return &writeErr{err: werr}
			}
			onChunk(n)
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// PromotePayload renames the first extracted file with extension ext to target.
func PromotePayload(result Result, ext, target string) (string, error) {
	src, ok := result.FindByExt(ext)
	if !ok {
		return "", apperrors.ValidationError(apperrors.CodeArchiveCorrupt, "archive holds no payload with the expected extension", nil).
			WithModule("archive").
			WithOperation("PromotePayload").
			WithFields(apperrors.Metadata{"extension": ext, "files": len(result.Files)})
	}
	if filepath.Clean(src) == filepath.Clean(target) {
		return target, nil
	}
	if err := os.Rename(src, target); err != nil {
		return "", writeFailure("failed to rename payload", err, target).
			WithOperation("PromotePayload").
			WithField("source", src)
	}
	return target, nil
}

func entryPath(dest, name string) (string, error) {
	clean := filepath.FromSlash(name)
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", stdErrors.New("absolute entry path")
	}
	target := filepath.Join(dest, clean)
	rel, err := filepath.Rel(dest, target)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", stdErrors.New("entry escapes destination")
	}
	return target, nil
}

func isDir(f *zip.File) bool {
	return strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir()
}

type writeErr struct {
	err error
}

func (e *writeErr) Error() string { return e.err.Error() }
func (e *writeErr) Unwrap() error { return e.err }

func corrupt(message string, err error, path string) *apperrors.AppError {
	return apperrors.ValidationError(apperrors.CodeArchiveCorrupt, message, err).
		WithModule("archive").
		WithOperation("Extract").
		WithField("path", path)
}

func writeFailure(message string, err error, path string) *apperrors.AppError {
	return apperrors.SystemError(apperrors.CodeSystemGeneric, message, err).
		WithModule("archive").
		WithOperation("Extract").
		WithField("path", path)
}
