package archive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "PS3DL/internal/errors"
	"PS3DL/internal/logger"
	"PS3DL/internal/progress"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name    string
	content []byte
	store   bool
}

func writeArchive(t *testing.T, path string, entries ...entry) {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		method := zip.Deflate
		if e.store {
			method = zip.Store
		}
		f, err := w.CreateHeader(&zip.FileHeader{Name: e.name, Method: method})
		require.NoError(t, err)
		if len(e.content) > 0 {
			_, err = f.Write(e.content)
			require.NoError(t, err)
		}
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "example.zip")
	payload := bytes.Repeat([]byte("PS3"), 10000)
	writeArchive(t, archivePath,
		entry{name: "docs/"},
		entry{name: "docs/readme.txt", content: []byte("read me")},
		entry{name: "example.iso", content: payload},
	)

	rec := progress.NewRecorder()
	ex := NewExtractor(logger.NewMockLogger(), WithProgressReporter(rec))

	dest := filepath.Join(dir, "out")
	result, err := ex.Extract(context.Background(), archivePath, dest)
	require.NoError(t, err)

	require.Len(t, result.Files, 2)
	require.Len(t, result.Dirs, 1)
	assert.Equal(t, int64(len(payload)+len("read me")), result.TotalBytes)

	got, err := os.ReadFile(filepath.Join(dest, "example.iso"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.FileExists(t, filepath.Join(dest, "docs", "readme.txt"))
	assert.NoFileExists(t, filepath.Join(dest, "example.iso.part"))

	iso, ok := result.FindByExt(".ISO")
	require.True(t, ok)
	assert.Equal(t, "example.iso", filepath.Base(iso))

	start, ok := rec.Last(progress.EventStart)
	require.True(t, ok)
	assert.Equal(t, progress.UnitBytes, start.Unit)
	assert.Equal(t, result.TotalBytes, start.Total)
	done, ok := rec.Last(progress.EventComplete)
	require.True(t, ok)
	assert.Equal(t, result.TotalBytes, done.Current)
	// 30000 bytes stream in several fixed-size chunks
	assert.GreaterOrEqual(t, rec.Count(progress.EventProgress), len(payload)/ChunkSize)
}

func TestExtractCountsEntriesWhenSizesUnknown(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "empty-files.zip")
	writeArchive(t, archivePath, entry{name: "a.bin"}, entry{name: "b.bin"})

	rec := progress.NewRecorder()
	result, err := NewExtractor(logger.NewMockLogger(), WithProgressReporter(rec)).
		Extract(context.Background(), archivePath, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Len(t, result.Files, 2)

	start, ok := rec.Last(progress.EventStart)
	require.True(t, ok)
	assert.Equal(t, progress.UnitItems, start.Unit)
	assert.Equal(t, int64(2), start.Total)
	last, ok := rec.Last(progress.EventProgress)
	require.True(t, ok)
	assert.Equal(t, int64(2), last.Current)
}

func TestExtractEmptyFile(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "example.zip")
	require.NoError(t, os.WriteFile(archivePath, nil, 0o644))

	_, err := NewExtractor(logger.NewMockLogger()).Extract(context.Background(), archivePath, dir)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeArchiveEmpty))
}

func TestExtractCorruptHeader(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "example.zip")
	require.NoError(t, os.WriteFile(archivePath, []byte("this is not an archive at all"), 0o644))

	_, err := NewExtractor(logger.NewMockLogger()).Extract(context.Background(), archivePath, dir)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeArchiveCorrupt))
	assert.Contains(t, err.Error(), "re-download")
}

func TestExtractCorruptEntryData(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "example.zip")
	content := []byte(strings.Repeat("decrypt me please ", 100))
	writeArchive(t, archivePath, entry{name: "example.iso", content: content, store: true})

	data, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	idx := bytes.Index(data, content)
	require.GreaterOrEqual(t, idx, 0)
	data[idx+10] ^= 0xff
	require.NoError(t, os.WriteFile(archivePath, data, 0o644))

	dest := filepath.Join(dir, "out")
	_, err = NewExtractor(logger.NewMockLogger()).Extract(context.Background(), archivePath, dest)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeArchiveCorrupt))
	assert.NoFileExists(t, filepath.Join(dest, "example.iso"))
	assert.NoFileExists(t, filepath.Join(dest, "example.iso.part"))
}

func TestExtractRejectsZipSlip(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.zip")
	writeArchive(t, archivePath, entry{name: "../evil.txt", content: []byte("gotcha")})

	dest := filepath.Join(dir, "out")
	_, err := NewExtractor(logger.NewMockLogger()).Extract(context.Background(), archivePath, dest)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeArchiveCorrupt))
	assert.NoFileExists(t, filepath.Join(dir, "evil.txt"))
}

func TestExtractCancelled(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "example.zip")
	writeArchive(t, archivePath, entry{name: "example.iso", content: []byte("data")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExtractor(logger.NewMockLogger()).Extract(ctx, archivePath, filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
}

func TestPromotePayload(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "example.iso")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))
	result := Result{Files: []string{filepath.Join(dir, "readme.txt"), src}}

	target := filepath.Join(dir, "BLUS12345.iso")
	got, err := PromotePayload(result, ".iso", target)
	require.NoError(t, err)
	assert.Equal(t, target, got)
	assert.FileExists(t, target)
	assert.NoFileExists(t, src)

	// already in place
	got, err = PromotePayload(Result{Files: []string{target}}, ".iso", target)
	require.NoError(t, err)
	assert.Equal(t, target, got)

	_, err = PromotePayload(Result{Files: []string{filepath.Join(dir, "readme.txt")}}, ".iso", target)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeArchiveCorrupt))
}
