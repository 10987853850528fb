package descriptor

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"PS3DL/internal/system"

	"github.com/pkg/errors"
)

// DefaultEntry is where the descriptor block lives inside a disc image.
const DefaultEntry = "PS3_GAME/PARAM.SFO"

// BlockSource obtains the raw descriptor block of a payload.
type BlockSource interface {
	Block(ctx context.Context, payloadPath string) ([]byte, error)
}

// ArchiveSource pulls the block out of the image with an external archive helper
// invoked as "<helper> e <image> <entry> -o<dir> -y".
type ArchiveSource struct {
	Helper   string
	Entry    string
	Executor system.Executor
}

// NewArchiveSource returns a source using helper (default "7z") and entry.
func NewArchiveSource(helper, entry string, exec system.Executor) *ArchiveSource {
	if helper == "" {
		helper = "7z"
	}
	if entry == "" {
		entry = DefaultEntry
	}
	if exec == nil {
		exec = system.LocalExecutor{}
	}
	return &ArchiveSource{Helper: helper, Entry: entry, Executor: exec}
}

func (s *ArchiveSource) Block(ctx context.Context, payloadPath string) ([]byte, error) {
	helper, err := s.Executor.LookPath(s.Helper)
	if err != nil {
		return nil, errors.Wrapf(err, "archive helper %s not available", s.Helper)
	}

	dir, err := os.MkdirTemp("", "ps3dl-descriptor-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temporary directory")
	}
	defer os.RemoveAll(dir)

	if err := s.Executor.Run(ctx, helper, "e", payloadPath, s.Entry, "-o"+dir, "-y"); err != nil {
		return nil, errors.Wrapf(err, "failed to extract %s", s.Entry)
	}

	data, err := os.ReadFile(filepath.Join(dir, path.Base(s.Entry)))
	if err != nil {
		return nil, errors.Wrapf(err, "%s not found in %s", s.Entry, filepath.Base(payloadPath))
	}
	return data, nil
}
