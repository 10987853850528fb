package config

import (
	"os"
	"path/filepath"
	"strings"

	apperrors "PS3DL/internal/errors"
)

// ExpandHome expands a leading "~/" to the current user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// WorkDir returns the expanded working directory.
func (c *Config) WorkDir() string {
	return ExpandHome(c.Folders.WorkDir)
}

// ISODir returns the directory holding staging folders and final artifacts.
func (c *Config) ISODir() string {
	return filepath.Join(c.WorkDir(), c.Folders.ISODir)
}

// KeysDir returns the directory holding the key index cache.
func (c *Config) KeysDir() string {
	return filepath.Join(c.WorkDir(), c.Folders.KeysDir)
}

// KeyCachePath returns the location of the serialized key index.
func (c *Config) KeyCachePath() string {
	return filepath.Join(c.KeysDir(), c.Keys.CacheFile)
}

// StagingDir returns the per-target staging folder.
func (c *Config) StagingDir(targetID string) string {
	return filepath.Join(c.ISODir(), targetID)
}

// HistoryPath returns the acquisition ledger database path.
func (c *Config) HistoryPath() string {
	db := ExpandHome(c.History.Database)
	if filepath.IsAbs(db) {
		return db
	}
	return filepath.Join(c.WorkDir(), db)
}

// DecryptorPath returns the expanded decryption binary path.
func (c *Config) DecryptorPath() string {
	return ExpandHome(c.Decryption.BinaryPath)
}

// EnsureLayout creates the working, ISO and keys folders. A regular file occupying one
// of these paths is reported instead of being replaced.
func (c *Config) EnsureLayout() error {
	dirs := []struct {
		path string
		name string
	}{
		{c.WorkDir(), c.Folders.WorkDir},
		{c.ISODir(), c.Folders.ISODir},
		{c.KeysDir(), c.Folders.KeysDir},
	}

	for _, dir := range dirs {
		info, err := os.Stat(dir.path)
		switch {
		case err == nil && !info.IsDir():
			return apperrors.SystemError(apperrors.CodeSystemGeneric, "a file blocks a required folder, please remove it", nil).
				WithModule("config").
				WithOperation("EnsureLayout").
				WithFields(apperrors.Metadata{"path": dir.path, "name": dir.name})
		case err == nil:
			continue
		case !os.IsNotExist(err):
			return apperrors.SystemError(apperrors.CodeSystemGeneric, "failed to inspect folder", err).
				WithModule("config").
				WithOperation("EnsureLayout").
				WithField("path", dir.path)
		}

		if err := os.MkdirAll(dir.path, 0o755); err != nil {
			return apperrors.SystemError(apperrors.CodeSystemGeneric, "failed to create folder", err).
				WithModule("config").
				WithOperation("EnsureLayout").
				WithField("path", dir.path)
		}
	}
	return nil
}
