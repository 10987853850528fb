package keys

import (
	"bytes"
	"io"
	"strings"

	apperrors "PS3DL/internal/errors"

	"github.com/klauspost/compress/zip"
)

const maxKeyEntryBytes = 4096

// ExtractKey opens a key package held in memory and returns the content of the first
// entry whose name ends in suffix.
func ExtractKey(data []byte, suffix string) ([]byte, string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, "", apperrors.ValidationError(apperrors.CodeKeyFormatInvalid, "key package is not a valid archive", err).
			WithModule("keys").
			WithOperation("ExtractKey").
			WithField("size", len(data))
	}

	suffix = strings.ToLower(suffix)
	for _, file := range reader.File {
		if file.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(file.Name), suffix) {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return nil, file.Name, apperrors.ValidationError(apperrors.CodeKeyFormatInvalid, "failed to open key entry", err).
				WithModule("keys").
				WithOperation("ExtractKey").
				WithField("entry", file.Name)
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxKeyEntryBytes+1))
		rc.Close()
		if err != nil {
			return nil, file.Name, apperrors.ValidationError(apperrors.CodeKeyFormatInvalid, "failed to read key entry", err).
				WithModule("keys").
				WithOperation("ExtractKey").
				WithField("entry", file.Name)
		}
		if len(content) > maxKeyEntryBytes {
			return nil, file.Name, apperrors.ValidationError(apperrors.CodeKeyFormatInvalid, "key entry is too large", nil).
				WithModule("keys").
				WithOperation("ExtractKey").
				WithField("entry", file.Name)
		}
		return content, file.Name, nil
	}

	return nil, "", apperrors.ValidationError(apperrors.CodeKeyFormatInvalid, "key package holds no key entry", nil).
		WithModule("keys").
		WithOperation("ExtractKey").
		WithFields(apperrors.Metadata{"suffix": suffix, "entries": len(reader.File)})
}
