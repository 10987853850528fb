package model

import (
	"encoding/hex"
	"strings"

	apperrors "PS3DL/internal/errors"
)

const (
	keyHexLength = 32
	keyRawLength = 16
)

// ResolvedKey is a validated decryption key: 32 lowercase hex characters.
type ResolvedKey string

// String returns the key text passed to the decryption program.
func (k ResolvedKey) String() string {
	return string(k)
}

// KeyRecord maps a target identifier to the location of its key package.
type KeyRecord struct {
	TargetID        string `json:"target_id"`
	PackageLocation string `json:"package_location"`
}

// NormalizeKey turns the contents of a key file into a ResolvedKey. Trimmed text of
// exactly 32 hex characters is accepted case folded; otherwise exactly 16 raw bytes are
// hex encoded. Anything else fails with KEY-422.
func NormalizeKey(content []byte) (ResolvedKey, error) {
	text := strings.TrimSpace(string(content))
	if len(text) == keyHexLength && isHex(text) {
		return ResolvedKey(strings.ToLower(text)), nil
	}

	if len(content) == keyRawLength {
		return ResolvedKey(hex.EncodeToString(content)), nil
	}

	return "", apperrors.ValidationError(apperrors.CodeKeyFormatInvalid, "key content is neither 32 hex characters nor 16 raw bytes", nil).
		WithModule("model").
		WithOperation("NormalizeKey").
		WithField("length", len(content))
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
