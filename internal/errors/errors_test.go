package errors

import (
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorRendering(t *testing.T) {
	err := NetworkError(CodeTransferFailed, "transfer failed after 3 attempts", fmt.Errorf("connection reset")).
		WithModule("transfer").
		WithOperation("Fetch").
		WithFields(Metadata{"url": "https://host/a.zip", "attempts": 3})

	assert.Equal(t,
		"[NETWORK:NET-503] transfer failed after 3 attempts (attempts=3, url=https://host/a.zip): connection reset",
		err.Error())
	assert.True(t, err.Recoverable)
}

func TestHelpersSeeThroughWrapping(t *testing.T) {
	base := NotFoundError(CodeKeyNotFound, "no key package listed for target", nil)
	wrapped := pkgerrors.Wrap(fmt.Errorf("resolve: %w", base), "keys stage")

	assert.True(t, HasCode(wrapped, CodeKeyNotFound))
	assert.False(t, HasCode(wrapped, CodeKeyFormatInvalid))
	assert.Equal(t, ErrCategoryNotFound, CategoryOf(wrapped))
	assert.False(t, IsRecoverable(wrapped))

	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, base, appErr)

	assert.Equal(t, ErrorCategory(""), CategoryOf(fmt.Errorf("plain")))
}

func TestMetadataClone(t *testing.T) {
	original := Metadata{"path": "/a"}
	clone := original.Clone()
	clone["path"] = "/b"
	assert.Equal(t, "/a", original["path"])
	assert.Nil(t, Metadata{}.Clone())
}
