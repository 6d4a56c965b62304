package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/safecopy/pkg/errors"
)

func TestNew(t *testing.T) {
	err := errors.New(errors.ErrPrecondition, "source missing")
	assert.Equal(t, "[PRECONDITION] source missing", err.Error())
	assert.Equal(t, errors.ErrPrecondition, errors.GetErrorCode(err))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("permission denied")
	err := errors.Wrap(cause, errors.ErrBackup, "could not make backup")

	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.True(t, stderrors.Is(err, cause))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, errors.Wrap(nil, errors.ErrBackup, "ignored"))
}

func TestIsErrorCode(t *testing.T) {
	err := errors.Newf(errors.ErrIntegrity, "checksum mismatch: %s", "abc")

	assert.True(t, errors.IsErrorCode(err, errors.ErrIntegrity))
	assert.False(t, errors.IsErrorCode(err, errors.ErrValidation))
	assert.False(t, errors.IsErrorCode(fmt.Errorf("plain"), errors.ErrIntegrity))
}

func TestIsErrorCodeThroughWrapping(t *testing.T) {
	inner := errors.New(errors.ErrBackup, "copy failed")
	outer := fmt.Errorf("sync aborted: %w", inner)

	assert.True(t, errors.IsErrorCode(outer, errors.ErrBackup))
}

func TestWithDetail(t *testing.T) {
	err := errors.New(errors.ErrValidation, "failed to validate").
		WithDetail("exit_status", 2).
		WithDetail("stderr", "syntax error")

	details := errors.GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, 2, details["exit_status"])
	assert.Equal(t, "syntax error", details["stderr"])
}

func TestGetErrorCodeUnknown(t *testing.T) {
	assert.Equal(t, errors.ErrUnknown, errors.GetErrorCode(fmt.Errorf("plain")))
}
