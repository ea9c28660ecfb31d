// Package errors_test exercises AppError, its factories and chain helpers.
package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// New / Wrap
// ─────────────────────────────────────────────────────────────────────────────

func TestNew_FieldsAreSetCorrectly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		code    errors.ErrorCode
		message string
	}{
		{"internal error", errors.ErrCodeInternal, "unexpected failure"},
		{"invalid input", errors.ErrCodeInvalidInput, "document text is empty"},
		{"pattern load", errors.ErrCodePatternLoad, "confidence out of range"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ae := errors.New(tc.code, tc.message)
			require.NotNil(t, ae)
			assert.Equal(t, tc.code, ae.Code)
			assert.Equal(t, tc.message, ae.Message)
			assert.Empty(t, ae.Detail)
			assert.Nil(t, ae.Cause)
		})
	}
}

func TestNewf_FormatsMessage(t *testing.T) {
	t.Parallel()

	ae := errors.Newf(errors.ErrCodeInvalidInput, "text exceeds %d bytes", 10)
	assert.Equal(t, "text exceeds 10 bytes", ae.Message)
}

func TestWrap_NilErrReturnsNil(t *testing.T) {
	t.Parallel()

	assert.Nil(t, errors.Wrap(nil, errors.ErrCodeInternal, "ignored"))
}

func TestWrap_CauseChainIsPreserved(t *testing.T) {
	t.Parallel()

	root := stderrors.New("connection refused")
	ae := errors.Wrap(root, errors.ErrCodeStageBackend, "stage call failed")

	require.NotNil(t, ae)
	assert.True(t, stderrors.Is(ae, root))
	assert.Equal(t, root, stderrors.Unwrap(ae))
}

func TestWrap_UnknownCodePreservesOriginal(t *testing.T) {
	t.Parallel()

	inner := errors.New(errors.ErrCodeStageTimeout, "validation timed out")
	outer := errors.Wrap(inner, errors.CodeUnknown, "stage skipped")
	assert.Equal(t, errors.ErrCodeStageTimeout, outer.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Error()
// ─────────────────────────────────────────────────────────────────────────────

func TestError_Format(t *testing.T) {
	t.Parallel()

	ae := errors.New(errors.ErrCodeInvalidInput, "document rejected")
	assert.Equal(t, "[EXTRACT_001] document rejected", ae.Error())

	withDetail := ae.WithDetail("size=0")
	assert.Equal(t, "[EXTRACT_001] document rejected: size=0", withDetail.Error())

	withCause := errors.Wrap(fmt.Errorf("boom"), errors.ErrCodeInternal, "failed")
	assert.Equal(t, "[COMMON_001] failed: boom", withCause.Error())
}

func TestWithDetail_NilReceiver(t *testing.T) {
	t.Parallel()

	var ae *errors.AppError
	assert.Nil(t, ae.WithDetail("x"))
	assert.Nil(t, ae.WithCause(stderrors.New("x")))
}

func TestWithDetail_DoesNotMutateOriginal(t *testing.T) {
	t.Parallel()

	ae := errors.New(errors.ErrCodeInternal, "base")
	_ = ae.WithDetail("detail")
	assert.Empty(t, ae.Detail)
}

// ─────────────────────────────────────────────────────────────────────────────
// Chain helpers
// ─────────────────────────────────────────────────────────────────────────────

func TestIsCode(t *testing.T) {
	t.Parallel()

	ae := errors.New(errors.ErrCodeMatchFault, "pattern panicked")
	wrapped := fmt.Errorf("matcher: %w", ae)

	assert.True(t, errors.IsCode(wrapped, errors.ErrCodeMatchFault))
	assert.False(t, errors.IsCode(wrapped, errors.ErrCodeInternal))
	assert.False(t, errors.IsCode(nil, errors.ErrCodeInternal))
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	assert.True(t, errors.IsNotFound(errors.NotFound("missing")))
	assert.False(t, errors.IsNotFound(errors.Internal("boom")))
}

func TestGetCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, errors.CodeOK, errors.GetCode(nil))
	assert.Equal(t, errors.CodeUnknown, errors.GetCode(stderrors.New("plain")))
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(errors.InvalidInput("empty")))
}

func TestIs_SentinelMatchesCopies(t *testing.T) {
	t.Parallel()

	sentinel := errors.New(errors.ErrCodeNotFound, "cache miss")
	copyWithDetail := sentinel.WithDetail("key=abc")

	assert.True(t, errors.Is(copyWithDetail, sentinel))
	assert.False(t, errors.Is(errors.New(errors.ErrCodeNotFound, "other"), sentinel))
}

func TestConvenienceFactories(t *testing.T) {
	t.Parallel()

	cases := map[errors.ErrorCode]*errors.AppError{
		errors.ErrCodeNotFound:           errors.NotFound("x"),
		errors.ErrCodeBadRequest:         errors.InvalidParam("x"),
		errors.ErrCodeInvalidInput:       errors.InvalidInput("x"),
		errors.ErrCodeInternal:           errors.Internal("x"),
		errors.ErrCodeServiceUnavailable: errors.Unavailable("x"),
		errors.ErrCodeTooManyRequests:    errors.RateLimit("x"),
	}
	for code, ae := range cases {
		assert.Equal(t, code, ae.Code)
	}
}

//Personal.AI order the ending
