package verifier

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	assert.Equal(t, uint32(1), CodeBuilder)
	assert.Equal(t, uint32(2), CodeVerificationFailed)
	assert.Equal(t, uint32(3), CodeTrustRootLoadingFailed)
	assert.Equal(t, uint32(4), CodeInternal)
}

func TestErrorWireShape(t *testing.T) {
	wire := VerificationError("chain mismatch at height %d", 42).Wire()
	assert.Equal(t, "verifier", wire.Module)
	assert.Equal(t, CodeVerificationFailed, wire.Code)
	assert.Equal(t, "verification: chain mismatch at height 42", wire.Message)
}

func TestErrorMatchingByCode(t *testing.T) {
	err := fmt.Errorf("sync failed: %w", ErrTrustRootLoadingFailed)
	assert.True(t, errors.Is(err, ErrTrustRootLoadingFailed))
	assert.False(t, errors.Is(err, ErrInternal))
	assert.Equal(t, CodeTrustRootLoadingFailed, ErrorCode(err))

	// Two independently constructed errors with the same code match.
	assert.True(t, errors.Is(VerificationError("a"), VerificationError("b")))
}

func TestErrorCodeOfForeignError(t *testing.T) {
	require.Equal(t, uint32(0), ErrorCode(errors.New("not ours")))
	require.Equal(t, uint32(0), ErrorCode(nil))
}

func TestConstructorMessages(t *testing.T) {
	assert.Equal(t, "builder: boom", BuilderError(errors.New("boom")).Error())
	assert.Equal(t, "internal consensus verifier error: boom", InternalError(errors.New("boom")).Error())
}
