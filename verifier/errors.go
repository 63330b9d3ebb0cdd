package verifier

import (
	"errors"
	"fmt"

	"github.com/ruteri/enclave-trust-core/interfaces"
)

// ModuleName is the module identifier carried by all wire-visible verifier
// errors.
const ModuleName = "verifier"

// Stable error codes. These are wire-visible and must not be renumbered.
const (
	// CodeBuilder: failed to construct a verification proof. A structural
	// or input problem, not necessarily malicious.
	CodeBuilder uint32 = 1

	// CodeVerificationFailed: cryptographic chain, header-consistency, or
	// attestation mismatch. Treat as a security-relevant rejection.
	CodeVerificationFailed uint32 = 2

	// CodeTrustRootLoadingFailed: no usable trust anchor is configured.
	CodeTrustRootLoadingFailed uint32 = 3

	// CodeInternal: invariant violation inside the verifier.
	CodeInternal uint32 = 4
)

// Error is a verifier error carrying one of the stable codes above.
type Error struct {
	Code    uint32
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Is makes errors.Is match two verifier errors by code, so sentinel
// comparisons work regardless of the wrapped message.
func (e *Error) Is(target error) bool {
	var verr *Error
	if !errors.As(target, &verr) {
		return false
	}
	return e.Code == verr.Code
}

// Wire converts the error to the wire-visible module/code/message shape.
func (e *Error) Wire() interfaces.Error {
	return interfaces.Error{
		Module:  ModuleName,
		Code:    e.Code,
		Message: e.Message,
	}
}

var (
	// ErrTrustRootLoadingFailed is returned when no trust anchor is
	// configured.
	ErrTrustRootLoadingFailed = &Error{
		Code:    CodeTrustRootLoadingFailed,
		Message: "trust root loading failed",
	}

	// ErrInternal is returned on verifier invariant violations.
	ErrInternal = &Error{
		Code:    CodeInternal,
		Message: "internal consensus verifier error",
	}
)

// BuilderError wraps a proof-construction failure.
func BuilderError(err error) *Error {
	return &Error{
		Code:    CodeBuilder,
		Message: fmt.Sprintf("builder: %v", err),
	}
}

// VerificationError creates a verification-failed error.
func VerificationError(format string, args ...interface{}) *Error {
	return &Error{
		Code:    CodeVerificationFailed,
		Message: "verification: " + fmt.Sprintf(format, args...),
	}
}

// InternalError wraps an internal failure with context.
func InternalError(err error) *Error {
	return &Error{
		Code:    CodeInternal,
		Message: fmt.Sprintf("internal consensus verifier error: %v", err),
	}
}

// ErrorCode extracts the verifier error code from an error chain, or 0 if
// the error did not originate here.
func ErrorCode(err error) uint32 {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Code
	}
	return 0
}
