package domainerrors

import "errors"

// Code represents a domain error category independent of any transport or UI.
// These codes describe what went wrong in persistence-layer terms.
type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failed"
	CodeInternal     Code = "internal_error"
	CodeInvalidState Code = "invalid_state"
	CodeUnavailable  Code = "unavailable"

	// Persistence and crypto error codes.
	CodeRateLimit     Code = "rate_limit_exceeded"
	CodeEncryption    Code = "encryption_failure"
	CodeDecryption    Code = "decryption_failure"
	CodeIntegrity     Code = "integrity_mismatch"
	CodeSchemaVersion Code = "schema_version_mismatch" // non-fatal on reads, logged only
	CodeStorageQuota  Code = "storage_quota_exceeded"
	CodeMalformedBlob Code = "malformed_backup_blob"

	// CodePartialErasure aggregates per-key failures from an erasure run.
	// The failed keys are carried by ErasureFailure, retrievable with errors.As.
	CodePartialErasure Code = "partial_erasure"
)

// Error wraps domain or infrastructure failures with a stable code.
// It is transport-agnostic and can be used across service, store, and other layers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code is preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		// Preserve the original domain code, update message
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// KeyFailure records a single key that could not be erased.
type KeyFailure struct {
	Key    string
	Reason string
}

// ErasureFailure carries the per-key failures of a partial erasure. Every
// catalogued key is attempted exactly once; this lists the ones that failed.
type ErasureFailure struct {
	Failed []KeyFailure
}

func (e *ErasureFailure) Error() string {
	return "erasure incomplete"
}

// NewPartialErasure builds the aggregate erasure error.
func NewPartialErasure(failed []KeyFailure) error {
	return &Error{
		Code:    CodePartialErasure,
		Message: "one or more keys could not be erased",
		Err:     &ErasureFailure{Failed: failed},
	}
}
