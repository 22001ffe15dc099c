package sentinel

import "errors"

// Sentinel dependency errors. Capability implementations should return these
// (optionally wrapped) so services can translate them into domain errors
// exactly once.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrInvalidState  = errors.New("invalid state")
	ErrUnavailable   = errors.New("unavailable")
)
