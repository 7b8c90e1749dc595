package domain

import "errors"

// Sentinel errors shared by use cases and transports.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmptyQuery         = errors.New("query is required")
	ErrMissingCredentials = errors.New("embedding provider credentials are not configured")
	ErrJobBusy            = errors.New("job is already being processed")
	ErrContentTooShort    = errors.New("content too short")
	ErrStatusConflict     = errors.New("job status does not allow this transition")
	ErrArticleChanged     = errors.New("article content changed since it was read")
	ErrLeaseLost          = errors.New("lock lease lost")
)
