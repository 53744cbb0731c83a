package apperrors

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrInvalidInput           = errors.New("invalid input")
	ErrSyncDisabled           = errors.New("catalog sync is disabled")
	ErrNotConfigured          = errors.New("catalog base url is not configured")
	ErrUnsupportedEngine      = errors.New("unsupported database engine")
	ErrCredentialsKeyMismatch = errors.New("database credentials were encrypted with a different key")
)
