package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrExecutionFailed    = errors.New("query execution failed")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrUnsafeSQL          = errors.New("unsafe sql rejected")
)
