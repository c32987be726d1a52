package model

import "errors"

var (
	ErrUnauthenticated       = errors.New("model: unauthenticated")
	ErrUnverified            = errors.New("model: unverified")
	ErrPermissionDenied      = errors.New("model: permission denied")
	ErrNotFound              = errors.New("model: not found")
	ErrConflict              = errors.New("model: conflict")
	ErrInvalidInput          = errors.New("model: invalid input")
	ErrPermissionCheckFailed = errors.New("model: permission check failed")
	ErrStoreFailure          = errors.New("model: store failure")
	ErrTransactionAborted    = errors.New("model: transaction aborted")
)
