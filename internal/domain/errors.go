package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrGatewayUnavailable is returned when the monitor reports the gateway as disconnected.
	ErrGatewayUnavailable = errors.New("gateway unavailable")
)
