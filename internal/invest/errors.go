package invest

import "errors"

// Domain-level error values returned by the lifecycle service.
var (
	ErrInvalidServiceConfig = errors.New("invalid service config")
	ErrNotDue               = errors.New("investment has not reached its end date")
	ErrInvalidPenalty       = errors.New("invalid cancellation penalty")
)
