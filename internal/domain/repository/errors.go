package repository

import "errors"

var (
	// ErrMalformedTick marks a tick dropped at the ingestion boundary.
	ErrMalformedTick = errors.New("malformed tick")
	// ErrInvalidThreshold is returned for negative or non-finite thresholds.
	ErrInvalidThreshold = errors.New("invalid threshold")
	ErrUnknownTier      = errors.New("unknown market cap tier")
	ErrUnknownExchange  = errors.New("unknown exchange")
	// ErrUnsupported is returned by connectors lacking a capability.
	ErrUnsupported = errors.New("operation not supported by connector")
)
