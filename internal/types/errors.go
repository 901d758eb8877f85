// internal/types/errors.go
package types

import "errors"

var (
	// ErrNaiveTimestamp is returned when a timestamp carries no zone offset.
	ErrNaiveTimestamp = errors.New("timestamp has no timezone information")
	// ErrNegativeDelta is returned by the summary store for deltas below zero.
	ErrNegativeDelta = errors.New("negative duration delta")
	// ErrMissingLedger is returned when a session is closed without a keep-alive ledger.
	ErrMissingLedger = errors.New("session has no keep-alive ledger")
	ErrQueueFull     = errors.New("queue full")
	ErrJournalFull   = errors.New("recovery journal full")
	ErrClosed        = errors.New("closed")
	ErrUnknownKind   = errors.New("unknown session kind")
)
