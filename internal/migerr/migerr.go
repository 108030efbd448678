// Package migerr defines the abstract error kinds carried alongside every
// failure record in the migration pipeline.
package migerr

import (
	"errors"
	"fmt"
)

// Kind is an abstract error category. It does not replace Go's error
// wrapping; it rides alongside it so the pipeline can decide retry and
// reporting behavior without string-matching error messages.
type Kind string

const (
	ConfigInvalid      Kind = "ConfigInvalid"
	AuthFailed         Kind = "AuthFailed"
	NetworkTransient   Kind = "NetworkTransient"
	QuotaExceeded      Kind = "QuotaExceeded"
	IMAPProtocol       Kind = "IMAPProtocol"
	ParseError         Kind = "ParseError"
	EvidenceIO         Kind = "EvidenceIO"
	EvidenceCorruption Kind = "EvidenceCorruption"
	RemoteRejected     Kind = "RemoteRejected"
	Interrupted        Kind = "Interrupted"
)

// Retryable reports whether an error of this kind should be retried inside
// the component that raised it, rather than surfaced to the pipeline.
func (k Kind) Retryable() bool {
	switch k {
	case NetworkTransient, QuotaExceeded, IMAPProtocol:
		return true
	default:
		return false
	}
}

// Permanent reports whether an error of this kind aborts the whole run
// rather than just the one row.
func (k Kind) Permanent() bool {
	switch k {
	case ConfigInvalid, AuthFailed:
		return true
	default:
		return false
	}
}

// Error wraps an underlying error with a Kind, following the same
// fmt.Errorf("%w", err)-wrapping convention used throughout the codebase.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind and operation label.
func New(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// As extracts the Kind of err, if any migerr.Error wraps it. ok is false if
// err (or anything it wraps) is not a *migerr.Error.
func As(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
