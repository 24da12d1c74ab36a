package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrVersionConflict   = errors.New("version conflict")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrLockHeld          = errors.New("lock already held")
	ErrCycleInFlight     = errors.New("settlement cycle already running")
	ErrCycleStuck        = errors.New("settlement cycle exceeded sanity timeout")
)

// LockHeldError reports a lock owned by another holder. Since is when that
// holder acquired it, zero when the lock value does not record it.
type LockHeldError struct {
	Key   string
	Since time.Time
}

func (e *LockHeldError) Error() string {
	if e.Since.IsZero() {
		return fmt.Sprintf("lock %s: %v", e.Key, ErrLockHeld)
	}
	return fmt.Sprintf("lock %s: %v since %s", e.Key, ErrLockHeld, e.Since.UTC().Format(time.RFC3339))
}

func (e *LockHeldError) Unwrap() error { return ErrLockHeld }
