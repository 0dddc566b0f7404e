package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrRateLimited           = errors.New("rate limited")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrLockHeld              = errors.New("lock already held")
	ErrDraftIncomplete       = errors.New("market draft incomplete")
	ErrInvalidDraft          = errors.New("invalid market draft")
	ErrMaturityBeforeBidding = errors.New("maturity date precedes bidding end")
	ErrNotLoggedIn           = errors.New("account not logged in")
	ErrGasUnknown            = errors.New("gas limit not estimated")
	ErrNothingToClaim        = errors.New("nothing to claim")
	ErrExerciseUnavailable   = errors.New("exercise unavailable")
	ErrSubmitInFlight        = errors.New("submission already in flight")
	ErrWorkflowClosed        = errors.New("workflow closed")
	ErrTxReverted            = errors.New("transaction reverted")
	ErrManagerNotConfigured  = errors.New("market manager not configured")
	ErrInvalidAddress        = errors.New("invalid address")
)
