package domain

import "errors"

// User-input validation failures. They are returned wrapped with context and
// compared with errors.Is.
var (
	ErrEmptyIdentifier    = errors.New("identifier must not be empty")
	ErrAlreadyBlocked     = errors.New("site is already in the block list")
	ErrRedirectTarget     = errors.New("the redirect destination cannot be added to the block list")
	ErrNotBlocked         = errors.New("site is not in the block list")
	ErrDebugModeRequired  = errors.New("debug mode is required to cancel immediately")
	ErrInvalidTransition  = errors.New("transition not allowed from the current state")
	ErrUnknownTemplate    = errors.New("unknown warning template")
	ErrNoPendingCountdown = errors.New("no deletion countdown is running for this site")
)
