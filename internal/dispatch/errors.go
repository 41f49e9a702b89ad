package dispatch

import "errors"

var (
	ErrUnknownStrategy   = errors.New("dispatch: unknown strategy")
	ErrDuplicateStrategy = errors.New("dispatch: strategy already registered")
	ErrOrderOwned        = errors.New("dispatch: order owned by another strategy")
	ErrNotOwner          = errors.New("dispatch: strategy does not own order")
	ErrUnknownRequest    = errors.New("dispatch: unknown edit request")
	ErrAlreadyResolved   = errors.New("dispatch: edit request already resolved")
	ErrClosed            = errors.New("dispatch: dispatcher closed")
	ErrRunning           = errors.New("dispatch: dispatcher already running")
)
