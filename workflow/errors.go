package workflow

import "errors"

var (
	// ErrInvalidState means a lock precondition was violated: the caller does
	// not currently hold the queue item it is acting on.
	ErrInvalidState = errors.New("queue item is not locked by this worker")

	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateAction is the anti-collusion guard on not-found reporting:
	// the same worker cannot escalate an item twice in a row.
	ErrDuplicateAction = errors.New("worker already reported this item as not found")
)
