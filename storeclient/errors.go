package storeclient

import (
	"errors"
)

var (
	// ErrAlreadyInitialized indicates the replica set was already formed
	// when an initiation was submitted. Callers treat this as success.
	ErrAlreadyInitialized = errors.New("replica set already initialized")

	// ErrHistoryLost indicates the feed's resume position has been
	// truncated from the store's history. Resuming from it is impossible.
	ErrHistoryLost = errors.New("change feed history lost")

	// ErrFeedClosed is returned by Next after Close.
	ErrFeedClosed = errors.New("change feed closed")
)
