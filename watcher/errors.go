package watcher

import (
	"errors"
	"fmt"

	"github.com/datapipelabs/changegate/feed"
)

var (
	// ErrResumeTokenExpired indicates the committed resume position has
	// fallen out of the store's retained history. Resuming would silently
	// skip events, so the watcher halts instead and an operator must decide
	// where to restart from.
	ErrResumeTokenExpired = errors.New("resume token expired")
)

// ResumeTokenExpiredError carries the expired position for diagnostics. It
// satisfies errors.Is(err, ErrResumeTokenExpired).
type ResumeTokenExpiredError struct {
	Token feed.Token
	Cause error
}

func (e *ResumeTokenExpiredError) Error() string {
	return fmt.Sprintf("resume token %q expired: %s", e.Token, e.Cause)
}

func (e *ResumeTokenExpiredError) Unwrap() error {
	return e.Cause
}

func (e *ResumeTokenExpiredError) Is(target error) bool {
	return target == ErrResumeTokenExpired
}
