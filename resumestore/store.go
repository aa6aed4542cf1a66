// Package resumestore persists the change feed resume position so a relay
// can continue from its last confirmed delivery after a restart.
package resumestore

import (
	"context"
	"time"

	"github.com/datapipelabs/changegate/feed"
)

// Position is a committed resume position.
type Position struct {
	Token       feed.Token
	PersistedAt time.Time
}

// Store persists resume positions for a single feed stream. Implementations
// assume one writer at a time, concurrent writers are arbitrated above this
// layer.
type Store interface {
	// Load returns the most recently committed position, or found=false
	// when nothing has been committed yet.
	Load(ctx context.Context) (Position, bool, error)

	// Commit durably records token and must not return before the position
	// would survive a process crash. Committing a token at or before the
	// stored position is a logged no-op, duplicate delivery rounds after a
	// reconnect make those expected.
	Commit(ctx context.Context, token feed.Token) error

	Close() error
}
