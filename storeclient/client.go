// Package storeclient defines the capability surface we require from the
// document store: formation inspection, one-shot initiation and resumable
// change feeds. The concrete wire client lives in the mongoclient
// subpackage, everything above this interface stays store-agnostic.
package storeclient

import (
	"context"

	"github.com/datapipelabs/changegate/feed"
)

// FormationMember is one member of the formation config submitted to the
// store when initiating a replica set.
type FormationMember struct {
	ID       int
	Host     string
	Priority float64
}

// FormationConfig is the replica set layout submitted on initiation.
type FormationConfig struct {
	SetID   string
	Members []FormationMember
}

// MemberState is the store's view of a single replica set member.
type MemberState struct {
	ID      int
	Host    string
	State   string
	Healthy bool
	Primary bool
}

// FormationState is the store's view of the replica set as a whole. When
// Initialized is false the other fields are empty.
type FormationState struct {
	Initialized bool
	SetID       string
	Members     []MemberState
}

// PrimaryCount returns how many members currently claim the primary role.
func (s *FormationState) PrimaryCount() int {
	count := 0
	for _, member := range s.Members {
		if member.Primary {
			count++
		}
	}
	return count
}

// AllHealthy reports whether every member is up and participating.
func (s *FormationState) AllHealthy() bool {
	if len(s.Members) == 0 {
		return false
	}
	for _, member := range s.Members {
		if !member.Healthy {
			return false
		}
	}
	return true
}

// ChangeFeedOptions position and scope a change feed.
type ChangeFeedOptions struct {
	Database   string
	Collection string

	// ResumeAfter positions the feed just after the given token. Zero means
	// start at the current end of the feed.
	ResumeAfter feed.Token

	// InsertsOnly pushes an insert-only filter to the store. Consumers still
	// re-check operations locally.
	InsertsOnly bool
}

// ChangeFeed is an open, ordered stream of store changes.
type ChangeFeed interface {
	// Next blocks until a change arrives, the feed fails or ctx is
	// cancelled. A feed whose resume position has fallen out of the store's
	// history returns ErrHistoryLost.
	Next(ctx context.Context) (*feed.RawChange, error)

	Close(ctx context.Context) error
}

// Client is a connection to the document store, pinned to the seed member
// during bootstrap.
type Client interface {
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// GetFormationState reports the current replica set formation. An
	// uninitialized store yields Initialized=false rather than an error.
	GetFormationState(ctx context.Context) (*FormationState, error)

	// Initiate submits the formation config. A store that is already
	// initialized, or racing another initiation, returns
	// ErrAlreadyInitialized.
	Initiate(ctx context.Context, cfg *FormationConfig) error

	OpenChangeFeed(ctx context.Context, opts *ChangeFeedOptions) (ChangeFeed, error)

	Close(ctx context.Context) error
}
