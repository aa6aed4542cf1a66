package watcher

import (
	"time"

	"github.com/datapipelabs/changegate/feed"
)

// State identifies where the watcher is in its lifecycle.
type State uint32

const (
	StateStopped State = iota
	StateStarting
	StateStreaming
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	}
	return "invalid"
}

// Snapshot is one observation of the watcher's state, published on every
// transition and after every delivered event.
type Snapshot struct {
	State State

	// LastToken is the most recently committed resume position.
	LastToken feed.Token

	// LastEventAt is when the last event was delivered.
	LastEventAt time.Time

	NumDelivered uint64

	// Err is the halt cause once State is StateStopped, nil for a clean
	// shutdown.
	Err error
}
