package replicaset

import (
	"github.com/datapipelabs/changegate/storeclient"
)

// Status is the derived formation state of the replica set. It is computed
// fresh from each poll, never persisted.
type Status uint32

const (
	StatusUnformed Status = iota
	StatusForming
	StatusHealthy
	StatusDegraded
	StatusUnreachable
)

func (s Status) String() string {
	switch s {
	case StatusUnformed:
		return "unformed"
	case StatusForming:
		return "forming"
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnreachable:
		return "unreachable"
	}
	return "invalid"
}

// Member states that indicate a member is still converging rather than
// failed.
func formingMemberState(state string) bool {
	switch state {
	case "STARTUP", "STARTUP2", "RECOVERING", "UNKNOWN":
		return true
	}
	return false
}

// DeriveStatus classifies a formation snapshot. Healthy requires every
// member up with exactly one primary.
func DeriveStatus(state *storeclient.FormationState) Status {
	if state == nil || !state.Initialized {
		return StatusUnformed
	}
	if state.AllHealthy() && state.PrimaryCount() == 1 {
		return StatusHealthy
	}
	if state.PrimaryCount() > 1 {
		return StatusDegraded
	}

	// Unhealthy members that are merely syncing mean the set is still
	// converging, anything else means it is impaired.
	for _, member := range state.Members {
		if !member.Healthy && !formingMemberState(member.State) {
			return StatusDegraded
		}
	}

	return StatusForming
}
