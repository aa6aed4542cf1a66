package testutils

import (
	"github.com/datapipelabs/changegate/storeclient"
)

// UnformedFormation is the store's view before any initiation.
func UnformedFormation() *storeclient.FormationState {
	return &storeclient.FormationState{Initialized: false}
}

// FormingFormation builds a snapshot where every member is still syncing.
func FormingFormation(setID string, hosts ...string) *storeclient.FormationState {
	state := &storeclient.FormationState{
		Initialized: true,
		SetID:       setID,
	}
	for i, host := range hosts {
		state.Members = append(state.Members, storeclient.MemberState{
			ID:      i,
			Host:    host,
			State:   "STARTUP2",
			Healthy: false,
		})
	}
	return state
}

// HealthyFormation builds a snapshot with the first member primary and the
// rest secondaries, all healthy.
func HealthyFormation(setID string, hosts ...string) *storeclient.FormationState {
	state := &storeclient.FormationState{
		Initialized: true,
		SetID:       setID,
	}
	for i, host := range hosts {
		memberState := "SECONDARY"
		if i == 0 {
			memberState = "PRIMARY"
		}
		state.Members = append(state.Members, storeclient.MemberState{
			ID:      i,
			Host:    host,
			State:   memberState,
			Healthy: true,
			Primary: i == 0,
		})
	}
	return state
}

// DegradedFormation builds a snapshot with one member down and no primary.
func DegradedFormation(setID string, hosts ...string) *storeclient.FormationState {
	state := &storeclient.FormationState{
		Initialized: true,
		SetID:       setID,
	}
	for i, host := range hosts {
		memberState := "SECONDARY"
		healthy := true
		if i == len(hosts)-1 {
			memberState = "DOWN"
			healthy = false
		}
		state.Members = append(state.Members, storeclient.MemberState{
			ID:      i,
			Host:    host,
			State:   memberState,
			Healthy: healthy,
		})
	}
	return state
}
