package replicaset

import (
	"testing"

	"github.com/datapipelabs/changegate/storeclient"
	"github.com/datapipelabs/changegate/testutils"
	"github.com/stretchr/testify/require"
)

func TestDeriveStatus(t *testing.T) {
	require.Equal(t, StatusUnformed, DeriveStatus(nil))
	require.Equal(t, StatusUnformed, DeriveStatus(testutils.UnformedFormation()))

	require.Equal(t, StatusForming,
		DeriveStatus(testutils.FormingFormation("demo-rs", "a:1", "b:1", "c:1")))

	require.Equal(t, StatusHealthy,
		DeriveStatus(testutils.HealthyFormation("demo-rs", "a:1", "b:1", "c:1")))

	require.Equal(t, StatusDegraded,
		DeriveStatus(testutils.DegradedFormation("demo-rs", "a:1", "b:1", "c:1")))
}

func TestDeriveStatusMultiplePrimaries(t *testing.T) {
	state := testutils.HealthyFormation("demo-rs", "a:1", "b:1")
	state.Members[1].Primary = true
	state.Members[1].State = "PRIMARY"
	require.Equal(t, StatusDegraded, DeriveStatus(state))
}

func TestDeriveStatusElectionPending(t *testing.T) {
	// All members up but none primary yet, the election has not completed.
	// Not healthy, but converging rather than impaired.
	state := &storeclient.FormationState{
		Initialized: true,
		SetID:       "demo-rs",
		Members: []storeclient.MemberState{
			{ID: 0, Host: "a:1", State: "SECONDARY", Healthy: true},
			{ID: 1, Host: "b:1", State: "SECONDARY", Healthy: true},
		},
	}
	require.Equal(t, StatusForming, DeriveStatus(state))
}
