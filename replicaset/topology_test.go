package replicaset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validTopology() *Topology {
	return &Topology{
		SetID: "demo-rs",
		Members: []Member{
			{ID: 0, Host: "store-a", Port: 27017, Priority: 1},
			{ID: 1, Host: "store-b", Port: 27017, Priority: 0.5},
			{ID: 2, Host: "store-c", Port: 27017, Priority: 0.5},
		},
	}
}

func TestTopologyValidate(t *testing.T) {
	require.NoError(t, validTopology().Validate())

	t.Run("EmptySetID", func(t *testing.T) {
		topo := validTopology()
		topo.SetID = ""
		require.ErrorIs(t, topo.Validate(), ErrInvalidTopology)
	})

	t.Run("NoMembers", func(t *testing.T) {
		topo := &Topology{SetID: "demo-rs"}
		require.ErrorIs(t, topo.Validate(), ErrInvalidTopology)
	})

	t.Run("DuplicateMemberID", func(t *testing.T) {
		topo := validTopology()
		topo.Members[2].ID = 0
		require.ErrorIs(t, topo.Validate(), ErrInvalidTopology)
	})

	t.Run("NegativePriority", func(t *testing.T) {
		topo := validTopology()
		topo.Members[1].Priority = -1
		require.ErrorIs(t, topo.Validate(), ErrInvalidTopology)
	})

	t.Run("NoElectableMembers", func(t *testing.T) {
		topo := validTopology()
		for i := range topo.Members {
			topo.Members[i].Priority = 0
		}
		require.ErrorIs(t, topo.Validate(), ErrInvalidTopology)
	})

	t.Run("MissingHost", func(t *testing.T) {
		topo := validTopology()
		topo.Members[0].Host = ""
		require.ErrorIs(t, topo.Validate(), ErrInvalidTopology)
	})

	t.Run("InvalidPort", func(t *testing.T) {
		topo := validTopology()
		topo.Members[0].Port = 0
		require.ErrorIs(t, topo.Validate(), ErrInvalidTopology)
	})

	t.Run("ZeroPriorityMemberAllowed", func(t *testing.T) {
		topo := validTopology()
		topo.Members[1].Priority = 0
		require.NoError(t, topo.Validate())
	})
}

func TestTopologyFormationConfig(t *testing.T) {
	cfg := validTopology().formationConfig()
	require.Equal(t, "demo-rs", cfg.SetID)
	require.Len(t, cfg.Members, 3)
	require.Equal(t, "store-a:27017", cfg.Members[0].Host)
	require.Equal(t, 1.0, cfg.Members[0].Priority)
	require.Equal(t, "store-c:27017", cfg.Members[2].Host)
}

func TestTopologySeed(t *testing.T) {
	topo := validTopology()
	require.Equal(t, "store-a:27017", topo.Seed().Address())
}
