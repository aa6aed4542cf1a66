package mongoclient

import (
	"context"

	"github.com/datapipelabs/changegate/storeclient"
	"go.mongodb.org/mongo-driver/bson"
)

type formationConfig struct {
	ID      string            `bson:"_id"`
	Members []formationMember `bson:"members"`
}

type formationMember struct {
	ID       int     `bson:"_id"`
	Host     string  `bson:"host"`
	Priority float64 `bson:"priority"`
}

type formationStatus struct {
	Set     string                  `bson:"set"`
	MyState int                     `bson:"myState"`
	Members []formationStatusMember `bson:"members"`
}

type formationStatusMember struct {
	ID       int     `bson:"_id"`
	Name     string  `bson:"name"`
	Health   float64 `bson:"health"`
	State    int     `bson:"state"`
	StateStr string  `bson:"stateStr"`
}

// Replica set member states, per the store's replica-states reference.
const (
	memberStateStartup    = 0
	memberStatePrimary    = 1
	memberStateSecondary  = 2
	memberStateRecovering = 3
	memberStateStartup2   = 5
	memberStateUnknown    = 6
	memberStateArbiter    = 7
	memberStateDown       = 8
	memberStateRollback   = 9
	memberStateRemoved    = 10
)

func memberParticipating(state int) bool {
	switch state {
	case memberStatePrimary, memberStateSecondary, memberStateArbiter:
		return true
	}
	return false
}

func (c *Client) GetFormationState(ctx context.Context) (*storeclient.FormationState, error) {
	res := c.client.Database("admin").RunCommand(ctx, bson.D{
		{Key: "replSetGetStatus", Value: 1},
	})

	var status formationStatus
	if err := res.Decode(&status); err != nil {
		// An uninitialized member reports NotYetInitialized, which is a
		// valid formation state rather than a failure.
		if hasServerErrorCode(err, codeNotYetInitialized) {
			return &storeclient.FormationState{Initialized: false}, nil
		}
		return nil, mapStoreError(err)
	}

	state := &storeclient.FormationState{
		Initialized: true,
		SetID:       status.Set,
		Members:     make([]storeclient.MemberState, len(status.Members)),
	}
	for i, member := range status.Members {
		state.Members[i] = storeclient.MemberState{
			ID:      member.ID,
			Host:    member.Name,
			State:   member.StateStr,
			Healthy: member.Health == 1 && memberParticipating(member.State),
			Primary: member.State == memberStatePrimary,
		}
	}

	return state, nil
}

func (c *Client) Initiate(ctx context.Context, cfg *storeclient.FormationConfig) error {
	configDoc := formationConfig{
		ID:      cfg.SetID,
		Members: make([]formationMember, len(cfg.Members)),
	}
	for i, member := range cfg.Members {
		configDoc.Members[i] = formationMember{
			ID:       member.ID,
			Host:     member.Host,
			Priority: member.Priority,
		}
	}

	res := c.client.Database("admin").RunCommand(ctx, bson.D{
		{Key: "replSetInitiate", Value: configDoc},
	})
	if err := res.Err(); err != nil {
		return mapStoreError(err)
	}

	return nil
}
