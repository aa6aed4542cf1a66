// Package replicaset bootstraps the document store's replica set: it
// validates the desired topology, initiates formation through the seed
// member and polls until the set reaches a healthy steady state.
package replicaset

import (
	"fmt"

	"github.com/datapipelabs/changegate/storeclient"
)

// Member describes one replica set member. A Priority of zero makes the
// member ineligible for election to primary.
type Member struct {
	ID       int
	Host     string
	Port     int
	Priority float64
}

func (m Member) Electable() bool {
	return m.Priority > 0
}

func (m Member) Address() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// Topology is the desired replica set layout. It is immutable once built,
// reconfiguration of a formed set is a separate administrative concern.
type Topology struct {
	SetID   string
	Members []Member
}

func (t *Topology) Validate() error {
	if t.SetID == "" {
		return fmt.Errorf("%w: set id must not be empty", ErrInvalidTopology)
	}
	if len(t.Members) == 0 {
		return fmt.Errorf("%w: at least one member is required", ErrInvalidTopology)
	}

	seenIDs := make(map[int]struct{}, len(t.Members))
	electable := 0
	for _, member := range t.Members {
		if _, ok := seenIDs[member.ID]; ok {
			return fmt.Errorf("%w: duplicate member id %d", ErrInvalidTopology, member.ID)
		}
		seenIDs[member.ID] = struct{}{}

		if member.Host == "" {
			return fmt.Errorf("%w: member %d has no host", ErrInvalidTopology, member.ID)
		}
		if member.Port <= 0 || member.Port > 65535 {
			return fmt.Errorf("%w: member %d has invalid port %d", ErrInvalidTopology, member.ID, member.Port)
		}
		if member.Priority < 0 {
			return fmt.Errorf("%w: member %d has negative priority", ErrInvalidTopology, member.ID)
		}
		if member.Electable() {
			electable++
		}
	}

	if electable == 0 {
		return fmt.Errorf("%w: no electable members", ErrInvalidTopology)
	}

	return nil
}

// Seed returns the member used for bootstrap connections.
func (t *Topology) Seed() Member {
	return t.Members[0]
}

func (t *Topology) formationConfig() *storeclient.FormationConfig {
	cfg := &storeclient.FormationConfig{
		SetID:   t.SetID,
		Members: make([]storeclient.FormationMember, len(t.Members)),
	}
	for i, member := range t.Members {
		cfg.Members[i] = storeclient.FormationMember{
			ID:       member.ID,
			Host:     member.Address(),
			Priority: member.Priority,
		}
	}
	return cfg
}
