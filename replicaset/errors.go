package replicaset

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/datapipelabs/changegate/storeclient"
)

var (
	ErrInvalidTopology  = errors.New("invalid topology")
	ErrSeedUnreachable  = errors.New("seed member unreachable")
	ErrFormationTimeout = errors.New("formation timed out")
)

// SeedUnreachableError is returned when the seed member could not be reached
// within the retry budget. It unwraps to the final connection error.
type SeedUnreachableError struct {
	Address string
	Cause   error
}

func (e *SeedUnreachableError) Error() string {
	return fmt.Sprintf("seed member %s unreachable: %s", e.Address, e.Cause)
}

func (e *SeedUnreachableError) Unwrap() error {
	return e.Cause
}

func (e *SeedUnreachableError) Is(target error) bool {
	return target == ErrSeedUnreachable
}

// FormationTimeoutError is returned when the replica set did not reach a
// healthy state before the formation deadline. It carries the last observed
// member states for diagnosis.
type FormationTimeoutError struct {
	Timeout    time.Duration
	LastStatus Status
	Members    []storeclient.MemberState
}

func (e *FormationTimeoutError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "formation timed out after %s (last status: %s)", e.Timeout, e.LastStatus)
	for _, member := range e.Members {
		fmt.Fprintf(&sb, "; member %d %s: %s", member.ID, member.Host, member.State)
	}
	return sb.String()
}

func (e *FormationTimeoutError) Is(target error) bool {
	return target == ErrFormationTimeout
}
