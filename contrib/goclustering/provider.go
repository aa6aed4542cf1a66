package goclustering

import (
	"context"
	"errors"
)

var ErrAlreadyLeft = errors.New("membership has already left")

// Member is one instance registered with the cluster, with whatever
// metadata it published when joining.
type Member struct {
	MemberID string
	MetaData []byte
}

// Snapshot is a point-in-time view of the member set. Revision increases
// with every membership change, later snapshots compare greater.
type Snapshot struct {
	Revision []uint64
	Members  []*Member
}

type Membership interface {
	UpdateMetaData(ctx context.Context, metaData []byte) error
	Leave(ctx context.Context) error
}

/*
Note that the Join/Leave calls must not be called concurrently.  It is however
safe to concurrently call Join or Leave alongside Watch/Get calls.
*/
type Provider interface {
	Join(ctx context.Context, memberID string, metaData []byte) (Membership, error)

	Watch(ctx context.Context) (chan *Snapshot, error)
	Get(ctx context.Context) (*Snapshot, error)
}
