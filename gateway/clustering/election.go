package clustering

import (
	"context"

	"github.com/datapipelabs/changegate/contrib/etcdmemberlist"
)

// Leadership is a held claim on a stream key. Exactly one instance holds it
// at a time, standbys block in Campaign until it is released or lost.
type Leadership interface {
	Lost() <-chan struct{}
	Resign(ctx context.Context) error
}

// Elector arbitrates which instance relays a given feed stream. This keeps
// the resume store single-writer even when several instances run.
type Elector interface {
	Campaign(ctx context.Context, streamKey string, memberID string) (Leadership, error)
}

// EtcdElector elects through etcd leases.
type EtcdElector struct {
	election *etcdmemberlist.Election
}

var _ Elector = (*EtcdElector)(nil)

func NewEtcdElector(election *etcdmemberlist.Election) *EtcdElector {
	return &EtcdElector{election: election}
}

func (e *EtcdElector) Campaign(ctx context.Context, streamKey string, memberID string) (Leadership, error) {
	return e.election.Campaign(ctx, streamKey, memberID)
}

// InProcElector always wins immediately. It backs single-instance
// deployments, where there is nobody to lose to.
type InProcElector struct{}

var _ Elector = (*InProcElector)(nil)

func NewInProcElector() *InProcElector {
	return &InProcElector{}
}

func (e *InProcElector) Campaign(ctx context.Context, streamKey string, memberID string) (Leadership, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return &inProcLeadership{lostCh: make(chan struct{})}, nil
}

type inProcLeadership struct {
	lostCh chan struct{}
}

func (l *inProcLeadership) Lost() <-chan struct{} {
	return l.lostCh
}

func (l *inProcLeadership) Resign(ctx context.Context) error {
	select {
	case <-l.lostCh:
	default:
		close(l.lostCh)
	}
	return nil
}
