package etcdmemberlist

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	etcd "go.etcd.io/etcd/client/v3"
)

type ElectionOptions struct {
	EtcdClient *etcd.Client
	KeyPrefix  string

	// LeasePeriod bounds how long a crashed leader blocks its successor.
	LeasePeriod time.Duration
}

// Election elects a single leader per key among competing instances. The
// winner is whoever creates the leader key first, everyone else waits for
// that key to disappear and tries again.
type Election struct {
	etcdClient  *etcd.Client
	keyPrefix   string
	leasePeriod time.Duration
}

func NewElection(opts ElectionOptions) (*Election, error) {
	if opts.EtcdClient == nil {
		return nil, errors.New("etcd client must be specified")
	}

	leasePeriod := opts.LeasePeriod
	if leasePeriod == 0 {
		leasePeriod = 5 * time.Second
	}
	if leasePeriod < 5*time.Second {
		return nil, errors.New("lease period must be at least 5 seconds")
	}

	return &Election{
		etcdClient:  opts.EtcdClient,
		keyPrefix:   opts.KeyPrefix,
		leasePeriod: leasePeriod,
	}, nil
}

// Campaign blocks until this instance holds the leader key for electionKey
// or ctx is cancelled. The returned leadership stays valid until Resign is
// called or the underlying lease is lost.
func (e *Election) Campaign(ctx context.Context, electionKey string, memberID string) (*Leadership, error) {
	key := e.keyPrefix + "/" + electionKey

	for {
		lease, err := e.etcdClient.Lease.Grant(ctx, int64(e.leasePeriod/time.Second))
		if err != nil {
			return nil, err
		}

		// Only the first creator of the key wins, a key that already
		// exists means someone else currently leads.
		txn, err := e.etcdClient.Txn(ctx).
			If(etcd.Compare(etcd.CreateRevision(key), "=", 0)).
			Then(etcd.OpPut(key, memberID, etcd.WithLease(lease.ID))).
			Else(etcd.OpGet(key)).
			Commit()
		if err != nil {
			_, _ = e.etcdClient.Lease.Revoke(ctx, lease.ID)
			return nil, err
		}

		if txn.Succeeded {
			leadership, err := e.newLeadership(ctx, key, memberID, lease.ID)
			if err != nil {
				_, _ = e.etcdClient.Lease.Revoke(ctx, lease.ID)
				return nil, err
			}
			return leadership, nil
		}

		// Lost the race. Drop our unused lease and wait for the current
		// leader's key to go away.
		_, _ = e.etcdClient.Lease.Revoke(ctx, lease.ID)

		if err := e.waitForVacancy(ctx, key, txn.Header.Revision); err != nil {
			return nil, err
		}
	}
}

func (e *Election) waitForVacancy(ctx context.Context, key string, fromRevision int64) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchCh := e.etcdClient.Watcher.Watch(watchCtx, key, etcd.WithRev(fromRevision+1))
	for {
		select {
		case watchEvts, ok := <-watchCh:
			if !ok {
				return ctx.Err()
			}
			if err := watchEvts.Err(); err != nil {
				return err
			}
			for _, watchEvt := range watchEvts.Events {
				if watchEvt.Type == mvccpb.DELETE {
					return nil
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Election) newLeadership(ctx context.Context, key string, memberID string, leaseID etcd.LeaseID) (*Leadership, error) {
	kaCh, err := e.etcdClient.Lease.KeepAlive(context.Background(), leaseID)
	if err != nil {
		return nil, err
	}

	l := &Leadership{
		etcdClient: e.etcdClient,
		key:        key,
		memberID:   memberID,
		leaseID:    leaseID,
		lostCh:     make(chan struct{}),
	}

	go func() {
		for range kaCh {
		}
		l.lostOnce.Do(func() { close(l.lostCh) })
	}()

	return l, nil
}

// Leadership is a held election win.
type Leadership struct {
	etcdClient *etcd.Client
	key        string
	memberID   string
	leaseID    etcd.LeaseID
	lostCh     chan struct{}
	lostOnce   sync.Once
}

// Lost closes once the leadership can no longer be maintained. Holders must
// stop acting as leader promptly when this fires.
func (l *Leadership) Lost() <-chan struct{} {
	return l.lostCh
}

// Resign releases the leadership so a standby can take over immediately.
func (l *Leadership) Resign(ctx context.Context) error {
	_, err := l.etcdClient.Lease.Revoke(ctx, l.leaseID)
	if err != nil {
		return err
	}

	l.lostOnce.Do(func() { close(l.lostCh) })

	return nil
}
