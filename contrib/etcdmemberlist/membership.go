package etcdmemberlist

import (
	"context"
	"sync"
	"time"

	etcd "go.etcd.io/etcd/client/v3"
)

type Membership struct {
	etcdClient  *etcd.Client
	keyPrefix   string
	leasePeriod time.Duration
	id          string
	metaData    []byte

	leaseID  etcd.LeaseID
	lostCh   chan struct{}
	lostOnce sync.Once
}

func (m *Membership) key() string {
	return m.keyPrefix + "/" + m.id
}

func (m *Membership) join(ctx context.Context) error {
	leaseTimeoutInSecs := int64(m.leasePeriod / time.Second)

	lease, err := m.etcdClient.Lease.Grant(ctx, leaseTimeoutInSecs)
	if err != nil {
		return err
	}

	leaseID := lease.ID

	// The keep-alive must outlive the join context, its lifetime is the
	// membership's lifetime.
	leaseKaCh, err := m.etcdClient.Lease.KeepAlive(context.Background(), leaseID)
	if err != nil {
		return err
	}

	go func() {
		// the channel closes once the lease can no longer be kept alive,
		// either because we left or because etcd became unreachable for
		// longer than the lease period.
		for range leaseKaCh {
		}

		m.lostOnce.Do(func() { close(m.lostCh) })
	}()

	m.leaseID = leaseID

	_, err = m.etcdClient.KV.Put(ctx, m.key(), string(m.metaData), etcd.WithLease(leaseID))
	if err != nil {
		return err
	}

	return nil
}

// Lost closes once the membership's lease can no longer be maintained. A
// member whose lease is lost has already disappeared from the member list.
func (m *Membership) Lost() <-chan struct{} {
	return m.lostCh
}

func (m *Membership) SetMetaData(ctx context.Context, data []byte) error {
	m.metaData = data

	_, err := m.etcdClient.KV.Put(ctx, m.key(), string(m.metaData), etcd.WithLease(m.leaseID))
	if err != nil {
		return err
	}

	return nil
}

func (m *Membership) Leave(ctx context.Context) error {
	// Revoking the lease removes the member key and stops the keep-alive
	// in one round trip.
	_, err := m.etcdClient.Lease.Revoke(ctx, m.leaseID)
	if err != nil {
		return err
	}

	m.lostOnce.Do(func() { close(m.lostCh) })

	return nil
}
