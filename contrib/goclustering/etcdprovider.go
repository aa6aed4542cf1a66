package goclustering

import (
	"context"
	"errors"

	"github.com/datapipelabs/changegate/contrib/etcdmemberlist"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

type EtcdProviderOptions struct {
	Logger     *zap.Logger
	EtcdClient *clientv3.Client
	KeyPrefix  string
}

type EtcdProvider struct {
	logger *zap.Logger
	ml     *etcdmemberlist.MemberList
}

var _ Provider = (*EtcdProvider)(nil)

func NewEtcdProvider(opts EtcdProviderOptions) (*EtcdProvider, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ml, err := etcdmemberlist.NewMemberList(etcdmemberlist.MemberListOptions{
		EtcdClient: opts.EtcdClient,
		KeyPrefix:  opts.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}

	return &EtcdProvider{
		logger: logger,
		ml:     ml,
	}, nil
}

func (p *EtcdProvider) Join(ctx context.Context, memberID string, metaData []byte) (Membership, error) {
	mb, err := p.ml.Join(ctx, &etcdmemberlist.JoinOptions{
		MemberID: memberID,
		MetaData: metaData,
	})
	if err != nil {
		return nil, err
	}

	return &etcdMembership{mb}, nil
}

type etcdMembership struct {
	ms *etcdmemberlist.Membership
}

func (m *etcdMembership) UpdateMetaData(ctx context.Context, metaData []byte) error {
	return m.ms.SetMetaData(ctx, metaData)
}

func (m *etcdMembership) Leave(ctx context.Context) error {
	return m.ms.Leave(ctx)
}

func (p *EtcdProvider) procMemberList(snap *etcdmemberlist.MembersSnapshot) *Snapshot {
	var members []*Member
	for _, entry := range snap.Members {
		members = append(members, &Member{
			MemberID: entry.MemberID,
			MetaData: entry.MetaData,
		})
	}

	return &Snapshot{
		Revision: []uint64{uint64(snap.Revision)},
		Members:  members,
	}
}

func (p *EtcdProvider) Watch(ctx context.Context) (chan *Snapshot, error) {
	snapEvts, err := p.ml.WatchMembers(ctx)
	if err != nil {
		return nil, err
	}

	// The first snapshot arrives synchronously so that callers see the
	// current membership before any updates.
	firstSnap, ok := <-snapEvts
	if !ok {
		return nil, errors.New("member watch closed before the initial snapshot")
	}

	outputCh := make(chan *Snapshot, 1)
	outputCh <- p.procMemberList(firstSnap)

	go func() {
		defer close(outputCh)

		for snap := range snapEvts {
			select {
			case outputCh <- p.procMemberList(snap):
			case <-ctx.Done():
				// drain so the member list watch can unwind too
				for range snapEvts {
				}
				return
			}
		}
	}()

	return outputCh, nil
}

func (p *EtcdProvider) Get(ctx context.Context) (*Snapshot, error) {
	memberSnap, err := p.ml.Members(ctx)
	if err != nil {
		return nil, err
	}

	return p.procMemberList(memberSnap), nil
}
