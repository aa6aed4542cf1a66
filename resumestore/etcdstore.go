package resumestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/datapipelabs/changegate/feed"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

type EtcdStoreOptions struct {
	Logger *zap.Logger

	// EtcdClient is the shared client, the store does not own it.
	EtcdClient *clientv3.Client

	KeyPrefix string
	StreamKey string
}

// EtcdStore keeps resume positions in etcd. Useful when a deployment already
// runs etcd for the instance registry, standby instances then see the
// position without sharing a filesystem.
type EtcdStore struct {
	logger *zap.Logger
	client *clientv3.Client
	key    string
}

var _ Store = (*EtcdStore)(nil)

func NewEtcdStore(opts *EtcdStoreOptions) (*EtcdStore, error) {
	if opts == nil {
		opts = &EtcdStoreOptions{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.EtcdClient == nil {
		return nil, fmt.Errorf("etcd client must be specified")
	}
	if opts.StreamKey == "" {
		return nil, fmt.Errorf("stream key must be specified")
	}

	keyPrefix := opts.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "/changegate/resume"
	}

	return &EtcdStore{
		logger: logger,
		client: opts.EtcdClient,
		key:    fmt.Sprintf("%s/%s", keyPrefix, opts.StreamKey),
	}, nil
}

func (s *EtcdStore) Load(ctx context.Context) (Position, bool, error) {
	resp, err := s.client.Get(ctx, s.key)
	if err != nil {
		return Position{}, false, fmt.Errorf("load position: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return Position{}, false, nil
	}

	var state fileState
	if err := json.Unmarshal(resp.Kvs[0].Value, &state); err != nil {
		return Position{}, false, fmt.Errorf("parse position: %w", err)
	}

	return Position{
		Token:       feed.Token(state.Token),
		PersistedAt: state.PersistedAt,
	}, true, nil
}

func (s *EtcdStore) Commit(ctx context.Context, token feed.Token) error {
	current, found, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if found && token.Compare(current.Token) <= 0 {
		s.logger.Debug("ignoring stale resume commit",
			zap.String("key", s.key),
			zap.String("token", token.String()))
		return nil
	}

	data, err := json.Marshal(&fileState{
		Token:       string(token),
		PersistedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if _, err := s.client.Put(ctx, s.key, string(data)); err != nil {
		return fmt.Errorf("commit position: %w", err)
	}

	return nil
}

func (s *EtcdStore) Close() error {
	return nil
}
