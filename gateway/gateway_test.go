package gateway

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/datapipelabs/changegate/replicaset"
	"github.com/datapipelabs/changegate/resumestore"
	"github.com/datapipelabs/changegate/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTopology() *replicaset.Topology {
	return &replicaset.Topology{
		SetID: "rs0",
		Members: []replicaset.Member{
			{ID: 0, Host: "db-0", Port: 27017, Priority: 2},
			{ID: 1, Host: "db-1", Port: 27017, Priority: 1},
		},
	}
}

func testConfig(t *testing.T) *Config {
	return &Config{
		Topology:        testTopology(),
		Database:        "app",
		Collection:      "messages",
		ResumeStoreKind: ResumeStoreFile,
		ResumePath:      filepath.Join(t.TempDir(), "resume.json"),
	}
}

func TestNewGatewayValidation(t *testing.T) {
	_, err := NewGateway(nil)
	require.Error(t, err)

	cfg := testConfig(t)
	cfg.Topology = nil
	_, err = NewGateway(cfg)
	require.ErrorContains(t, err, "topology")

	cfg = testConfig(t)
	cfg.Database = ""
	_, err = NewGateway(cfg)
	require.ErrorContains(t, err, "database")

	cfg = testConfig(t)
	cfg.Collection = ""
	_, err = NewGateway(cfg)
	require.ErrorContains(t, err, "collection")

	cfg = testConfig(t)
	cfg.ResumeStoreKind = ""
	_, err = NewGateway(cfg)
	require.ErrorContains(t, err, "resume store")

	cfg = testConfig(t)
	cfg.ResumeStoreKind = "carrier-pigeon"
	_, err = NewGateway(cfg)
	require.ErrorContains(t, err, "unknown resume store kind")

	cfg = testConfig(t)
	cfg.ResumePath = ""
	_, err = NewGateway(cfg)
	require.ErrorContains(t, err, "resume path")

	cfg = testConfig(t)
	cfg.ResumeStoreKind = ResumeStoreEtcd
	cfg.ResumePath = ""
	_, err = NewGateway(cfg)
	require.ErrorContains(t, err, "etcd")
}

func TestNewGatewayDefaults(t *testing.T) {
	gw, err := NewGateway(testConfig(t))
	require.NoError(t, err)

	assert.NotEmpty(t, gw.nodeID)
	assert.Equal(t, "app/messages", gw.streamKey)
}

func TestNewGatewayExplicitIdentity(t *testing.T) {
	cfg := testConfig(t)
	cfg.NodeID = "node-7"
	cfg.StreamKey = "orders-feed"

	gw, err := NewGateway(cfg)
	require.NoError(t, err)

	assert.Equal(t, "node-7", gw.nodeID)
	assert.Equal(t, "orders-feed", gw.streamKey)
}

func TestReconfigureBeforeRun(t *testing.T) {
	gw, err := NewGateway(testConfig(t))
	require.NoError(t, err)

	err = gw.Reconfigure(&ReconfigureOptions{FailureThreshold: 3})
	require.ErrorContains(t, err, "not running")
}

func TestOperatorErrorsAreNotRetried(t *testing.T) {
	expiredErr := &watcher.ResumeTokenExpiredError{
		Cause: errors.New("position no longer in the history"),
	}
	assert.True(t, isOperatorError(expiredErr))
	assert.True(t, isOperatorError(fmt.Errorf("run instance: %w", expiredErr)))
	assert.True(t, isOperatorError(fmt.Errorf("form replica set: %w", replicaset.ErrInvalidTopology)))

	assert.False(t, isOperatorError(errors.New("connection reset by peer")))
	assert.False(t, isOperatorError(fmt.Errorf("campaign for leadership: %w", replicaset.ErrSeedUnreachable)))
}

func TestBuildResumeStoreFile(t *testing.T) {
	gw, err := NewGateway(testConfig(t))
	require.NoError(t, err)

	store, err := gw.buildResumeStore(nil)
	require.NoError(t, err)
	defer store.Close()

	require.IsType(t, (*resumestore.FileStore)(nil), store)
}

func TestBuildResumeStoreSqlite(t *testing.T) {
	cfg := testConfig(t)
	cfg.ResumeStoreKind = ResumeStoreSqlite
	cfg.ResumePath = filepath.Join(t.TempDir(), "resume.db")

	gw, err := NewGateway(cfg)
	require.NoError(t, err)

	store, err := gw.buildResumeStore(nil)
	require.NoError(t, err)
	defer store.Close()

	require.IsType(t, (*resumestore.SQLStore)(nil), store)
}
