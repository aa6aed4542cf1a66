package clustering

import (
	"context"
	"testing"
	"time"

	"github.com/datapipelabs/changegate/contrib/goclustering"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInProcElectorWinsImmediately(t *testing.T) {
	elector := NewInProcElector()

	leadership, err := elector.Campaign(context.Background(), "app/messages", "node-1")
	require.NoError(t, err)

	select {
	case <-leadership.Lost():
		t.Fatalf("leadership should not be lost while held")
	default:
	}

	err = leadership.Resign(context.Background())
	require.NoError(t, err)

	select {
	case <-leadership.Lost():
	case <-time.After(time.Second):
		t.Fatalf("resigning should release the leadership")
	}

	// resigning twice must not panic on the closed channel
	err = leadership.Resign(context.Background())
	require.NoError(t, err)
}

func TestInProcElectorCancelledContext(t *testing.T) {
	elector := NewInProcElector()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := elector.Campaign(ctx, "app/messages", "node-1")
	require.ErrorIs(t, err, context.Canceled)
}

func TestManagerRoundTripsMemberMetaData(t *testing.T) {
	provider, err := goclustering.NewInProcProvider(goclustering.InProcProviderOptions{})
	require.NoError(t, err)

	manager := &Manager{Provider: provider, Logger: zap.NewNop()}

	ctx := context.Background()
	membership, err := manager.Join(ctx, &Member{
		MemberID:      "node-1",
		ServerGroup:   "sg-a",
		AdvertiseAddr: "10.0.0.5",
		AdvertisePorts: ServicePorts{
			Web:    9091,
			Events: 18200,
		},
		StreamKey: "app/messages",
	})
	require.NoError(t, err)
	defer func() {
		_ = membership.Leave(ctx)
	}()

	snap, err := manager.Get(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Members, 1)

	member := snap.Members[0]
	require.Equal(t, "node-1", member.MemberID)
	require.Equal(t, "sg-a", member.ServerGroup)
	require.Equal(t, "10.0.0.5", member.AdvertiseAddr)
	require.Equal(t, 18200, member.AdvertisePorts.Events)
	require.Equal(t, "app/messages", member.StreamKey)
}

func TestManagerWatchSeesLeave(t *testing.T) {
	provider, err := goclustering.NewInProcProvider(goclustering.InProcProviderOptions{})
	require.NoError(t, err)

	manager := &Manager{Provider: provider, Logger: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	membership, err := manager.Join(ctx, &Member{MemberID: "node-1"})
	require.NoError(t, err)

	snapCh, err := manager.Watch(ctx)
	require.NoError(t, err)

	snap := <-snapCh
	require.Len(t, snap.Members, 1)

	err = membership.Leave(ctx)
	require.NoError(t, err)

	snap = <-snapCh
	require.Len(t, snap.Members, 0)
}
