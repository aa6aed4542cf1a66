package goclustering

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInProcProviderMutationsIgnoreStalledWatchers(t *testing.T) {
	provider, err := NewInProcProvider(InProcProviderOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	membership, err := provider.Join(ctx, "node-1", nil)
	require.NoError(t, err)

	// the watch channel is deliberately never read from
	_, err = provider.Watch(ctx)
	require.NoError(t, err)

	doneCh := make(chan error, 1)
	go func() {
		if _, err := provider.Join(ctx, "node-2", nil); err != nil {
			doneCh <- err
			return
		}
		doneCh <- membership.Leave(ctx)
	}()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("membership changes blocked behind a stalled watcher")
	}
}

func TestInProcProviderWatchDeliversLatestMembership(t *testing.T) {
	provider, err := NewInProcProvider(InProcProviderOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapCh, err := provider.Watch(ctx)
	require.NoError(t, err)

	snap := <-snapCh
	require.Len(t, snap.Members, 0)

	membership, err := provider.Join(ctx, "node-1", []byte("a"))
	require.NoError(t, err)

	snap = <-snapCh
	require.Len(t, snap.Members, 1)
	require.Equal(t, "node-1", snap.Members[0].MemberID)

	err = membership.Leave(ctx)
	require.NoError(t, err)

	snap = <-snapCh
	require.Len(t, snap.Members, 0)
}

func TestInProcProviderWatchClosesOnContextCancel(t *testing.T) {
	provider, err := NewInProcProvider(InProcProviderOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	snapCh, err := provider.Watch(ctx)
	require.NoError(t, err)

	// leave an undelivered update pending and cancel the watch
	_, err = provider.Join(context.Background(), "node-1", nil)
	require.NoError(t, err)

	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-snapCh:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("watch channel did not close after cancellation")
		}
	}
}
