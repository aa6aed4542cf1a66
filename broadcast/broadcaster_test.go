package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/datapipelabs/changegate/feed"
	"github.com/datapipelabs/changegate/testutils"
	"github.com/stretchr/testify/require"
)

func testEvent(token string, docID string) *feed.Event {
	return &feed.Event{
		ResumeToken: feed.Token(token),
		Operation:   feed.OperationInsert,
		Collection:  "customers",
		DocumentID:  docID,
		Payload:     map[string]interface{}{"name": "test"},
		ObservedAt:  time.Unix(1700000000, 0).UTC(),
	}
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	subOne := &testutils.FakeSubscriber{SubID: "one"}
	subTwo := &testutils.FakeSubscriber{SubID: "two"}
	registry := testutils.NewFakeRegistry(subOne, subTwo)

	b, err := NewBroadcaster(&BroadcasterOptions{Registry: registry})
	require.NoError(t, err)

	event := testEvent("t1", "doc-1")
	err = b.Publish(context.Background(), event)
	require.NoError(t, err)

	for _, sub := range []*testutils.FakeSubscriber{subOne, subTwo} {
		payloads := sub.Payloads()
		require.Len(t, payloads, 1)

		var decoded feed.Event
		require.NoError(t, json.Unmarshal(payloads[0], &decoded))
		require.Equal(t, *event, decoded)
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	sub := &testutils.FakeSubscriber{SubID: "one"}
	registry := testutils.NewFakeRegistry(sub)

	b, err := NewBroadcaster(&BroadcasterOptions{Registry: registry})
	require.NoError(t, err)

	numEvents := 50
	for i := 0; i < numEvents; i++ {
		err := b.Publish(context.Background(), testEvent(
			fmt.Sprintf("t%03d", i), fmt.Sprintf("doc-%d", i)))
		require.NoError(t, err)
	}

	payloads := sub.Payloads()
	require.Len(t, payloads, numEvents)
	for i, payload := range payloads {
		var decoded feed.Event
		require.NoError(t, json.Unmarshal(payload, &decoded))
		require.Equal(t, feed.Token(fmt.Sprintf("t%03d", i)), decoded.ResumeToken)
	}

	require.Equal(t, uint64(numEvents), b.NumPublished())
}

func TestPublishSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	slow := &testutils.FakeSubscriber{SubID: "slow", Block: true}
	fast := &testutils.FakeSubscriber{SubID: "fast"}
	registry := testutils.NewFakeRegistry(slow, fast)

	b, err := NewBroadcaster(&BroadcasterOptions{
		Registry:    registry,
		SendTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	err = b.Publish(context.Background(), testEvent("t1", "doc-1"))
	require.NoError(t, err)

	// The slow subscriber burns its own timeout, not the fast one's.
	require.Less(t, time.Since(start), time.Second)
	require.Len(t, fast.Payloads(), 1)
}

func TestPublishFailingSubscriberIsNotFatal(t *testing.T) {
	failing := &testutils.FakeSubscriber{SubID: "bad", SendErr: errors.New("connection reset")}
	healthy := &testutils.FakeSubscriber{SubID: "good"}
	registry := testutils.NewFakeRegistry(failing, healthy)

	b, err := NewBroadcaster(&BroadcasterOptions{Registry: registry})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		err := b.Publish(context.Background(), testEvent(fmt.Sprintf("t%d", i), "doc"))
		require.NoError(t, err)
	}

	require.Len(t, healthy.Payloads(), 3)
	// Eviction is disabled by default, failures only get logged.
	require.Empty(t, registry.Evicted())
}

func TestPublishEvictsAfterFailureThreshold(t *testing.T) {
	failing := &testutils.FakeSubscriber{SubID: "bad", SendErr: errors.New("connection reset")}
	registry := testutils.NewFakeRegistry(failing)

	b, err := NewBroadcaster(&BroadcasterOptions{
		Registry:         registry,
		FailureThreshold: 3,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		err := b.Publish(context.Background(), testEvent(fmt.Sprintf("t%d", i), "doc"))
		require.NoError(t, err)
	}

	require.Equal(t, []string{"bad"}, registry.Evicted())
	require.Empty(t, registry.Subscribers())
}

func TestPublishSuccessResetsFailureRun(t *testing.T) {
	flaky := &testutils.FakeSubscriber{SubID: "flaky", SendErr: errors.New("connection reset")}
	registry := testutils.NewFakeRegistry(flaky)

	b, err := NewBroadcaster(&BroadcasterOptions{
		Registry:         registry,
		FailureThreshold: 3,
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), testEvent("t1", "doc")))
	require.NoError(t, b.Publish(context.Background(), testEvent("t2", "doc")))

	// A success between failures starts the run over.
	flaky.SendErr = nil
	require.NoError(t, b.Publish(context.Background(), testEvent("t3", "doc")))

	flaky.SendErr = errors.New("connection reset")
	require.NoError(t, b.Publish(context.Background(), testEvent("t4", "doc")))
	require.NoError(t, b.Publish(context.Background(), testEvent("t5", "doc")))

	require.Empty(t, registry.Evicted())
}

func TestPublishCancelledContext(t *testing.T) {
	sub := &testutils.FakeSubscriber{SubID: "one", Block: true}
	registry := testutils.NewFakeRegistry(sub)

	b, err := NewBroadcaster(&BroadcasterOptions{
		Registry:    registry,
		SendTimeout: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err = b.Publish(ctx, testEvent("t1", "doc"))
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestPublishNoSubscribers(t *testing.T) {
	registry := testutils.NewFakeRegistry()

	b, err := NewBroadcaster(&BroadcasterOptions{Registry: registry})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), testEvent("t1", "doc")))
}
