package ssehub

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/datapipelabs/changegate/feed"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func testEventPayload(t *testing.T) []byte {
	t.Helper()

	payload, err := json.Marshal(&feed.Event{
		ResumeToken: "token-0001",
		Operation:   feed.OperationInsert,
		Collection:  "customers",
		DocumentID:  "doc-1",
		Payload:     map[string]interface{}{"name": "Ada"},
		ObservedAt:  time.Unix(1700000000, 0).UTC(),
	})
	require.NoError(t, err)
	return payload
}

func TestEncodeFrameGolden(t *testing.T) {
	frame := encodeFrame(testEventPayload(t))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "change_frame", frame)
}

func TestEncodeFrameWithoutToken(t *testing.T) {
	frame := encodeFrame([]byte(`{"hello":"world"}`))
	require.Equal(t, "event: change\ndata: {\"hello\":\"world\"}\n\n", string(frame))
}

func TestHubDeliversEventsToConnectedClient(t *testing.T) {
	hub, err := NewHub(&HubOptions{})
	require.NoError(t, err)
	defer hub.Close()

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		return hub.NumClients() == 1
	}, 5*time.Second, time.Millisecond)

	subscribers := hub.Subscribers()
	require.Len(t, subscribers, 1)

	payload := testEventPayload(t)
	err = subscribers[0].Send(context.Background(), payload)
	require.NoError(t, err)

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			break
		}
		lines = append(lines, line)
	}

	require.Equal(t, []string{
		"id: token-0001",
		"event: change",
		"data: " + string(payload),
	}, lines)
}

func TestHubEvictDisconnectsClient(t *testing.T) {
	hub, err := NewHub(&HubOptions{})
	require.NoError(t, err)
	defer hub.Close()

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Eventually(t, func() bool {
		return hub.NumClients() == 1
	}, 5*time.Second, time.Millisecond)

	subscribers := hub.Subscribers()
	require.Len(t, subscribers, 1)

	hub.Evict(subscribers[0].ID())

	require.Eventually(t, func() bool {
		return hub.NumClients() == 0
	}, 5*time.Second, time.Millisecond)

	// Sends to the evicted subscriber fail instead of queueing forever.
	err = subscribers[0].Send(context.Background(), []byte("{}"))
	require.Error(t, err)
}

func TestHubSendTimesOutWhenQueueFull(t *testing.T) {
	hub, err := NewHub(&HubOptions{QueueSize: 1})
	require.NoError(t, err)
	defer hub.Close()

	// A bare client that nobody drains stands in for a stalled browser.
	client := &sseClient{
		id:       "stalled",
		sendCh:   make(chan []byte, 1),
		closedCh: make(chan struct{}),
	}
	hub.lock.Lock()
	hub.clients[client.id] = client
	hub.lock.Unlock()

	require.NoError(t, client.Send(context.Background(), []byte("{}")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = client.Send(ctx, []byte("{}"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}

func TestHubCloseRefusesNewClients(t *testing.T) {
	hub, err := NewHub(&HubOptions{})
	require.NoError(t, err)

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	hub.Close()

	resp, err := http.Get(server.URL + "/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
