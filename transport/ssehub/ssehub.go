// Package ssehub relays change events to browser dashboards over
// Server-Sent Events. The hub implements the transport registry consumed by
// the broadcaster, each connected client is one subscriber with a bounded
// send queue.
package ssehub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/datapipelabs/changegate/transport"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const (
	DefaultQueueSize         = 64
	DefaultHeartbeatInterval = 30 * time.Second
)

type HubOptions struct {
	Logger *zap.Logger

	// QueueSize bounds each client's pending-event queue. A client whose
	// queue is full makes sends block until the broadcaster's timeout.
	QueueSize int

	// HeartbeatInterval paces keep-alive comments on idle connections.
	HeartbeatInterval time.Duration

	// AllowedOrigins defaults to allowing any origin, the dashboards are
	// served from arbitrary hosts in the demo pipeline.
	AllowedOrigins []string
}

// Hub accepts SSE connections and exposes them as broadcast subscribers.
type Hub struct {
	logger            *zap.Logger
	queueSize         int
	heartbeatInterval time.Duration
	corsHandler       *cors.Cors

	lock    sync.Mutex
	clients map[string]*sseClient
	closed  bool
	drainCh chan struct{}
	wg      sync.WaitGroup
}

var _ transport.Registry = (*Hub)(nil)
var _ transport.Evictor = (*Hub)(nil)

func NewHub(opts *HubOptions) (*Hub, error) {
	if opts == nil {
		opts = &HubOptions{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	queueSize := opts.QueueSize
	if queueSize == 0 {
		queueSize = DefaultQueueSize
	}

	heartbeatInterval := opts.HeartbeatInterval
	if heartbeatInterval == 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}

	allowedOrigins := opts.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return &Hub{
		logger:            logger,
		queueSize:         queueSize,
		heartbeatInterval: heartbeatInterval,
		corsHandler: cors.New(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet},
		}),
		clients: make(map[string]*sseClient),
		drainCh: make(chan struct{}),
	}, nil
}

// Handler returns the hub's http handler with CORS applied.
func (h *Hub) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/events", h.handleEvents).Methods(http.MethodGet)
	return h.corsHandler.Handler(r)
}

// Subscribers snapshots the currently connected clients.
func (h *Hub) Subscribers() []transport.Subscriber {
	h.lock.Lock()
	defer h.lock.Unlock()

	subscribers := make([]transport.Subscriber, 0, len(h.clients))
	for _, client := range h.clients {
		subscribers = append(subscribers, client)
	}
	return subscribers
}

// Evict disconnects a client by subscriber id.
func (h *Hub) Evict(id string) {
	h.lock.Lock()
	client, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.lock.Unlock()

	if ok {
		client.closeOnce.Do(func() { close(client.closedCh) })
		h.logger.Info("evicted subscriber", zap.String("subscriberId", id))
	}
}

// NumClients returns how many clients are currently connected.
func (h *Hub) NumClients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their handlers to unwind.
// The hub accepts no new connections afterwards.
func (h *Hub) Close() {
	h.lock.Lock()
	if h.closed {
		h.lock.Unlock()
		return
	}
	h.closed = true
	close(h.drainCh)
	clients := make([]*sseClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[string]*sseClient)
	h.lock.Unlock()

	for _, client := range clients {
		client.closeOnce.Do(func() { close(client.closedCh) })
	}

	h.wg.Wait()
}

func (h *Hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming is not supported", http.StatusInternalServerError)
		return
	}

	client := &sseClient{
		id:       clientFingerprint(r),
		sendCh:   make(chan []byte, h.queueSize),
		closedCh: make(chan struct{}),
	}

	h.lock.Lock()
	if h.closed {
		h.lock.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.clients[client.id] = client
	h.wg.Add(1)
	h.lock.Unlock()

	defer func() {
		h.lock.Lock()
		delete(h.clients, client.id)
		h.lock.Unlock()
		h.wg.Done()
	}()

	logger := h.logger.With(zap.String("subscriberId", client.id))
	logger.Info("subscriber connected",
		zap.String("remoteAddr", r.RemoteAddr))

	// Clients reconnecting after a drop report the id of the last event
	// they saw. Continuity comes from the watcher's resume position, the
	// header is only useful for diagnosing client-side gaps.
	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		logger.Debug("subscriber reconnected with a last event id",
			zap.String("lastEventId", lastEventID))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case payload := <-client.sendCh:
			if _, err := w.Write(encodeFrame(payload)); err != nil {
				logger.Debug("failed to write event frame", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				logger.Debug("failed to write heartbeat", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-client.closedCh:
			logger.Info("subscriber disconnected by the hub")
			return
		case <-r.Context().Done():
			logger.Info("subscriber disconnected")
			return
		}
	}
}

// encodeFrame renders one SSE frame. The event id carries the resume token
// when the payload is a change event, so browsers surface feed positions in
// their Last-Event-ID handling.
func encodeFrame(payload []byte) []byte {
	var meta struct {
		ResumeToken string `json:"resumeToken"`
	}
	_ = json.Unmarshal(payload, &meta)

	var frame []byte
	if meta.ResumeToken != "" {
		frame = append(frame, "id: "...)
		frame = append(frame, meta.ResumeToken...)
		frame = append(frame, '\n')
	}
	frame = append(frame, "event: change\ndata: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame
}

// clientFingerprint derives a stable-looking short subscriber id from the
// connection. The uuid component keeps ids unique across reconnects from
// the same address.
func clientFingerprint(r *http.Request) string {
	var d xxhash.Digest
	_, _ = d.WriteString(r.RemoteAddr)
	_, _ = d.WriteString(r.Header.Get("User-Agent"))
	_, _ = d.WriteString(uuid.NewString())
	return fmt.Sprintf("%016x", d.Sum64())
}

type sseClient struct {
	id        string
	sendCh    chan []byte
	closedCh  chan struct{}
	closeOnce sync.Once
}

var _ transport.Subscriber = (*sseClient)(nil)

func (c *sseClient) ID() string {
	return c.id
}

// Send queues payload for the client's writer. A full queue blocks until
// the writer catches up or ctx expires, which is how slow clients surface
// to the broadcaster's failure policy.
func (c *sseClient) Send(ctx context.Context, payload []byte) error {
	select {
	case c.sendCh <- payload:
		return nil
	case <-c.closedCh:
		return errors.New("subscriber is disconnected")
	case <-ctx.Done():
		return ctx.Err()
	}
}
