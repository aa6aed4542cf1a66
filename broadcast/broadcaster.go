// Package broadcast fans change events out to every registered subscriber.
// Delivery to each subscriber is best-effort with its own timeout, a slow
// subscriber never stalls the feed or the other subscribers.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/datapipelabs/changegate/feed"
	"github.com/datapipelabs/changegate/transport"
	"go.uber.org/zap"
)

const (
	DefaultSendTimeout = 5 * time.Second
)

type BroadcasterOptions struct {
	Logger *zap.Logger

	Registry transport.Registry

	// SendTimeout bounds each individual subscriber send.
	SendTimeout time.Duration

	// FailureThreshold is the number of consecutive failed sends after
	// which a subscriber is evicted from the registry, when the registry
	// supports eviction. Zero disables eviction, failures are only logged.
	FailureThreshold int
}

// Broadcaster delivers each event to every subscriber concurrently and
// reports back once all sends have completed or timed out. Subscriber
// failures are not publish failures, the caller's feed progress must not be
// held hostage by one bad subscriber.
type Broadcaster struct {
	logger           *zap.Logger
	registry         transport.Registry
	sendTimeout      time.Duration
	failureThreshold int

	lock         sync.Mutex
	failureRuns  map[string]int
	numPublished uint64
}

func NewBroadcaster(opts *BroadcasterOptions) (*Broadcaster, error) {
	if opts == nil {
		opts = &BroadcasterOptions{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sendTimeout := opts.SendTimeout
	if sendTimeout == 0 {
		sendTimeout = DefaultSendTimeout
	}

	return &Broadcaster{
		logger:           logger,
		registry:         opts.Registry,
		sendTimeout:      sendTimeout,
		failureThreshold: opts.FailureThreshold,
		failureRuns:      make(map[string]int),
	}, nil
}

type ReconfigureOptions struct {
	SendTimeout      time.Duration
	FailureThreshold int
}

// Reconfigure applies delivery settings without interrupting publishing. A
// zero SendTimeout keeps the current value, FailureThreshold is applied as
// given with zero disabling eviction.
func (b *Broadcaster) Reconfigure(opts *ReconfigureOptions) error {
	if opts == nil {
		return nil
	}

	b.lock.Lock()
	if opts.SendTimeout > 0 {
		b.sendTimeout = opts.SendTimeout
	}
	b.failureThreshold = opts.FailureThreshold
	b.lock.Unlock()

	b.logger.Info("reconfigured broadcaster",
		zap.Duration("sendTimeout", opts.SendTimeout),
		zap.Int("failureThreshold", opts.FailureThreshold))

	return nil
}

// Publish sends event to every currently registered subscriber and returns
// once all sends have completed or timed out. The only error it returns is
// ctx's, subscriber failures are logged and counted instead. The aggregate
// wall time is bounded by the single send timeout, the sends run
// concurrently.
func (b *Broadcaster) Publish(ctx context.Context, event *feed.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var subscribers []transport.Subscriber
	if b.registry != nil {
		subscribers = b.registry.Subscribers()
	}

	var wg sync.WaitGroup
	for _, subscriber := range subscribers {
		wg.Add(1)
		go func(subscriber transport.Subscriber) {
			defer wg.Done()
			b.sendOne(ctx, subscriber, event, payload)
		}(subscriber)
	}
	wg.Wait()

	b.lock.Lock()
	b.numPublished++
	b.lock.Unlock()

	return ctx.Err()
}

func (b *Broadcaster) sendOne(ctx context.Context, subscriber transport.Subscriber, event *feed.Event, payload []byte) {
	b.lock.Lock()
	sendTimeout := b.sendTimeout
	failureThreshold := b.failureThreshold
	b.lock.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	err := subscriber.Send(sendCtx, payload)
	cancel()

	if err == nil {
		b.lock.Lock()
		delete(b.failureRuns, subscriber.ID())
		b.lock.Unlock()
		return
	}

	b.lock.Lock()
	b.failureRuns[subscriber.ID()]++
	numFailures := b.failureRuns[subscriber.ID()]
	b.lock.Unlock()

	b.logger.Warn("failed to send event to subscriber",
		zap.String("subscriberId", subscriber.ID()),
		zap.String("resumeToken", event.ResumeToken.String()),
		zap.Int("consecutiveFailures", numFailures),
		zap.Error(err))

	if failureThreshold > 0 && numFailures >= failureThreshold {
		if evictor, ok := b.registry.(transport.Evictor); ok {
			b.logger.Warn("evicting subscriber after repeated failures",
				zap.String("subscriberId", subscriber.ID()),
				zap.Int("consecutiveFailures", numFailures))
			evictor.Evict(subscriber.ID())

			b.lock.Lock()
			delete(b.failureRuns, subscriber.ID())
			b.lock.Unlock()
		}
	}
}

// NumPublished returns how many events have been published so far.
func (b *Broadcaster) NumPublished() uint64 {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.numPublished
}
