// Package watcher runs the change feed consumption loop: it opens the feed
// at the last committed resume position, normalizes insert events, hands
// them to the broadcast layer one at a time and commits the new position
// after each confirmed delivery. Connection loss reopens the feed at the
// committed position, so a suffix of events may be redelivered but never
// skipped.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/datapipelabs/changegate/feed"
	"github.com/datapipelabs/changegate/resumestore"
	"github.com/datapipelabs/changegate/retry"
	"github.com/datapipelabs/changegate/storeclient"
	"github.com/datapipelabs/changegate/utils/latestonlychannel"
	"go.uber.org/zap"
)

const feedCloseTimeout = 5 * time.Second

// Publisher is the broadcast capability the watcher depends on. Publish
// must not return before every subscriber send has completed or timed out,
// that is what makes feed progress synchronous with delivery.
type Publisher interface {
	Publish(ctx context.Context, event *feed.Event) error
}

type WatcherOptions struct {
	Logger *zap.Logger

	Client      storeclient.Client
	Supervisor  *retry.Supervisor
	ResumeStore resumestore.Store
	Publisher   Publisher

	Database   string
	Collection string
}

// Watcher is the single consumer of a collection's change feed. Its run
// loop starts at construction and continues until the feed fails fatally or
// Close is called.
type Watcher struct {
	logger      *zap.Logger
	client      storeclient.Client
	supervisor  *retry.Supervisor
	resumeStore resumestore.Store
	publisher   Publisher
	database    string
	collection  string

	ctx       context.Context
	ctxCancel func()
	closeCh   chan struct{}

	lock      sync.Mutex
	current   Snapshot
	stateInCh chan Snapshot
	stateCh   <-chan Snapshot
}

func NewWatcher(opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		opts = &WatcherOptions{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.Client == nil {
		return nil, errors.New("store client must be specified")
	}
	if opts.ResumeStore == nil {
		return nil, errors.New("resume store must be specified")
	}
	if opts.Publisher == nil {
		return nil, errors.New("publisher must be specified")
	}
	if opts.Collection == "" {
		return nil, errors.New("collection must be specified")
	}

	supervisor := opts.Supervisor
	if supervisor == nil {
		supervisor = retry.NewSupervisor(&retry.SupervisorOptions{
			Logger: logger.Named("retry"),
		})
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	stateInCh := make(chan Snapshot)
	w := &Watcher{
		logger:      logger,
		client:      opts.Client,
		supervisor:  supervisor,
		resumeStore: opts.ResumeStore,
		publisher:   opts.Publisher,
		database:    opts.Database,
		collection:  opts.Collection,
		ctx:         ctx,
		ctxCancel:   ctxCancel,
		closeCh:     make(chan struct{}),
		stateInCh:   stateInCh,
		stateCh:     latestonlychannel.Wrap(stateInCh),
	}

	go w.procThread()

	return w, nil
}

// State returns the latest state snapshot.
func (w *Watcher) State() Snapshot {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.current
}

// WatchState returns a channel of state snapshots. Slow readers only ever
// miss intermediate snapshots, never the latest one. The channel closes
// once the watcher stops.
func (w *Watcher) WatchState() <-chan Snapshot {
	return w.stateCh
}

// Done closes once the run loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.closeCh
}

// Close stops the watcher and waits for the run loop to unwind. Any
// in-flight read is abandoned, an in-flight delivery completes its commit
// first.
func (w *Watcher) Close() {
	w.ctxCancel()
	<-w.closeCh
}

func (w *Watcher) publishState(update func(s *Snapshot)) {
	w.lock.Lock()
	update(&w.current)
	snapshot := w.current
	w.lock.Unlock()

	select {
	case w.stateInCh <- snapshot:
	case <-w.closeCh:
	}
}

func (w *Watcher) setState(state State) {
	w.publishState(func(s *Snapshot) {
		s.State = state
	})
}

func (w *Watcher) procThread() {
	err := w.run()

	if err != nil && errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		w.logger.Error("watcher halted", zap.Error(err))
	} else {
		w.logger.Info("watcher stopped")
	}

	w.lock.Lock()
	w.current.State = StateStopped
	w.current.Err = err
	snapshot := w.current
	w.lock.Unlock()

	// The final snapshot is buffered by the state pipe, so this cannot
	// block even with no reader.
	w.stateInCh <- snapshot
	close(w.stateInCh)

	close(w.closeCh)
}

func (w *Watcher) run() error {
	w.setState(StateStarting)

	position, found, err := w.resumeStore.Load(w.ctx)
	if err != nil {
		return fmt.Errorf("load resume position: %w", err)
	}

	var resumeToken feed.Token
	if found {
		resumeToken = position.Token
		w.logger.Info("resuming change feed",
			zap.String("collection", w.collection),
			zap.String("resumeToken", resumeToken.String()),
			zap.Time("persistedAt", position.PersistedAt))

		w.lock.Lock()
		w.current.LastToken = resumeToken
		w.lock.Unlock()
	} else {
		w.logger.Info("no resume position, starting at the current end of the feed",
			zap.String("collection", w.collection))
	}

MainLoop:
	for {
		changeFeed, err := retry.ExecuteValue(w.ctx, w.supervisor, "openChangeFeed",
			func(ctx context.Context) (storeclient.ChangeFeed, error) {
				return w.client.OpenChangeFeed(ctx, &storeclient.ChangeFeedOptions{
					Database:    w.database,
					Collection:  w.collection,
					ResumeAfter: resumeToken,
					InsertsOnly: true,
				})
			})
		if err != nil {
			if errors.Is(err, storeclient.ErrHistoryLost) {
				return &ResumeTokenExpiredError{Token: resumeToken, Cause: err}
			}
			return fmt.Errorf("open change feed: %w", err)
		}

		w.setState(StateStreaming)
		w.logger.Info("streaming change feed",
			zap.String("collection", w.collection))

		for {
			change, err := changeFeed.Next(w.ctx)
			if err != nil {
				w.closeFeed(changeFeed)

				if w.ctx.Err() != nil {
					return w.ctx.Err()
				}
				if errors.Is(err, storeclient.ErrHistoryLost) {
					return &ResumeTokenExpiredError{Token: resumeToken, Cause: err}
				}

				w.logger.Warn("change feed interrupted, reconnecting",
					zap.String("resumeToken", resumeToken.String()),
					zap.Error(err))
				w.setState(StateReconnecting)
				continue MainLoop
			}

			event, ok := w.normalizeChange(change)
			if !ok {
				continue
			}

			if err := w.publisher.Publish(w.ctx, event); err != nil {
				// Publish only fails on cancellation, subscriber errors
				// are absorbed by the broadcaster.
				w.closeFeed(changeFeed)
				return err
			}

			err = w.supervisor.Execute(w.ctx, "commitResumePosition",
				func(ctx context.Context) error {
					return w.resumeStore.Commit(ctx, change.Token)
				})
			if err != nil {
				w.closeFeed(changeFeed)
				return fmt.Errorf("commit resume position: %w", err)
			}

			resumeToken = change.Token
			w.publishState(func(s *Snapshot) {
				s.LastToken = change.Token
				s.LastEventAt = time.Now().UTC()
				s.NumDelivered++
			})
		}
	}
}

// normalizeChange filters a raw change down to a deliverable event. Only
// inserts on the watched collection pass, everything else is dropped
// without error. The store-side filter already excludes most of these, the
// re-check keeps correctness independent of it.
func (w *Watcher) normalizeChange(change *feed.RawChange) (*feed.Event, bool) {
	operation := feed.ParseOperation(change.Operation)
	if operation != feed.OperationInsert {
		w.logger.Debug("dropping non-insert change",
			zap.String("operation", change.Operation),
			zap.String("documentId", change.DocumentID))
		return nil, false
	}
	if change.Collection != w.collection {
		w.logger.Debug("dropping change from foreign collection",
			zap.String("collection", change.Collection))
		return nil, false
	}

	observedAt := change.ClusterTime
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	return &feed.Event{
		ResumeToken: change.Token,
		Operation:   operation,
		Collection:  change.Collection,
		DocumentID:  change.DocumentID,
		Payload:     change.Document,
		ObservedAt:  observedAt,
	}, true
}

func (w *Watcher) closeFeed(changeFeed storeclient.ChangeFeed) {
	// The watcher context may already be cancelled, the close gets its own
	// deadline so it still runs.
	closeCtx, cancel := context.WithTimeout(context.Background(), feedCloseTimeout)
	defer cancel()

	if err := changeFeed.Close(closeCtx); err != nil {
		w.logger.Debug("failed to close change feed", zap.Error(err))
	}
}
