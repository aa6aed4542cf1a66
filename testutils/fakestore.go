package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/datapipelabs/changegate/feed"
	"github.com/datapipelabs/changegate/storeclient"
)

// FormationResult is one scripted GetFormationState response.
type FormationResult struct {
	State *storeclient.FormationState
	Err   error
}

// FeedResult is one scripted OpenChangeFeed response.
type FeedResult struct {
	Feed storeclient.ChangeFeed
	Err  error
}

// FakeStoreClient implements storeclient.Client with scripted responses.
// Scripts are consumed in order, the final formation entry repeats once the
// script runs out so steady states are easy to express.
type FakeStoreClient struct {
	lock sync.Mutex

	PingErr error

	formationScript []FormationResult
	initiateScript  []error
	feedScript      []FeedResult

	formationCalls int
	initiateCalls  int
	openedFeeds    []storeclient.ChangeFeedOptions
}

var _ storeclient.Client = (*FakeStoreClient)(nil)

func NewFakeStoreClient() *FakeStoreClient {
	return &FakeStoreClient{}
}

func (c *FakeStoreClient) ScriptFormationState(state *storeclient.FormationState, err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.formationScript = append(c.formationScript, FormationResult{State: state, Err: err})
}

func (c *FakeStoreClient) ScriptInitiate(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.initiateScript = append(c.initiateScript, err)
}

func (c *FakeStoreClient) ScriptChangeFeed(f storeclient.ChangeFeed, err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.feedScript = append(c.feedScript, FeedResult{Feed: f, Err: err})
}

func (c *FakeStoreClient) Ping(ctx context.Context) error {
	return c.PingErr
}

func (c *FakeStoreClient) GetFormationState(ctx context.Context) (*storeclient.FormationState, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.formationCalls++
	if len(c.formationScript) == 0 {
		return nil, errors.New("no formation state scripted")
	}

	result := c.formationScript[0]
	if len(c.formationScript) > 1 {
		c.formationScript = c.formationScript[1:]
	}
	return result.State, result.Err
}

func (c *FakeStoreClient) Initiate(ctx context.Context, cfg *storeclient.FormationConfig) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.initiateCalls++
	if len(c.initiateScript) == 0 {
		return nil
	}

	err := c.initiateScript[0]
	c.initiateScript = c.initiateScript[1:]
	return err
}

func (c *FakeStoreClient) OpenChangeFeed(ctx context.Context, opts *storeclient.ChangeFeedOptions) (storeclient.ChangeFeed, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.openedFeeds = append(c.openedFeeds, *opts)
	if len(c.feedScript) == 0 {
		return nil, errors.New("no change feed scripted")
	}

	result := c.feedScript[0]
	c.feedScript = c.feedScript[1:]
	return result.Feed, result.Err
}

func (c *FakeStoreClient) Close(ctx context.Context) error {
	return nil
}

func (c *FakeStoreClient) FormationCalls() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.formationCalls
}

func (c *FakeStoreClient) InitiateCalls() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.initiateCalls
}

func (c *FakeStoreClient) OpenedFeeds() []storeclient.ChangeFeedOptions {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]storeclient.ChangeFeedOptions(nil), c.openedFeeds...)
}

// FeedStep is one scripted change feed read.
type FeedStep struct {
	Change *feed.RawChange
	Err    error

	// Block makes Next wait for ctx cancellation, simulating a quiet feed.
	Block bool
}

// FakeChangeFeed implements storeclient.ChangeFeed from a list of steps.
// Once the steps run out, Next blocks until the context is cancelled.
type FakeChangeFeed struct {
	lock   sync.Mutex
	steps  []FeedStep
	closed bool
}

var _ storeclient.ChangeFeed = (*FakeChangeFeed)(nil)

func NewFakeChangeFeed(steps ...FeedStep) *FakeChangeFeed {
	return &FakeChangeFeed{steps: steps}
}

func (f *FakeChangeFeed) Next(ctx context.Context) (*feed.RawChange, error) {
	f.lock.Lock()
	if f.closed {
		f.lock.Unlock()
		return nil, storeclient.ErrFeedClosed
	}
	if len(f.steps) == 0 {
		f.lock.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}

	step := f.steps[0]
	f.steps = f.steps[1:]
	f.lock.Unlock()

	if step.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Change, nil
}

func (f *FakeChangeFeed) Close(ctx context.Context) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.closed = true
	return nil
}

// InsertChange builds a raw insert change for tests.
func InsertChange(token feed.Token, collection string, docID string, payload map[string]interface{}) *feed.RawChange {
	return &feed.RawChange{
		Token:       token,
		Operation:   "insert",
		Collection:  collection,
		DocumentID:  docID,
		Document:    payload,
		ClusterTime: time.Now().UTC(),
	}
}

// UpdateChange builds a raw update change for tests.
func UpdateChange(token feed.Token, collection string, docID string) *feed.RawChange {
	return &feed.RawChange{
		Token:       token,
		Operation:   "update",
		Collection:  collection,
		DocumentID:  docID,
		ClusterTime: time.Now().UTC(),
	}
}
