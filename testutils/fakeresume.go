package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/datapipelabs/changegate/feed"
	"github.com/datapipelabs/changegate/resumestore"
)

// FakeResumeStore is an in-memory resume store that records every commit,
// including stale ones that a real store would ignore.
type FakeResumeStore struct {
	LoadErr   error
	CommitErr error

	lock     sync.Mutex
	current  resumestore.Position
	found    bool
	commits  []feed.Token
	attempts []feed.Token
}

var _ resumestore.Store = (*FakeResumeStore)(nil)

func NewFakeResumeStore() *FakeResumeStore {
	return &FakeResumeStore{}
}

// Seed sets the stored position without recording a commit.
func (s *FakeResumeStore) Seed(token feed.Token) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.current = resumestore.Position{Token: token, PersistedAt: time.Now().UTC()}
	s.found = true
}

func (s *FakeResumeStore) Load(ctx context.Context) (resumestore.Position, bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.LoadErr != nil {
		return resumestore.Position{}, false, s.LoadErr
	}
	return s.current, s.found, nil
}

func (s *FakeResumeStore) Commit(ctx context.Context, token feed.Token) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.attempts = append(s.attempts, token)
	if s.CommitErr != nil {
		return s.CommitErr
	}

	if s.found && token.Compare(s.current.Token) <= 0 {
		return nil
	}

	s.current = resumestore.Position{Token: token, PersistedAt: time.Now().UTC()}
	s.found = true
	s.commits = append(s.commits, token)
	return nil
}

func (s *FakeResumeStore) Close() error {
	return nil
}

// Commits returns the tokens that actually advanced the position.
func (s *FakeResumeStore) Commits() []feed.Token {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]feed.Token(nil), s.commits...)
}

// CommitAttempts returns every token passed to Commit, stale ones included.
func (s *FakeResumeStore) CommitAttempts() []feed.Token {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]feed.Token(nil), s.attempts...)
}

// Current returns the stored position.
func (s *FakeResumeStore) Current() (resumestore.Position, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.current, s.found
}
