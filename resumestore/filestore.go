package resumestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/datapipelabs/changegate/feed"
	"go.uber.org/zap"
)

type FileStoreOptions struct {
	Logger *zap.Logger

	// Path is the state file location. The parent directory must exist.
	Path string
}

// FileStore keeps the resume position in a single JSON file, replaced
// atomically on every commit.
type FileStore struct {
	logger *zap.Logger
	path   string

	lock    sync.Mutex
	current Position
	found   bool
}

var _ Store = (*FileStore)(nil)

type fileState struct {
	Token       string    `json:"token"`
	PersistedAt time.Time `json:"persistedAt"`
}

func NewFileStore(opts *FileStoreOptions) (*FileStore, error) {
	if opts == nil {
		opts = &FileStoreOptions{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.Path == "" {
		return nil, fmt.Errorf("state file path must be specified")
	}

	s := &FileStore{
		logger: logger,
		path:   opts.Path,
	}

	data, err := os.ReadFile(opts.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read state file: %w", err)
		}
		return s, nil
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}

	s.current = Position{
		Token:       feed.Token(state.Token),
		PersistedAt: state.PersistedAt,
	}
	s.found = true

	return s, nil
}

func (s *FileStore) Load(ctx context.Context) (Position, bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.current, s.found, nil
}

func (s *FileStore) Commit(ctx context.Context, token feed.Token) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.found && token.Compare(s.current.Token) <= 0 {
		s.logger.Debug("ignoring stale resume commit",
			zap.String("token", token.String()),
			zap.String("current", s.current.Token.String()))
		return nil
	}

	position := Position{
		Token:       token,
		PersistedAt: time.Now().UTC(),
	}

	if err := s.writeState(position); err != nil {
		return err
	}

	s.current = position
	s.found = true
	return nil
}

// writeState replaces the state file atomically: write to a temp file, sync
// it, rename over the target, then sync the directory so the rename itself
// is durable.
func (s *FileStore) writeState(position Position) error {
	data, err := json.MarshalIndent(&fileState{
		Token:       string(position.Token),
		PersistedAt: position.PersistedAt,
	}, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	f, err := os.Open(tmp)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync state file: %w", err)
	}
	_ = f.Close()

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	dir, err := os.Open(filepath.Dir(s.path))
	if err != nil {
		return err
	}
	if err := dir.Sync(); err != nil {
		_ = dir.Close()
		return fmt.Errorf("sync state directory: %w", err)
	}
	_ = dir.Close()

	return nil
}

func (s *FileStore) Close() error {
	return nil
}
