package resumestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/datapipelabs/changegate/feed"
	"github.com/stretchr/testify/require"
)

func corruptFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.json")
	ctx := context.Background()

	s, err := NewFileStore(&FileStoreOptions{Path: path})
	require.NoError(t, err)

	_, found, err := s.Load(ctx)
	require.NoError(t, err)
	require.False(t, found)

	err = s.Commit(ctx, feed.Token("000b"))
	require.NoError(t, err)

	pos, found, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, feed.Token("000b"), pos.Token)
	require.False(t, pos.PersistedAt.IsZero())
	require.NoError(t, s.Close())

	// A fresh store over the same file sees the committed position.
	s2, err := NewFileStore(&FileStoreOptions{Path: path})
	require.NoError(t, err)
	pos, found, err = s2.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, feed.Token("000b"), pos.Token)
}

func TestFileStoreMonotonicCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.json")
	ctx := context.Background()

	s, err := NewFileStore(&FileStoreOptions{Path: path})
	require.NoError(t, err)

	require.NoError(t, s.Commit(ctx, feed.Token("000b")))

	// Older and duplicate tokens are ignored without error.
	require.NoError(t, s.Commit(ctx, feed.Token("000a")))
	require.NoError(t, s.Commit(ctx, feed.Token("000b")))

	pos, found, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, feed.Token("000b"), pos.Token)

	require.NoError(t, s.Commit(ctx, feed.Token("000c")))
	pos, _, err = s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, feed.Token("000c"), pos.Token)
}

func TestFileStoreRejectsCorruptState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resume.json")

	s, err := NewFileStore(&FileStoreOptions{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Commit(context.Background(), feed.Token("000a")))

	corruptFile(t, path)

	_, err = NewFileStore(&FileStoreOptions{Path: path})
	require.Error(t, err)
}

func TestFileStoreRequiresPath(t *testing.T) {
	_, err := NewFileStore(&FileStoreOptions{})
	require.Error(t, err)
}
