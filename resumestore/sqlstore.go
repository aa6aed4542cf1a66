package resumestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/datapipelabs/changegate/feed"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS resume_positions (
	stream_key   TEXT PRIMARY KEY,
	token        TEXT NOT NULL,
	persisted_at TEXT NOT NULL
);
`

type SQLStoreOptions struct {
	Logger *zap.Logger

	// Path is the database file location.
	Path string

	// StreamKey identifies the feed stream this store tracks, which lets
	// several streams share one database file.
	StreamKey string
}

// SQLStore keeps resume positions in a sqlite table. Monotonicity is
// enforced by the upsert itself, a stale token updates no rows.
type SQLStore struct {
	logger    *zap.Logger
	db        *sql.DB
	streamKey string
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(opts *SQLStoreOptions) (*SQLStore, error) {
	if opts == nil {
		opts = &SQLStoreOptions{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.Path == "" {
		return nil, fmt.Errorf("database path must be specified")
	}
	if opts.StreamKey == "" {
		return nil, fmt.Errorf("stream key must be specified")
	}

	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// sqlite allows one writer, a larger pool just produces SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// synchronous=FULL so a commit is durable before it returns.
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = FULL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	if _, err := db.Exec(sqlSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLStore{
		logger:    logger,
		db:        db,
		streamKey: opts.StreamKey,
	}, nil
}

func (s *SQLStore) Load(ctx context.Context) (Position, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, persisted_at FROM resume_positions WHERE stream_key = ?`,
		s.streamKey)

	var token, persistedAt string
	if err := row.Scan(&token, &persistedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Position{}, false, nil
		}
		return Position{}, false, fmt.Errorf("load position: %w", err)
	}

	when, err := time.Parse(time.RFC3339Nano, persistedAt)
	if err != nil {
		return Position{}, false, fmt.Errorf("parse persisted_at: %w", err)
	}

	return Position{
		Token:       feed.Token(token),
		PersistedAt: when,
	}, true, nil
}

func (s *SQLStore) Commit(ctx context.Context, token feed.Token) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO resume_positions (stream_key, token, persisted_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(stream_key) DO UPDATE SET
		   token = excluded.token,
		   persisted_at = excluded.persisted_at
		 WHERE excluded.token > resume_positions.token`,
		s.streamKey, string(token), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("commit position: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		s.logger.Debug("ignoring stale resume commit",
			zap.String("streamKey", s.streamKey),
			zap.String("token", token.String()))
	}

	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
