package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"wxharvest/pkg/errors"
	"wxharvest/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS feeds (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  fake_id TEXT NOT NULL,
  avatar TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS articles (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  remote_id TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  url TEXT NOT NULL DEFAULT '',
  digest TEXT NOT NULL DEFAULT '',
  cover_url TEXT NOT NULL DEFAULT '',
  content TEXT NOT NULL DEFAULT '',
  publish_time INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_articles_account_time ON articles (account_id, publish_time DESC);
`

// Store is the SQLite-backed article and feed store
type Store struct {
	db     *sql.DB
	sb     sq.StatementBuilderType
	now    func() time.Time
	logger logger.Logger
}

// Open opens (creating if needed) the database at path. ":memory:" is
// accepted for tests.
func Open(ctx context.Context, path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(errors.ErrorTypeStorage, err, "failed to create database directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeStorage, err, "failed to open sqlite")
	}
	// one writer at a time; harvests run concurrently against the same file
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now:    time.Now,
		logger: log.WithField("component", "storage"),
	}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		s.logger.WithError(err).Debug("SQLite pragmas not applied")
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(errors.ErrorTypeStorage, err, "failed to create schema")
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func storageErr(err error, format string, args ...interface{}) error {
	return errors.Wrap(errors.ErrorTypeStorage, err, fmt.Sprintf(format, args...))
}
