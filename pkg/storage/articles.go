package storage

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"wxharvest/pkg/errors"
	"wxharvest/pkg/harvest"
)

// accountPrefix is stripped from account ids when forming article ids
const accountPrefix = "MP_WXS_"

// Article is a stored article row
type Article struct {
	ID          string
	AccountID   string
	RemoteID    string
	Title       string
	URL         string
	Digest      string
	CoverURL    string
	Content     string
	PublishTime int64
	CreatedAt   int64
	UpdatedAt   int64
}

// ArticleID forms the primary key "<account>-<remote>" without the account
// prefix on either part.
func ArticleID(accountID, remoteID string) string {
	return strings.TrimPrefix(accountID, accountPrefix) + "-" + strings.TrimPrefix(remoteID, accountPrefix)
}

var articleColumns = []string{
	"id", "account_id", "remote_id", "title", "url", "digest",
	"cover_url", "content", "publish_time", "created_at", "updated_at",
}

// Upsert merges rec into the stored row. Empty stored fields are filled,
// the newer publish time wins, and existing non-empty fields are kept. It
// reports whether the row was inserted or changed.
func (s *Store) Upsert(ctx context.Context, rec harvest.Record) (bool, error) {
	if rec.AccountID == "" || rec.RemoteID == "" {
		return false, errors.New(errors.ErrorTypeInvalidRequest, "record needs account and remote id")
	}
	id := ArticleID(rec.AccountID, rec.RemoteID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErr(err, "failed to begin upsert")
	}
	defer tx.Rollback()

	existing, err := s.getArticle(ctx, tx, id)
	if err != nil {
		return false, err
	}

	now := s.now().Unix()
	if existing == nil {
		query, args, err := s.sb.Insert("articles").Columns(articleColumns...).Values(
			id, rec.AccountID, rec.RemoteID, rec.Title, rec.URL, rec.Digest,
			rec.CoverURL, rec.Content, rec.PublishTime, now, now,
		).ToSql()
		if err != nil {
			return false, storageErr(err, "failed to build insert")
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return false, storageErr(err, "failed to insert article %s", id)
		}
		return true, commit(tx)
	}

	merged, changed := merge(*existing, rec)
	if !changed {
		return false, nil
	}

	query, args, err := s.sb.Update("articles").SetMap(map[string]interface{}{
		"title":        merged.Title,
		"url":          merged.URL,
		"digest":       merged.Digest,
		"cover_url":    merged.CoverURL,
		"content":      merged.Content,
		"publish_time": merged.PublishTime,
		"updated_at":   now,
	}).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, storageErr(err, "failed to build update")
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return false, storageErr(err, "failed to update article %s", id)
	}
	return true, commit(tx)
}

func commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return storageErr(err, "failed to commit")
	}
	return nil
}

func merge(a Article, rec harvest.Record) (Article, bool) {
	before := a
	fill := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
		}
	}
	fill(&a.Title, rec.Title)
	fill(&a.URL, rec.URL)
	fill(&a.Digest, rec.Digest)
	fill(&a.CoverURL, rec.CoverURL)
	fill(&a.Content, rec.Content)
	if rec.PublishTime > a.PublishTime {
		a.PublishTime = rec.PublishTime
	}
	return a, a != before
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) getArticle(ctx context.Context, q queryer, id string) (*Article, error) {
	query, args, err := s.sb.Select(articleColumns...).From("articles").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, storageErr(err, "failed to build select")
	}

	var a Article
	err = q.QueryRowContext(ctx, query, args...).Scan(
		&a.ID, &a.AccountID, &a.RemoteID, &a.Title, &a.URL, &a.Digest,
		&a.CoverURL, &a.Content, &a.PublishTime, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err, "failed to read article %s", id)
	}
	return &a, nil
}

// Get returns the article with the given id, or nil when absent
func (s *Store) Get(ctx context.Context, id string) (*Article, error) {
	return s.getArticle(ctx, s.db, id)
}

// Exists reports whether an article has been stored
func (s *Store) Exists(ctx context.Context, accountID, remoteID string) (bool, error) {
	a, err := s.Get(ctx, ArticleID(accountID, remoteID))
	return a != nil, err
}

// Count returns the number of stored articles, optionally for one account
func (s *Store) Count(ctx context.Context, accountID string) (int, error) {
	b := s.sb.Select("COUNT(*)").From("articles")
	if accountID != "" {
		b = b.Where(sq.Eq{"account_id": accountID})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, storageErr(err, "failed to build count")
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storageErr(err, "failed to count articles")
	}
	return n, nil
}

// ListByAccount returns an account's articles newest first
func (s *Store) ListByAccount(ctx context.Context, accountID string, limit int) ([]Article, error) {
	b := s.sb.Select(articleColumns...).From("articles").
		Where(sq.Eq{"account_id": accountID}).
		OrderBy("publish_time DESC", "id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, storageErr(err, "failed to build list")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err, "failed to list articles")
	}
	defer rows.Close()

	var out []Article
	for rows.Next() {
		var a Article
		if err := rows.Scan(
			&a.ID, &a.AccountID, &a.RemoteID, &a.Title, &a.URL, &a.Digest,
			&a.CoverURL, &a.Content, &a.PublishTime, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, storageErr(err, "failed to scan article")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "failed to iterate articles")
	}
	return out, nil
}

// NewestPublishTime returns the latest publish time stored for an account,
// or 0 when it has none.
func (s *Store) NewestPublishTime(ctx context.Context, accountID string) (int64, error) {
	query, args, err := s.sb.Select("COALESCE(MAX(publish_time), 0)").From("articles").
		Where(sq.Eq{"account_id": accountID}).ToSql()
	if err != nil {
		return 0, storageErr(err, "failed to build max query")
	}
	var ts int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&ts); err != nil {
		return 0, storageErr(err, "failed to read newest publish time")
	}
	return ts, nil
}
