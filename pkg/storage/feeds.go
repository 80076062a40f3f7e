package storage

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"wxharvest/pkg/errors"
	"wxharvest/pkg/mp"
)

// Feed is a subscribed official account
type Feed struct {
	ID        string
	Name      string
	FakeID    string
	Avatar    string
	CreatedAt int64
}

// FeedID derives the account id used for a biz id
func FeedID(fakeID string) string {
	return accountPrefix + fakeID
}

// AddFeed subscribes an account. The biz id is normalised; adding an
// existing feed updates its name and avatar.
func (s *Store) AddFeed(ctx context.Context, name, bizID, avatar string) (*Feed, error) {
	fakeID, err := mp.NormalizeFakeID(bizID)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = fakeID
	}
	feed := &Feed{ID: FeedID(fakeID), Name: name, FakeID: fakeID, Avatar: avatar, CreatedAt: s.now().Unix()}

	query, args, err := s.sb.Insert("feeds").
		Columns("id", "name", "fake_id", "avatar", "created_at").
		Values(feed.ID, feed.Name, feed.FakeID, feed.Avatar, feed.CreatedAt).
		Suffix("ON CONFLICT(id) DO UPDATE SET name=excluded.name, avatar=excluded.avatar").
		ToSql()
	if err != nil {
		return nil, storageErr(err, "failed to build feed insert")
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, storageErr(err, "failed to save feed %s", feed.ID)
	}
	s.logger.WithFields(map[string]interface{}{"feed_id": feed.ID, "name": feed.Name}).Info("Feed subscribed")
	return s.GetFeed(ctx, feed.ID)
}

// GetFeed returns a feed by id, or nil when absent
func (s *Store) GetFeed(ctx context.Context, id string) (*Feed, error) {
	query, args, err := s.sb.Select("id", "name", "fake_id", "avatar", "created_at").
		From("feeds").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, storageErr(err, "failed to build feed select")
	}
	var f Feed
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&f.ID, &f.Name, &f.FakeID, &f.Avatar, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err, "failed to read feed %s", id)
	}
	return &f, nil
}

// ListFeeds returns all subscribed feeds in subscription order
func (s *Store) ListFeeds(ctx context.Context) ([]Feed, error) {
	query, args, err := s.sb.Select("id", "name", "fake_id", "avatar", "created_at").
		From("feeds").OrderBy("created_at", "id").ToSql()
	if err != nil {
		return nil, storageErr(err, "failed to build feed list")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err, "failed to list feeds")
	}
	defer rows.Close()

	var out []Feed
	for rows.Next() {
		var f Feed
		if err := rows.Scan(&f.ID, &f.Name, &f.FakeID, &f.Avatar, &f.CreatedAt); err != nil {
			return nil, storageErr(err, "failed to scan feed")
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFeed unsubscribes an account. Its articles are kept.
func (s *Store) DeleteFeed(ctx context.Context, id string) error {
	query, args, err := s.sb.Delete("feeds").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return storageErr(err, "failed to build feed delete")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storageErr(err, "failed to delete feed %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New(errors.ErrorTypeInvalidRequest, "no such feed: "+id)
	}
	return nil
}
