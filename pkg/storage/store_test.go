package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wxharvest/pkg/errors"
	"wxharvest/pkg/harvest"
	"wxharvest/pkg/logger"
)

const account = "MP_WXS_MzAwOTQxMzMwMQ=="

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "db", "wx.db"), logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(remote string, ts int64) harvest.Record {
	return harvest.Record{
		RemoteID:    remote,
		Title:       "title " + remote,
		URL:         "https://mp.weixin.qq.com/s/" + remote,
		Digest:      "digest",
		CoverURL:    "https://mmbiz.qpic.cn/" + remote,
		PublishTime: ts,
		AccountID:   account,
	}
}

func TestArticleID(t *testing.T) {
	assert.Equal(t, "MzAwOTQxMzMwMQ==-2247483650_1", ArticleID(account, "2247483650_1"))
	assert.Equal(t, "acc-42", ArticleID("acc", "MP_WXS_42"))
}

func TestUpsertInsertsThenNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	changed, err := s.Upsert(ctx, record("a1", 100))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Upsert(ctx, record("a1", 100))
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := s.Get(ctx, ArticleID(account, "a1"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "title a1", got.Title)
	assert.Equal(t, int64(100), got.PublishTime)
	assert.Equal(t, account, got.AccountID)
}

func TestUpsertMerge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sparse := harvest.Record{RemoteID: "a1", AccountID: account, Title: "original", PublishTime: 200}
	_, err := s.Upsert(ctx, sparse)
	require.NoError(t, err)

	// fills missing fields, keeps the existing title and newer time
	richer := record("a1", 150)
	richer.Title = "renamed"
	richer.Content = "<p>body</p>"
	changed, err := s.Upsert(ctx, richer)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := s.Get(ctx, ArticleID(account, "a1"))
	require.NoError(t, err)
	assert.Equal(t, "original", got.Title)
	assert.Equal(t, "digest", got.Digest)
	assert.Equal(t, "https://mp.weixin.qq.com/s/a1", got.URL)
	assert.Equal(t, "<p>body</p>", got.Content)
	assert.Equal(t, int64(200), got.PublishTime)

	changed, err = s.Upsert(ctx, record("a1", 300))
	require.NoError(t, err)
	assert.True(t, changed)
	got, err = s.Get(ctx, ArticleID(account, "a1"))
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.PublishTime)
}

func TestUpsertRejectsIncompleteRecord(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert(context.Background(), harvest.Record{RemoteID: "x"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidRequest))
}

func TestConcurrentUpsertsConverge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := s.Upsert(ctx, record(fmt.Sprintf("a%d", i), int64(i)))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	n, err := s.Count(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestListByAccountAndNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, ts := range []int64{300, 100, 200} {
		_, err := s.Upsert(ctx, record(fmt.Sprintf("a%d", i), ts))
		require.NoError(t, err)
	}
	other := record("b1", 999)
	other.AccountID = "MP_WXS_other"
	_, err := s.Upsert(ctx, other)
	require.NoError(t, err)

	list, err := s.ListByAccount(ctx, account, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(300), list[0].PublishTime)
	assert.Equal(t, int64(200), list[1].PublishTime)

	newest, err := s.NewestPublishTime(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, int64(300), newest)

	newest, err = s.NewestPublishTime(ctx, "MP_WXS_none")
	require.NoError(t, err)
	assert.Zero(t, newest)

	total, err := s.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	exists, err := s.Exists(ctx, account, "a1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFeeds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	feed, err := s.AddFeed(ctx, "Daily Go", "3009413301", "")
	require.NoError(t, err)
	assert.Equal(t, "MP_WXS_MzAwOTQxMzMwMQ==", feed.ID)
	assert.Equal(t, "MzAwOTQxMzMwMQ==", feed.FakeID)

	again, err := s.AddFeed(ctx, "Daily Go Weekly", "MzAwOTQxMzMwMQ==", "avatar.png")
	require.NoError(t, err)
	assert.Equal(t, feed.ID, again.ID)
	assert.Equal(t, "Daily Go Weekly", again.Name)
	assert.Equal(t, feed.CreatedAt, again.CreatedAt)

	_, err = s.AddFeed(ctx, "bad", "hello", "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidRequest))

	feeds, err := s.ListFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 1)

	require.NoError(t, s.DeleteFeed(ctx, feed.ID))
	missing, err := s.GetFeed(ctx, feed.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Error(t, s.DeleteFeed(ctx, feed.ID))
}

func TestDoubleHarvestLeavesIdenticalState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := []harvest.Record{record("a1", 10), record("a2", 20), record("a3", 30)}
	sink := func(r harvest.Record) bool {
		changed, err := s.Upsert(ctx, r)
		require.NoError(t, err)
		return changed
	}

	for _, r := range batch {
		assert.True(t, sink(r))
	}
	first, err := s.ListByAccount(ctx, account, 0)
	require.NoError(t, err)

	for _, r := range batch {
		assert.False(t, sink(r))
	}
	second, err := s.ListByAccount(ctx, account, 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
