// Package harvest pages through an account's published articles with a
// session snapshot and hands normalised records to a persistence callback.
package harvest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wxharvest/pkg/errors"
	"wxharvest/pkg/logger"
	"wxharvest/pkg/mp"
	"wxharvest/pkg/retry"
	"wxharvest/pkg/session"
)

// MaxPagesLimit caps a single harvest
const MaxPagesLimit = 50

// Lister fetches one listing page
type Lister interface {
	ListPublished(ctx context.Context, creds mp.Credentials, fakeID string, page int) (*mp.Page, error)
}

// ContentFetcher retrieves an article body from its public URL
type ContentFetcher interface {
	FetchArticleContent(ctx context.Context, articleURL, userAgent string) (string, error)
}

// Request describes one bounded crawl. It is a value and never changes once
// a harvest has started.
type Request struct {
	AccountBizID     string
	AccountID        string
	StartPage        int
	MaxPages         int
	PacingInterval   time.Duration
	Since            *int64
	FetchFullContent bool
}

// Validate checks the page window and account id
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.AccountBizID) == "":
		return errors.New(errors.ErrorTypeInvalidRequest, "account biz id is required")
	case r.StartPage < 0:
		return errors.New(errors.ErrorTypeInvalidRequest, "start page must be >= 0")
	case r.MaxPages < 1:
		return errors.New(errors.ErrorTypeInvalidRequest, "max pages must be >= 1")
	case r.MaxPages > MaxPagesLimit:
		return errors.New(errors.ErrorTypeInvalidRequest, fmt.Sprintf("max pages must be <= %d", MaxPagesLimit))
	case r.PacingInterval < 0:
		return errors.New(errors.ErrorTypeInvalidRequest, "pacing interval must not be negative")
	}
	return nil
}

// Record is one normalised article
type Record struct {
	RemoteID    string `json:"remote_id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Digest      string `json:"digest"`
	CoverURL    string `json:"cover_url"`
	PublishTime int64  `json:"publish_time"`
	AccountID   string `json:"account_id"`
	Content     string `json:"content,omitempty"`
}

// ArticleFunc persists a record and reports whether it was new or changed
type ArticleFunc func(Record) bool

// Summary describes how far a harvest got
type Summary struct {
	PagesFetched   int
	Records        int
	Changed        int
	StoppedBySince bool
	// Exhausted is set when a page came back empty
	Exhausted bool
	// NextPage is where a resumed harvest should start
	NextPage int
}

// Harvester runs harvests. It is safe for concurrent use by several
// accounts; each call works on its own session snapshot.
type Harvester struct {
	lister  Lister
	content ContentFetcher
	sleep   func(ctx context.Context, d time.Duration) error
	logger  logger.Logger
}

// New creates a Harvester. content may be nil, in which case full-content
// requests deliver listing metadata only.
func New(lister Lister, content ContentFetcher, log logger.Logger) *Harvester {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Harvester{
		lister:  lister,
		content: content,
		sleep:   retry.Wait,
		logger:  log.WithField("component", "harvester"),
	}
}

// Harvest walks pages StartPage..StartPage+MaxPages-1. It stops early on an
// empty page or at the first article older than Since. Any failed page ends
// the harvest without retry; Summary.NextPage names the page to resume at.
func (h *Harvester) Harvest(ctx context.Context, sess session.Session, req Request, onArticle ArticleFunc) (Summary, error) {
	summary := Summary{NextPage: req.StartPage}
	if err := req.Validate(); err != nil {
		return summary, err
	}
	if !sess.HasCredentials() {
		return summary, errors.New(errors.ErrorTypeUnauthenticated, "session has no token or cookie header")
	}
	if onArticle == nil {
		onArticle = func(Record) bool { return false }
	}

	fakeID, err := mp.NormalizeFakeID(req.AccountBizID)
	if err != nil {
		return summary, err
	}
	accountID := req.AccountID
	if accountID == "" {
		accountID = req.AccountBizID
	}
	creds := mp.Credentials{
		Token:        sess.Token,
		CookieHeader: sess.CookieHeader,
		UserAgent:    sess.Fingerprint,
	}
	log := h.logger.WithField("account_id", accountID)

	last := req.StartPage + req.MaxPages - 1
	for page := req.StartPage; page <= last; page++ {
		if page > req.StartPage && req.PacingInterval > 0 {
			if err := h.sleep(ctx, req.PacingInterval); err != nil {
				return summary, err
			}
		}

		result, err := h.lister.ListPublished(ctx, creds, fakeID, page)
		if err != nil {
			log.WithError(err).WarnWithFields("Harvest aborted", map[string]interface{}{"page": page})
			return summary, err
		}
		summary.PagesFetched++
		summary.NextPage = page + 1

		if result.EndOfHistory() {
			summary.Exhausted = true
			log.DebugWithFields("Reached end of history", map[string]interface{}{"page": page})
			break
		}

		delivered := 0
		for _, item := range result.Items {
			rec := toRecord(item, accountID)
			if req.Since != nil && rec.PublishTime < *req.Since {
				summary.StoppedBySince = true
				break
			}
			if req.FetchFullContent {
				if err := h.fillContent(ctx, &rec, creds.UserAgent, log); err != nil {
					return summary, err
				}
			}

			summary.Records++
			delivered++
			if onArticle(rec) {
				summary.Changed++
			}
		}
		logger.LogHarvestProgress(log, accountID, page, delivered)

		if summary.StoppedBySince {
			break
		}
	}

	log.InfoWithFields("Harvest finished", map[string]interface{}{
		"pages":            summary.PagesFetched,
		"records":          summary.Records,
		"changed":          summary.Changed,
		"stopped_by_since": summary.StoppedBySince,
	})
	return summary, nil
}

// fillContent fetches the article body. Fetch failures are logged and the
// record is delivered without content; only cancellation is returned.
func (h *Harvester) fillContent(ctx context.Context, rec *Record, userAgent string, log logger.Logger) error {
	if h.content == nil || rec.URL == "" {
		return nil
	}
	body, err := h.content.FetchArticleContent(ctx, rec.URL, userAgent)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).WarnWithFields("Article body fetch failed", map[string]interface{}{"remote_id": rec.RemoteID})
		return nil
	}
	rec.Content = body
	return nil
}

func toRecord(m mp.AppMsg, accountID string) Record {
	remoteID := m.AID
	if remoteID == "" && m.AppMsgID != 0 {
		remoteID = fmt.Sprintf("%d_%d", m.AppMsgID, m.ItemIdx)
	}
	return Record{
		RemoteID:    remoteID,
		Title:       m.Title,
		URL:         m.Link,
		Digest:      m.Digest,
		CoverURL:    m.Cover,
		PublishTime: m.PublishTime(),
		AccountID:   accountID,
	}
}
