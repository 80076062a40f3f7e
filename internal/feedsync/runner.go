// Package feedsync runs full updates over every subscribed account: one
// harvest per feed on the worker pool, records upserted into storage and
// changed ones published downstream.
package feedsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"wxharvest/internal/worker"
	"wxharvest/pkg/checkpoint"
	"wxharvest/pkg/config"
	"wxharvest/pkg/errors"
	"wxharvest/pkg/harvest"
	"wxharvest/pkg/logger"
	"wxharvest/pkg/publish"
	"wxharvest/pkg/retry"
	"wxharvest/pkg/session"
	"wxharvest/pkg/storage"
)

const (
	minPacing = time.Second
	maxPacing = 60 * time.Second
)

// Options configures sync runs
type Options struct {
	MaxPages         int
	PacingInterval   time.Duration
	FetchFullContent bool
	Concurrency      int
	MaxAttempts      int
	Incremental      bool
	CheckpointDir    string
	Schedules        []string
	Backoff          retry.BackoffStrategy
}

// OptionsFromConfig maps config onto sync options, clamping max pages to
// 1..50 and pacing to 1..60s.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxPages:         clampInt(cfg.Harvest.MaxPages, 1, harvest.MaxPagesLimit),
		PacingInterval:   clampDuration(cfg.Harvest.PacingInterval, minPacing, maxPacing),
		FetchFullContent: cfg.Harvest.FetchFullContent,
		Concurrency:      clampInt(cfg.Harvest.Concurrency, 1, 16),
		MaxAttempts:      clampInt(cfg.Sync.MaxAttempts, 1, 10),
		Incremental:      cfg.Sync.Incremental,
		CheckpointDir:    cfg.Sync.CheckpointDir,
		Schedules:        cfg.Sync.Schedules,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SessionSource hands out session snapshots
type SessionSource interface {
	Snapshot() session.Session
}

// Harvester runs a single harvest
type Harvester interface {
	Harvest(ctx context.Context, sess session.Session, req harvest.Request, onArticle harvest.ArticleFunc) (harvest.Summary, error)
}

// Store persists records and lists subscribed feeds
type Store interface {
	Upsert(ctx context.Context, rec harvest.Record) (bool, error)
	ListFeeds(ctx context.Context) ([]storage.Feed, error)
}

// Observer is told when each account sync starts and finishes
type Observer interface {
	SyncStarted(job worker.Job)
	SyncFinished(job worker.Job, sum harvest.Summary, err error)
}

// RunReport summarises one full update
type RunReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Feeds     int
	Failed    int
	Records   int
	Changed   int
	Results   []worker.Result
}

// Runner syncs feeds on demand or on cron schedules
type Runner struct {
	opts      Options
	sessions  SessionSource
	harvester Harvester
	store     Store
	publisher publish.Publisher
	logger    logger.Logger
	now       func() time.Time

	running atomic.Bool

	mu        sync.Mutex
	scheduler *cronScheduler
	last      *RunReport
	observer  Observer
}

// NewRunner creates a Runner. A nil publisher disables publishing.
func NewRunner(opts Options, sessions SessionSource, h Harvester, store Store, pub publish.Publisher, log logger.Logger) *Runner {
	if log == nil {
		log = logger.GetLogger()
	}
	if pub == nil {
		pub = publish.Nop{}
	}
	if opts.MaxPages < 1 {
		opts.MaxPages = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.DefaultExponentialBackoff()
	}
	return &Runner{
		opts:      opts,
		sessions:  sessions,
		harvester: h,
		store:     store,
		publisher: pub,
		logger:    log.WithField("component", "feedsync"),
		now:       time.Now,
	}
}

// SetObserver installs an observer for per-account progress. Nil removes it.
func (r *Runner) SetObserver(o Observer) {
	r.mu.Lock()
	r.observer = o
	r.mu.Unlock()
}

// Run implements worker.Runner
func (r *Runner) Run(ctx context.Context, job worker.Job) (harvest.Summary, error) {
	r.mu.Lock()
	o := r.observer
	r.mu.Unlock()

	if o != nil {
		o.SyncStarted(job)
	}
	sum, err := r.SyncAccount(ctx, job)
	if o != nil {
		o.SyncFinished(job, sum, err)
	}
	return sum, err
}

// SyncAccount harvests one account from page 0. A network failure is retried
// from the page that failed; other failures end the sync. The checkpoint
// records the newest publish time so the next incremental run stops there.
func (r *Runner) SyncAccount(ctx context.Context, job worker.Job) (harvest.Summary, error) {
	sess := r.sessions.Snapshot()
	if !sess.HasCredentials() {
		return harvest.Summary{}, errors.New(errors.ErrorTypeUnauthenticated, "no session, log in first")
	}
	if sess.Expired(r.now()) {
		return harvest.Summary{}, errors.New(errors.ErrorTypeUnauthenticated, "session expired, log in again")
	}

	log := r.logger.WithField("account_id", job.AccountID)

	var cp *checkpoint.Manager
	var state *checkpoint.SyncState
	if r.opts.CheckpointDir != "" {
		var err error
		if cp, err = checkpoint.NewManager(r.opts.CheckpointDir, job.AccountID); err != nil {
			return harvest.Summary{}, errors.Wrap(errors.ErrorTypeStorage, err, "failed to open checkpoint")
		}
		if state, err = cp.LoadOrCreate(job.AccountID, job.FakeID); err != nil {
			log.WithError(err).Warn("Checkpoint unreadable, running a full walk")
			cp, state = nil, nil
		}
	}

	var since *int64
	if r.opts.Incremental && state != nil {
		since = state.Since()
	}

	var newest int64
	sink := func(rec harvest.Record) bool {
		if rec.PublishTime > newest {
			newest = rec.PublishTime
		}
		changed, err := r.store.Upsert(ctx, rec)
		if err != nil {
			log.WithError(err).WarnWithFields("Failed to store article", map[string]interface{}{"remote_id": rec.RemoteID})
			return false
		}
		if changed {
			if err := r.publisher.Publish(ctx, rec); err != nil {
				log.WithError(err).WarnWithFields("Failed to publish article", map[string]interface{}{"remote_id": rec.RemoteID})
			}
		}
		return changed
	}

	var total harvest.Summary
	nextPage := 0
	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
		req := harvest.Request{
			AccountBizID:     job.FakeID,
			AccountID:        job.AccountID,
			StartPage:        nextPage,
			MaxPages:         r.opts.MaxPages - nextPage,
			PacingInterval:   r.opts.PacingInterval,
			Since:            since,
			FetchFullContent: r.opts.FetchFullContent,
		}
		if attempt > 1 {
			log.InfoWithFields("Resuming harvest", map[string]interface{}{"page": nextPage, "attempt": attempt})
		}

		sum, err := r.harvester.Harvest(ctx, sess, req, sink)
		total.PagesFetched += sum.PagesFetched
		total.Records += sum.Records
		total.Changed += sum.Changed
		total.StoppedBySince = sum.StoppedBySince
		total.Exhausted = sum.Exhausted
		if sum.NextPage > nextPage {
			nextPage = sum.NextPage
		}
		total.NextPage = nextPage
		return err
	}, &retry.Config{
		MaxAttempts: r.opts.MaxAttempts,
		Backoff:     r.opts.Backoff,
		RetryIf:     retry.DefaultRetryIf,
		Logger:      log,
	})

	if cp != nil {
		var cpErr error
		if err != nil {
			cpErr = cp.RecordFailure(state, nextPage, err)
		} else {
			cpErr = cp.RecordSuccess(state, nextPage, total.Records, total.Changed, newest)
		}
		if cpErr != nil {
			log.WithError(cpErr).Warn("Failed to save checkpoint")
		}
	}
	return total, err
}

// SyncAll runs a full update of every subscribed feed. Overlapping calls
// return immediately with an invalid_request error.
func (r *Runner) SyncAll(ctx context.Context) (*RunReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, errors.New(errors.ErrorTypeInvalidRequest, "a full update is already running")
	}
	defer r.running.Store(false)

	report := &RunReport{StartedAt: r.now()}
	feeds, err := r.store.ListFeeds(ctx)
	if err != nil {
		return nil, err
	}
	report.Feeds = len(feeds)
	if len(feeds) == 0 {
		r.logger.Info("No feeds subscribed, nothing to update")
		return report, nil
	}

	jobs := make([]worker.Job, 0, len(feeds))
	for _, f := range feeds {
		jobs = append(jobs, worker.Job{AccountID: f.ID, FakeID: f.FakeID, Name: f.Name})
	}

	report.Results = worker.RunAll(ctx, r.opts.Concurrency, r, jobs, r.logger)
	for _, res := range report.Results {
		report.Records += res.Summary.Records
		report.Changed += res.Summary.Changed
		if !res.Success() {
			report.Failed++
		}
	}
	report.Duration = time.Since(report.StartedAt)

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	r.logger.InfoWithFields("Full update finished", map[string]interface{}{
		"feeds":    report.Feeds,
		"failed":   report.Failed,
		"records":  report.Records,
		"changed":  report.Changed,
		"duration": report.Duration,
	})
	return report, nil
}

// LastReport returns the report of the most recent full update
func (r *Runner) LastReport() *RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
