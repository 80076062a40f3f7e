package main

import (
	"context"
	"os"

	"wxharvest/internal/feedsync"
	"wxharvest/pkg/browser"
	"wxharvest/pkg/config"
	"wxharvest/pkg/errors"
	"wxharvest/pkg/harvest"
	"wxharvest/pkg/kvstore"
	"wxharvest/pkg/lock"
	"wxharvest/pkg/logger"
	"wxharvest/pkg/login"
	"wxharvest/pkg/mp"
	"wxharvest/pkg/publish"
	"wxharvest/pkg/ratelimit"
	"wxharvest/pkg/renewal"
	"wxharvest/pkg/session"
	"wxharvest/pkg/storage"
	"wxharvest/pkg/ui"
)

// app holds the wired components for one command invocation
type app struct {
	cfg       *config.Config
	log       logger.Logger
	lock      *lock.FileLock
	sessions  *session.Store
	client    *mp.Client
	harvester *harvest.Harvester
	login     *login.Acquirer
	renewal   *renewal.Scheduler
	notifier  *ui.Notifier

	// opened by withStorage
	db        *storage.Store
	publisher publish.Publisher
	sync      *feedsync.Runner
}

// newApp wires the session side: lock, persisted session, browser, login,
// renewal and the listing client. An environment seed is applied here.
func newApp(cfg *config.Config) (*app, error) {
	log := logger.GetLogger()

	l, err := lock.New(cfg.Login.LockPath, cfg.Login.LockTTL, log)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeStorage, err, "failed to create login lock")
	}
	kv, err := kvstore.Open(cfg.Session)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeStorage, err, "failed to open session store")
	}
	sessions, err := session.NewStore(kv, cfg.Session.CookieJarPath, log)
	if err != nil {
		return nil, err
	}

	factory := browser.NewChromeFactory(cfg.Browser, cfg.Provider.UserAgent, log)
	limiter := ratelimit.NewTokenBucket(cfg.Provider.RequestsPerMinute, cfg.Provider.BurstSize)
	client := mp.NewClient(cfg.Provider.BaseURL, cfg.Provider.RequestTimeout, limiter, log)

	a := &app{
		cfg:       cfg,
		log:       log,
		lock:      l,
		sessions:  sessions,
		client:    client,
		harvester: harvest.New(client, client, log),
		login:     login.New(login.OptionsFromConfig(cfg), l, sessions, factory, log),
		renewal:   renewal.New(renewal.OptionsFromConfig(cfg), l, sessions, factory, log),
		notifier:  ui.NewNotifier(cfg.Notifications.Enabled && cfg.Notifications.NotificationType == "desktop"),
	}
	a.applySeed()
	return a, nil
}

func (a *app) applySeed() {
	seed := session.SeedFromEnv(os.Getenv)
	if seed.Token == "" || seed.Cookie == "" {
		return
	}
	lease, err := a.lock.Acquire("seed")
	if err != nil {
		a.log.WithError(err).Warn("Skipping environment session seed")
		return
	}
	defer lease.Release()

	if _, err := a.sessions.ApplySeed(lease, seed, a.cfg.Provider.CookieDomain); err != nil {
		a.log.WithError(err).Warn("Failed to apply environment session seed")
	}
}

// withStorage opens the article database, the publisher and the sync runner
func (a *app) withStorage(ctx context.Context) error {
	db, err := storage.Open(ctx, a.cfg.Storage.DatabasePath, a.log)
	if err != nil {
		return err
	}
	a.db = db
	a.publisher = publish.FromConfig(a.cfg.Publish, a.log)
	a.sync = feedsync.NewRunner(feedsync.OptionsFromConfig(a.cfg), a.sessions, a.harvester, db, a.publisher, a.log)
	return nil
}

// Close releases the database and the publisher
func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close publisher")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close database")
		}
	}
}

// mustApp builds the app or exits
func mustApp(cfg *config.Config, needStorage bool) *app {
	a, err := newApp(cfg)
	if err != nil {
		fail("Failed to initialize", err)
	}
	if needStorage {
		if err := a.withStorage(context.Background()); err != nil {
			fail("Failed to open article database", err)
		}
	}
	return a
}
