// Package renewal keeps an authenticated session alive by replaying its
// cookie jar in a fresh browser and re-reading the credentials, without an
// interactive scan.
package renewal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"wxharvest/pkg/browser"
	"wxharvest/pkg/config"
	"wxharvest/pkg/errors"
	"wxharvest/pkg/lock"
	"wxharvest/pkg/logger"
	"wxharvest/pkg/login"
	"wxharvest/pkg/mp"
	"wxharvest/pkg/session"
)

// Options configures renewal
type Options struct {
	BaseURL       string
	HomePath      string
	HomeMarker    string
	CookieDomain  string
	ExpiryCookies []string
	Interval      time.Duration
}

// OptionsFromConfig maps the application config onto renewal options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:       cfg.Provider.BaseURL,
		HomePath:      cfg.Provider.HomePath,
		HomeMarker:    cfg.Provider.HomeMarker,
		CookieDomain:  cfg.Provider.CookieDomain,
		ExpiryCookies: cfg.Session.ExpiryCookies,
		Interval:      cfg.Renewal.Interval,
	}
}

// Status describes the scheduler
type Status struct {
	Running   bool
	LastRun   time.Time
	LastError error
}

// Scheduler refreshes the stored session on a fixed interval. Each run is
// independent: a failed run clears the session and the next tick finds
// nothing to renew until someone logs in again.
type Scheduler struct {
	opts       Options
	lock       *lock.FileLock
	store      *session.Store
	newBrowser browser.Factory
	logger     logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
	lastErr error
}

// New creates a Scheduler
func New(opts Options, l *lock.FileLock, store *session.Store, factory browser.Factory, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Scheduler{
		opts:       opts,
		lock:       l,
		store:      store,
		newBrowser: factory,
		logger:     log.WithField("component", "renewal"),
	}
}

// Refresh re-derives the session from existing. It serialises with login
// through the lock. On failure other than a busy lock or cancellation the
// stored session is cleared.
func (s *Scheduler) Refresh(ctx context.Context, existing session.Session) (*session.Session, error) {
	if !existing.Authenticated() {
		return nil, errors.New(errors.ErrorTypeUnauthenticated, "only an authenticated session can be renewed")
	}

	lease, err := s.lock.Acquire("renewal")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(); err != nil {
			s.logger.WithError(err).Error("Failed to release renewal lock")
		}
	}()

	sess, err := s.refresh(ctx, lease, existing)
	s.record(err)
	if err != nil {
		if ctx.Err() == nil {
			if clearErr := s.store.Clear(lease); clearErr != nil {
				s.logger.WithError(clearErr).Error("Failed to clear session after renewal failure")
			}
		}
		s.logger.WithError(err).Warn("Session renewal failed, a new login is required")
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"token":  logger.Mask(sess.Token),
		"expiry": sess.Expiry,
	}).Info("Session renewed")
	return &sess, nil
}

func (s *Scheduler) refresh(ctx context.Context, lease *lock.Lease, existing session.Session) (session.Session, error) {
	ctrl := s.newBrowser()
	defer func() {
		if err := ctrl.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close browser")
		}
	}()

	if err := ctrl.Start(ctx); err != nil {
		return session.Session{}, errors.Wrap(errors.ErrorTypeBrowserStart, err, "failed to start browser")
	}

	jar, err := s.store.CookieJar()
	if err != nil {
		s.logger.WithError(err).Warn("Cookie jar cache unreadable, replaying session cookies")
	}
	if len(jar) == 0 {
		jar = existing.Cookies
	}
	if err := ctrl.SetCookies(ctx, s.replayCookies(jar, existing.Token)); err != nil {
		return session.Session{}, errors.Wrap(errors.ErrorTypeBrowserStart, err, "failed to replay cookies")
	}

	home := mp.HomeURL(s.opts.BaseURL, s.opts.HomePath, existing.Token)
	if err := ctrl.Navigate(ctx, home); err != nil {
		return session.Session{}, errors.Wrap(errors.ErrorTypeNetwork, err, "failed to open home page")
	}
	if err := ctrl.WaitLoaded(ctx); err != nil {
		return session.Session{}, errors.Wrap(errors.ErrorTypeNetwork, err, "home page did not load")
	}

	landed, err := ctrl.CurrentURL(ctx)
	if err != nil {
		return session.Session{}, errors.Wrap(errors.ErrorTypeExtraction, err, "failed to read current url")
	}
	if !strings.Contains(landed, s.opts.HomeMarker) {
		return session.Session{}, errors.New(errors.ErrorTypeUnauthenticated,
			fmt.Sprintf("provider rejected the session, landed on %s", landed))
	}

	sess, _, err := login.Capture(ctx, ctrl, landed, s.opts.ExpiryCookies)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.store.Replace(lease, sess); err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

// replayCookies returns the jar plus a token cookie on the provider domain
func (s *Scheduler) replayCookies(jar []session.Cookie, token string) []session.Cookie {
	out := make([]session.Cookie, 0, len(jar)+1)
	for _, c := range jar {
		if c.Name == "token" {
			continue
		}
		if c.Domain == "" {
			c.Domain = s.opts.CookieDomain
		}
		if c.Path == "" {
			c.Path = "/"
		}
		out = append(out, c)
	}
	return append(out, session.Cookie{Name: "token", Value: token, Domain: s.opts.CookieDomain, Path: "/"})
}

func (s *Scheduler) record(err error) {
	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastErr = err
	s.mu.Unlock()
}

// Status reports whether the ticker runs and how the last refresh went
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Running: s.cancel != nil, LastRun: s.lastRun, LastError: s.lastErr}
}

// Start runs Refresh every interval until ctx is done or Stop is called
func (s *Scheduler) Start(ctx context.Context) error {
	if s.opts.Interval <= 0 {
		return fmt.Errorf("renewal interval must be positive")
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("renewal scheduler already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	logger.LogComponentStart(s.logger, "renewal", map[string]interface{}{"interval": s.opts.Interval.String()})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	current := s.store.Snapshot()
	if !current.Authenticated() {
		s.logger.Debug("No authenticated session to renew")
		return
	}
	if _, err := s.Refresh(ctx, current); err != nil && errors.IsType(err, errors.ErrorTypeLockBusy) {
		s.logger.Info("Renewal skipped, lock is busy")
	}
}

// Stop halts the ticker and waits for an in-flight run to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.LogComponentStop(s.logger, "renewal", "stopped")
}
