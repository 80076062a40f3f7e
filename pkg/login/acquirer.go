// Package login implements interactive QR-code login against the official
// account backend.
package login

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"wxharvest/pkg/browser"
	"wxharvest/pkg/config"
	"wxharvest/pkg/errors"
	"wxharvest/pkg/lock"
	"wxharvest/pkg/logger"
	"wxharvest/pkg/session"
)

// MinQRCodeBytes is the size at or below which a screenshot is a blank
// placeholder rather than a rendered QR code.
const MinQRCodeBytes = 364

// Options configures the login flow
type Options struct {
	LoginURL      string
	HomeMarker    string
	QRCodePath    string
	QRSelector    string
	ScanTimeout   time.Duration
	ExpiryCookies []string
}

// OptionsFromConfig maps the application config onto login options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		LoginURL:      cfg.Provider.BaseURL + "/",
		HomeMarker:    cfg.Provider.HomeMarker,
		QRCodePath:    cfg.Login.QRCodePath,
		QRSelector:    cfg.Login.QRSelector,
		ScanTimeout:   cfg.Login.ScanTimeout,
		ExpiryCookies: cfg.Session.ExpiryCookies,
	}
}

// SuccessFunc receives the new session and the scraped profile
type SuccessFunc func(session.Session, session.Profile)

// NoticeFunc is called once when the QR code is ready to be scanned
type NoticeFunc func(qrCodePath string)

// Attempt is the handle returned by BeginLogin
type Attempt struct {
	// Busy is set when another attempt already holds the lock
	Busy       bool
	QRCodePath string
	Message    string

	done chan struct{}
	sess *session.Session
	err  error
}

// Done is closed when the attempt has finished
func (at *Attempt) Done() <-chan struct{} {
	return at.done
}

// Wait blocks until the attempt finishes or ctx is done
func (at *Attempt) Wait(ctx context.Context) (*session.Session, error) {
	select {
	case <-at.done:
		return at.sess, at.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func finished(at *Attempt, err error) *Attempt {
	at.err = err
	at.done = make(chan struct{})
	close(at.done)
	return at
}

// QRCodeStatus describes the QR artifact on disk
type QRCodeStatus struct {
	Path  string
	Size  int64
	Ready bool
}

// Acquirer runs the QR login state machine. At most one attempt is in
// flight across processes; the lock lease is owned by the worker goroutine.
type Acquirer struct {
	opts       Options
	lock       *lock.FileLock
	store      *session.Store
	newBrowser browser.Factory
	logger     logger.Logger

	mu        sync.Mutex
	state     State
	lastErr   error
	observers []func(from, to State)
}

// New creates an Acquirer
func New(opts Options, l *lock.FileLock, store *session.Store, factory browser.Factory, log logger.Logger) *Acquirer {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Acquirer{
		opts:       opts,
		lock:       l,
		store:      store,
		newBrowser: factory,
		logger:     log.WithField("component", "login"),
	}
}

// OnTransition registers an observer for state changes
func (a *Acquirer) OnTransition(fn func(from, to State)) {
	a.mu.Lock()
	a.observers = append(a.observers, fn)
	a.mu.Unlock()
}

// State returns the current state
func (a *Acquirer) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// LastError returns the error of the last failed attempt
func (a *Acquirer) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

func (a *Acquirer) transition(to State) {
	a.mu.Lock()
	from := a.state
	a.state = to
	observers := append([]func(State, State){}, a.observers...)
	a.mu.Unlock()

	a.logger.WithFields(map[string]interface{}{"from": from.String(), "to": to.String()}).Debug("Login state changed")
	for _, fn := range observers {
		fn(from, to)
	}
}

// QRCode inspects the QR artifact
func (a *Acquirer) QRCode() QRCodeStatus {
	st := QRCodeStatus{Path: a.opts.QRCodePath}
	if info, err := os.Stat(a.opts.QRCodePath); err == nil {
		st.Size = info.Size()
		st.Ready = info.Size() > MinQRCodeBytes
	}
	return st
}

// BeginLogin starts a login attempt. The lock is taken before returning, so
// of any number of concurrent callers exactly one gets a running attempt;
// the rest get Busy without a browser being created. The worker runs under
// ctx, so pass a context that outlives the scan.
func (a *Acquirer) BeginLogin(ctx context.Context, onSuccess SuccessFunc, onNotice NoticeFunc) *Attempt {
	lease, err := a.lock.Acquire("login")
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeLockBusy) {
			a.logger.Info("Login already in progress")
			return finished(&Attempt{
				Busy:       true,
				QRCodePath: a.opts.QRCodePath,
				Message:    "a login is already in progress, scan the current QR code",
			}, err)
		}
		return finished(&Attempt{Message: "could not take the login lock"}, err)
	}

	a.transition(StateLockAcquiring)

	at := &Attempt{
		QRCodePath: a.opts.QRCodePath,
		Message:    "login started, waiting for the QR code",
		done:       make(chan struct{}),
	}
	go a.run(ctx, lease, at, onSuccess, onNotice)
	return at
}

func (a *Acquirer) run(ctx context.Context, lease *lock.Lease, at *Attempt, onSuccess SuccessFunc, onNotice NoticeFunc) {
	defer close(at.done)
	defer func() {
		if err := lease.Release(); err != nil {
			a.logger.WithError(err).Error("Failed to release login lock")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			at.err = errors.New(errors.ErrorTypeUnknown, fmt.Sprintf("login panicked: %v", r))
			a.fail(at.err)
		}
	}()

	sess, profile, err := a.login(ctx, lease, onNotice)
	if err != nil {
		at.err = err
		a.fail(err)
		return
	}

	at.sess = &sess
	a.transition(StateAuthenticated)
	a.logger.WithFields(map[string]interface{}{
		"account": profile.Name,
		"token":   logger.Mask(sess.Token),
	}).Info("Login succeeded")

	if onSuccess != nil {
		onSuccess(sess.Clone(), profile)
	}
	a.transition(StateIdle)
}

func (a *Acquirer) fail(err error) {
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()

	a.logger.WithError(err).Warn("Login failed")
	a.transition(StateFailed)
	a.transition(StateIdle)
}

func (a *Acquirer) login(ctx context.Context, lease *lock.Lease, onNotice NoticeFunc) (session.Session, session.Profile, error) {
	a.transition(StateBrowserStarting)

	if err := os.Remove(a.opts.QRCodePath); err != nil && !os.IsNotExist(err) {
		a.logger.WithError(err).Warn("Failed to remove previous QR code")
	}

	ctrl := a.newBrowser()
	defer func() {
		if err := ctrl.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close browser")
		}
	}()

	if err := ctrl.Start(ctx); err != nil {
		return session.Session{}, session.Profile{}, errors.Wrap(errors.ErrorTypeBrowserStart, err, "failed to start browser")
	}
	if err := ctrl.Navigate(ctx, a.opts.LoginURL); err != nil {
		return session.Session{}, session.Profile{}, errors.Wrap(errors.ErrorTypeBrowserStart, err, "failed to open login page")
	}
	if err := ctrl.WaitLoaded(ctx); err != nil {
		return session.Session{}, session.Profile{}, errors.Wrap(errors.ErrorTypeBrowserStart, err, "login page did not load")
	}
	if err := ctrl.ScreenshotElement(ctx, a.opts.QRSelector, a.opts.QRCodePath); err != nil {
		return session.Session{}, session.Profile{}, errors.Wrap(errors.ErrorTypeBrowserStart, err, "failed to capture QR code")
	}
	if qr := a.QRCode(); !qr.Ready {
		return session.Session{}, session.Profile{}, errors.New(errors.ErrorTypeBrowserStart,
			fmt.Sprintf("QR code not rendered (%d bytes)", qr.Size))
	}

	a.transition(StateQRCodeReady)
	if onNotice != nil {
		onNotice(a.opts.QRCodePath)
	}

	a.transition(StateAwaitingScan)
	landed, err := ctrl.WaitForNavigation(ctx, a.opts.HomeMarker, a.opts.ScanTimeout)
	if err != nil {
		if errors.Is(err, browser.ErrNavigationTimeout) {
			return session.Session{}, session.Profile{}, errors.New(errors.ErrorTypeScanTimeout,
				fmt.Sprintf("QR code was not scanned within %s", a.opts.ScanTimeout))
		}
		return session.Session{}, session.Profile{}, errors.Wrap(errors.ErrorTypeScanTimeout, err, "waiting for scan aborted")
	}
	if err := ctrl.WaitLoaded(ctx); err != nil {
		a.logger.WithError(err).Warn("Home page did not finish loading")
	}

	sess, source, err := Capture(ctx, ctrl, landed, a.opts.ExpiryCookies)
	if err != nil {
		return session.Session{}, session.Profile{}, err
	}
	a.logger.WithField("source", string(source)).Debug("Token extracted")

	var profile session.Profile
	if html, err := ctrl.HTML(ctx); err == nil {
		profile = ParseProfile(html)
	} else {
		a.logger.WithError(err).Debug("Profile scrape skipped")
	}

	if err := a.store.Replace(lease, sess); err != nil {
		return session.Session{}, session.Profile{}, err
	}
	if err := a.store.SetProfile(lease, profile); err != nil {
		a.logger.WithError(err).Warn("Failed to persist profile")
	}
	return sess, profile, nil
}
