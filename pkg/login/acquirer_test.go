package login

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wxharvest/pkg/browser"
	"wxharvest/pkg/errors"
	"wxharvest/pkg/kvstore"
	"wxharvest/pkg/lock"
	"wxharvest/pkg/logger"
	"wxharvest/pkg/session"
)

const homeURL = "https://mp.weixin.qq.com/cgi-bin/home?t=home/index&lang=zh_CN&token=98765"

type harness struct {
	dir      string
	lock     *lock.FileLock
	store    *session.Store
	acquirer *Acquirer
	created  int32

	mu     sync.Mutex
	states []State
}

func validQR() []byte {
	return bytes.Repeat([]byte{0x89}, MinQRCodeBytes+100)
}

func futureCookies() []session.Cookie {
	exp := float64(time.Now().Add(24 * time.Hour).Unix())
	return []session.Cookie{
		{Name: "slave_sid", Value: "sid", Domain: ".weixin.qq.com", Path: "/", Expires: exp},
		{Name: "data_ticket", Value: "ticket", Domain: ".weixin.qq.com", Path: "/"},
	}
}

func successfulBrowser() *browser.FakeController {
	return &browser.FakeController{
		Screenshot:   validQR(),
		NavigatedURL: homeURL,
		Jar:          futureCookies(),
		Agent:        "Mozilla/5.0 test",
		Page:         `<html><body><div class="account-name">Daily Go</div></body></html>`,
	}
}

func newHarness(t *testing.T, newFake func() *browser.FakeController) *harness {
	t.Helper()
	dir := t.TempDir()
	l, err := lock.New(filepath.Join(dir, "data", ".lock"), time.Minute, logger.NewNopLogger())
	require.NoError(t, err)
	store, err := session.NewStore(kvstore.NewMemoryStore(), filepath.Join(dir, "data", "cookies.json"), logger.NewNopLogger())
	require.NoError(t, err)

	h := &harness{dir: dir, lock: l, store: store}
	factory := func() browser.Controller {
		atomic.AddInt32(&h.created, 1)
		return newFake()
	}
	opts := Options{
		LoginURL:      "https://mp.weixin.qq.com/",
		HomeMarker:    "cgi-bin/home",
		QRCodePath:    filepath.Join(dir, "static", "wx_qrcode.png"),
		QRSelector:    ".login__type__container__scan__qrcode",
		ScanTimeout:   time.Second,
		ExpiryCookies: []string{"slave_sid"},
	}
	h.acquirer = New(opts, l, store, factory, logger.NewNopLogger())
	h.acquirer.OnTransition(func(_, to State) {
		h.mu.Lock()
		h.states = append(h.states, to)
		h.mu.Unlock()
	})
	return h
}

func (h *harness) seen() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states...)
}

func waitAttempt(t *testing.T, at *Attempt) (*session.Session, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return at.Wait(ctx)
}

func TestBeginLoginSuccess(t *testing.T) {
	var fake *browser.FakeController
	h := newHarness(t, func() *browser.FakeController {
		fake = successfulBrowser()
		return fake
	})

	var notices int32
	var gotProfile session.Profile
	var successSession session.Session
	at := h.acquirer.BeginLogin(context.Background(),
		func(s session.Session, p session.Profile) {
			successSession = s
			gotProfile = p
		},
		func(path string) {
			atomic.AddInt32(&notices, 1)
			_, err := os.Stat(path)
			assert.NoError(t, err)
		})
	require.False(t, at.Busy)

	sess, err := waitAttempt(t, at)
	require.NoError(t, err)
	require.NotNil(t, sess)

	assert.Equal(t, "98765", sess.Token)
	assert.Equal(t, "slave_sid=sid; data_ticket=ticket", sess.CookieHeader)
	assert.Equal(t, "Mozilla/5.0 test", sess.Fingerprint)
	assert.True(t, sess.Authenticated())
	assert.Equal(t, sess.Token, successSession.Token)
	assert.Equal(t, "Daily Go", gotProfile.Name)
	assert.Equal(t, int32(1), notices)

	assert.True(t, h.store.Snapshot().Authenticated())
	assert.Equal(t, "Daily Go", h.store.Profile().Name)
	jar, err := h.store.CookieJar()
	require.NoError(t, err)
	assert.Len(t, jar, 2)

	assert.Equal(t, []State{
		StateLockAcquiring, StateBrowserStarting, StateQRCodeReady,
		StateAwaitingScan, StateAuthenticated, StateIdle,
	}, h.seen())
	assert.False(t, h.lock.Held())
	assert.True(t, fake.Closed())
	assert.Equal(t, []string{"https://mp.weixin.qq.com/"}, fake.Navigated())
	assert.True(t, h.acquirer.QRCode().Ready)
}

func TestConcurrentBeginLoginStartsOneBrowser(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, func() *browser.FakeController {
		f := successfulBrowser()
		f.Gate = gate
		return f
	})

	const n = 12
	attempts := make([]*Attempt, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			attempts[i] = h.acquirer.BeginLogin(context.Background(), nil, nil)
		}(i)
	}
	wg.Wait()

	var running *Attempt
	busy := 0
	for _, at := range attempts {
		if at.Busy {
			busy++
			_, err := waitAttempt(t, at)
			assert.True(t, errors.IsType(err, errors.ErrorTypeLockBusy))
			assert.Equal(t, h.acquirer.opts.QRCodePath, at.QRCodePath)
			continue
		}
		running = at
	}
	assert.Equal(t, n-1, busy)
	require.NotNil(t, running)

	close(gate)
	_, err := waitAttempt(t, running)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.created))
}

func TestBeginLoginWhileLockHeld(t *testing.T) {
	h := newHarness(t, successfulBrowser)

	lease, err := h.lock.Acquire("renewal")
	require.NoError(t, err)

	at := h.acquirer.BeginLogin(context.Background(), nil, nil)
	assert.True(t, at.Busy)
	assert.NotEmpty(t, at.Message)
	assert.Equal(t, int32(0), atomic.LoadInt32(&h.created))
	assert.Empty(t, h.seen())

	require.NoError(t, lease.Release())

	at = h.acquirer.BeginLogin(context.Background(), nil, nil)
	assert.False(t, at.Busy)
	_, err = waitAttempt(t, at)
	require.NoError(t, err)
	assert.Contains(t, h.seen(), StateBrowserStarting)
}

func TestScanTimeout(t *testing.T) {
	h := newHarness(t, func() *browser.FakeController {
		f := successfulBrowser()
		f.NavigatedURL = ""
		return f
	})

	at := h.acquirer.BeginLogin(context.Background(), func(session.Session, session.Profile) {
		t.Error("onSuccess must not be called")
	}, nil)
	_, err := waitAttempt(t, at)

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeScanTimeout))
	assert.True(t, errors.IsType(h.acquirer.LastError(), errors.ErrorTypeScanTimeout))
	assert.Equal(t, StateIdle, h.acquirer.State())
	assert.Equal(t, []State{StateFailed, StateIdle}, h.seen()[len(h.seen())-2:])
	assert.False(t, h.lock.Held())
	assert.False(t, h.store.Snapshot().Authenticated())
}

func TestLoginFailureKinds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*browser.FakeController)
		want   errors.ErrorType
	}{
		{"browser fails to start", func(f *browser.FakeController) { f.StartErr = os.ErrPermission }, errors.ErrorTypeBrowserStart},
		{"blank qr placeholder", func(f *browser.FakeController) { f.Screenshot = make([]byte, MinQRCodeBytes) }, errors.ErrorTypeBrowserStart},
		{"qr widget missing", func(f *browser.FakeController) { f.ScreenshotErr = context.DeadlineExceeded }, errors.ErrorTypeBrowserStart},
		{"no token anywhere", func(f *browser.FakeController) {
			f.NavigatedURL = "https://mp.weixin.qq.com/cgi-bin/home?t=home/index"
		}, errors.ErrorTypeExtraction},
		{"expiry unresolvable", func(f *browser.FakeController) {
			f.Jar = []session.Cookie{{Name: "slave_sid", Value: "sid"}}
		}, errors.ErrorTypeExtraction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fake *browser.FakeController
			h := newHarness(t, func() *browser.FakeController {
				fake = successfulBrowser()
				tt.mutate(fake)
				return fake
			})

			_, err := waitAttempt(t, h.acquirer.BeginLogin(context.Background(), nil, nil))
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.TypeOf(err))
			assert.False(t, h.lock.Held())
			assert.True(t, fake.Closed())
			assert.Equal(t, StateIdle, h.acquirer.State())
		})
	}
}

func TestStaleQRCodeRemovedBeforeAttempt(t *testing.T) {
	h := newHarness(t, func() *browser.FakeController {
		f := successfulBrowser()
		f.ScreenshotErr = os.ErrNotExist
		return f
	})
	qr := h.acquirer.opts.QRCodePath
	require.NoError(t, os.MkdirAll(filepath.Dir(qr), 0755))
	require.NoError(t, os.WriteFile(qr, validQR(), 0644))

	_, err := waitAttempt(t, h.acquirer.BeginLogin(context.Background(), nil, nil))
	require.Error(t, err)

	_, statErr := os.Stat(qr)
	assert.True(t, os.IsNotExist(statErr))
	assert.False(t, h.acquirer.QRCode().Ready)
}
