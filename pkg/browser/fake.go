package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"wxharvest/pkg/session"
)

// FakeController is a scripted in-memory Controller for tests
type FakeController struct {
	StartErr      error
	NavigateErr   error
	ScreenshotErr error
	// Screenshot is written verbatim by ScreenshotElement
	Screenshot []byte
	// NavigatedURL is what WaitForNavigation reports; empty simulates a timeout
	NavigatedURL string
	// Gate, when set, holds WaitForNavigation until it is closed
	Gate chan struct{}
	URL  string
	// Jar is what Cookies returns; nil echoes the last SetCookies argument
	Jar     []session.Cookie
	Local   map[string]string
	Session map[string]string
	Agent   string
	Page    string

	mu        sync.Mutex
	calls     []string
	navigated []string
	set       []session.Cookie
	closed    bool
}

func (f *FakeController) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

// Calls returns the recorded method calls in order
func (f *FakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Navigated returns every URL passed to Navigate
func (f *FakeController) Navigated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigated...)
}

// SetCookiesArg returns the cookies last passed to SetCookies
func (f *FakeController) SetCookiesArg() []session.Cookie {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Cookie(nil), f.set...)
}

// Closed reports whether Close was called
func (f *FakeController) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeController) Start(context.Context) error {
	f.record("Start")
	return f.StartErr
}

func (f *FakeController) Navigate(_ context.Context, url string) error {
	f.record("Navigate")
	f.mu.Lock()
	f.navigated = append(f.navigated, url)
	f.mu.Unlock()
	return f.NavigateErr
}

func (f *FakeController) WaitLoaded(context.Context) error {
	f.record("WaitLoaded")
	return nil
}

func (f *FakeController) ScreenshotElement(_ context.Context, selector, path string) error {
	f.record("ScreenshotElement")
	if f.ScreenshotErr != nil {
		return f.ScreenshotErr
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, f.Screenshot, 0644)
}

func (f *FakeController) WaitForNavigation(ctx context.Context, marker string, timeout time.Duration) (string, error) {
	f.record("WaitForNavigation")
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.NavigatedURL == "" || !strings.Contains(f.NavigatedURL, marker) {
		return "", ErrNavigationTimeout
	}
	return f.NavigatedURL, nil
}

func (f *FakeController) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.URL != "" {
		return f.URL, nil
	}
	if n := len(f.navigated); n > 0 {
		return f.navigated[n-1], nil
	}
	return "about:blank", nil
}

func (f *FakeController) Cookies(context.Context) ([]session.Cookie, error) {
	if f.Jar == nil {
		return f.SetCookiesArg(), nil
	}
	return append([]session.Cookie(nil), f.Jar...), nil
}

func (f *FakeController) SetCookies(_ context.Context, cookies []session.Cookie) error {
	f.record("SetCookies")
	f.mu.Lock()
	f.set = append([]session.Cookie(nil), cookies...)
	f.mu.Unlock()
	return nil
}

func (f *FakeController) StorageItem(_ context.Context, area StorageArea, key string) (string, error) {
	switch area {
	case LocalStorage:
		return f.Local[key], nil
	case SessionStorage:
		return f.Session[key], nil
	default:
		return "", fmt.Errorf("unknown storage area %q", area)
	}
}

func (f *FakeController) UserAgent(context.Context) (string, error) {
	return f.Agent, nil
}

func (f *FakeController) HTML(context.Context) (string, error) {
	return f.Page, nil
}

func (f *FakeController) Close() error {
	f.record("Close")
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
