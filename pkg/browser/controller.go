// Package browser drives the headless browser used for QR login and
// session renewal.
package browser

import (
	"context"
	"errors"
	"time"

	"wxharvest/pkg/session"
)

// ErrNavigationTimeout is returned when the awaited navigation never happens
var ErrNavigationTimeout = errors.New("navigation did not happen before the timeout")

// StorageArea names a web storage object
type StorageArea string

const (
	LocalStorage   StorageArea = "localStorage"
	SessionStorage StorageArea = "sessionStorage"
)

// Controller is one browser instance with a single page. A controller is
// used by one goroutine at a time and must be closed after use.
type Controller interface {
	Start(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	// WaitLoaded blocks until the document body is ready
	WaitLoaded(ctx context.Context) error
	// ScreenshotElement writes a PNG of the first element matching selector
	ScreenshotElement(ctx context.Context, selector, path string) error
	// WaitForNavigation returns the first main-frame URL containing marker
	WaitForNavigation(ctx context.Context, marker string, timeout time.Duration) (string, error)
	CurrentURL(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]session.Cookie, error)
	SetCookies(ctx context.Context, cookies []session.Cookie) error
	// StorageItem returns "" for a missing key
	StorageItem(ctx context.Context, area StorageArea, key string) (string, error)
	UserAgent(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Factory creates a fresh, unstarted controller
type Factory func() Controller
