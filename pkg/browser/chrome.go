package browser

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"wxharvest/pkg/config"
	"wxharvest/pkg/logger"
	"wxharvest/pkg/session"
)

// Chrome is a Controller backed by a chromedp-managed Chrome process
type Chrome struct {
	cfg       config.BrowserConfig
	userAgent string
	logger    logger.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	navigations chan string
}

// NewChromeFactory returns a Factory producing Chrome controllers
func NewChromeFactory(cfg config.BrowserConfig, userAgent string, log logger.Logger) Factory {
	if log == nil {
		log = logger.GetLogger()
	}
	return func() Controller {
		return &Chrome{
			cfg:         cfg,
			userAgent:   userAgent,
			logger:      log.WithField("component", "browser"),
			navigations: make(chan string, 32),
		}
	}
}

// Start launches the browser and opens a blank tab
func (c *Chrome) Start(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.WindowSize(c.cfg.WindowWidth, c.cfg.WindowHeight),
	)
	if c.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.ExecPath))
	}
	if c.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.userAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		c.logger.Debug(fmt.Sprintf(format, args...))
	}))

	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		e, ok := ev.(*page.EventFrameNavigated)
		if !ok || e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		select {
		case c.navigations <- e.Frame.URL:
		default:
		}
	})

	// The first Run allocates the browser and must use the browser context
	// itself, otherwise the process dies with the caller's context.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	select {
	case err := <-started:
		if err != nil {
			cancel()
			allocCancel()
			return fmt.Errorf("failed to launch browser: %w", err)
		}
	case <-ctx.Done():
		cancel()
		allocCancel()
		return ctx.Err()
	}

	c.ctx, c.cancel, c.allocCancel = browserCtx, cancel, allocCancel
	c.logger.WithField("headless", c.cfg.Headless).Debug("Browser started")
	return nil
}

// run executes actions on the tab, aborting when ctx is done or the load
// timeout elapses.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	if c.ctx == nil {
		return fmt.Errorf("browser not started")
	}
	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	if c.cfg.LoadTimeout > 0 {
		var tcancel context.CancelFunc
		runCtx, tcancel = context.WithTimeout(runCtx, c.cfg.LoadTimeout)
		defer tcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	c.logger.WithField("url", url).Debug("Navigating")
	return c.run(ctx, chromedp.Navigate(url))
}

func (c *Chrome) WaitLoaded(ctx context.Context) error {
	return c.run(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
}

func (c *Chrome) ScreenshotElement(ctx context.Context, selector, path string) error {
	var buf []byte
	if err := c.run(ctx, chromedp.Screenshot(selector, &buf, chromedp.NodeVisible, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to capture %s: %w", selector, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	return os.WriteFile(path, buf, 0644)
}

func (c *Chrome) WaitForNavigation(ctx context.Context, marker string, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// the page may already be there if the scan happened quickly
	if u, err := c.CurrentURL(ctx); err == nil && strings.Contains(u, marker) {
		return u, nil
	}

	for {
		select {
		case u := <-c.navigations:
			if strings.Contains(u, marker) {
				return u, nil
			}
		case <-timer.C:
			return "", ErrNavigationTimeout
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var u string
	err := c.run(ctx, chromedp.Location(&u))
	return u, err
}

// Cookies returns the whole browser jar, not only the current page's cookies
func (c *Chrome) Cookies(ctx context.Context) ([]session.Cookie, error) {
	var out []session.Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		out = sessionCookies(cookies)
		return nil
	}))
	return out, err
}

func (c *Chrome) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	params := cookieParams(cookies)
	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
}

func sessionCookies(cookies []*network.Cookie) []session.Cookie {
	out := make([]session.Cookie, 0, len(cookies))
	for _, ck := range cookies {
		out = append(out, session.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  ck.Expires,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
		})
	}
	return out
}

// cookieParams maps stored cookies to CDP params. Expires is in unix seconds;
// a cookie without one stays a session cookie.
func cookieParams(cookies []session.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, ck := range cookies {
		p := &network.CookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
		}
		if ck.Expires > 0 {
			sec, frac := math.Modf(ck.Expires)
			t := cdp.TimeSinceEpoch(time.Unix(int64(sec), int64(frac*1e9)))
			p.Expires = &t
		}
		params = append(params, p)
	}
	return params
}

func (c *Chrome) StorageItem(ctx context.Context, area StorageArea, key string) (string, error) {
	var v string
	js := fmt.Sprintf("window.%s.getItem(%q) || ''", area, key)
	err := c.run(ctx, chromedp.Evaluate(js, &v))
	return v, err
}

func (c *Chrome) UserAgent(ctx context.Context) (string, error) {
	var ua string
	err := c.run(ctx, chromedp.Evaluate("navigator.userAgent", &ua))
	return ua, err
}

func (c *Chrome) HTML(ctx context.Context) (string, error) {
	var html string
	err := c.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// Close shuts the tab and the browser process
func (c *Chrome) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	c.ctx = nil
	return nil
}
