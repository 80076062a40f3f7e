package login

import (
	"context"
	"net/url"
	"strings"

	"wxharvest/pkg/browser"
	"wxharvest/pkg/errors"
	"wxharvest/pkg/session"
)

// TokenSource says where a token was found
type TokenSource string

const (
	SourceNone           TokenSource = ""
	SourceURL            TokenSource = "url"
	SourceLocalStorage   TokenSource = "local_storage"
	SourceSessionStorage TokenSource = "session_storage"
	SourceCookie         TokenSource = "cookie"
)

// ExtractToken applies the fixed precedence: URL query, localStorage,
// sessionStorage, then the first cookie whose name contains "token".
// Storage read failures fall through to the next source.
func ExtractToken(ctx context.Context, ctrl browser.Controller, pageURL string, cookies []session.Cookie) (string, TokenSource) {
	if tok := tokenFromURL(pageURL); tok != "" {
		return tok, SourceURL
	}
	if tok, err := ctrl.StorageItem(ctx, browser.LocalStorage, "token"); err == nil && tok != "" {
		return tok, SourceLocalStorage
	}
	if tok, err := ctrl.StorageItem(ctx, browser.SessionStorage, "token"); err == nil && tok != "" {
		return tok, SourceSessionStorage
	}
	for _, c := range cookies {
		if strings.Contains(strings.ToLower(c.Name), "token") && c.Value != "" {
			return c.Value, SourceCookie
		}
	}
	return "", SourceNone
}

func tokenFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("token")
}

// Capture reads a complete session from the page the browser is on. A page
// without a token, cookies, or a resolvable expiry is an extraction failure.
func Capture(ctx context.Context, ctrl browser.Controller, pageURL string, expiryCookies []string) (session.Session, TokenSource, error) {
	cookies, err := ctrl.Cookies(ctx)
	if err != nil {
		return session.Session{}, SourceNone, errors.Wrap(errors.ErrorTypeExtraction, err, "failed to read cookies")
	}

	token, source := ExtractToken(ctx, ctrl, pageURL, cookies)
	if token == "" {
		return session.Session{}, SourceNone, errors.New(errors.ErrorTypeExtraction, "no token found after login")
	}

	fingerprint, err := ctrl.UserAgent(ctx)
	if err != nil {
		fingerprint = ""
	}

	sess := session.New(token, cookies, fingerprint, session.ResolveExpiry(cookies, expiryCookies))
	if sess.CookieHeader == "" {
		return session.Session{}, source, errors.New(errors.ErrorTypeExtraction, "browser returned an empty cookie jar")
	}
	if sess.Expiry == nil {
		return session.Session{}, source, errors.New(errors.ErrorTypeExtraction, "session expiry could not be resolved")
	}
	return sess, source, nil
}
