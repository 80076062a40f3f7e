// Package session holds the authenticated provider session and the store
// that owns it.
package session

import (
	"strings"
	"time"
)

// Cookie is one entry of the browser cookie jar
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// Session is the credential bundle the listing endpoint accepts. Values are
// snapshots; the store never mutates one it has handed out.
type Session struct {
	Token        string     `json:"token"`
	Cookies      []Cookie   `json:"cookies"`
	CookieHeader string     `json:"cookie_header"`
	Fingerprint  string     `json:"fingerprint"`
	Expiry       *time.Time `json:"expiry,omitempty"`
}

// New builds a session, deriving the cookie header from the jar
func New(token string, cookies []Cookie, fingerprint string, expiry *time.Time) Session {
	return Session{
		Token:        token,
		Cookies:      cloneCookies(cookies),
		CookieHeader: CookieHeader(cookies),
		Fingerprint:  fingerprint,
		Expiry:       expiry,
	}
}

// Authenticated requires a token, a cookie header and a resolved expiry
func (s Session) Authenticated() bool {
	return s.Token != "" && s.CookieHeader != "" && s.Expiry != nil
}

// HasCredentials reports whether the session can sign listing requests
func (s Session) HasCredentials() bool {
	return s.Token != "" && s.CookieHeader != ""
}

// Expired reports whether the expiry has passed at now
func (s Session) Expired(now time.Time) bool {
	return s.Expiry != nil && !now.Before(*s.Expiry)
}

// Clone returns a deep copy
func (s Session) Clone() Session {
	out := s
	out.Cookies = cloneCookies(s.Cookies)
	if s.Expiry != nil {
		exp := *s.Expiry
		out.Expiry = &exp
	}
	return out
}

func cloneCookies(cookies []Cookie) []Cookie {
	if cookies == nil {
		return nil
	}
	out := make([]Cookie, len(cookies))
	copy(out, cookies)
	return out
}

// CookieHeader joins the jar as name=value pairs in jar order
func CookieHeader(cookies []Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// ResolveExpiry returns the expiry of the first named cookie that carries
// one. Session cookies (no expiry) are skipped; nil means unresolvable.
func ResolveExpiry(cookies []Cookie, names []string) *time.Time {
	for _, name := range names {
		for _, c := range cookies {
			if c.Name != name || c.Expires <= 0 {
				continue
			}
			sec := int64(c.Expires)
			nsec := int64((c.Expires - float64(sec)) * float64(time.Second))
			exp := time.Unix(sec, nsec).UTC()
			return &exp
		}
	}
	return nil
}

// Profile is the account metadata scraped after login. Every field is
// best-effort and may be empty.
type Profile struct {
	Name           string `json:"wx_app_name"`
	Avatar         string `json:"wx_logo"`
	ReadYesterday  string `json:"wx_read_yesterday"`
	ShareYesterday string `json:"wx_share_yesterday"`
	WatchYesterday string `json:"wx_watch_yesterday"`
	OriginalCount  string `json:"wx_yuan_count"`
	UserCount      string `json:"wx_user_count"`
}
