package session

import (
	"strings"

	"wxharvest/pkg/lock"
)

// Seed environment variables, checked in order
var (
	TokenEnv       = []string{"WX_TOKEN", "WECHAT_MP_TOKEN"}
	CookieEnv      = []string{"WX_COOKIE", "WECHAT_MP_COOKIE"}
	FingerprintEnv = []string{"WX_FINGERPRINT", "WECHAT_MP_FINGERPRINT"}
	ForceEnv       = "WX_FORCE_SESSION"
)

// Seed is a session supplied out of band
type Seed struct {
	Token       string
	Cookie      string
	Fingerprint string
	Force       bool
}

// SeedFromEnv reads a seed through getenv (os.Getenv in production)
func SeedFromEnv(getenv func(string) string) Seed {
	first := func(names []string) string {
		for _, n := range names {
			if v := strings.TrimSpace(getenv(n)); v != "" {
				return v
			}
		}
		return ""
	}
	switch strings.ToLower(strings.TrimSpace(getenv(ForceEnv))) {
	case "1", "true", "yes", "on":
		return Seed{Token: first(TokenEnv), Cookie: first(CookieEnv), Fingerprint: first(FingerprintEnv), Force: true}
	}
	return Seed{Token: first(TokenEnv), Cookie: first(CookieEnv), Fingerprint: first(FingerprintEnv)}
}

// ParseCookieHeader splits "a=1; b=2" into jar entries on domain
func ParseCookieHeader(header, domain string) []Cookie {
	var cookies []Cookie
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		cookies = append(cookies, Cookie{Name: name, Value: value, Domain: domain, Path: "/"})
	}
	return cookies
}

// ApplySeed installs the seed when it carries a token and cookie and the
// store is empty or the seed is forced. The seeded session has no expiry,
// so it can sign requests but is not authenticated for renewal.
func (s *Store) ApplySeed(lease *lock.Lease, seed Seed, cookieDomain string) (bool, error) {
	if seed.Token == "" || seed.Cookie == "" {
		return false, nil
	}
	if !seed.Force && s.Snapshot().Token != "" {
		return false, nil
	}
	cookies := ParseCookieHeader(seed.Cookie, cookieDomain)
	sess := New(seed.Token, cookies, seed.Fingerprint, nil)
	if err := s.Replace(lease, sess); err != nil {
		return false, err
	}
	s.logger.WithField("forced", seed.Force).Info("Session seeded from environment")
	return true, nil
}
