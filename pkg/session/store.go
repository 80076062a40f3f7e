package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"wxharvest/pkg/errors"
	"wxharvest/pkg/kvstore"
	"wxharvest/pkg/lock"
	"wxharvest/pkg/logger"
)

const (
	keyToken        = "token"
	keyCookieHeader = "cookie_header"
	keyFingerprint  = "fingerprint"
	keyExpiry       = "expiry"
	keyProfile      = "profile"
)

// Store owns the single current session. Readers take value snapshots;
// writers must hold the login lock and present its lease.
type Store struct {
	kv      kvstore.Store
	jarPath string
	logger  logger.Logger

	current atomic.Pointer[Session]
	profile atomic.Pointer[Profile]
}

// NewStore loads the persisted session from kv and the cookie jar cache
func NewStore(kv kvstore.Store, jarPath string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	s := &Store{kv: kv, jarPath: jarPath, logger: log.WithField("component", "session_store")}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	cookies, err := s.CookieJar()
	if err != nil {
		return err
	}

	sess := Session{
		Token:        s.kv.Get(keyToken, ""),
		CookieHeader: s.kv.Get(keyCookieHeader, ""),
		Fingerprint:  s.kv.Get(keyFingerprint, ""),
		Cookies:      cookies,
	}
	if raw := s.kv.Get(keyExpiry, ""); raw != "" {
		if exp, err := time.Parse(time.RFC3339, raw); err == nil {
			sess.Expiry = &exp
		} else {
			s.logger.WithError(err).Warn("Ignoring unparseable session expiry")
		}
	}
	s.current.Store(&sess)

	var p Profile
	if raw := s.kv.Get(keyProfile, ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			s.logger.WithError(err).Warn("Ignoring unparseable profile")
		}
	}
	s.profile.Store(&p)
	return nil
}

// Snapshot returns a copy of the current session
func (s *Store) Snapshot() Session {
	cur := s.current.Load()
	if cur == nil {
		return Session{}
	}
	return cur.Clone()
}

// Profile returns the last scraped account profile
func (s *Store) Profile() Profile {
	if p := s.profile.Load(); p != nil {
		return *p
	}
	return Profile{}
}

func requireLease(lease *lock.Lease) error {
	if !lease.Valid() {
		return errors.New(errors.ErrorTypeLockBusy, "session writes require the login lock")
	}
	return nil
}

// Replace persists sess (jar cache first, then the primary slot) and swaps
// it in wholesale.
func (s *Store) Replace(lease *lock.Lease, sess Session) error {
	if err := requireLease(lease); err != nil {
		return err
	}
	next := sess.Clone()

	if err := s.saveJar(next.Cookies); err != nil {
		return errors.Wrap(errors.ErrorTypeStorage, err, "failed to persist cookie jar")
	}

	s.kv.Set(keyToken, next.Token)
	s.kv.Set(keyCookieHeader, next.CookieHeader)
	s.kv.Set(keyFingerprint, next.Fingerprint)
	if next.Expiry != nil {
		s.kv.Set(keyExpiry, next.Expiry.UTC().Format(time.RFC3339))
	} else {
		s.kv.Delete(keyExpiry)
	}
	if err := s.persist(); err != nil {
		return err
	}

	s.current.Store(&next)
	s.logger.WithFields(map[string]interface{}{
		"token":   logger.Mask(next.Token),
		"cookies": len(next.Cookies),
		"expiry":  expiryString(next.Expiry),
	}).Info("Session replaced")
	return nil
}

// SetProfile persists the scraped profile
func (s *Store) SetProfile(lease *lock.Lease, p Profile) error {
	if err := requireLease(lease); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	s.kv.Set(keyProfile, string(data))
	if err := s.persist(); err != nil {
		return err
	}
	s.profile.Store(&p)
	return nil
}

// Clear marks the session unauthenticated by dropping every credential
func (s *Store) Clear(lease *lock.Lease) error {
	if err := requireLease(lease); err != nil {
		return err
	}
	for _, k := range []string{keyToken, keyCookieHeader, keyFingerprint, keyExpiry} {
		s.kv.Delete(k)
	}
	if err := s.persist(); err != nil {
		return err
	}
	if err := os.Remove(s.jarPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrorTypeStorage, err, "failed to remove cookie jar")
	}
	s.current.Store(&Session{})
	s.logger.Info("Session cleared")
	return nil
}

func (s *Store) persist() error {
	if err := s.kv.Save(); err != nil {
		return errors.Wrap(errors.ErrorTypeStorage, err, "failed to save session")
	}
	if err := s.kv.Reload(); err != nil {
		return errors.Wrap(errors.ErrorTypeStorage, err, "failed to reload session")
	}
	return nil
}

// CookieJar reads the raw cookie jar cache. A missing cache yields nil.
func (s *Store) CookieJar() ([]Cookie, error) {
	data, err := os.ReadFile(s.jarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrorTypeStorage, err, "failed to read cookie jar")
	}
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeStorage, err, "failed to parse cookie jar")
	}
	return cookies, nil
}

func (s *Store) saveJar(cookies []Cookie) error {
	if err := os.MkdirAll(filepath.Dir(s.jarPath), 0700); err != nil {
		return err
	}
	if cookies == nil {
		cookies = []Cookie{}
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.jarPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.jarPath)
}

func expiryString(t *time.Time) string {
	if t == nil {
		return "unresolved"
	}
	return t.Format(time.RFC3339)
}
