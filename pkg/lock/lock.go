// Package lock provides the cross-process login lock. The lock is a marker
// file created with O_EXCL; its JSON body records who holds it and until
// when, so a marker left behind by a crashed process can be reclaimed.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"wxharvest/pkg/errors"
	"wxharvest/pkg/logger"
)

// Record is the marker file body
type Record struct {
	HolderNonce string    `json:"holder_nonce"`
	PID         int       `json:"pid"`
	Purpose     string    `json:"purpose,omitempty"`
	AcquiredAt  time.Time `json:"acquired_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IsExpired returns true if the lock has outlived its TTL
func (r *Record) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// FileLock guards session acquisition and renewal
type FileLock struct {
	path   string
	ttl    time.Duration
	now    func() time.Time
	logger logger.Logger
}

// New creates a lock backed by the marker at path
func New(path string, ttl time.Duration, log logger.Logger) (*FileLock, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &FileLock{path: path, ttl: ttl, now: time.Now, logger: log.WithField("component", "lock")}, nil
}

// Path returns the marker location
func (l *FileLock) Path() string {
	return l.path
}

// Acquire creates the marker. It returns a lock_busy error when a live
// marker exists. A stale marker is removed and acquisition retried once.
func (l *FileLock) Acquire(purpose string) (*Lease, error) {
	lease, err := l.tryCreate(purpose)
	if err == nil || !os.IsExist(err) {
		return lease, wrapCreateErr(err)
	}

	if !l.reclaimStale() {
		return nil, errors.New(errors.ErrorTypeLockBusy, "login lock is held by another attempt")
	}

	lease, err = l.tryCreate(purpose)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.New(errors.ErrorTypeLockBusy, "login lock is held by another attempt")
		}
		return nil, wrapCreateErr(err)
	}
	return lease, nil
}

func wrapCreateErr(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(errors.ErrorTypeStorage, err, "failed to create lock marker")
}

func (l *FileLock) tryCreate(purpose string) (*Lease, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	now := l.now().UTC()
	rec := Record{
		HolderNonce: uuid.NewString(),
		PID:         os.Getpid(),
		Purpose:     purpose,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(l.ttl),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		_ = os.Remove(l.path)
		return nil, err
	}

	l.logger.WithFields(map[string]interface{}{
		"purpose":    purpose,
		"expires_at": rec.ExpiresAt,
	}).Debug("Lock acquired")
	return &Lease{lock: l, record: rec}, nil
}

// reclaimStale removes the marker if it is past its expiry. An unreadable
// marker is judged by its modification time instead.
func (l *FileLock) reclaimStale() bool {
	now := l.now()
	rec, err := l.Holder()
	switch {
	case err == nil && rec == nil:
		// vanished between create and read
		return true
	case err == nil && !rec.IsExpired(now):
		return false
	case err != nil:
		info, statErr := os.Stat(l.path)
		if statErr != nil {
			return os.IsNotExist(statErr)
		}
		if now.Sub(info.ModTime()) <= l.ttl {
			return false
		}
	}

	fields := map[string]interface{}{"path": l.path}
	if rec != nil {
		fields["holder_pid"] = rec.PID
		fields["expired_at"] = rec.ExpiresAt
	}
	l.logger.WarnWithFields("Reclaiming stale lock", fields)
	return l.removeStale(rec)
}

// removeStale deletes the marker if it is still the stale one that was
// inspected. A nil stale record stands for an unreadable marker. Reclaimers
// are serialised by a guard file and the marker is moved aside before it is
// checked again, so a fresh marker is never deleted.
func (l *FileLock) removeStale(stale *Record) bool {
	guard := l.path + ".reclaim"
	g, err := os.OpenFile(guard, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		// a guard left by a crashed reclaimer is cleared for the next attempt
		if info, statErr := os.Stat(guard); statErr == nil && l.now().Sub(info.ModTime()) > l.ttl {
			_ = os.Remove(guard)
		}
		return false
	}
	g.Close()
	defer os.Remove(guard)

	current, err := l.Holder()
	if err == nil && current == nil {
		return true
	}
	if !sameMarker(stale, current, err) {
		return false
	}

	aside := fmt.Sprintf("%s.%s.stale", l.path, uuid.NewString())
	if err := os.Rename(l.path, aside); err != nil {
		if os.IsNotExist(err) {
			return true
		}
		l.logger.WithError(err).Warn("Failed to remove stale lock")
		return false
	}

	taken, err := readRecord(aside)
	if !sameMarker(stale, taken, err) {
		if err := os.Link(aside, l.path); err != nil {
			l.logger.WithError(err).Warn("Lock was replaced while reclaiming")
		}
		_ = os.Remove(aside)
		return false
	}
	if err := os.Remove(aside); err != nil && !os.IsNotExist(err) {
		l.logger.WithError(err).Warn("Failed to delete reclaimed lock")
	}
	return true
}

func sameMarker(want, got *Record, readErr error) bool {
	if want == nil {
		return readErr != nil
	}
	return readErr == nil && got != nil && got.HolderNonce == want.HolderNonce
}

// Held reports whether a live marker exists
func (l *FileLock) Held() bool {
	rec, err := l.Holder()
	if err != nil {
		_, statErr := os.Stat(l.path)
		return statErr == nil
	}
	return rec != nil && !rec.IsExpired(l.now())
}

// Holder reads the marker. It returns nil, nil when no marker exists.
func (l *FileLock) Holder() (*Record, error) {
	rec, err := readRecord(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return rec, err
}

func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt lock marker: %w", err)
	}
	return &rec, nil
}

// Lease is proof of holding the lock
type Lease struct {
	lock   *FileLock
	record Record

	mu       sync.Mutex
	released bool
}

// Record returns the marker body written for this lease
func (le *Lease) Record() Record {
	return le.record
}

// Valid reports whether the marker on disk still belongs to this lease
func (le *Lease) Valid() bool {
	if le == nil {
		return false
	}
	le.mu.Lock()
	released := le.released
	le.mu.Unlock()
	if released {
		return false
	}
	rec, err := le.lock.Holder()
	return err == nil && rec != nil && rec.HolderNonce == le.record.HolderNonce
}

// Release removes the marker if it still carries this lease's nonce.
// Releasing twice is a no-op.
func (le *Lease) Release() error {
	le.mu.Lock()
	defer le.mu.Unlock()
	if le.released {
		return nil
	}
	le.released = true

	rec, err := le.lock.Holder()
	if err != nil || rec == nil || rec.HolderNonce != le.record.HolderNonce {
		le.lock.logger.Warn("Lock marker no longer ours, leaving it in place")
		return nil
	}
	if err := os.Remove(le.lock.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	le.lock.logger.WithField("purpose", le.record.Purpose).Debug("Lock released")
	return nil
}
