package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wxharvest/pkg/errors"
	"wxharvest/pkg/kvstore"
	"wxharvest/pkg/lock"
	"wxharvest/pkg/logger"
)

type fixture struct {
	dir   string
	kv    kvstore.Store
	lock  *lock.FileLock
	store *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	kv, err := kvstore.NewFileStore(filepath.Join(dir, "wx.lic"))
	require.NoError(t, err)
	l, err := lock.New(filepath.Join(dir, ".lock"), time.Minute, logger.NewNopLogger())
	require.NoError(t, err)
	s, err := NewStore(kv, filepath.Join(dir, "cookies.json"), logger.NewNopLogger())
	require.NoError(t, err)
	return &fixture{dir: dir, kv: kv, lock: l, store: s}
}

func sampleSession() Session {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	return New("tok123", []Cookie{
		{Name: "slave_sid", Value: "sid", Domain: ".weixin.qq.com", Path: "/", Expires: float64(exp.Unix())},
		{Name: "data_ticket", Value: "dt", Domain: ".weixin.qq.com", Path: "/"},
	}, "Mozilla/5.0", &exp)
}

func TestReplaceRequiresLease(t *testing.T) {
	f := newFixture(t)

	err := f.store.Replace(nil, sampleSession())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLockBusy))

	lease, err := f.lock.Acquire("test")
	require.NoError(t, err)
	require.NoError(t, lease.Release())

	err = f.store.Replace(lease, sampleSession())
	assert.Error(t, err, "a released lease must not authorise writes")
	assert.False(t, f.store.Snapshot().Authenticated())
}

func TestReplacePersistsAndReloads(t *testing.T) {
	f := newFixture(t)
	lease, err := f.lock.Acquire("login")
	require.NoError(t, err)
	defer lease.Release()

	require.NoError(t, f.store.Replace(lease, sampleSession()))

	snap := f.store.Snapshot()
	assert.True(t, snap.Authenticated())
	assert.Equal(t, "slave_sid=sid; data_ticket=dt", snap.CookieHeader)

	reopened, err := NewStore(f.kv, filepath.Join(f.dir, "cookies.json"), logger.NewNopLogger())
	require.NoError(t, err)
	got := reopened.Snapshot()
	assert.Equal(t, "tok123", got.Token)
	assert.Equal(t, "Mozilla/5.0", got.Fingerprint)
	require.NotNil(t, got.Expiry)
	assert.True(t, snap.Expiry.Equal(*got.Expiry))
	assert.Len(t, got.Cookies, 2)
}

func TestSnapshotIsolation(t *testing.T) {
	f := newFixture(t)
	lease, err := f.lock.Acquire("login")
	require.NoError(t, err)
	defer lease.Release()
	require.NoError(t, f.store.Replace(lease, sampleSession()))

	before := f.store.Snapshot()
	before.Cookies[0].Value = "tampered"

	next := sampleSession()
	next.Token = "renewed"
	require.NoError(t, f.store.Replace(lease, next))

	assert.Equal(t, "tok123", before.Token)
	assert.Equal(t, "renewed", f.store.Snapshot().Token)
	assert.Equal(t, "sid", f.store.Snapshot().Cookies[0].Value)
}

func TestConcurrentReadersDuringReplace(t *testing.T) {
	f := newFixture(t)
	lease, err := f.lock.Acquire("login")
	require.NoError(t, err)
	defer lease.Release()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s := f.store.Snapshot()
				if s.Token != "" {
					assert.NotEmpty(t, s.CookieHeader)
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, f.store.Replace(lease, sampleSession()))
	}
	wg.Wait()
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	lease, err := f.lock.Acquire("logout")
	require.NoError(t, err)
	defer lease.Release()

	require.NoError(t, f.store.Replace(lease, sampleSession()))
	require.NoError(t, f.store.Clear(lease))

	assert.False(t, f.store.Snapshot().Authenticated())
	assert.Equal(t, "", f.kv.Get("token", ""))
	_, err = os.Stat(filepath.Join(f.dir, "cookies.json"))
	assert.True(t, os.IsNotExist(err))

	jar, err := f.store.CookieJar()
	require.NoError(t, err)
	assert.Nil(t, jar)
}

func TestProfileRoundTrip(t *testing.T) {
	f := newFixture(t)
	lease, err := f.lock.Acquire("login")
	require.NoError(t, err)
	defer lease.Release()

	require.NoError(t, f.store.SetProfile(lease, Profile{Name: "Daily Go", UserCount: "1,024"}))

	reopened, err := NewStore(f.kv, filepath.Join(f.dir, "cookies.json"), logger.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, "Daily Go", reopened.Profile().Name)
	assert.Equal(t, "1,024", reopened.Profile().UserCount)
}

func TestSeedFromEnv(t *testing.T) {
	env := map[string]string{
		"WECHAT_MP_TOKEN":  "envtok",
		"WX_COOKIE":        "slave_sid=abc; bizuin=42",
		"WX_FINGERPRINT":   "fp",
		"WX_FORCE_SESSION": "yes",
	}
	seed := SeedFromEnv(func(k string) string { return env[k] })

	assert.Equal(t, Seed{Token: "envtok", Cookie: "slave_sid=abc; bizuin=42", Fingerprint: "fp", Force: true}, seed)
}

func TestApplySeed(t *testing.T) {
	f := newFixture(t)
	lease, err := f.lock.Acquire("seed")
	require.NoError(t, err)
	defer lease.Release()

	applied, err := f.store.ApplySeed(lease, Seed{Token: "only-token"}, ".weixin.qq.com")
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = f.store.ApplySeed(lease, Seed{Token: "t1", Cookie: "slave_sid=abc; bizuin=42"}, ".weixin.qq.com")
	require.NoError(t, err)
	assert.True(t, applied)

	snap := f.store.Snapshot()
	assert.True(t, snap.HasCredentials())
	assert.False(t, snap.Authenticated())
	require.Len(t, snap.Cookies, 2)
	assert.Equal(t, ".weixin.qq.com", snap.Cookies[1].Domain)
	assert.Equal(t, "bizuin", snap.Cookies[1].Name)

	// an existing session is kept unless forced
	applied, err = f.store.ApplySeed(lease, Seed{Token: "t2", Cookie: "a=1"}, ".weixin.qq.com")
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = f.store.ApplySeed(lease, Seed{Token: "t2", Cookie: "a=1", Force: true}, ".weixin.qq.com")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "t2", f.store.Snapshot().Token)
}

func TestParseCookieHeader(t *testing.T) {
	cookies := ParseCookieHeader(" a=1;b=x=y ; broken; =nope", ".example.com")
	require.Len(t, cookies, 2)
	assert.Equal(t, Cookie{Name: "a", Value: "1", Domain: ".example.com", Path: "/"}, cookies[0])
	assert.Equal(t, "x=y", cookies[1].Value)
}
