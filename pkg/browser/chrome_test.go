package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wxharvest/pkg/config"
	"wxharvest/pkg/logger"
	"wxharvest/pkg/session"
)

func TestChromeFactoryProducesUnstartedControllers(t *testing.T) {
	factory := NewChromeFactory(config.DefaultConfig().Browser, "test-agent", logger.NewNopLogger())

	a, b := factory(), factory()
	require.IsType(t, &Chrome{}, a)
	assert.NotSame(t, a, b)

	_, err := a.CurrentURL(context.Background())
	assert.EqualError(t, err, "browser not started")
	assert.NoError(t, a.Close())
}

func TestFakeControllerScripts(t *testing.T) {
	f := &FakeController{
		NavigatedURL: "https://mp.weixin.qq.com/cgi-bin/home?t=home/index&token=1",
		Local:        map[string]string{"token": "local"},
	}
	ctx := context.Background()

	require.NoError(t, f.Navigate(ctx, "https://mp.weixin.qq.com/"))
	u, err := f.WaitForNavigation(ctx, "cgi-bin/home", 0)
	require.NoError(t, err)
	assert.Contains(t, u, "token=1")

	_, err = f.WaitForNavigation(ctx, "cgi-bin/never", 0)
	assert.ErrorIs(t, err, ErrNavigationTimeout)

	v, err := f.StorageItem(ctx, LocalStorage, "token")
	require.NoError(t, err)
	assert.Equal(t, "local", v)

	v, err = f.StorageItem(ctx, SessionStorage, "token")
	require.NoError(t, err)
	assert.Empty(t, v)

	cur, err := f.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://mp.weixin.qq.com/", cur)

	require.NoError(t, f.Close())
	assert.True(t, f.Closed())
	assert.Equal(t, []string{"Navigate", "WaitForNavigation", "WaitForNavigation", "Close"}, f.Calls())
}

func TestCookieParamsKeepExpiry(t *testing.T) {
	params := cookieParams([]session.Cookie{
		{Name: "slave_sid", Value: "sid", Domain: ".weixin.qq.com", Path: "/", Expires: 1800000000.5, HTTPOnly: true},
		{Name: "token", Value: "98765", Domain: ".weixin.qq.com", Path: "/"},
	})
	require.Len(t, params, 2)

	require.NotNil(t, params[0].Expires)
	got := time.Time(*params[0].Expires)
	assert.Equal(t, int64(1800000000), got.Unix())
	assert.Equal(t, 500*time.Millisecond, time.Duration(got.Nanosecond()))
	assert.True(t, params[0].HTTPOnly)
	assert.Equal(t, ".weixin.qq.com", params[0].Domain)

	assert.Nil(t, params[1].Expires, "cookies without expiry stay session cookies")
}

func TestSessionCookiesRoundTrip(t *testing.T) {
	jar := sessionCookies([]*network.Cookie{
		{Name: "slave_sid", Value: "sid", Domain: ".weixin.qq.com", Path: "/", Expires: 1800000000, Secure: true},
		{Name: "pgv_pvid", Value: "1", Domain: ".qq.com", Path: "/", Expires: -1},
	})
	require.Len(t, jar, 2)
	assert.Equal(t, 1800000000.0, jar[0].Expires)
	assert.Equal(t, ".qq.com", jar[1].Domain)

	params := cookieParams(jar)
	require.NotNil(t, params[0].Expires)
	assert.Equal(t, int64(1800000000), time.Time(*params[0].Expires).Unix())
	assert.Nil(t, params[1].Expires)
}

func TestFakeEchoesReplayedCookies(t *testing.T) {
	f := &FakeController{}
	ctx := context.Background()
	set := []session.Cookie{{Name: "slave_sid", Value: "sid", Expires: 1800000000}}

	require.NoError(t, f.SetCookies(ctx, set))
	got, err := f.Cookies(ctx)
	require.NoError(t, err)
	assert.Equal(t, set, got)
}
