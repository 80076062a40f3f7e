package login

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wxharvest/pkg/browser"
	"wxharvest/pkg/errors"
	"wxharvest/pkg/session"
)

func TestExtractTokenPrecedence(t *testing.T) {
	cookieJar := []session.Cookie{
		{Name: "slave_sid", Value: "sid"},
		{Name: "slave_sid_TOKEN", Value: "from-cookie"},
	}

	tests := []struct {
		name       string
		url        string
		local      map[string]string
		sessionMap map[string]string
		cookies    []session.Cookie
		wantToken  string
		wantSource TokenSource
	}{
		{
			name:       "url wins over everything",
			url:        "https://mp.weixin.qq.com/cgi-bin/home?t=home/index&token=from-url",
			local:      map[string]string{"token": "from-local"},
			sessionMap: map[string]string{"token": "from-session"},
			cookies:    cookieJar,
			wantToken:  "from-url",
			wantSource: SourceURL,
		},
		{
			name:       "local storage before session storage",
			url:        "https://mp.weixin.qq.com/cgi-bin/home",
			local:      map[string]string{"token": "from-local"},
			sessionMap: map[string]string{"token": "from-session"},
			cookies:    cookieJar,
			wantToken:  "from-local",
			wantSource: SourceLocalStorage,
		},
		{
			name:       "session storage before cookies",
			url:        "https://mp.weixin.qq.com/cgi-bin/home",
			sessionMap: map[string]string{"token": "from-session"},
			cookies:    cookieJar,
			wantToken:  "from-session",
			wantSource: SourceSessionStorage,
		},
		{
			name:       "cookie name match is case-insensitive",
			url:        "https://mp.weixin.qq.com/cgi-bin/home",
			cookies:    cookieJar,
			wantToken:  "from-cookie",
			wantSource: SourceCookie,
		},
		{
			name:       "nothing found",
			url:        "::not a url::",
			cookies:    cookieJar[:1],
			wantSource: SourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &browser.FakeController{Local: tt.local, Session: tt.sessionMap}
			tok, src := ExtractToken(context.Background(), f, tt.url, tt.cookies)
			assert.Equal(t, tt.wantToken, tok)
			assert.Equal(t, tt.wantSource, src)
		})
	}
}

func TestCapture(t *testing.T) {
	exp := float64(time.Now().Add(time.Hour).Unix())
	f := &browser.FakeController{
		Jar: []session.Cookie{
			{Name: "slave_sid", Value: "sid", Expires: exp},
			{Name: "bizuin", Value: "42"},
		},
		Agent: "ua",
	}

	sess, src, err := Capture(context.Background(), f, "https://x/cgi-bin/home?token=7", []string{"slave_sid"})
	require.NoError(t, err)
	assert.Equal(t, SourceURL, src)
	assert.Equal(t, "7", sess.Token)
	assert.Equal(t, "slave_sid=sid; bizuin=42", sess.CookieHeader)
	assert.Equal(t, "ua", sess.Fingerprint)
	assert.True(t, sess.Authenticated())

	empty := &browser.FakeController{}
	_, _, err = Capture(context.Background(), empty, "https://x/cgi-bin/home?token=7", []string{"slave_sid"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeExtraction))
}
