package mp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wxharvest/pkg/errors"
	"wxharvest/pkg/logger"
)

var testCreds = Credentials{
	Token:        "98765",
	CookieHeader: "slave_sid=sid; data_ticket=ticket",
	UserAgent:    "Mozilla/5.0 test",
}

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, nil, logger.NewNopLogger()), srv
}

func TestListPublishedSendsCredentials(t *testing.T) {
	var got *http.Request
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_, _ = w.Write([]byte(listingBody(article(1, 1700000000))))
	})

	page, err := client.ListPublished(context.Background(), testCreds, "MzAwOTQxMzMwMQ==", 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	require.NotNil(t, got)
	assert.Equal(t, PublishListPath, got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "list", q.Get("sub"))
	assert.Equal(t, "list_ex", q.Get("sub_action"))
	assert.Equal(t, "10", q.Get("begin"))
	assert.Equal(t, "5", q.Get("count"))
	assert.Equal(t, "MzAwOTQxMzMwMQ==", q.Get("fakeid"))
	assert.Equal(t, "98765", q.Get("token"))
	assert.Equal(t, "zh_CN", q.Get("lang"))
	assert.Equal(t, "json", q.Get("f"))
	assert.Equal(t, "1", q.Get("ajax"))

	assert.Equal(t, testCreds.CookieHeader, got.Header.Get("Cookie"))
	assert.Equal(t, testCreds.UserAgent, got.Header.Get("User-Agent"))
	assert.Equal(t, "application/json, text/plain, */*", got.Header.Get("Accept"))
	assert.Contains(t, got.Header.Get("Referer"), "/cgi-bin/home")
}

func TestListPublishedErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    errors.ErrorType
		wantRet int
	}{
		{"provider ret", http.StatusOK, `{"base_resp":{"ret":200003,"err_msg":"invalid session"}}`, errors.ErrorTypeProviderProtocol, 200003},
		{"server error", http.StatusBadGateway, "", errors.ErrorTypeNetwork, http.StatusBadGateway},
		{"html instead of json", http.StatusOK, "<html>login</html>", errors.ErrorTypeParsing, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.ListPublished(context.Background(), testCreds, "MzAwOTQxMzMwMQ==", 0)
			require.Error(t, err)

			var typed *errors.Error
			require.True(t, errors.As(err, &typed))
			assert.Equal(t, tt.want, typed.Type)
			assert.Equal(t, tt.wantRet, typed.Code)
		})
	}
}

func TestListPublishedTransportFailure(t *testing.T) {
	client, srv := newTestServer(t, func(http.ResponseWriter, *http.Request) {})
	srv.Close()

	_, err := client.ListPublished(context.Background(), testCreds, "MzAwOTQxMzMwMQ==", 0)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNetwork))
}

func TestListPublishedRequiresCredentials(t *testing.T) {
	var calls int32
	client, _ := newTestServer(t, func(http.ResponseWriter, *http.Request) { atomic.AddInt32(&calls, 1) })

	_, err := client.ListPublished(context.Background(), Credentials{Token: "t"}, "x", 0)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnauthenticated))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

type countingLimiter struct{ waits int32 }

func (l *countingLimiter) Allow() bool { return true }
func (l *countingLimiter) Wait(ctx context.Context) error {
	atomic.AddInt32(&l.waits, 1)
	return ctx.Err()
}
func (l *countingLimiter) Reset() {}

func TestListPublishedWaitsForLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(listingBody()))
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	client := NewClient(srv.URL, time.Second, limiter, logger.NewNopLogger())
	for i := 0; i < 3; i++ {
		_, err := client.ListPublished(context.Background(), testCreds, "x", i)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&limiter.waits))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.ListPublished(ctx, testCreds, "x", 0)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNetwork))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchArticleContent(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/s/ok":
			_, _ = w.Write([]byte(`<html><body><div id="js_content" style="visibility:hidden"><p>Hello <b>Go</b></p></div></body></html>`))
		case "/s/fallback":
			_, _ = w.Write([]byte(`<html><body><div class="rich_media_content"><p>Alt</p></div></body></html>`))
		default:
			_, _ = w.Write([]byte(`<html><body><p>deleted</p></body></html>`))
		}
	})

	html, err := client.FetchArticleContent(context.Background(), client.BaseURL()+"/s/ok", "UA")
	require.NoError(t, err)
	assert.Equal(t, "<p>Hello <b>Go</b></p>", html)

	html, err = client.FetchArticleContent(context.Background(), client.BaseURL()+"/s/fallback", "UA")
	require.NoError(t, err)
	assert.Equal(t, "<p>Alt</p>", html)

	_, err = client.FetchArticleContent(context.Background(), client.BaseURL()+"/s/gone", "UA")
	assert.True(t, errors.IsType(err, errors.ErrorTypeParsing))

	_, err = client.FetchArticleContent(context.Background(), "", "UA")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidRequest))
}
