package mp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wxharvest/pkg/errors"
	"wxharvest/pkg/logger"
	"wxharvest/pkg/ratelimit"
)

// maxBodyBytes bounds a listing or article response
const maxBodyBytes = 8 << 20

// Credentials sign backend requests
type Credentials struct {
	Token        string
	CookieHeader string
	// UserAgent should be the fingerprint of the browser the cookies came from
	UserAgent string
}

// Client talks to the official-account backend with session credentials
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	limiter    ratelimit.Limiter
	logger     logger.Logger
}

// NewClient creates a backend client. A nil limiter disables rate limiting.
func NewClient(baseURL string, timeout time.Duration, limiter ratelimit.Limiter, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		headers: map[string]string{
			"User-Agent":       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Accept":           "application/json, text/plain, */*",
			"Accept-Language":  "zh-CN,zh;q=0.9,en;q=0.8",
			"Cache-Control":    "no-cache",
			"Pragma":           "no-cache",
			"X-Requested-With": "XMLHttpRequest",
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: limiter,
		logger:  log.WithField("component", "mp_client"),
	}
}

// BaseURL returns the backend root the client targets
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetHeader sets a custom header for every request
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// doRequest waits for the limiter, applies headers and performs the request.
// Transport failures are returned as network errors.
func (c *Client) doRequest(ctx context.Context, req *http.Request, creds Credentials) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeNetwork, err, "rate limiter wait aborted")
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if creds.UserAgent != "" {
		req.Header.Set("User-Agent", creds.UserAgent)
	}
	if creds.CookieHeader != "" {
		req.Header.Set("Cookie", creds.CookieHeader)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req.WithContext(ctx))
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"path":     req.URL.Path,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errors.Wrap(errors.ErrorTypeNetwork, err, fmt.Sprintf("request to %s failed", req.URL.Path))
	}

	logger.LogRequest(c.logger, req.Method, req.URL.Path, resp.StatusCode, float64(duration.Milliseconds()))
	return resp, nil
}

func (c *Client) get(ctx context.Context, rawURL string, creds Credentials, referer string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeInvalidRequest, err, "failed to build request")
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := c.doRequest(ctx, req, creds)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &errors.Error{
			Type:    errors.ErrorTypeNetwork,
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, req.URL.Path),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeNetwork, err, "failed to read response body")
	}
	return body, nil
}

// ListPublished fetches and decodes one page of an account's published
// articles. fakeID must already be normalised.
func (c *Client) ListPublished(ctx context.Context, creds Credentials, fakeID string, page int) (*Page, error) {
	if creds.Token == "" || creds.CookieHeader == "" {
		return nil, errors.New(errors.ErrorTypeUnauthenticated, "listing requires a token and a cookie header")
	}

	body, err := c.get(ctx,
		PublishListURL(c.baseURL, fakeID, creds.Token, page),
		creds,
		HomeURL(c.baseURL, HomePath, creds.Token))
	if err != nil {
		return nil, err
	}

	result, err := DecodeListResponse(body)
	if err != nil {
		return nil, err
	}

	c.logger.DebugWithFields("Listing page decoded", map[string]interface{}{
		"page":        page,
		"entries":     result.Entries,
		"items":       len(result.Items),
		"total_count": result.TotalCount,
	})
	return result, nil
}
