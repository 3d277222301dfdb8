package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jspahr/packetlens/internal/cookie"
	"github.com/jspahr/packetlens/internal/types"
)

const (
	// minTimeout is the floor applied to caller-requested timeouts so a
	// pathological request can never hang indefinitely.
	minTimeout = 5 * time.Second
	// bodyReadTimeout bounds reading the response body independently of
	// the request timeout.
	bodyReadTimeout = 30 * time.Second
	// maxRedirects is the fixed redirect ceiling.
	maxRedirects = 10

	userAgent = "packetlens/1.0"
)

// Request describes one HTTP request to execute. An unrecognized method
// falls back to GET. TLS verification is always on regardless of flags.
type Request struct {
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body,omitempty"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
	FollowRedirects bool              `json:"follow_redirects"`
}

// Client executes HTTP requests with cookie-jar integration: stored cookies
// are attached to outgoing requests and Set-Cookie response headers are
// ingested back into the store.
type Client struct {
	cookies *cookie.Store
	// transport is swappable for tests; nil means http.DefaultTransport.
	transport http.RoundTripper
}

// New creates a client backed by the given cookie store.
func New(cookies *cookie.Store) *Client {
	return &Client{cookies: cookies}
}

// Do executes the request and returns the response outcome. Errors carry
// coded types: invalid_input for a bad URL, timeout when either the request
// or the body read exceeded its bound, transport_error otherwise.
func (c *Client) Do(ctx context.Context, req Request) (*types.ResponseInfo, error) {
	start := time.Now()

	target, err := url.Parse(req.URL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, types.NewError(types.CodeInvalidInput, fmt.Sprintf("invalid URL %q", req.URL), err)
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout < minTimeout {
		timeout = minTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, normalizeMethod(req.Method), target.String(), strings.NewReader(req.Body))
	if err != nil {
		return nil, types.NewError(types.CodeInvalidInput, "building request failed", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if pairs := c.cookies.CookiesFor(target); len(pairs) > 0 {
		httpReq.Header.Set("Cookie", strings.Join(pairs, "; "))
	}

	slog.Info("sending request", "method", httpReq.Method, "url", req.URL)

	resp, err := c.httpClient(req.FollowRedirects).Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewError(types.CodeTimeout,
				fmt.Sprintf("request timed out after %s", timeout), err)
		}
		return nil, types.NewError(types.CodeTransportError, "request failed", err)
	}
	defer resp.Body.Close()

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	rawCookies := resp.Header.Values("Set-Cookie")
	ingestURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		ingestURL = resp.Request.URL
	}
	for _, raw := range rawCookies {
		c.cookies.AddFromSetCookie(ingestURL, raw)
	}

	body, err := readBodyBounded(resp.Body)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		headers[name] = strings.Join(values, ", ")
	}

	elapsed := time.Since(start).Milliseconds()
	slog.Info("received response", "status", resp.StatusCode, "url", finalURL, "elapsed_ms", elapsed)

	return &types.ResponseInfo{
		Status:         resp.StatusCode,
		Headers:        headers,
		Body:           string(body),
		Cookies:        rawCookies,
		ResponseTimeMs: elapsed,
		FinalURL:       finalURL,
	}, nil
}

// Replay maps a reconstructed request into the normal execution path with a
// fixed 30 second timeout and redirects on.
func (c *Client) Replay(ctx context.Context, captured *types.CapturedRequest) (*types.ResponseInfo, error) {
	return c.Do(ctx, Request{
		Method:          captured.Method,
		URL:             captured.URL,
		Headers:         captured.Headers,
		Body:            string(captured.Body),
		TimeoutSeconds:  30,
		FollowRedirects: true,
	})
}

func (c *Client) httpClient(followRedirects bool) *http.Client {
	hc := &http.Client{Transport: c.transport}
	if followRedirects {
		hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		}
	} else {
		hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return hc
}

// readBodyBounded reads the whole body under its own safety timeout: the
// connection is torn down if the read runs past the bound.
func readBodyBounded(body io.ReadCloser) ([]byte, error) {
	var timedOut atomic.Bool
	timer := time.AfterFunc(bodyReadTimeout, func() {
		timedOut.Store(true)
		body.Close()
	})
	defer timer.Stop()

	data, err := io.ReadAll(body)
	if err != nil {
		if timedOut.Load() || errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewError(types.CodeTimeout, "timed out reading response body", err)
		}
		return nil, types.NewError(types.CodeTransportError, "failed to read response body", err)
	}
	return data, nil
}

func normalizeMethod(method string) string {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions, http.MethodPatch:
		return strings.ToUpper(method)
	default:
		return http.MethodGet
	}
}
