// Package netutil provides the hub's outbound HTTP gateway: content
// fetches, verification GETs, and delivery POSTs.
package netutil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TransportError indicates the remote host could not be reached: no
// HTTP response was received at all. Callers absorb it into state
// (Topic.Failed) rather than propagating.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("netutil: %s unreachable: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NonRetryableError indicates request setup failed before any transport
// attempt was made (for example, malformed URL).
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("netutil: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error { return e.Err }

// Response is a completed HTTP exchange. Any status code is a valid
// Response; status handling is the caller's concern.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client executes the hub's outbound requests. Interface allows tests
// to substitute canned exchanges.
type Client interface {
	Get(ctx context.Context, target string, header http.Header) (*Response, error)
	Post(ctx context.Context, target string, body []byte, header http.Header) (*Response, error)
	PostForm(ctx context.Context, target string, form url.Values, header http.Header) (*Response, error)
}

// HTTPClient is the production Client backed by net/http. The timeout
// is pulled from a callback on each request so runtime config changes
// take effect without rewiring.
type HTTPClient struct {
	Client    *http.Client
	TimeoutFn func() time.Duration
}

// NewHTTPClient creates an HTTPClient with the given per-request
// timeout source.
func NewHTTPClient(timeoutFn func() time.Duration) *HTTPClient {
	if timeoutFn == nil {
		panic("netutil: NewHTTPClient requires non-nil timeoutFn")
	}
	return &HTTPClient{
		Client:    &http.Client{},
		TimeoutFn: timeoutFn,
	}
}

// Get executes a GET against target with the given headers.
func (c *HTTPClient) Get(ctx context.Context, target string, header http.Header) (*Response, error) {
	return c.do(ctx, http.MethodGet, target, "", nil, header)
}

// Post executes a POST with a raw body. The caller supplies all
// headers, Content-Type included.
func (c *HTTPClient) Post(ctx context.Context, target string, body []byte, header http.Header) (*Response, error) {
	return c.do(ctx, http.MethodPost, target, string(body), nil, header)
}

// PostForm executes a form-encoded POST against target. Caller headers
// are applied after the Content-Type default, so a caller may override
// it.
func (c *HTTPClient) PostForm(ctx context.Context, target string, form url.Values, header http.Header) (*Response, error) {
	return c.do(ctx, http.MethodPost, target, form.Encode(), map[string][]string{
		"Content-Type": {"application/x-www-form-urlencoded"},
	}, header)
}

func (c *HTTPClient) do(
	ctx context.Context,
	method, target, body string,
	defaults, header http.Header,
) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout := c.TimeoutFn(); timeout > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &NonRetryableError{Err: err}
	}
	for k, vs := range defaults {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: target, Err: err}
	}
	return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}
