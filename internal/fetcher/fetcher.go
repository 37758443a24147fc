package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrUpstream marks any failure to retrieve source bytes: transport errors,
// unreachable hosts, or a non-success status from the image host.
var ErrUpstream = errors.New("upstream fetch failed")

// Result is one retrieved body plus the length the upstream declared for it.
// ContentLength is -1 when the upstream did not declare one (chunked or
// compressed responses).
type Result struct {
	Body          []byte
	ContentLength int64
}

// Shared transport tunings: reuse long-lived connections, bound handshakes.
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Options configures the transport-level behavior of a Client. Some image
// hosts refuse requests without browser-looking headers, so the user agent
// and referer are forwarded verbatim when set.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Referer   string
}

// Client retrieves raw image bytes over HTTP. It is safe for concurrent use.
type Client struct {
	http      *http.Client
	userAgent string
	referer   string
	logger    *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: defaultTransport.Clone(),
		},
		userAgent: opts.UserAgent,
		referer:   opts.Referer,
		logger:    logger,
	}
}

// Fetch performs a single GET for rawURL and returns the full body.
// One attempt only; retrying is the caller's business.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d from %s", ErrUpstream, resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUpstream, err)
	}

	c.logger.Debug("fetched image",
		zap.String("url", rawURL),
		zap.Int("bytes", len(body)),
		zap.Int64("declared_length", resp.ContentLength),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return &Result{Body: body, ContentLength: resp.ContentLength}, nil
}
