// Package upstream performs outbound HTTP calls with a per-attempt deadline
// and a bounded retry on transport failures.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lexiqai/avatar-gateway/internal/apperr"
	"github.com/lexiqai/avatar-gateway/internal/observability"
	"github.com/lexiqai/avatar-gateway/internal/resilience"
	"github.com/rs/zerolog"
)

// Options configures a Client.
type Options struct {
	Timeout        time.Duration // Per-attempt deadline
	Retries        int           // Extra attempts after a transport failure
	InitialBackoff time.Duration
	InsecureTLS    bool
	PoolSize       int
}

// Request is one outbound call. Body is replayed on every attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response holds a fully read upstream response of any status.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Client is a named upstream with its own connection pool.
type Client struct {
	name    string
	http    *http.Client
	timeout time.Duration
	retry   *resilience.RetryConfig
	logger  zerolog.Logger
}

// NewPooledHTTPClient returns an http.Client with a dedicated transport.
// Deadlines are applied per request through the context.
func NewPooledHTTPClient(poolSize int, insecureTLS bool) *http.Client {
	if poolSize <= 0 {
		poolSize = 16
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          poolSize,
		MaxIdleConnsPerHost:   poolSize,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed dev endpoints
	}
	return &http.Client{Transport: transport}
}

// New creates a Client for the named upstream.
func New(name string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	if opts.InsecureTLS {
		logger := observability.GetLogger()
		logger.Warn().Str("upstream", name).Msg("TLS verification disabled")
	}
	return &Client{
		name:    name,
		http:    NewPooledHTTPClient(opts.PoolSize, opts.InsecureTLS),
		timeout: timeout,
		retry: &resilience.RetryConfig{
			MaxAttempts:       retries + 1,
			InitialBackoff:    opts.InitialBackoff,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
		},
		logger: observability.GetLogger().With().Str("upstream", name).Logger(),
	}
}

// Name returns the upstream name used in metrics and logs.
func (c *Client) Name() string {
	return c.name
}

// HTTPClient exposes the pooled client for SDKs that bring their own request logic.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Timeout returns the per-attempt deadline.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Do sends req. Any received status is returned as a Response; only
// transport failures are retried. When every attempt fails in transport the
// error is an *apperr.UpstreamError with Status 0 wrapping the last
// *apperr.TransportError.
func (c *Client) Do(ctx context.Context, op string, req Request) (*Response, error) {
	var resp *Response
	err := resilience.Retry(ctx, func(ctx context.Context, attempt int) error {
		r, err := c.attempt(ctx, op, req)
		if err != nil {
			if apperr.IsTransport(err) {
				c.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("Upstream request failed")
			}
			return err
		}
		resp = r
		return nil
	}, c.retry, apperr.IsTransport)
	if err != nil {
		var transport *apperr.TransportError
		if errors.As(err, &transport) {
			return nil, &apperr.UpstreamError{Op: op, Message: "request failed", Err: transport}
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, op string, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		observability.RecordUpstreamRequest(c.name, op, 0, time.Since(start))
		return nil, &apperr.TransportError{Op: op, Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	observability.RecordUpstreamRequest(c.name, op, httpResp.StatusCode, time.Since(start))
	if err != nil {
		return nil, &apperr.TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}
