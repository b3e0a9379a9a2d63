// Package httpclient issues outbound HTTP requests under a shared
// concurrency cap with retries for transient failures.
package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"propertysearch/server/internal/metrics"
	"propertysearch/server/internal/retry"
)

const (
	DefaultMaxParallelConnections = 24
	DefaultTimeout                = 30 * time.Second
)

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	// Name labels metrics and log lines, e.g. "rightmove".
	Name                   string
	MaxParallelConnections int
	MaxRetryCount          int
	RetryBaseDelay         time.Duration
	UserAgent              string
	Referer                string
	Timeout                time.Duration
	// Transport replaces http.DefaultTransport, mostly for tests.
	Transport http.RoundTripper
	Metrics   *metrics.Metrics
}

// Client gates every request attempt through one counting semaphore.
// It is safe for concurrent use.
type Client struct {
	name       string
	logger     *logrus.Logger
	gate       *semaphore.Weighted
	client     *http.Client
	noRedirect *http.Client
	headers    http.Header
	policy     retry.Policy
	metrics    *metrics.Metrics
}

// Response is a fully read HTTP response. The connection slot is released
// before it is returned.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func New(opts Options, logger *logrus.Logger) *Client {
	if opts.MaxParallelConnections <= 0 {
		opts.MaxParallelConnections = DefaultMaxParallelConnections
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	headers := http.Header{}
	if opts.UserAgent != "" {
		headers.Set("User-Agent", opts.UserAgent)
	}
	if opts.Referer != "" {
		headers.Set("Referer", opts.Referer)
	}

	return &Client{
		name:   opts.Name,
		logger: logger,
		gate:   semaphore.NewWeighted(int64(opts.MaxParallelConnections)),
		client: &http.Client{Timeout: opts.Timeout, Transport: transport},
		noRedirect: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		headers: headers,
		policy:  retry.Exponential(opts.MaxRetryCount, opts.RetryBaseDelay),
		metrics: opts.Metrics,
	}
}

// Get issues a GET that follows redirects.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.GetWithOptions(ctx, rawURL, nil, true)
}

// GetWithOptions issues a GET with query appended to rawURL. With
// followRedirects false a 3xx response is returned as is.
func (c *Client) GetWithOptions(ctx context.Context, rawURL string, query url.Values, followRedirects bool) (*Response, error) {
	target, err := withQuery(rawURL, query)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, target, followRedirects, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
}

// PostWithForm issues a POST with form as an urlencoded body.
func (c *Client) PostWithForm(ctx context.Context, rawURL string, form url.Values) (*Response, error) {
	encoded := form.Encode()
	return c.do(ctx, rawURL, true, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

func (c *Client) do(ctx context.Context, target string, followRedirects bool, build func() (*http.Request, error)) (*Response, error) {
	var resp *Response
	attempts := 0

	err := retry.Do(ctx, c.policy, func() error {
		attempts++
		req, err := build()
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		for key, values := range c.headers {
			req.Header[key] = values
		}

		resp, err = c.send(req, followRedirects)
		return err
	}, func(err error, wait time.Duration, remaining int) {
		c.metrics.IncRetry(c.name)
		c.logger.WithError(err).WithFields(logrus.Fields{
			"client":    c.name,
			"url":       target,
			"wait":      wait.String(),
			"remaining": remaining,
		}).Debug("Retrying request")
	})
	if err != nil {
		var transient *TransientError
		if errors.As(err, &transient) {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrFetchExhausted, attempts, err)
		}
		return nil, err
	}
	return resp, nil
}

// send performs one attempt while holding a connection slot.
func (c *Client) send(req *http.Request, followRedirects bool) (*Response, error) {
	ctx := req.Context()
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, retry.Permanent(err)
	}
	defer c.gate.Release(1)

	c.metrics.AddInFlight(1)
	defer c.metrics.AddInFlight(-1)

	target := req.URL.String()
	client := c.client
	if !followRedirects {
		client = c.noRedirect
	}

	start := time.Now()
	res, err := client.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(c.name, 0, time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, retry.Permanent(ctxErr)
		}
		return nil, &TransientError{URL: target, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	c.metrics.ObserveRequest(c.name, res.StatusCode, time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, retry.Permanent(ctxErr)
		}
		return nil, &TransientError{URL: target, StatusCode: res.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	c.logger.WithFields(logrus.Fields{
		"client": c.name,
		"method": req.Method,
		"url":    target,
		"status": res.StatusCode,
	}).Debug("Request completed")

	if IsRetryableStatus(res.StatusCode) {
		return nil, &TransientError{
			URL:        target,
			StatusCode: res.StatusCode,
			Err:        &StatusError{URL: target, StatusCode: res.StatusCode, Body: body},
		}
	}

	return &Response{
		URL:        target,
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       body,
	}, nil
}

// OK returns a *StatusError unless the response status is 2xx.
func (r *Response) OK() error {
	if r.StatusCode < 200 || r.StatusCode > 299 {
		return &StatusError{URL: r.URL, StatusCode: r.StatusCode, Body: r.Body}
	}
	return nil
}

// DecodeJSON checks for a 2xx status and unmarshals the body into v.
// what names the payload in the returned *DecodeError.
func (r *Response) DecodeJSON(v any, what string) error {
	if err := r.OK(); err != nil {
		return err
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &DecodeError{
			URL:        r.URL,
			StatusCode: r.StatusCode,
			Body:       r.Body,
			Context:    what,
			Err:        err,
		}
	}
	return nil
}

func withQuery(rawURL string, query url.Values) (string, error) {
	if len(query) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", rawURL, err)
	}
	q := u.Query()
	for key, values := range query {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
