// Package client executes HTTP requests and streams their response bodies
// into managed download files.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/adamwoolhether/dlfile/client/throttle"
	"github.com/adamwoolhether/dlfile/download"
)

// Client wraps the std-lib *http.Client
// It sets a default *http.Client and *http.Transport, which
// can be customized via optional funcs.
type Client struct {
	c         *http.Client
	logger    *slog.Logger
	retries   int
	retryWait time.Duration
}

func Build(optFns ...Option) (*Client, error) {
	client := &Client{
		c:      &http.Client{},
		logger: slog.Default(),
	}

	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying client option: %w", err)
		}
	}

	if opts.client != nil {
		client.c = opts.client
	}

	if opts.logger != nil {
		client.logger = opts.logger
	}

	if opts.timeout != nil {
		client.c.Timeout = *opts.timeout
	}

	if opts.noFollowRedirects {
		client.c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	client.retries = opts.retries
	client.retryWait = opts.retryWait

	var transport http.RoundTripper
	switch {
	case opts.rt != nil:
		transport = opts.rt
	case opts.client != nil && opts.client.Transport != nil:
		transport = opts.client.Transport
	default:
		transport = http.DefaultTransport
	}
	if opts.decoding {
		transport = decoder{base: transport}
	}
	if opts.userAgent != "" {
		transport = userAgent{value: opts.userAgent, base: transport}
	}
	if opts.throttle != nil {
		rt, err := throttle.NewRoundTripper(opts.throttle.RPS, opts.throttle.Burst, func() *slog.Logger { return client.logger }, transport)
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}
		transport = rt
	}
	client.c.Transport = transport

	return client, nil
}

// Download executes req and, if the response carries expCode, copies the
// body into f. The response's Content-Length is the declared size; a body
// that ends short or long fails with ErrContentLengthMismatch. The
// returned count is the number of bytes written into f, including on
// failure. f is not released.
func (c *Client) Download(req *http.Request, expCode int, f *download.File) (int64, error) {
	if f == nil {
		return 0, errors.New("destination file must not be nil")
	}

	var written int64
	dlFunc := func(resp *http.Response) error {
		size := resp.ContentLength
		c.logger.Debug("download response", "url", req.URL.String(), "path", f.Path(), "status", resp.StatusCode, "size", size)

		n, err := f.CopyFrom(req.Context(), download.FromReader(resp.Body, 0), size, bodyErr(req.Context()))
		written = n
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}

		if size >= 0 && n != size {
			return fmt.Errorf("download: %w: wrote %d of %d bytes", ErrContentLengthMismatch, n, size)
		}

		return nil
	}

	err := c.exec(req, expCode, dlFunc)

	return written, err
}

// Fetch downloads src into destPath with a GET request, opening the
// destination under policy and releasing it before returning. With
// WithRetries, failed attempts that may succeed on another try are
// repeated into the same file after resetting it.
func (c *Client) Fetch(ctx context.Context, src *url.URL, destPath string, policy download.OverwritePolicy, fileOpts ...download.Option) (int64, error) {
	var written int64

	err := download.Using(destPath, policy, func(f *download.File) error {
		for attempt := 0; ; attempt++ {
			if attempt > 0 {
				if err := c.backoff(ctx, attempt); err != nil {
					return err
				}
				if err := f.Reset(); err != nil {
					return fmt.Errorf("resetting before retry: %w", err)
				}
			}

			req, err := Request(ctx, src, http.MethodGet)
			if err != nil {
				return err
			}

			written, err = c.Download(req, http.StatusOK, f)
			if err == nil {
				return nil
			}

			if attempt >= c.retries || !retryable(err) {
				return err
			}

			c.logger.Warn("download attempt failed", "url", src.String(), "path", destPath, "attempt", attempt+1, "error", err)
		}
	}, fileOpts...)

	return written, err
}

func (c *Client) backoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(time.Duration(attempt) * c.retryWait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrDownloadCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ErrServer) || errors.Is(err, ErrContentLengthMismatch) {
		return true
	}

	var ce *download.CopyError
	if errors.As(err, &ce) {
		return ce.Op == download.OpSource
	}

	var ue *url.Error
	return errors.As(err, &ue)
}

// bodyErr reports a body read that failed because the request context
// ended as that context's error, so the copy is seen as cancelled.
func bodyErr(ctx context.Context) func(error) error {
	return func(err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("reading body: %w", cerr)
		}
		return fmt.Errorf("reading body: %w", err)
	}
}

// Request instantiates an *http.Request with the provided information.
// It's just a convenience method that wraps the public Request func.
func (c *Client) Request(ctx context.Context, reqURL *url.URL, method string, opts ...RequestOption) (*http.Request, error) {
	return Request(ctx, reqURL, method, opts...)
}

// URL creates a url.URL for use in Request.
// It's just a convenience method that wraps the public URL func.
func (c *Client) URL(scheme, host, path string, opts ...URLOption) *url.URL {
	return URL(scheme, host, path, opts...)
}

// exec runs the request and injected function on success after validating the expected status code.
func (c *Client) exec(req *http.Request, expCode int, fn execFn) error {
	resp, err := c.c.Do(req)
	if err != nil {
		return fmt.Errorf("exec http do: %w", err)
	}

	discardBody := true
	defer func() {
		if discardBody {
			if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrBodySize)); err != nil {
				c.logger.Debug("failed to discard unused body", "error", err)
			}
		}
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != expCode {
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrBodySize))
		if err != nil {
			b = []byte("unable to read body")
		}

		return &UnexpectedStatusError{
			StatusCode: resp.StatusCode,
			Body:       string(b),
			Err:        ErrUnexpectedStatusCode,
		}
	}

	if err := fn(resp); err != nil {
		discardBody = false
		return fmt.Errorf("exec fn: %w", err)
	}

	return nil
}

// Request instantiates a body-less *http.Request with the provided information.
func Request(ctx context.Context, reqURL *url.URL, method string, opts ...RequestOption) (*http.Request, error) {
	var settings requestOpts
	for _, opt := range opts {
		err := opt(&settings)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}

	for _, cookie := range settings.cookies {
		req.AddCookie(cookie)
	}

	for k, v := range settings.headers {
		for _, element := range v {
			req.Header.Add(k, element)
		}
	}

	return req, nil
}

// URL creates a url.URL for use in Request.
func URL(scheme, host, path string, opts ...URLOption) *url.URL {
	var settings urlOpts
	for _, opt := range opts {
		opt(&settings)
	}

	if settings.port != nil {
		host = fmt.Sprintf("%s:%d", host, *settings.port)
	}

	endpoint := url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   path,
	}

	if settings.queryStrings != nil {
		queryParams := url.Values{}
		for k, v := range settings.queryStrings {
			queryParams.Add(k, v)
		}

		endpoint.RawQuery = queryParams.Encode()
	}

	return &endpoint
}
