// Package http is the outbound HTTP client used to fetch remote documents.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/beladevo/libreoffice-docx-to-pdf/config"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
)

// ErrTooLarge is returned when a response body exceeds FetchConfig.MaxBytes.
var ErrTooLarge = errors.New("response body exceeds size limit")

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Sink receives a download. It is rewound and truncated before each retry;
// *os.File satisfies it.
type Sink interface {
	io.Writer
	io.Seeker
	Truncate(size int64) error
}

// Client downloads documents with bounded retries and exponential backoff.
type Client struct {
	client  *http.Client
	cfg     config.FetchConfig
	logger  types.Logger
	metrics types.Metrics
}

// NewClient builds a client. ConnectTimeout bounds dialing and the TLS
// handshake; ReadTimeout bounds each attempt as a whole.
func NewClient(cfg config.FetchConfig, logger types.Logger, metrics types.Metrics) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Client{
		client:  &http.Client{Transport: transport},
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Download GETs url into dst and returns the number of bytes written.
//
// Transport errors and 5xx responses are retried up to MaxRetries times.
// Client errors (4xx and other non-2xx below 500) and a body larger than
// MaxBytes fail at once. The last attempt's error is returned.
func (c *Client) Download(ctx context.Context, url string, dst Sink) (int64, error) {
	c.metrics.StartOperation("fetch")
	defer c.metrics.EndOperation("fetch")

	start := time.Now()
	defer func() {
		c.metrics.RecordDuration("fetch", time.Since(start).Seconds())
	}()

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			c.logger.Warn(ctx, "Retrying download", types.Fields{
				"attempt":    attempt + 1,
				"backoff_ms": backoff.Milliseconds(),
				"error":      lastErr.Error(),
			})
			if err := sleep(ctx, backoff); err != nil {
				return 0, err
			}
			if err := rewind(dst); err != nil {
				return 0, err
			}
		}

		attempts++
		n, err := c.attempt(ctx, url, dst)
		if err == nil {
			c.metrics.RecordSuccess("fetch")
			c.metrics.RecordFileSize("download", n)
			return n, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if !retryable(err) {
			break
		}
	}

	c.metrics.RecordError("fetch", errorType(lastErr))
	return 0, fmt.Errorf("download failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, url string, dst io.Writer) (int64, error) {
	attemptCtx := ctx
	if c.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.ReadTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return 0, &StatusError{StatusCode: resp.StatusCode}
	}

	if c.cfg.MaxBytes > 0 && resp.ContentLength > c.cfg.MaxBytes {
		return 0, ErrTooLarge
	}

	body := io.Reader(resp.Body)
	if c.cfg.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, c.cfg.MaxBytes+1)
	}
	n, err := io.Copy(dst, body)
	if err != nil {
		return n, fmt.Errorf("failed to read response body: %w", err)
	}
	if c.cfg.MaxBytes > 0 && n > c.cfg.MaxBytes {
		return n, ErrTooLarge
	}
	return n, nil
}

// backoff returns InitialBackoff * BackoffMultiplier^(attempt-1), capped at
// MaxBackoff.
func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.cfg.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= c.cfg.BackoffMultiplier
		if c.cfg.MaxBackoff > 0 && d >= float64(c.cfg.MaxBackoff) {
			return c.cfg.MaxBackoff
		}
	}
	if c.cfg.MaxBackoff > 0 && time.Duration(d) > c.cfg.MaxBackoff {
		return c.cfg.MaxBackoff
	}
	return time.Duration(d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func rewind(dst Sink) error {
	if err := dst.Truncate(0); err != nil {
		return fmt.Errorf("reset download target: %w", err)
	}
	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("reset download target: %w", err)
	}
	return nil
}

// retryable reports whether another attempt could succeed. Only server-side
// statuses and transport failures qualify.
func retryable(err error) bool {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return se.StatusCode >= 500
	case errors.Is(err, ErrTooLarge):
		return false
	default:
		return true
	}
}

func errorType(err error) string {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return "status_" + strconv.Itoa(se.StatusCode)
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "network"
	}
}
