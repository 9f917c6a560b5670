package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	clierr "github.com/quasar-finance/daoresolve/internal/errors"
)

const maxErrorBody = 512

type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
}

// StatusError carries the status and a truncated body of a non-2xx response so
// callers can classify service-specific error strings.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// AsStatus extracts the StatusError from err's chain.
func AsStatus(err error) (*StatusError, bool) {
	var target *StatusError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  "daoq/1.0",
	}
}

// HTTPClient exposes the underlying client so other transports share its timeout.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		resp, err := c.httpClient.Do(req.Clone(ctx))
		if err != nil {
			lastErr = mapNetError(err)
			if attempt < c.retries {
				continue
			}
			return nil, lastErr
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resp.Header, clierr.Wrap(clierr.CodeUnavailable, "read response", readErr)
		}
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(buf)}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = clierr.Wrap(clierr.CodeRateLimited, "endpoint rate limited request", statusErr)
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return resp.Header, clierr.Wrap(clierr.CodeAuth, "endpoint authentication failed", statusErr)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = clierr.Wrap(clierr.CodeUnavailable, "endpoint unavailable", statusErr)
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp.Header, clierr.Wrap(clierr.CodeUnavailable, "endpoint returned unexpected status", statusErr)
		}

		if out == nil || resp.StatusCode == http.StatusNoContent {
			return resp.Header, nil
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			return resp.Header, clierr.New(clierr.CodeUnavailable, "endpoint returned empty response")
		}
		if err := json.Unmarshal(buf, out); err != nil {
			return resp.Header, clierr.Wrap(clierr.CodeUnavailable, "decode JSON response", err)
		}
		return resp.Header, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, clierr.New(clierr.CodeUnavailable, "request failed")
}

func GetJSON(ctx context.Context, c *Client, url string, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	return c.DoJSON(ctx, req, out)
}

func truncate(buf []byte) string {
	s := strings.TrimSpace(string(buf))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok {
		if nerr.Timeout() {
			return clierr.Wrap(clierr.CodeUnavailable, "endpoint timeout", err)
		}
	}
	return clierr.Wrap(clierr.CodeUnavailable, "endpoint request failed", err)
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
