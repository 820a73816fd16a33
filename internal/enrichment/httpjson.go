package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// DefaultHTTPTimeout bounds a single HTTP call when the caller sets no deadline.
const DefaultHTTPTimeout = 10 * time.Second

// maxBodyBytes caps response bodies read from external APIs.
const maxBodyBytes = 4 << 20

// httpJSON performs GET requests against a JSON API and maps failures
// to SourceError and RateLimitError.
type httpJSON struct {
	source  string
	client  *http.Client
	headers map[string]string
	now     func() time.Time
}

func newHTTPJSON(source string, client *http.Client, headers map[string]string) *httpJSON {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &httpJSON{source: source, client: client, headers: headers, now: time.Now}
}

func (h *httpJSON) get(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return NewSourceError(h.source, KindUnknown, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range h.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return NewSourceError(h.source, KindTimeout, err)
		}
		return NewSourceError(h.source, KindNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return NewSourceError(h.source, KindNetwork, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Source: h.source, RetryAfter: retryAfter(resp.Header, h.now())}
	case resp.StatusCode == http.StatusNotFound:
		return &SourceError{Source: h.source, Kind: KindNotFound, StatusCode: resp.StatusCode, Err: errors.New("not found")}
	case resp.StatusCode != http.StatusOK:
		return NewStatusError(h.source, resp.StatusCode, truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return NewSourceError(h.source, KindMalformed, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// retryAfter reads Retry-After (seconds or HTTP date) or X-RateLimit-Reset
// (epoch seconds or seconds remaining). Zero means no hint.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil && t.After(now) {
			return t.Sub(now)
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			// Values this large are absolute epoch seconds.
			if n > 1_000_000_000 {
				if t := time.Unix(n, 0); t.After(now) {
					return t.Sub(now)
				}
				return 0
			}
			return time.Duration(n) * time.Second
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
