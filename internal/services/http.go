package services

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPError reports a non-2xx response from an upstream API. It unwraps to
// ErrNotFound for 404, ErrTransient for retryable statuses and ErrExternalTool
// otherwise, so callers classify it with errors.Is.
type HTTPError struct {
	Service    string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

// NewHTTPError captures resp's status, a trimmed body snippet and Retry-After.
func NewHTTPError(service string, resp *http.Response, body []byte) *HTTPError {
	retryAfter, _ := ParseRetryAfter(resp.Header.Get("Retry-After"))
	return &HTTPError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Body:       Snippet(string(body), 200),
		RetryAfter: retryAfter,
	}
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: http %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Service, e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case TransientStatus(e.StatusCode):
		return ErrTransient
	default:
		return ErrExternalTool
	}
}

// RetryDelay exposes the server supplied Retry-After hint.
func (e *HTTPError) RetryDelay() time.Duration {
	return e.RetryAfter
}

// ParseRetryAfter accepts delta-seconds or an HTTP date.
func ParseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

// Snippet collapses whitespace in content and truncates it to limit runes.
func Snippet(content string, limit int) string {
	clean := strings.Join(strings.Fields(content), " ")
	runes := []rune(clean)
	if limit > 0 && len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return clean
}
