// Package retry classifies sync failures, schedules transient ones for
// re-execution with exponential backoff, and gives up permanently on the rest.
package retry

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aura-webinar/sync-engine/internal/models"
	"github.com/aura-webinar/sync-engine/internal/upstream"
)

// Classify maps an error onto an ErrorClass. Typed upstream errors classify by
// HTTP status; everything else falls back to message pattern matching.
func Classify(err error) models.ErrorClass {
	if err == nil {
		return models.ErrClassNoData
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrClassTimeout
	}

	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return models.ErrClassRateLimit
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return models.ErrClassTimeout
		case http.StatusUnauthorized, http.StatusForbidden:
			return models.ErrClassAuth
		case http.StatusNotFound:
			return models.ErrClassNotFound
		}
		return models.ErrClassAPI
	}

	return ClassifyMessage(err.Error())
}

// ClassifyMessage pattern-matches raw error text, for failures that arrive as
// persisted strings rather than live error values.
func ClassifyMessage(msg string) models.ErrorClass {
	m := strings.ToLower(msg)
	switch {
	case containsAny(m, "rate limit", "too many requests", "status 429"):
		return models.ErrClassRateLimit
	case containsAny(m, "timeout", "timed out", "deadline exceeded"):
		return models.ErrClassTimeout
	case containsAny(m, "connection refused", "connection reset", "no such host", "network", "broken pipe", "eof"):
		return models.ErrClassNetwork
	case containsAny(m, "unauthorized", "forbidden", "invalid access token", "invalid scope", "status 401", "status 403"):
		return models.ErrClassAuth
	case containsAny(m, "not found", "status 404", "does not exist"):
		return models.ErrClassNotFound
	case containsAny(m, "no data", "no participants", "no registrants", "empty report"):
		return models.ErrClassNoData
	default:
		return models.ErrClassAPI
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Eligible reports whether a webinar's failed attendance sync should be
// retried: the error class must be retryable, the attempt budget must not be
// exhausted, and the underlying event must already be over (retrying the
// attendance report for a webinar still in progress cannot help).
func Eligible(w *models.Webinar, class models.ErrorClass, attempt, maxAttempts int, now time.Time) bool {
	if attempt >= maxAttempts {
		return false
	}
	if !class.Retryable() {
		return false
	}
	if w == nil || !w.Concluded(now) {
		return false
	}
	return true
}
