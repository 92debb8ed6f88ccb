package publish

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

// ErrEmptyID is returned when the publish target accepted the upload but
// reported no video id. The staged item must be kept.
var ErrEmptyID = errors.New("publish target returned empty video id")

// ErrorClass represents whether an error should be retried or not.
type ErrorClass int

const (
	// ErrorClassRetryable indicates a transient failure (network, quota, 5xx).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates retrying will not help (auth, bad request, missing file).
	ErrorClassFatal
	// ErrorClassUnknown is returned for a nil error.
	ErrorClassUnknown
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifyError decides whether a failed external call is worth repeating.
//
// Google API errors are classified by HTTP status: 408, 429 and 5xx are
// retryable, other 4xx are fatal except quota/rate reasons. Context deadline
// and network errors are retryable; cancellation is fatal (we are shutting down).
// Anything else falls back to message patterns and finally to retryable.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassRetryable
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusRequestTimeout, gerr.Code == http.StatusTooManyRequests, gerr.Code >= 500:
			return ErrorClassRetryable
		case gerr.Code == http.StatusForbidden && hasQuotaReason(gerr):
			return ErrorClassRetryable
		case gerr.Code >= 400:
			return ErrorClassFatal
		}
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return ErrorClassRetryable
	}

	lower := strings.ToLower(err.Error())
	for _, p := range []string{"invalid_grant", "unauthorized", "file not found", "no such file", "uploadlimitexceeded"} {
		if strings.Contains(lower, p) {
			return ErrorClassFatal
		}
	}
	return ErrorClassRetryable
}

func hasQuotaReason(gerr *googleapi.Error) bool {
	for _, e := range gerr.Errors {
		switch e.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}

// IsRetryableError checks if an error should trigger retry logic.
func IsRetryableError(err error) bool {
	return ClassifyError(err) == ErrorClassRetryable
}
