package publish

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassUnknown},
		{"canceled", context.Canceled, ErrorClassFatal},
		{"deadline", fmt.Errorf("upload: %w", context.DeadlineExceeded), ErrorClassRetryable},
		{"google 500", &googleapi.Error{Code: 500}, ErrorClassRetryable},
		{"google 429", &googleapi.Error{Code: 429}, ErrorClassRetryable},
		{"google 400", &googleapi.Error{Code: 400}, ErrorClassFatal},
		{"google 401 wrapped", fmt.Errorf("upload: %w", &googleapi.Error{Code: 401}), ErrorClassFatal},
		{"google 403 quota", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}}, ErrorClassRetryable},
		{"google 403 forbidden", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "forbidden"}}}, ErrorClassFatal},
		{"net", &net.OpError{Op: "dial", Err: errors.New("refused")}, ErrorClassRetryable},
		{"invalid grant", errors.New("oauth2: invalid_grant"), ErrorClassFatal},
		{"upload limit", errors.New("uploadLimitExceeded"), ErrorClassFatal},
		{"other", errors.New("something odd"), ErrorClassRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAttemptMessage(t *testing.T) {
	a := Attempt{Outcome: OutcomePublished, Title: "Cat #shorts", URL: VideoURL("abc123")}
	if got := a.Message(); got != "✅ Published: Cat #shorts\nhttps://youtube.com/shorts/abc123" {
		t.Errorf("message = %q", got)
	}
	for _, o := range []Outcome{OutcomeEmptyQueue, OutcomeTransformFailed, OutcomeUploadFailed, OutcomeUnconfirmed, OutcomeStagingFailed} {
		if (Attempt{Outcome: o, Err: errors.New("x")}).Message() == "" {
			t.Errorf("empty message for %s", o)
		}
	}
}
