package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
)

func TestRunWithRetry(t *testing.T) {
	retryable := &googleapi.Error{Code: 503}
	fatal := &googleapi.Error{Code: 401}
	tests := []struct {
		name      string
		results   []Attempt
		retries   int
		wantCalls int
		want      Outcome
	}{
		{"success first", []Attempt{{Outcome: OutcomePublished}}, 2, 1, OutcomePublished},
		{"empty queue is final", []Attempt{{Outcome: OutcomeEmptyQueue}}, 2, 1, OutcomeEmptyQueue},
		{"retry then success", []Attempt{{Outcome: OutcomeUploadFailed, Err: retryable}, {Outcome: OutcomePublished}}, 2, 2, OutcomePublished},
		{"budget exhausted", []Attempt{
			{Outcome: OutcomeUploadFailed, Err: retryable},
			{Outcome: OutcomeUploadFailed, Err: retryable},
			{Outcome: OutcomeUploadFailed, Err: retryable},
		}, 2, 3, OutcomeUploadFailed},
		{"fatal stops", []Attempt{{Outcome: OutcomeUploadFailed, Err: fatal}}, 2, 1, OutcomeUploadFailed},
		{"unconfirmed never repeated", []Attempt{{Outcome: OutcomeUnconfirmed, Err: ErrEmptyID}}, 2, 1, OutcomeUnconfirmed},
		{"no retries", []Attempt{{Outcome: OutcomeStagingFailed, Err: errors.New("timeout")}}, 0, 1, OutcomeStagingFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			r := funcRunner(func(context.Context, Trigger) Attempt {
				a := tt.results[calls]
				calls++
				return a
			})
			var notified int
			got := RunWithRetry(context.Background(), r, Trigger{Kind: TriggerManual}, tt.retries, time.Millisecond, func(Attempt, int) { notified++ })
			if got.Outcome != tt.want {
				t.Errorf("outcome = %s, want %s", got.Outcome, tt.want)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if notified != tt.wantCalls-1 {
				t.Errorf("retry notices = %d, want %d", notified, tt.wantCalls-1)
			}
		})
	}
}

func TestRunWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	r := funcRunner(func(context.Context, Trigger) Attempt {
		calls++
		cancel()
		return Attempt{Outcome: OutcomeUploadFailed, Err: errors.New("connection reset")}
	})
	RunWithRetry(ctx, r, Trigger{}, 5, time.Hour, nil)
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}

func TestPublishNowReportsRetries(t *testing.T) {
	st := newMemStaging()
	st.add(StagedItem{ID: "a", Name: "a.mp4", Trimmed: true}, "A")
	tg := &fakeTarget{err: &googleapi.Error{Code: 500}}
	n := &recNotifier{}
	opts := testOptions()
	opts.Retries = 1
	opts.RetryDelay = time.Millisecond
	w := NewWorkflow(Deps{Staging: st, Target: tg, Log: newMemLog(), Notifier: n}, opts)

	a := w.PublishNow(context.Background(), 3)
	if a.Outcome != OutcomeUploadFailed {
		t.Fatalf("outcome = %s", a.Outcome)
	}
	if tg.callCount() != 2 {
		t.Errorf("target calls = %d", tg.callCount())
	}
	// two progress lines, one retry notice, one final status
	if msgs := n.to(3); len(msgs) != 4 {
		t.Errorf("messages = %d: %v", len(msgs), msgs)
	}
}
