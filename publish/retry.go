package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/shorts-tender/telemetry"
)

// Runner runs one publish attempt.
type Runner interface {
	Run(ctx context.Context, trig Trigger) Attempt
}

// RunWithRetry re-runs the whole workflow while the outcome is a retryable
// failure, up to retries additional times with a fixed delay in between.
// Unconfirmed uploads are never repeated: the video may already be live.
// onRetry, when non-nil, is called before each wait.
func RunWithRetry(ctx context.Context, r Runner, trig Trigger, retries int, delay time.Duration, onRetry func(Attempt, int)) Attempt {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "publish"))
	for i := 0; ; i++ {
		a := r.Run(ctx, trig)
		if !a.Failed() || a.Outcome == OutcomeUnconfirmed || i >= retries || !IsRetryableError(a.Err) {
			return a
		}
		logger.Warn("publish attempt failed; retrying",
			slog.String("outcome", a.Outcome.String()),
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
			slog.Any("err", a.Err))
		if onRetry != nil {
			onRetry(a, i+1)
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return a
		case <-t.C:
		}
	}
}

// PublishNow runs a manual publish with the configured retry budget and
// reports the final result to chatID. It never writes a PublishRecord.
func (w *Workflow) PublishNow(ctx context.Context, chatID int64) Attempt {
	trig := Trigger{Kind: TriggerManual, ChatID: chatID}
	logger := telemetry.LoggerWithCorr(ctx)
	a := RunWithRetry(ctx, w, trig, w.opts.Retries, w.opts.RetryDelay, func(a Attempt, n int) {
		w.notify(ctx, chatID, fmt.Sprintf("⚠️ Attempt %d failed, retrying in %s: %v", n, w.opts.RetryDelay, a.Err), logger)
	})
	w.notify(ctx, chatID, a.Message(), logger)
	return a
}
