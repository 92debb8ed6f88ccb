// Package oauth provides proactive refresh scheduling for the stored Google
// token. It performs jittered checks and refreshes when expiry falls within a
// configured window, so an expired or revoked grant shows up in the logs
// hours before the daily publish needs it.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/onnwee/shorts-tender/db"
)

// Store loads and saves a provider's token row.
type Store interface {
	LoadToken(ctx context.Context, provider string) (db.Token, bool, error)
	SaveToken(ctx context.Context, provider string, tok db.Token) error
}

// RefreshFunc exchanges a refresh token for a fresh token.
type RefreshFunc func(ctx context.Context, refreshToken string) (db.Token, error)

// StartRefresher launches a goroutine that periodically checks the token row
// for provider and refreshes it when its remaining lifetime is <= window.
func StartRefresher(ctx context.Context, store Store, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			if _, err := RefreshOnce(ctx, store, provider, window, fn); err != nil {
				slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
			}
			// Per-iteration jitter (+/-20% of interval).
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2+1) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
		}
	}()
}

// RefreshOnce refreshes the stored token if it expires within window.
// It reports whether a refresh happened.
func RefreshOnce(ctx context.Context, store Store, provider string, window time.Duration, fn RefreshFunc) (bool, error) {
	cur, ok, err := store.LoadToken(ctx, provider)
	if err != nil {
		return false, err
	}
	if !ok || cur.RefreshToken == "" {
		return false, nil
	}
	if !cur.Expiry.IsZero() && time.Until(cur.Expiry) > window {
		return false, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	next, err := fn(ctx2, cur.RefreshToken)
	cancel()
	if err != nil {
		return false, err
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = cur.Scope
	}
	if err := store.SaveToken(ctx, provider, next); err != nil {
		return false, err
	}
	slog.Info("token refreshed", slog.String("provider", provider), slog.Time("expiry", next.Expiry))
	return true, nil
}
