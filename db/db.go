// Package db provides the Postgres connection, schema migration, and small
// data access helpers (job heartbeats and the sealed OAuth token row).
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/shorts-tender/crypto"
)

// Connect opens a Postgres pool for dsn and verifies it answers.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	dbc, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	dbc.SetMaxOpenConns(10)
	dbc.SetConnMaxIdleTime(5 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbc.PingContext(pctx); err != nil {
		_ = dbc.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return dbc, nil
}

// KeySchedulerTick is the kv heartbeat written on every scheduler tick.
const KeySchedulerTick = "job_publish_tick_last"

// TouchJob records the last run time of a background job in kv.
func TouchJob(ctx context.Context, dbc *sql.DB, key string) {
	_, err := dbc.ExecContext(ctx, `INSERT INTO kv (key,value,updated_at) VALUES ($1, to_char(NOW() AT TIME ZONE 'UTC','YYYY-MM-DD"T"HH24:MI:SS.MS"Z"'), NOW())
		ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key)
	if err != nil {
		slog.Debug("job heartbeat failed", slog.String("key", key), slog.Any("err", err))
	}
}

// GetKV returns the value stored under key, or "" when absent.
func GetKV(ctx context.Context, dbc *sql.DB, key string) (string, time.Time, error) {
	var v string
	var at time.Time
	err := dbc.QueryRowContext(ctx, `SELECT COALESCE(value,''), updated_at FROM kv WHERE key=$1`, key).Scan(&v, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	return v, at, err
}

// Token is a stored OAuth credential.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// TokenStore persists OAuth tokens in oauth_tokens, sealing both secrets
// when a Sealer is configured.
type TokenStore struct {
	DB     *sql.DB
	Sealer *crypto.Sealer
}

// SaveToken stores or updates the token for provider.
func (s *TokenStore) SaveToken(ctx context.Context, provider string, tok Token) error {
	access, err := s.Sealer.Seal(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := s.Sealer.Seal(tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, updated_at)
		VALUES($1,$2,$3,$4,$5,NOW())
		ON CONFLICT(provider) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=CASE WHEN EXCLUDED.refresh_token='' THEN oauth_tokens.refresh_token ELSE EXCLUDED.refresh_token END,
			expires_at=EXCLUDED.expires_at,
			scope=CASE WHEN EXCLUDED.scope='' THEN oauth_tokens.scope ELSE EXCLUDED.scope END,
			updated_at=NOW()`,
		provider, access, refresh, tok.Expiry, tok.Scope)
	if err != nil {
		return fmt.Errorf("save token %s: %w", provider, err)
	}
	return nil
}

// LoadToken returns the stored token; ok is false when none exists.
func (s *TokenStore) LoadToken(ctx context.Context, provider string) (tok Token, ok bool, err error) {
	var exp sql.NullTime
	var scope sql.NullString
	err = s.DB.QueryRowContext(ctx, `SELECT COALESCE(access_token,''), COALESCE(refresh_token,''), expires_at, scope FROM oauth_tokens WHERE provider=$1`, provider).
		Scan(&tok.AccessToken, &tok.RefreshToken, &exp, &scope)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("load token %s: %w", provider, err)
	}
	if tok.AccessToken, err = s.Sealer.Open(tok.AccessToken); err != nil {
		return Token{}, false, fmt.Errorf("open access token: %w", err)
	}
	if tok.RefreshToken, err = s.Sealer.Open(tok.RefreshToken); err != nil {
		return Token{}, false, fmt.Errorf("open refresh token: %w", err)
	}
	tok.Expiry = exp.Time
	tok.Scope = scope.String
	return tok, true, nil
}
