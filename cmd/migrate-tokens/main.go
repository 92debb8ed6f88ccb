// Package main seals secrets that were written before ENCRYPTION_KEY was set.
//
// It rewrites plaintext Google tokens in oauth_tokens and plaintext payloads
// in pending_sessions into the sealed "v1:" form read by the bot.
//
// Usage:
//
//	migrate-tokens [--dry-run] [--provider PROVIDER]
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
//	ENCRYPTION_KEY: Base64-encoded 32-byte encryption key (required)
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/onnwee/shorts-tender/crypto"
	"github.com/onnwee/shorts-tender/db"
)

// TokenRow is one oauth_tokens row.
type TokenRow struct {
	Provider     string
	AccessToken  string
	RefreshToken string
}

// Summary counts what a run changed.
type Summary struct {
	Tokens   int
	Sessions int
	Errors   int
}

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be sealed without making changes")
	provider := flag.String("provider", "", "Only seal tokens for this provider (default: all)")
	flag.Parse()

	_ = godotenv.Load(".env")
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		slog.Error("DB_DSN environment variable is required")
		os.Exit(1)
	}
	sealer, err := crypto.NewSealer(os.Getenv("ENCRYPTION_KEY"))
	if err != nil {
		slog.Error("ENCRYPTION_KEY is required for migration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	sum, err := sealAll(ctx, database, sealer, *dryRun, *provider)
	if err != nil {
		slog.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("migration completed successfully",
		slog.Int("tokens", sum.Tokens), slog.Int("sessions", sum.Sessions), slog.Bool("dry_run", *dryRun))
}

func sealAll(ctx context.Context, database *sql.DB, sealer *crypto.Sealer, dryRun bool, providerFilter string) (Summary, error) {
	var sum Summary
	tokens, err := sealTokens(ctx, database, sealer, dryRun, providerFilter, &sum)
	if err != nil {
		return sum, err
	}
	sum.Tokens = tokens
	sessions, err := sealSessions(ctx, database, sealer, dryRun, &sum)
	if err != nil {
		return sum, err
	}
	sum.Sessions = sessions
	if sum.Errors > 0 {
		return sum, fmt.Errorf("migration completed with %d errors", sum.Errors)
	}
	return sum, nil
}

// sealTokens seals every oauth_tokens row holding a plaintext secret.
func sealTokens(ctx context.Context, database *sql.DB, sealer *crypto.Sealer, dryRun bool, providerFilter string, sum *Summary) (int, error) {
	query := `SELECT provider, COALESCE(access_token,''), COALESCE(refresh_token,'') FROM oauth_tokens`
	args := []any{}
	if providerFilter != "" {
		query += " WHERE provider = $1"
		args = append(args, providerFilter)
	}
	query += " ORDER BY provider"

	rows, err := database.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var pending []TokenRow
	for rows.Next() {
		var tok TokenRow
		if err := rows.Scan(&tok.Provider, &tok.AccessToken, &tok.RefreshToken); err != nil {
			return 0, fmt.Errorf("failed to scan token row: %w", err)
		}
		if needsSealing(tok.AccessToken) || needsSealing(tok.RefreshToken) {
			pending = append(pending, tok)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating token rows: %w", err)
	}
	if len(pending) == 0 {
		slog.Info("no plaintext tokens found")
		return 0, nil
	}

	done := 0
	for i, tok := range pending {
		logger := slog.With(slog.String("provider", tok.Provider), slog.Int("index", i+1), slog.Int("total", len(pending)))
		if dryRun {
			logger.Info("would seal token (dry-run)")
			done++
			continue
		}
		if err := sealToken(ctx, database, sealer, tok); err != nil {
			logger.Error("failed to seal token", slog.Any("error", err))
			sum.Errors++
			continue
		}
		logger.Info("sealed token")
		done++
	}
	return done, nil
}

func sealToken(ctx context.Context, database *sql.DB, sealer *crypto.Sealer, tok TokenRow) error {
	access, err := sealOnce(sealer, tok.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := sealOnce(sealer, tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	// compare-and-swap on the old values so a concurrent refresh is not overwritten
	res, err := database.ExecContext(ctx, `UPDATE oauth_tokens SET access_token=$1, refresh_token=$2, updated_at=NOW()
		WHERE provider=$3 AND COALESCE(access_token,'')=$4 AND COALESCE(refresh_token,'')=$5`,
		access, refresh, tok.Provider, tok.AccessToken, tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("expected 1 row updated, got %d (token may have been modified concurrently)", n)
	}
	return nil
}

// sealSessions seals plaintext pending-session payloads.
func sealSessions(ctx context.Context, database *sql.DB, sealer *crypto.Sealer, dryRun bool, sum *Summary) (int, error) {
	rows, err := database.QueryContext(ctx, `SELECT chat_id, payload FROM pending_sessions WHERE expires_at > NOW() ORDER BY chat_id`)
	if err != nil {
		return 0, fmt.Errorf("failed to query sessions: %w", err)
	}
	type row struct {
		chatID  int64
		payload string
	}
	var pending []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.chatID, &r.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan session row: %w", err)
		}
		if needsSealing(r.payload) {
			pending = append(pending, r)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("error iterating session rows: %w", err)
	}
	rows.Close()

	done := 0
	for _, r := range pending {
		if dryRun {
			slog.Info("would seal session (dry-run)", slog.Int64("chat_id", r.chatID))
			done++
			continue
		}
		sealed, err := sealer.Seal(r.payload)
		if err == nil {
			_, err = database.ExecContext(ctx, `UPDATE pending_sessions SET payload=$1 WHERE chat_id=$2 AND payload=$3`, sealed, r.chatID, r.payload)
		}
		if err != nil {
			slog.Error("failed to seal session", slog.Int64("chat_id", r.chatID), slog.Any("error", err))
			sum.Errors++
			continue
		}
		done++
	}
	return done, nil
}

func needsSealing(v string) bool { return v != "" && !crypto.IsSealed(v) }

func sealOnce(sealer *crypto.Sealer, v string) (string, error) {
	if !needsSealing(v) {
		return v, nil
	}
	return sealer.Seal(v)
}
