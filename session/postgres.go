package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/shorts-tender/crypto"
	"github.com/onnwee/shorts-tender/publish"
)

// PGStore keeps pending records in the pending_sessions table so they survive
// restarts. Payloads are sealed when a Sealer is configured.
type PGStore struct {
	DB     *sql.DB
	Sealer *crypto.Sealer
	TTL    time.Duration
}

func (p *PGStore) ttl() time.Duration {
	if p.TTL <= 0 {
		return 24 * time.Hour
	}
	return p.TTL
}

func (p *PGStore) Get(ctx context.Context, chatID int64) (publish.Metadata, bool, error) {
	var payload string
	err := p.DB.QueryRowContext(ctx,
		`SELECT payload FROM pending_sessions WHERE chat_id=$1 AND expires_at > NOW()`, chatID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return publish.Metadata{}, false, nil
	}
	if err != nil {
		return publish.Metadata{}, false, fmt.Errorf("load session %d: %w", chatID, err)
	}
	plain, err := p.Sealer.Open(payload)
	if err != nil {
		return publish.Metadata{}, false, fmt.Errorf("open session %d: %w", chatID, err)
	}
	var m publish.Metadata
	if err := json.Unmarshal([]byte(plain), &m); err != nil {
		return publish.Metadata{}, false, fmt.Errorf("decode session %d: %w", chatID, err)
	}
	return m, true, nil
}

func (p *PGStore) Set(ctx context.Context, chatID int64, m publish.Metadata) error {
	payload, err := p.Sealer.Seal(m.Encode())
	if err != nil {
		return fmt.Errorf("seal session %d: %w", chatID, err)
	}
	_, err = p.DB.ExecContext(ctx, `INSERT INTO pending_sessions (chat_id, payload, expires_at, updated_at)
		VALUES ($1, $2, NOW() + make_interval(secs => $3), NOW())
		ON CONFLICT (chat_id) DO UPDATE SET payload=EXCLUDED.payload, expires_at=EXCLUDED.expires_at, updated_at=NOW()`,
		chatID, payload, p.ttl().Seconds())
	if err != nil {
		return fmt.Errorf("save session %d: %w", chatID, err)
	}
	return nil
}

func (p *PGStore) Delete(ctx context.Context, chatID int64) error {
	if _, err := p.DB.ExecContext(ctx, `DELETE FROM pending_sessions WHERE chat_id=$1`, chatID); err != nil {
		return fmt.Errorf("delete session %d: %w", chatID, err)
	}
	return nil
}

func (p *PGStore) Sweep(ctx context.Context) (int, error) {
	res, err := p.DB.ExecContext(ctx, `DELETE FROM pending_sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
