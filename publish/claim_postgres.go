package publish

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PGClaims stores leases in the publish_claims table so several instances
// sharing one database never publish the same item concurrently.
type PGClaims struct {
	DB *sql.DB
}

// Claim inserts the lease, or takes over a row whose lease has expired.
// The conditional upsert makes check-and-set a single statement.
func (p *PGClaims) Claim(ctx context.Context, itemID, owner string, ttl time.Duration) (bool, error) {
	res, err := p.DB.ExecContext(ctx, `INSERT INTO publish_claims (item_id, owner, expires_at)
		VALUES ($1, $2, NOW() + make_interval(secs => $3))
		ON CONFLICT (item_id) DO UPDATE SET owner=EXCLUDED.owner, expires_at=EXCLUDED.expires_at
		WHERE publish_claims.expires_at < NOW() OR publish_claims.owner = EXCLUDED.owner`,
		itemID, owner, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim %s rows: %w", itemID, err)
	}
	return n == 1, nil
}

// Release deletes the lease when owner still holds it.
func (p *PGClaims) Release(ctx context.Context, itemID, owner string) error {
	if _, err := p.DB.ExecContext(ctx, `DELETE FROM publish_claims WHERE item_id=$1 AND owner=$2`, itemID, owner); err != nil {
		return fmt.Errorf("release %s: %w", itemID, err)
	}
	return nil
}
