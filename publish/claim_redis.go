package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisClaims keeps leases as expiring keys (SET NX PX).
type RedisClaims struct {
	Client redis.UniversalClient
	Prefix string
}

// NewRedisClaims stores leases under the "shorts:claim:" prefix.
func NewRedisClaims(client redis.UniversalClient) *RedisClaims {
	return &RedisClaims{Client: client, Prefix: "shorts:claim:"}
}

func (r *RedisClaims) key(itemID string) string { return r.Prefix + itemID }

// Claim sets the lease key if absent. An owner re-claiming its own item extends the lease.
func (r *RedisClaims) Claim(ctx context.Context, itemID, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.Client.SetNX(ctx, r.key(itemID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", itemID, err)
	}
	if ok {
		return true, nil
	}
	cur, err := r.Client.Get(ctx, r.key(itemID)).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		return r.Client.SetNX(ctx, r.key(itemID), owner, ttl).Result()
	}
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", itemID, err)
	}
	if cur != owner {
		return false, nil
	}
	if err := r.Client.PExpire(ctx, r.key(itemID), ttl).Err(); err != nil {
		return false, fmt.Errorf("extend claim %s: %w", itemID, err)
	}
	return true, nil
}

// Release removes the lease when owner still holds it.
func (r *RedisClaims) Release(ctx context.Context, itemID, owner string) error {
	if err := releaseScript.Run(ctx, r.Client, []string{r.key(itemID)}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s: %w", itemID, err)
	}
	return nil
}
