package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultClaimTTL = 10 * time.Minute

// releaseClaimScript deletes a claim only when it is still held by the caller,
// so an expired-and-reclaimed key is never released by its previous owner.
var releaseClaimScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisAdapter struct {
	client   *redis.Client
	claimTTL time.Duration
}

func NewRedisAdapter(client *redis.Client, claimTTL time.Duration) *RedisAdapter {
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	return &RedisAdapter{client: client, claimTTL: claimTTL}
}

func (r *RedisAdapter) ClaimCallback(ctx context.Context, key, owner string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, owner, r.claimTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseCallback(ctx context.Context, key, owner string) error {
	return releaseClaimScript.Run(ctx, r.client, []string{key}, owner).Err()
}
