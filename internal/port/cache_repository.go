package port

import "context"

type CacheRepository interface {
	// ClaimCallback sets a key for callback deduplication, returns false if already claimed
	ClaimCallback(ctx context.Context, key, owner string) (bool, error)

	// ReleaseCallback deletes the key if it is still held by owner
	ReleaseCallback(ctx context.Context, key, owner string) error
}
