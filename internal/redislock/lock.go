package redislock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Artemiy111/shop.biplane-design.com/internal/config"
	"github.com/Artemiy111/shop.biplane-design.com/internal/entities"
)

// releaseScript deletes the lock only if it still holds our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker is a redis SET NX PX mutex with a bounded acquire wait. One key
// guards the "read max sort order, insert max+1" window per model.
type Locker struct {
	client redis.UniversalClient
	cfg    config.LockConfig
}

func NewLocker(client redis.UniversalClient, cfg config.LockConfig) *Locker {
	return &Locker{client: client, cfg: cfg}
}

// ModelOrderKey names the lock guarding one model's attachment sequence.
func ModelOrderKey(modelID string) string {
	return "shop:lock:model-order:" + modelID
}

// Acquire polls SET NX PX every RetryDelay until the lock is taken or the
// WaitFor budget runs out, in which case it returns entities.ErrLockTimeout.
func (l *Locker) Acquire(ctx context.Context, key string) (string, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.cfg.WaitFor)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.cfg.TTL).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", entities.ErrLockTimeout
		}

		t := time.NewTimer(l.cfg.RetryDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		}
	}
}

// Release frees the lock if token still owns it.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
}
