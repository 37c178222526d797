package scanner

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultDebounceWindow matches the original camera loop: the same code
// re-decoded within ~2 seconds is the same physical ticket still in frame.
const DefaultDebounceWindow = 2 * time.Second

const debounceKeyPrefix = "scan_debounce:"

// RedisDebouncer implements Debouncer with SETNX + TTL, the same pattern the
// seat holds use. First sight of a code claims the key; repeats inside the
// window are suppressed.
type RedisDebouncer struct {
	Client *redis.Client
	Window time.Duration
}

func NewRedisDebouncer(client *redis.Client, window time.Duration) *RedisDebouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &RedisDebouncer{Client: client, Window: window}
}

func (d *RedisDebouncer) Seen(ctx context.Context, code string) (bool, error) {
	ok, err := d.Client.SetNX(ctx, debounceKeyPrefix+code, 1, d.Window).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}
