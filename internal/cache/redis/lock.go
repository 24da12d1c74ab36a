package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

// unlockLua deletes the lock only while it still holds the caller's token, so
// a holder whose TTL expired cannot release a successor's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SET NX PX and a
// token-checked unlock.
type LockManager struct {
	rdb      *redis.Client
	prefix   string
	unlockSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		prefix:   c.prefix,
		unlockSc: redis.NewScript(unlockLua),
	}
}

func lockKey(prefix, key string) string {
	return namespaced(prefix, "lock:"+key)
}

// lockToken is the lock value: the acquisition time in unix milliseconds and
// a random suffix, so a contender can tell how long the holder has had it.
func lockToken(at time.Time) string {
	return strconv.FormatInt(at.UnixMilli(), 10) + ":" + uuid.NewString()
}

// lockSince recovers the acquisition time from a lock value. Values written
// without a timestamp yield the zero time.
func lockSince(token string) time.Time {
	ms, _, ok := strings.Cut(token, ":")
	if !ok {
		return time.Time{}
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(n)
}

// Acquire takes the lock for ttl. The lock expires on its own if the holder
// dies; the returned unlock func is idempotent and safe for concurrent use.
// When another holder owns the key it returns a *domain.LockHeldError, which
// matches domain.ErrLockHeld and carries the holder's acquisition time.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := lockToken(time.Now())
	lk := lockKey(lm.prefix, key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		held := &domain.LockHeldError{Key: key}
		// The key may expire between SETNX and GET; the holder time is then unknown.
		if cur, err := lm.rdb.Get(ctx, lk).Result(); err == nil {
			held.Since = lockSince(cur)
		}
		return nil, fmt.Errorf("redis: acquire lock: %w", held)
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be cancelled at release time.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

var _ domain.LockManager = (*LockManager)(nil)
