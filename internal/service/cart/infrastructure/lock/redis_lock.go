package lock

import (
	"context"
	"time"

	"nexus-cart/internal/pkg/redis"
	"nexus-cart/internal/service/cart/domain/port"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const unlockScriptName = "cart_reclaim_unlock"

// RedisLock 基于 SET NX PX 的互斥锁，只有持有者 token 匹配时才删除
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLock ttl 必须大于一次回收周期的耗时
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) (*RedisLock, error) {
	if err := client.LoadScriptFromContent(unlockScriptName, unlockScript); err != nil {
		return nil, errors.WithMessage(err, "load unlock script")
	}
	return &RedisLock{client: client, key: key, ttl: ttl}, nil
}

// TryAcquire 实现 port.CycleLock
func (l *RedisLock) TryAcquire(ctx context.Context) (port.ReleaseFunc, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.GetClient().SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, errors.Wrapf(err, "redis lock %s", l.key)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		res, err := l.client.RunScript(ctx, unlockScriptName, []string{l.key}, token)
		if err != nil {
			return err
		}
		if n, _ := res.(int64); n == 0 {
			return errors.Errorf("redis lock %s expired before release", l.key)
		}
		return nil
	}
	return release, true, nil
}

var unlockScript = `
-- KEYS[1]: 锁的 key
-- ARGV[1]: 加锁时写入的 token
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`
