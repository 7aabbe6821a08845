package lock

import (
	"context"
	"time"

	"nexus-cart/internal/pkg/zookeeper"
	"nexus-cart/internal/service/cart/domain/port"

	"github.com/pkg/errors"
)

// ZookeeperLock 用临时顺序节点实现 port.CycleLock
// wait 时间内没排到队首就放弃本周期
type ZookeeperLock struct {
	conn     *zookeeper.Conn
	resource string
	wait     time.Duration
}

func NewZookeeperLock(conn *zookeeper.Conn, resource string, wait time.Duration) *ZookeeperLock {
	return &ZookeeperLock{conn: conn, resource: resource, wait: wait}
}

func (l *ZookeeperLock) TryAcquire(ctx context.Context) (port.ReleaseFunc, bool, error) {
	dl, err := zookeeper.NewDistributedLock(l.conn, l.resource)
	if err != nil {
		return nil, false, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	if err := dl.Lock(waitCtx); err != nil {
		if errors.Is(err, zookeeper.ErrLockTimeout) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return func(context.Context) error { return dl.Unlock() }, true, nil
}
