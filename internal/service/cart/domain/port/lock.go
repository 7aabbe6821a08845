package port

import "context"

// ReleaseFunc 释放锁
type ReleaseFunc func(ctx context.Context) error

// CycleLock 保证同一时刻只有一个副本执行回收周期
// 未获取到锁时 acquired 为 false，err 为 nil
type CycleLock interface {
	TryAcquire(ctx context.Context) (release ReleaseFunc, acquired bool, err error)
}
