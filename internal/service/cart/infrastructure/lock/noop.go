package lock

import (
	"context"

	"nexus-cart/internal/service/cart/domain/port"
)

// Noop 单实例部署时使用，总是获取成功
type Noop struct{}

func (Noop) TryAcquire(context.Context) (port.ReleaseFunc, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}
