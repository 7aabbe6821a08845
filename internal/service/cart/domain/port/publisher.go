package port

import (
	"context"

	"nexus-cart/internal/service/cart/domain"
)

// EventPublisher 发布购物车领域事件，事务提交后调用，失败不影响已提交的状态
type EventPublisher interface {
	PublishCartReclaimed(ctx context.Context, events []domain.CartReclaimed) error
}
