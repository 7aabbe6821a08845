package domain

import (
	"context"
	"time"
)

// CartRepository 定义了购物车聚合的持久化接口，只在事务 Tx 中使用
type CartRepository interface {
	// FindByOwner 找不到时返回 ErrCartNotFound
	FindByOwner(ctx context.Context, owner string) (*Cart, error)

	// Save 按 Owner 创建或整体替换购物车
	Save(ctx context.Context, cart *Cart) error

	// FindExpired 返回至多 limit 个 expiresAt <= now 的购物车，最早过期的优先
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*Cart, error)

	// DeleteExpired 删除 owners 中在 now 时刻仍然过期的购物车，返回实际删除数
	DeleteExpired(ctx context.Context, owners []string, now time.Time) (int64, error)
}

// StockLedger 是目录库存账本，所有变动都是存储层原生的条件原子更新
type StockLedger interface {
	// GetProductByID 找不到时返回 ErrProductNotFound
	GetProductByID(ctx context.Context, id string) (*Product, error)

	// AdjustStock 结果为负时返回 ErrInsufficientStock，商品不存在返回 ErrProductNotFound
	AdjustStock(ctx context.Context, id string, delta int64) error

	// BulkAdjustStock 整体原子，供回收任务使用
	// 对已从目录删除的商品的释放 (Delta > 0) 直接忽略，扣减 (Delta < 0) 与 AdjustStock 规则相同
	BulkAdjustStock(ctx context.Context, adjustments []StockAdjustment) error

	// SaveProduct 管理端写入商品
	SaveProduct(ctx context.Context, product *Product) error
}

// Tx 是一次事务中可见的仓储集合
type Tx interface {
	Carts() CartRepository
	Ledger() StockLedger
}

// Store 提供事务边界
// fn 返回错误时事务整体回滚；存储层冲突统一转换为 ErrTxAborted
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}
