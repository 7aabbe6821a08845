package domain

import (
	"math"
	"time"
)

// Product 是目录中与库存预留相关的商品字段
// Price 以最小货币单位 (分) 存储
type Product struct {
	ID            string
	Name          string
	Price         int64
	StockQuantity int64
	UpdatedAt     time.Time
}

// Validate 校验管理端写入的商品
func (p *Product) Validate() error {
	if p.ID == "" {
		return ErrInvalidID
	}
	if p.Name == "" || p.Price < 0 || p.StockQuantity < 0 {
		return ErrInvalidProduct
	}
	// 全部库存放进一个购物车时行小计也不能溢出
	if p.Price > 0 && p.StockQuantity > math.MaxInt64/p.Price {
		return ErrAmountOverflow
	}
	return nil
}

// StockAdjustment 描述一次库存变动，Delta < 0 为预留，Delta > 0 为释放
type StockAdjustment struct {
	ProductID string `json:"productId"`
	Delta     int64  `json:"delta"`
}
