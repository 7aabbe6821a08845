package application

import (
	"time"

	"nexus-cart/internal/service/cart/domain"
)

// CartItemView 购物车行
type CartItemView struct {
	ProductID string `json:"productId"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int64  `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
}

// CartView 是返回给接口层的购物车视图，Items 为当前页，汇总字段覆盖整车
type CartView struct {
	Owner         string         `json:"owner"`
	Items         []CartItemView `json:"items"`
	Page          int            `json:"page"`
	Limit         int            `json:"limit"`
	TotalItems    int            `json:"totalItems"`
	TotalQuantity int64          `json:"totalQuantity"`
	TotalPrice    int64          `json:"totalPrice"`
	ExpiresAt     time.Time      `json:"expiresAt"`
}

// ProductView 管理端商品视图
type ProductView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Price         int64     `json:"price"`
	StockQuantity int64     `json:"stockQuantity"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// UpsertProductRequest 管理端写入商品
type UpsertProductRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	StockQuantity int64  `json:"stockQuantity"`
}

func toCartView(c *domain.Cart, page, limit int) *CartView {
	view := &CartView{
		Owner:         c.Owner,
		Items:         []CartItemView{},
		Page:          page,
		Limit:         limit,
		TotalItems:    len(c.Items),
		TotalQuantity: c.TotalQuantity(),
		TotalPrice:    c.TotalPrice,
		ExpiresAt:     c.ExpiresAt,
	}
	// 先用页数比较，避免 (page-1)*limit 溢出
	pages := (len(c.Items) + limit - 1) / limit
	if page-1 >= pages {
		return view
	}
	start := (page - 1) * limit
	end := start + limit
	if end > len(c.Items) {
		end = len(c.Items)
	}
	for _, it := range c.Items[start:end] {
		view.Items = append(view.Items, CartItemView{
			ProductID: it.ProductID,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			Subtotal:  it.Subtotal(),
		})
	}
	return view
}

// toFullView 变更类操作返回整车
func toFullView(c *domain.Cart) *CartView {
	limit := len(c.Items)
	if limit == 0 {
		limit = 1
	}
	return toCartView(c, 1, limit)
}

func toProductView(p *domain.Product) *ProductView {
	return &ProductView{
		ID:            p.ID,
		Name:          p.Name,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		UpdatedAt:     p.UpdatedAt,
	}
}
