package gormstore

import "nexus-cart/internal/service/cart/domain"

// --- 类型转换函数 ---

func toCartModel(c *domain.Cart) *CartModel {
	items := make([]CartItemModel, 0, len(c.Items))
	for i, it := range c.Items {
		items = append(items, CartItemModel{
			Owner:     c.Owner,
			Position:  i,
			ProductID: it.ProductID,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		})
	}
	return &CartModel{
		Owner:      c.Owner,
		TotalPrice: c.TotalPrice,
		ExpiresAt:  c.ExpiresAt,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
		Items:      items,
	}
}

// toDomainCart 要求 Items 已按 Position 排序
func toDomainCart(m *CartModel) *domain.Cart {
	items := make([]domain.CartItem, 0, len(m.Items))
	for _, it := range m.Items {
		items = append(items, domain.CartItem{ProductID: it.ProductID, UnitPrice: it.UnitPrice, Quantity: it.Quantity})
	}
	return &domain.Cart{
		Owner:      m.Owner,
		Items:      items,
		TotalPrice: m.TotalPrice,
		ExpiresAt:  m.ExpiresAt,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func toProductModel(p *domain.Product) *ProductModel {
	return &ProductModel{
		ID:            p.ID,
		Name:          p.Name,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		UpdatedAt:     p.UpdatedAt,
	}
}

func toDomainProduct(m *ProductModel) *domain.Product {
	return &domain.Product{
		ID:            m.ID,
		Name:          m.Name,
		Price:         m.Price,
		StockQuantity: m.StockQuantity,
		UpdatedAt:     m.UpdatedAt,
	}
}
