package mongostore

import (
	"time"

	"nexus-cart/internal/service/cart/domain"
)

// cartDocument 以用户 ID 作为 _id，保证每个用户最多一个购物车
type cartDocument struct {
	Owner      string             `bson:"_id"`
	Items      []cartItemDocument `bson:"items"`
	TotalPrice int64              `bson:"totalPrice"`
	ExpiresAt  time.Time          `bson:"expiresAt"`
	CreatedAt  time.Time          `bson:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt"`
}

type cartItemDocument struct {
	ProductID string `bson:"productId"`
	UnitPrice int64  `bson:"unitPrice"`
	Quantity  int64  `bson:"quantity"`
}

type productDocument struct {
	ID            string    `bson:"_id"`
	Name          string    `bson:"name"`
	Price         int64     `bson:"price"`
	StockQuantity int64     `bson:"stockQuantity"`
	UpdatedAt     time.Time `bson:"updatedAt"`
}

func toCartDocument(c *domain.Cart) *cartDocument {
	items := make([]cartItemDocument, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, cartItemDocument{ProductID: it.ProductID, UnitPrice: it.UnitPrice, Quantity: it.Quantity})
	}
	return &cartDocument{
		Owner:      c.Owner,
		Items:      items,
		TotalPrice: c.TotalPrice,
		ExpiresAt:  c.ExpiresAt,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func (d *cartDocument) toDomain() *domain.Cart {
	items := make([]domain.CartItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, domain.CartItem{ProductID: it.ProductID, UnitPrice: it.UnitPrice, Quantity: it.Quantity})
	}
	return &domain.Cart{
		Owner:      d.Owner,
		Items:      items,
		TotalPrice: d.TotalPrice,
		ExpiresAt:  d.ExpiresAt,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func (d *productDocument) toDomain() *domain.Product {
	return &domain.Product{
		ID:            d.ID,
		Name:          d.Name,
		Price:         d.Price,
		StockQuantity: d.StockQuantity,
		UpdatedAt:     d.UpdatedAt,
	}
}
