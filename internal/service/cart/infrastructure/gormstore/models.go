package gormstore

import "time"

// CartModel 对应 carts 表，一个用户一行
type CartModel struct {
	Owner      string          `gorm:"primaryKey;size:64"`
	TotalPrice int64           `gorm:"not null"`
	ExpiresAt  time.Time       `gorm:"index;not null"`
	CreatedAt  time.Time       `gorm:"autoCreateTime:false"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime:false"`
	Items      []CartItemModel `gorm:"foreignKey:Owner;references:Owner"`
}

func (CartModel) TableName() string {
	return "carts"
}

// CartItemModel 对应 cart_items 表，Position 保持加入顺序
type CartItemModel struct {
	ID        uint   `gorm:"primaryKey"`
	Owner     string `gorm:"size:64;index;not null"`
	Position  int    `gorm:"not null"`
	ProductID string `gorm:"size:64;not null"`
	UnitPrice int64  `gorm:"not null"`
	Quantity  int64  `gorm:"not null"`
}

func (CartItemModel) TableName() string {
	return "cart_items"
}

// ProductModel 对应 products 表
type ProductModel struct {
	ID            string    `gorm:"primaryKey;size:64"`
	Name          string    `gorm:"size:255;not null"`
	Price         int64     `gorm:"not null"`
	StockQuantity int64     `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
}

func (ProductModel) TableName() string {
	return "products"
}
