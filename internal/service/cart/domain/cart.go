package domain

import (
	"math"
	"time"
)

// CartItem 是购物车中的一行
// UnitPrice 在加入购物车时锁定，之后不随目录价格变化
type CartItem struct {
	ProductID string
	UnitPrice int64
	Quantity  int64
}

// Subtotal 行小计
func (i CartItem) Subtotal() int64 {
	return i.UnitPrice * i.Quantity
}

// Cart 每个用户最多一个，Owner 唯一
type Cart struct {
	Owner      string
	Items      []CartItem
	TotalPrice int64
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewCart 创建一个空购物车
func NewCart(owner string, now time.Time, ttl time.Duration) *Cart {
	return &Cart{
		Owner:     owner,
		Items:     []CartItem{},
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// State 返回 now 时刻购物车所处的状态
func (c *Cart) State(now time.Time) State {
	if c.IsExpired(now) {
		return StateExpired
	}
	return StateActive
}

// IsExpired expiresAt <= now 即视为过期
func (c *Cart) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Touch 延长有效期
func (c *Cart) Touch(now time.Time, ttl time.Duration) {
	c.ExpiresAt = now.Add(ttl)
	c.UpdatedAt = now
}

// Item 返回指定商品所在的行
func (c *Cart) Item(productID string) (CartItem, bool) {
	if i := c.indexOf(productID); i >= 0 {
		return c.Items[i], true
	}
	return CartItem{}, false
}

// AddItem 合并到已有行或追加新行，新行使用当前目录价格作为快照
func (c *Cart) AddItem(p *Product, quantity int64) {
	if i := c.indexOf(p.ID); i >= 0 {
		c.Items[i].Quantity += quantity
	} else {
		c.Items = append(c.Items, CartItem{
			ProductID: p.ID,
			UnitPrice: p.Price,
			Quantity:  quantity,
		})
	}
	c.Recalculate()
}

// CheckAdd 校验 AddItem(p, quantity) 之后数量和金额不会溢出
func (c *Cart) CheckAdd(p *Product, quantity int64) error {
	newQuantity := quantity
	if item, ok := c.Item(p.ID); ok {
		if item.Quantity > math.MaxInt64-quantity {
			return ErrAmountOverflow
		}
		newQuantity += item.Quantity
	}
	return c.checkLine(p.ID, p.Price, newQuantity)
}

// CheckQuantity 校验 SetQuantity(productID, quantity) 之后金额不会溢出
func (c *Cart) CheckQuantity(productID string, quantity int64) error {
	item, ok := c.Item(productID)
	if !ok {
		return ErrItemNotFound
	}
	return c.checkLine(productID, item.UnitPrice, quantity)
}

// checkLine 已有行沿用快照价格
func (c *Cart) checkLine(productID string, unitPrice, quantity int64) error {
	if item, ok := c.Item(productID); ok {
		unitPrice = item.UnitPrice
	}
	if unitPrice > 0 && quantity > math.MaxInt64/unitPrice {
		return ErrAmountOverflow
	}
	var rest int64
	for _, it := range c.Items {
		if it.ProductID != productID {
			rest += it.Subtotal()
		}
	}
	if unitPrice*quantity > math.MaxInt64-rest {
		return ErrAmountOverflow
	}
	return nil
}

// SetQuantity 把某行数量设为 quantity (>= 1)，返回 新数量 - 旧数量
func (c *Cart) SetQuantity(productID string, quantity int64) (int64, error) {
	if quantity < 1 {
		return 0, ErrInvalidQuantity
	}
	i := c.indexOf(productID)
	if i < 0 {
		return 0, ErrItemNotFound
	}
	delta := quantity - c.Items[i].Quantity
	c.Items[i].Quantity = quantity
	c.Recalculate()
	return delta, nil
}

// RemoveItem 删除一行并返回它占用的数量
func (c *Cart) RemoveItem(productID string) (int64, error) {
	i := c.indexOf(productID)
	if i < 0 {
		return 0, ErrItemNotFound
	}
	quantity := c.Items[i].Quantity
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	c.Recalculate()
	return quantity, nil
}

// Recalculate 从行项目重新计算总价，总价从不信任外部输入
func (c *Cart) Recalculate() {
	c.TotalPrice = ComputeTotal(c.Items)
}

// TotalQuantity 所有行的数量之和
func (c *Cart) TotalQuantity() int64 {
	var n int64
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// Releases 返回归还该购物车全部预留所需的库存变动，按加入顺序，同一商品合并
func (c *Cart) Releases() []StockAdjustment {
	adjustments := make([]StockAdjustment, 0, len(c.Items))
	seen := make(map[string]int, len(c.Items))
	for _, it := range c.Items {
		if i, ok := seen[it.ProductID]; ok {
			adjustments[i].Delta += it.Quantity
			continue
		}
		seen[it.ProductID] = len(adjustments)
		adjustments = append(adjustments, StockAdjustment{ProductID: it.ProductID, Delta: it.Quantity})
	}
	return adjustments
}

func (c *Cart) indexOf(productID string) int {
	for i, it := range c.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

// ComputeTotal Σ unitPrice × quantity
func ComputeTotal(items []CartItem) int64 {
	var total int64
	for _, it := range items {
		total += it.Subtotal()
	}
	return total
}
