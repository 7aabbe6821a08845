// Package boltstore 是基于 bolt 的嵌入式实现，用于本地开发和测试
// bolt 同一时刻只允许一个写事务，所以事务内的读-改-写天然是原子的
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"nexus-cart/internal/service/cart/domain"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

var (
	cartsBucket    = []byte("carts")
	expiryBucket   = []byte("cart_expiry") // key: expiresAt(8 字节大端纳秒) + owner
	productsBucket = []byte("products")
)

// Store 实现 domain.Store
type Store struct {
	db *bolt.DB
}

// Open 打开或创建数据库文件
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "bolt: create dir %s", dir)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "bolt: open %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{cartsBucket, expiryBucket, productsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "bolt: create buckets")
	}
	return &Store{db: db}, nil
}

// RunInTx 在一个写事务中执行 fn
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(ctx, &unit{tx: btx})
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

func (s *Store) Close() error {
	return s.db.Close()
}

type unit struct {
	tx *bolt.Tx
}

func (u *unit) Carts() domain.CartRepository { return &cartRepo{tx: u.tx} }
func (u *unit) Ledger() domain.StockLedger   { return &ledger{tx: u.tx} }

type cartItemRecord struct {
	ProductID string `json:"productId"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int64  `json:"quantity"`
}

type cartRecord struct {
	Owner      string           `json:"owner"`
	Items      []cartItemRecord `json:"items"`
	TotalPrice int64            `json:"totalPrice"`
	ExpiresAt  time.Time        `json:"expiresAt"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

type productRecord struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Price         int64     `json:"price"`
	StockQuantity int64     `json:"stockQuantity"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type cartRepo struct {
	tx *bolt.Tx
}

func (r *cartRepo) FindByOwner(_ context.Context, owner string) (*domain.Cart, error) {
	rec, err := r.get(owner)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrCartNotFound
	}
	return toDomainCart(rec), nil
}

func (r *cartRepo) Save(_ context.Context, cart *domain.Cart) error {
	prev, err := r.get(cart.Owner)
	if err != nil {
		return err
	}
	idx := r.tx.Bucket(expiryBucket)
	if prev != nil {
		if err := idx.Delete(expiryKey(prev.ExpiresAt, prev.Owner)); err != nil {
			return err
		}
	}

	data, err := json.Marshal(fromDomainCart(cart))
	if err != nil {
		return errors.Wrap(err, "bolt: encode cart")
	}
	if err := r.tx.Bucket(cartsBucket).Put([]byte(cart.Owner), data); err != nil {
		return err
	}
	return idx.Put(expiryKey(cart.ExpiresAt, cart.Owner), []byte(cart.Owner))
}

func (r *cartRepo) FindExpired(_ context.Context, now time.Time, limit int) ([]*domain.Cart, error) {
	var carts []*domain.Cart
	upper := expiryKey(now, "")
	c := r.tx.Bucket(expiryBucket).Cursor()
	for k, v := c.First(); k != nil && len(carts) < limit; k, v = c.Next() {
		// 前 8 字节是时间戳；大于 now 后不再有过期项
		if string(k[:8]) > string(upper[:8]) {
			break
		}
		rec, err := r.get(string(v))
		if err != nil {
			return nil, err
		}
		if rec != nil {
			carts = append(carts, toDomainCart(rec))
		}
	}
	return carts, nil
}

func (r *cartRepo) DeleteExpired(_ context.Context, owners []string, now time.Time) (int64, error) {
	var deleted int64
	for _, owner := range owners {
		rec, err := r.get(owner)
		if err != nil {
			return deleted, err
		}
		if rec == nil || rec.ExpiresAt.After(now) {
			continue
		}
		if err := r.tx.Bucket(expiryBucket).Delete(expiryKey(rec.ExpiresAt, owner)); err != nil {
			return deleted, err
		}
		if err := r.tx.Bucket(cartsBucket).Delete([]byte(owner)); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (r *cartRepo) get(owner string) (*cartRecord, error) {
	data := r.tx.Bucket(cartsBucket).Get([]byte(owner))
	if data == nil {
		return nil, nil
	}
	var rec cartRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(err, "bolt: decode cart %s", owner)
	}
	return &rec, nil
}

type ledger struct {
	tx *bolt.Tx
}

func (l *ledger) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	rec, err := l.get(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrProductNotFound
	}
	return &domain.Product{
		ID:            rec.ID,
		Name:          rec.Name,
		Price:         rec.Price,
		StockQuantity: rec.StockQuantity,
		UpdatedAt:     rec.UpdatedAt,
	}, nil
}

func (l *ledger) AdjustStock(_ context.Context, id string, delta int64) error {
	rec, err := l.get(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return domain.ErrProductNotFound
	}
	if rec.StockQuantity+delta < 0 {
		return domain.ErrInsufficientStock
	}
	rec.StockQuantity += delta
	return l.put(rec)
}

func (l *ledger) BulkAdjustStock(ctx context.Context, adjustments []domain.StockAdjustment) error {
	for _, a := range adjustments {
		err := l.AdjustStock(ctx, a.ProductID, a.Delta)
		if errors.Is(err, domain.ErrProductNotFound) && a.Delta > 0 {
			continue
		}
		if err != nil {
			return errors.WithMessagef(err, "adjust %s by %d", a.ProductID, a.Delta)
		}
	}
	return nil
}

func (l *ledger) SaveProduct(_ context.Context, p *domain.Product) error {
	return l.put(&productRecord{
		ID:            p.ID,
		Name:          p.Name,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		UpdatedAt:     p.UpdatedAt,
	})
}

func (l *ledger) get(id string) (*productRecord, error) {
	data := l.tx.Bucket(productsBucket).Get([]byte(id))
	if data == nil {
		return nil, nil
	}
	var rec productRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(err, "bolt: decode product %s", id)
	}
	return &rec, nil
}

func (l *ledger) put(rec *productRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "bolt: encode product")
	}
	return l.tx.Bucket(productsBucket).Put([]byte(rec.ID), data)
}

func expiryKey(t time.Time, owner string) []byte {
	key := make([]byte, 8, 8+len(owner))
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	return append(key, owner...)
}

func toDomainCart(rec *cartRecord) *domain.Cart {
	items := make([]domain.CartItem, 0, len(rec.Items))
	for _, it := range rec.Items {
		items = append(items, domain.CartItem{ProductID: it.ProductID, UnitPrice: it.UnitPrice, Quantity: it.Quantity})
	}
	return &domain.Cart{
		Owner:      rec.Owner,
		Items:      items,
		TotalPrice: rec.TotalPrice,
		ExpiresAt:  rec.ExpiresAt,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

func fromDomainCart(c *domain.Cart) *cartRecord {
	items := make([]cartItemRecord, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, cartItemRecord{ProductID: it.ProductID, UnitPrice: it.UnitPrice, Quantity: it.Quantity})
	}
	return &cartRecord{
		Owner:      c.Owner,
		Items:      items,
		TotalPrice: c.TotalPrice,
		ExpiresAt:  c.ExpiresAt,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}
