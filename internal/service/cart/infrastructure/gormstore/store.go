// Package gormstore 是基于 GORM + MySQL (InnoDB) 的实现
package gormstore

import (
	"context"
	"strings"
	"time"

	"nexus-cart/internal/service/cart/domain"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// Store 实现 domain.Store
type Store struct {
	db *gorm.DB
}

// Open 连接 MySQL 并迁移表结构
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "gorm: open mysql")
	}
	if err := db.AutoMigrate(&ProductModel{}, &CartModel{}, &CartItemModel{}); err != nil {
		return nil, errors.Wrap(err, "gorm: migrate")
	}
	zlog.Info().Msg("✅ Connected to MySQL")
	return New(db), nil
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &unit{db: tx})
	})
	return classify(err)
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// classify 死锁和锁等待超时视为可重试的事务中止
func classify(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	var me *mysqldriver.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case errDeadlock, errLockWaitTimeout, errDuplicateEntry:
			return errors.Wrap(domain.ErrTxAborted, me.Error())
		}
	}
	return errors.Wrap(err, "gorm")
}

type unit struct {
	db *gorm.DB
}

func (u *unit) Carts() domain.CartRepository { return &cartRepo{db: u.db} }
func (u *unit) Ledger() domain.StockLedger   { return &ledger{db: u.db} }

type cartRepo struct {
	db *gorm.DB
}

func orderedItems(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

// FindByOwner 使用 SELECT ... FOR UPDATE 锁住购物车行，同一用户的并发请求在此排队
func (r *cartRepo) FindByOwner(ctx context.Context, owner string) (*domain.Cart, error) {
	var model CartModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items", orderedItems).
		Where("owner = ?", owner).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrCartNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainCart(&model), nil
}

// Save 整体替换：upsert 购物车行，再重写所有明细
func (r *cartRepo) Save(ctx context.Context, cart *domain.Cart) error {
	model := toCartModel(cart)
	db := r.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{UpdateAll: true}).
		Omit(clause.Associations).
		Create(model).Error
	if err != nil {
		return err
	}
	if err := db.Where("owner = ?", cart.Owner).Delete(&CartItemModel{}).Error; err != nil {
		return err
	}
	if len(model.Items) == 0 {
		return nil
	}
	return db.Create(&model.Items).Error
}

// FindExpired 使用 SKIP LOCKED，正在被用户请求锁住的购物车留给下一轮
func (r *cartRepo) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Cart, error) {
	var models []*CartModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Preload("Items", orderedItems).
		Where("expires_at <= ?", now).
		Order("expires_at").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	carts := make([]*domain.Cart, len(models))
	for i, m := range models {
		carts[i] = toDomainCart(m)
	}
	return carts, nil
}

func (r *cartRepo) DeleteExpired(ctx context.Context, owners []string, now time.Time) (int64, error) {
	if len(owners) == 0 {
		return 0, nil
	}
	db := r.db.WithContext(ctx)
	res := db.Where("owner IN ? AND expires_at <= ?", owners, now).Delete(&CartModel{})
	if res.Error != nil {
		return 0, res.Error
	}
	// 只删除购物车行已不存在的明细
	remaining := db.Model(&CartModel{}).Select("owner").Where("owner IN ?", owners)
	err := db.Where("owner IN ? AND owner NOT IN (?)", owners, remaining).Delete(&CartItemModel{}).Error
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

type ledger struct {
	db *gorm.DB
}

func (l *ledger) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var model ProductModel
	err := l.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomainProduct(&model), nil
}

// AdjustStock 条件更新 stock_quantity = stock_quantity + delta，扣减时要求结果不为负
func (l *ledger) AdjustStock(ctx context.Context, id string, delta int64) error {
	db := l.db.WithContext(ctx)
	if delta != 0 {
		q := db.Model(&ProductModel{}).Where("id = ?", id)
		if delta < 0 {
			q = q.Where("stock_quantity >= ?", -delta)
		}
		res := q.UpdateColumn("stock_quantity", gorm.Expr("stock_quantity + ?", delta))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}
	}

	var n int64
	if err := db.Model(&ProductModel{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	switch {
	case n == 0:
		return domain.ErrProductNotFound
	case delta == 0:
		return nil
	default:
		return domain.ErrInsufficientStock
	}
}

// BulkAdjustStock 所有释放合并为一条 UPDATE ... CASE 语句
func (l *ledger) BulkAdjustStock(ctx context.Context, adjustments []domain.StockAdjustment) error {
	var releases []domain.StockAdjustment
	for _, a := range adjustments {
		switch {
		case a.Delta < 0:
			if err := l.AdjustStock(ctx, a.ProductID, a.Delta); err != nil {
				return errors.WithMessagef(err, "adjust %s by %d", a.ProductID, a.Delta)
			}
		case a.Delta > 0:
			releases = append(releases, a)
		}
	}
	if len(releases) == 0 {
		return nil
	}
	expr, args, ids := releaseCase(releases)
	return l.db.WithContext(ctx).
		Model(&ProductModel{}).
		Where("id IN ?", ids).
		UpdateColumn("stock_quantity", gorm.Expr(expr, args...)).Error
}

func (l *ledger) SaveProduct(ctx context.Context, p *domain.Product) error {
	return l.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(toProductModel(p)).Error
}

// releaseCase 生成 stock_quantity + CASE id WHEN ? THEN ? ... END
func releaseCase(releases []domain.StockAdjustment) (string, []interface{}, []string) {
	var b strings.Builder
	b.WriteString("stock_quantity + CASE id")
	args := make([]interface{}, 0, len(releases)*2)
	ids := make([]string, 0, len(releases))
	for _, a := range releases {
		b.WriteString(" WHEN ? THEN ?")
		args = append(args, a.ProductID, a.Delta)
		ids = append(ids, a.ProductID)
	}
	b.WriteString(" ELSE 0 END")
	return b.String(), args, ids
}
