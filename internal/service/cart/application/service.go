package application

import (
	"context"
	"time"

	"nexus-cart/internal/pkg/logger"
	"nexus-cart/internal/pkg/metrics"
	"nexus-cart/internal/service/cart/domain"
	"nexus-cart/internal/service/cart/domain/port"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Options 购物车引擎参数
type Options struct {
	TTL              time.Duration
	TouchOnRead      bool // 读取购物车时是否懒创建并续期
	TxMaxAttempts    int
	DefaultPageLimit int
	MaxPageLimit     int
}

// DefaultOptions 与线上默认配置一致
func DefaultOptions() Options {
	return Options{
		TTL:              2 * time.Hour,
		TouchOnRead:      true,
		TxMaxAttempts:    3,
		DefaultPageLimit: 10,
		MaxPageLimit:     100,
	}
}

type Option func(*CartService)

// WithPolicy 设置预留准入策略
func WithPolicy(p port.AdmissionPolicy) Option {
	return func(s *CartService) { s.policy = p }
}

// WithPublisher 设置事件发布者
func WithPublisher(p port.EventPublisher) Option {
	return func(s *CartService) { s.publisher = p }
}

// WithClock 替换时钟，测试使用
func WithClock(now func() time.Time) Option {
	return func(s *CartService) { s.now = now }
}

// CartService 购物车预留引擎
// 每个变更用例都在一个事务里同时写购物车和库存，要么都成功要么都回滚
type CartService struct {
	store     domain.Store
	tracer    trace.Tracer
	policy    port.AdmissionPolicy
	publisher port.EventPublisher
	opts      Options
	now       func() time.Time
}

// NewCartService 创建购物车服务
func NewCartService(store domain.Store, tracer trace.Tracer, opts Options, options ...Option) *CartService {
	if opts.TxMaxAttempts < 1 {
		opts.TxMaxAttempts = 1
	}
	s := &CartService{
		store:  store,
		tracer: tracer,
		opts:   opts,
		now:    time.Now,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// AddItem 向购物车加入商品并预留库存
func (s *CartService) AddItem(ctx context.Context, userID, productID string, quantity int64) (view *CartView, err error) {
	ctx, span := s.tracer.Start(ctx, "app.AddItem")
	defer span.End()
	defer s.observe(ctx, span, "AddItem", time.Now(), &err)

	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("product.id", productID),
		attribute.Int64("cart.quantity", quantity),
	)

	if userID == "" || productID == "" {
		return nil, domain.ErrInvalidID
	}
	if quantity < 1 {
		return nil, domain.ErrInvalidQuantity
	}

	var (
		cart      *domain.Cart
		reclaimed []domain.CartReclaimed
	)
	err = s.execute(ctx, "AddItem", func(ctx context.Context, tx domain.Tx) error {
		now := s.now()

		var err error
		// 1. 加载或懒创建购物车
		cart, reclaimed, err = s.loadOrCreate(ctx, tx, userID, now)
		if err != nil {
			return err
		}

		// 2. 加载商品并检查库存
		product, err := tx.Ledger().GetProductByID(ctx, productID)
		if err != nil {
			return errors.WithMessagef(err, "product %s", productID)
		}
		if product.StockQuantity < quantity {
			return errors.WithMessagef(domain.ErrInsufficientStock, "product %s: want %d, have %d", productID, quantity, product.StockQuantity)
		}
		if err := cart.CheckAdd(product, quantity); err != nil {
			return errors.WithMessagef(err, "product %s", productID)
		}
		if err := s.admit(ctx, cart, userID, product, quantity); err != nil {
			return err
		}

		// 3. 合并或追加，扣库存，保存
		cart.AddItem(product, quantity)
		if err := tx.Ledger().AdjustStock(ctx, productID, -quantity); err != nil {
			return errors.WithMessagef(err, "reserve %d of %s", quantity, productID)
		}
		cart.Touch(now, s.opts.TTL)
		return tx.Carts().Save(ctx, cart)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, reclaimed)
	logger.Ctx(ctx).Info().
		Str("user_id", userID).
		Str("product_id", productID).
		Int64("quantity", quantity).
		Msg("item reserved")
	return toFullView(cart), nil
}

// UpdateItemQuantity 把某行的数量设为 newQuantity，newQuantity <= 0 等同于 RemoveItem
func (s *CartService) UpdateItemQuantity(ctx context.Context, userID, productID string, newQuantity int64) (view *CartView, err error) {
	ctx, span := s.tracer.Start(ctx, "app.UpdateItemQuantity")
	defer span.End()
	defer s.observe(ctx, span, "UpdateItemQuantity", time.Now(), &err)

	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("product.id", productID),
		attribute.Int64("cart.quantity", newQuantity),
	)

	if userID == "" || productID == "" {
		return nil, domain.ErrInvalidID
	}
	if newQuantity <= 0 {
		return s.remove(ctx, "UpdateItemQuantity", userID, productID)
	}

	var cart *domain.Cart
	err = s.execute(ctx, "UpdateItemQuantity", func(ctx context.Context, tx domain.Tx) error {
		now := s.now()

		var err error
		if cart, err = s.loadActive(ctx, tx, userID, now); err != nil {
			return err
		}
		item, ok := cart.Item(productID)
		if !ok {
			return errors.WithMessagef(domain.ErrItemNotFound, "product %s", productID)
		}

		delta := newQuantity - item.Quantity
		if delta > 0 {
			product, err := tx.Ledger().GetProductByID(ctx, productID)
			if err != nil {
				return errors.WithMessagef(err, "product %s", productID)
			}
			if product.StockQuantity < delta {
				return errors.WithMessagef(domain.ErrInsufficientStock, "product %s: want %d more, have %d", productID, delta, product.StockQuantity)
			}
			if err := cart.CheckQuantity(productID, newQuantity); err != nil {
				return errors.WithMessagef(err, "product %s", productID)
			}
			if err := s.admit(ctx, cart, userID, product, delta); err != nil {
				return err
			}
		}
		// delta < 0 时归还库存
		if delta != 0 {
			if err := tx.Ledger().AdjustStock(ctx, productID, -delta); err != nil {
				return errors.WithMessagef(err, "adjust %s by %d", productID, -delta)
			}
		}

		if _, err := cart.SetQuantity(productID, newQuantity); err != nil {
			return err
		}
		cart.Touch(now, s.opts.TTL)
		return tx.Carts().Save(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	return toFullView(cart), nil
}

// RemoveItem 删除一行并把全部预留归还目录
func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) (view *CartView, err error) {
	ctx, span := s.tracer.Start(ctx, "app.RemoveItem")
	defer span.End()
	defer s.observe(ctx, span, "RemoveItem", time.Now(), &err)

	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("product.id", productID),
	)

	if userID == "" || productID == "" {
		return nil, domain.ErrInvalidID
	}
	return s.remove(ctx, "RemoveItem", userID, productID)
}

func (s *CartService) remove(ctx context.Context, op, userID, productID string) (*CartView, error) {
	var cart *domain.Cart
	err := s.execute(ctx, op, func(ctx context.Context, tx domain.Tx) error {
		now := s.now()

		var err error
		if cart, err = s.loadActive(ctx, tx, userID, now); err != nil {
			return err
		}
		quantity, err := cart.RemoveItem(productID)
		if err != nil {
			return errors.WithMessagef(err, "product %s", productID)
		}
		if err := tx.Ledger().AdjustStock(ctx, productID, quantity); err != nil {
			return errors.WithMessagef(err, "release %d of %s", quantity, productID)
		}
		cart.Touch(now, s.opts.TTL)
		return tx.Carts().Save(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	return toFullView(cart), nil
}

// GetCart 分页读取购物车
// TouchOnRead 打开时会懒创建并续期，关闭时是纯读取
func (s *CartService) GetCart(ctx context.Context, userID string, page, limit int) (view *CartView, err error) {
	ctx, span := s.tracer.Start(ctx, "app.GetCart")
	defer span.End()
	defer s.observe(ctx, span, "GetCart", time.Now(), &err)

	span.SetAttributes(attribute.String("user.id", userID))

	if userID == "" {
		return nil, domain.ErrInvalidID
	}
	page, limit = s.normalizePage(page, limit)

	var (
		cart      *domain.Cart
		reclaimed []domain.CartReclaimed
	)
	err = s.execute(ctx, "GetCart", func(ctx context.Context, tx domain.Tx) error {
		now := s.now()

		if !s.opts.TouchOnRead {
			c, err := tx.Carts().FindByOwner(ctx, userID)
			switch {
			case errors.Is(err, domain.ErrCartNotFound):
				cart = domain.NewCart(userID, now, s.opts.TTL)
				return nil
			case err != nil:
				return err
			}
			if c.IsExpired(now) {
				// 过期购物车对读者不可见，由回收任务归还库存
				c = domain.NewCart(userID, now, s.opts.TTL)
			}
			cart = c
			return nil
		}

		var err error
		cart, reclaimed, err = s.loadOrCreate(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		cart.Touch(now, s.opts.TTL)
		return tx.Carts().Save(ctx, cart)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, reclaimed)
	return toCartView(cart, page, limit), nil
}

// UpsertProduct 管理端写入商品 (包括库存)
func (s *CartService) UpsertProduct(ctx context.Context, req *UpsertProductRequest) (view *ProductView, err error) {
	ctx, span := s.tracer.Start(ctx, "app.UpsertProduct")
	defer span.End()
	defer s.observe(ctx, span, "UpsertProduct", time.Now(), &err)

	product := &domain.Product{
		ID:            req.ID,
		Name:          req.Name,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
		UpdatedAt:     s.now(),
	}
	if err := product.Validate(); err != nil {
		return nil, err
	}
	err = s.execute(ctx, "UpsertProduct", func(ctx context.Context, tx domain.Tx) error {
		return tx.Ledger().SaveProduct(ctx, product)
	})
	if err != nil {
		return nil, err
	}
	return toProductView(product), nil
}

// GetProduct 读取商品
func (s *CartService) GetProduct(ctx context.Context, id string) (view *ProductView, err error) {
	ctx, span := s.tracer.Start(ctx, "app.GetProduct")
	defer span.End()
	defer s.observe(ctx, span, "GetProduct", time.Now(), &err)

	if id == "" {
		return nil, domain.ErrInvalidID
	}
	var product *domain.Product
	err = s.execute(ctx, "GetProduct", func(ctx context.Context, tx domain.Tx) error {
		var err error
		product, err = tx.Ledger().GetProductByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toProductView(product), nil
}

// Ping 检查存储是否可用
func (s *CartService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// execute 在事务中执行 fn，事务被中止时整体重试，超过上限后返回通用失败
func (s *CartService) execute(ctx context.Context, op string, fn func(ctx context.Context, tx domain.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.opts.TxMaxAttempts; attempt++ {
		err = s.store.RunInTx(ctx, fn)
		if !errors.Is(err, domain.ErrTxAborted) {
			return err
		}
		logger.Ctx(ctx).Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Msg("⚠️ transaction aborted")
		if ctx.Err() != nil {
			break
		}
		if attempt < s.opts.TxMaxAttempts {
			metrics.TxRetriesTotal.WithLabelValues(op).Inc()
		}
	}
	return errors.Wrapf(domain.ErrRetriesExhausted, "%s: %v", op, err)
}

// loadOrCreate 返回用户的活跃购物车，不存在时新建
// 已过期的购物车在当前事务中先归还库存，再以新购物车替换
func (s *CartService) loadOrCreate(ctx context.Context, tx domain.Tx, owner string, now time.Time) (*domain.Cart, []domain.CartReclaimed, error) {
	cart, err := tx.Carts().FindByOwner(ctx, owner)
	switch {
	case errors.Is(err, domain.ErrCartNotFound):
		return domain.NewCart(owner, now, s.opts.TTL), nil, nil
	case err != nil:
		return nil, nil, err
	}
	if !cart.IsExpired(now) {
		return cart, nil, nil
	}

	event := domain.NewCartReclaimed(uuid.NewString(), cart, now, domain.ReclaimInline)
	if err := tx.Ledger().BulkAdjustStock(ctx, event.Released); err != nil {
		return nil, nil, errors.WithMessagef(err, "reclaim expired cart of %s", owner)
	}
	return domain.NewCart(owner, now, s.opts.TTL), []domain.CartReclaimed{event}, nil
}

// loadActive 只返回 ACTIVE 状态的购物车
func (s *CartService) loadActive(ctx context.Context, tx domain.Tx, owner string, now time.Time) (*domain.Cart, error) {
	cart, err := tx.Carts().FindByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if cart.IsExpired(now) {
		return nil, errors.WithMessage(domain.ErrCartNotFound, "cart expired")
	}
	return cart, nil
}

func (s *CartService) admit(ctx context.Context, cart *domain.Cart, userID string, product *domain.Product, added int64) error {
	if s.policy == nil {
		return nil
	}
	req := port.AdmissionRequest{
		UserID:    userID,
		ProductID: product.ID,
		Quantity:  added,
		Stock:     product.StockQuantity,
		Lines:     len(cart.Items),
	}
	if item, ok := cart.Item(product.ID); ok {
		req.Quantity += item.Quantity
	} else {
		req.Lines++
	}
	return s.policy.Admit(ctx, req)
}

func (s *CartService) normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = s.opts.DefaultPageLimit
	}
	if limit > s.opts.MaxPageLimit {
		limit = s.opts.MaxPageLimit
	}
	return page, limit
}

func (s *CartService) publish(ctx context.Context, events []domain.CartReclaimed) {
	if len(events) == 0 || s.publisher == nil {
		return
	}
	if err := s.publisher.PublishCartReclaimed(ctx, events); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int("events", len(events)).Msg("failed to publish cart reclaimed events")
	}
}

func (s *CartService) observe(ctx context.Context, span trace.Span, op string, start time.Time, errp *error) {
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	result := "ok"
	if err := *errp; err != nil {
		kind := domain.KindOf(err)
		result = string(kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		if kind == domain.KindInternal {
			logger.Ctx(ctx).Error().Err(err).Str("operation", op).Msg("❌ cart operation failed")
		} else {
			logger.Ctx(ctx).Debug().Err(err).Str("operation", op).Msg("cart operation rejected")
		}
	}
	metrics.OperationsTotal.WithLabelValues(op, result).Inc()
}
