package application

import (
	"context"
	"sort"
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

// ReclaimerOptions 回收任务参数
type ReclaimerOptions struct {
	Interval   time.Duration
	BatchSize  int
	RunOnStart bool
	Now        func() time.Time
}

// ReclaimResult 一次回收周期的结果
type ReclaimResult struct {
	Carts   int
	Units   int64
	Skipped bool // 其他副本持有回收锁
}

// Reclaimer 定时把过期购物车占用的库存归还目录并删除购物车
// 归还和删除在同一个事务里提交，失败时整批保持 EXPIRED 等待下次执行
type Reclaimer struct {
	store     domain.Store
	tracer    trace.Tracer
	lock      port.CycleLock
	publisher port.EventPublisher
	opts      ReclaimerOptions
}

// NewReclaimer lock 和 publisher 可以为 nil
func NewReclaimer(store domain.Store, tracer trace.Tracer, opts ReclaimerOptions, lock port.CycleLock, publisher port.EventPublisher) *Reclaimer {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reclaimer{
		store:     store,
		tracer:    tracer,
		lock:      lock,
		publisher: publisher,
		opts:      opts,
	}
}

// Start 阻塞运行直到 ctx 结束
func (r *Reclaimer) Start(ctx context.Context) error {
	logger.Ctx(ctx).Info().
		Dur("interval", r.opts.Interval).
		Int("batch_size", r.opts.BatchSize).
		Msg("✅ Expiry reclaimer started")

	if r.opts.RunOnStart {
		_, _ = r.RunOnce(ctx)
	}

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// 失败已在 RunOnce 中记录，下个周期重试
			_, _ = r.RunOnce(ctx)
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("🛑 Expiry reclaimer stopped")
			return nil
		}
	}
}

// RunOnce 执行一个回收周期
func (r *Reclaimer) RunOnce(ctx context.Context) (ReclaimResult, error) {
	ctx, span := r.tracer.Start(ctx, "app.ReclaimExpiredCarts")
	defer span.End()

	if r.lock != nil {
		release, acquired, err := r.lock.TryAcquire(ctx)
		if err != nil {
			return r.fail(ctx, span, errors.WithMessage(err, "acquire reclaim lock"))
		}
		if !acquired {
			metrics.ReclaimCyclesTotal.WithLabelValues("skipped").Inc()
			span.AddEvent("reclaim lock held by another instance")
			logger.Ctx(ctx).Debug().Msg("reclaim lock held elsewhere, skipping cycle")
			return ReclaimResult{Skipped: true}, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Msg("failed to release reclaim lock")
			}
		}()
	}

	now := r.opts.Now()
	var (
		result ReclaimResult
		events []domain.CartReclaimed
	)
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		result, events = ReclaimResult{}, nil

		carts, err := tx.Carts().FindExpired(ctx, now, r.opts.BatchSize)
		if err != nil {
			return errors.WithMessage(err, "find expired carts")
		}
		if len(carts) == 0 {
			return nil
		}

		totals := make(map[string]int64)
		owners := make([]string, 0, len(carts))
		for _, c := range carts {
			event := domain.NewCartReclaimed(uuid.NewString(), c, now, domain.ReclaimByScheduler)
			for _, a := range event.Released {
				totals[a.ProductID] += a.Delta
				result.Units += a.Delta
			}
			owners = append(owners, c.Owner)
			events = append(events, event)
		}

		if err := tx.Ledger().BulkAdjustStock(ctx, sortedAdjustments(totals)); err != nil {
			return errors.WithMessage(err, "restore stock")
		}
		deleted, err := tx.Carts().DeleteExpired(ctx, owners, now)
		if err != nil {
			return errors.WithMessage(err, "delete expired carts")
		}
		// 有购物车在选出之后被续期或替换，整批回滚
		if deleted != int64(len(owners)) {
			return errors.Wrapf(domain.ErrTxAborted, "deleted %d of %d expired carts", deleted, len(owners))
		}
		result.Carts = len(carts)
		return nil
	})
	if err != nil {
		return r.fail(ctx, span, err)
	}

	metrics.ReclaimCyclesTotal.WithLabelValues("success").Inc()
	metrics.ReclaimedCartsTotal.Add(float64(result.Carts))
	metrics.ReclaimedUnitsTotal.Add(float64(result.Units))
	span.SetAttributes(
		attribute.Int("reclaim.carts", result.Carts),
		attribute.Int64("reclaim.units", result.Units),
	)
	if result.Carts > 0 {
		logger.Ctx(ctx).Info().
			Int("carts", result.Carts).
			Int64("units", result.Units).
			Msg("♻️ expired carts reclaimed")
	}

	if r.publisher != nil && len(events) > 0 {
		if err := r.publisher.PublishCartReclaimed(ctx, events); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Int("events", len(events)).Msg("failed to publish cart reclaimed events")
		}
	}
	return result, nil
}

func (r *Reclaimer) fail(ctx context.Context, span trace.Span, err error) (ReclaimResult, error) {
	metrics.ReclaimCyclesTotal.WithLabelValues("failed").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, "reclaim failed")
	logger.Ctx(ctx).Error().Err(err).Msg("❌ reclaim batch failed, will retry next run")
	return ReclaimResult{}, err
}

// sortedAdjustments 固定顺序，减少关系型存储上的死锁
func sortedAdjustments(totals map[string]int64) []domain.StockAdjustment {
	adjustments := make([]domain.StockAdjustment, 0, len(totals))
	for id, delta := range totals {
		adjustments = append(adjustments, domain.StockAdjustment{ProductID: id, Delta: delta})
	}
	sort.Slice(adjustments, func(i, j int) bool { return adjustments[i].ProductID < adjustments[j].ProductID })
	return adjustments
}
