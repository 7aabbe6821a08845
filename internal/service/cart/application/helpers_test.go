package application

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"nexus-cart/internal/service/cart/domain"
	"nexus-cart/internal/service/cart/domain/port"
	"nexus-cart/internal/service/cart/infrastructure/boltstore"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	t0          = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tracer      = noop.NewTracerProvider().Tracer("test")
	errInjected = errors.New("injected failure")
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func openStore(t *testing.T) *boltstore.Store {
	t.Helper()
	s, err := boltstore.Open(filepath.Join(t.TempDir(), "cart.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedProduct(t *testing.T, s domain.Store, id string, price, stock int64) {
	t.Helper()
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Ledger().SaveProduct(ctx, &domain.Product{ID: id, Name: id, Price: price, StockQuantity: stock})
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func stockOf(t *testing.T, s domain.Store, id string) int64 {
	t.Helper()
	var stock int64
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		p, err := tx.Ledger().GetProductByID(ctx, id)
		if err != nil {
			return err
		}
		stock = p.StockQuantity
		return nil
	})
	if err != nil {
		t.Fatalf("stock of %s: %v", id, err)
	}
	return stock
}

// allCarts 用一个足够远的时间点列出全部购物车
func allCarts(t *testing.T, s domain.Store) []*domain.Cart {
	t.Helper()
	var carts []*domain.Cart
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		carts, err = tx.Carts().FindExpired(ctx, t0.AddDate(100, 0, 0), 1<<20)
		return err
	})
	if err != nil {
		t.Fatalf("list carts: %v", err)
	}
	return carts
}

func findCart(t *testing.T, s domain.Store, owner string) *domain.Cart {
	t.Helper()
	for _, c := range allCarts(t, s) {
		if c.Owner == owner {
			return c
		}
	}
	return nil
}

func reservedOf(t *testing.T, s domain.Store, productID string) int64 {
	t.Helper()
	var n int64
	for _, c := range allCarts(t, s) {
		if it, ok := c.Item(productID); ok {
			n += it.Quantity
		}
	}
	return n
}

func assertKind(t *testing.T, err error, want domain.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := domain.KindOf(err); got != want {
		t.Fatalf("kind = %s, want %s (err: %v)", got, want, err)
	}
}

// faultyStore 在真实存储之上注入失败
type faultyStore struct {
	domain.Store

	mu           sync.Mutex
	failAdjust   bool // AdjustStock / BulkAdjustStock 失败
	failSave     bool // CartRepository.Save 失败
	abortsLeft   int  // 前 N 次事务在 fn 执行完后以 ErrTxAborted 回滚
	transactions int
}

func (f *faultyStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return f.Store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		f.mu.Lock()
		f.transactions++
		f.mu.Unlock()

		if err := fn(ctx, faultyTx{Tx: tx, f: f}); err != nil {
			return err
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.abortsLeft > 0 {
			f.abortsLeft--
			return errors.Wrap(domain.ErrTxAborted, "write conflict")
		}
		return nil
	})
}

type faultyTx struct {
	domain.Tx
	f *faultyStore
}

func (t faultyTx) Ledger() domain.StockLedger {
	if t.f.failAdjust {
		return failingLedger{StockLedger: t.Tx.Ledger()}
	}
	return t.Tx.Ledger()
}

func (t faultyTx) Carts() domain.CartRepository {
	if t.f.failSave {
		return failingCarts{CartRepository: t.Tx.Carts()}
	}
	return t.Tx.Carts()
}

type failingLedger struct{ domain.StockLedger }

func (failingLedger) AdjustStock(context.Context, string, int64) error { return errInjected }
func (failingLedger) BulkAdjustStock(context.Context, []domain.StockAdjustment) error {
	return errInjected
}

type failingCarts struct{ domain.CartRepository }

func (failingCarts) Save(context.Context, *domain.Cart) error { return errInjected }

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.CartReclaimed
}

func (p *capturePublisher) PublishCartReclaimed(_ context.Context, events []domain.CartReclaimed) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

type maxQuantityPolicy int64

func (m maxQuantityPolicy) Admit(_ context.Context, req port.AdmissionRequest) error {
	if req.Quantity > int64(m) {
		return domain.NewValidationError("quantity exceeds per-line limit")
	}
	return nil
}

type stubLock struct {
	acquired bool
	released int
}

func (l *stubLock) TryAcquire(context.Context) (port.ReleaseFunc, bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func(context.Context) error { l.released++; return nil }, true, nil
}
