package application

import (
	"context"
	"fmt"
	"testing"
	"time"

	"nexus-cart/internal/service/cart/domain"

	"github.com/pkg/errors"
)

// fillCarts 在 t0 时刻为每个用户加入 qty 个 P1
func fillCarts(t *testing.T, store domain.Store, users []string, qty int64) {
	t.Helper()
	svc, _ := newService(t, store)
	for _, u := range users {
		if _, err := svc.AddItem(context.Background(), u, "P1", qty); err != nil {
			t.Fatalf("add for %s: %v", u, err)
		}
	}
}

func newReclaimer(store domain.Store, now time.Time, batch int, lock *stubLock, pub *capturePublisher) *Reclaimer {
	opts := ReclaimerOptions{
		Interval:  time.Minute,
		BatchSize: batch,
		Now:       func() time.Time { return now },
	}
	r := NewReclaimer(store, tracer, opts, nil, nil)
	if lock != nil {
		r.lock = lock
	}
	if pub != nil {
		r.publisher = pub
	}
	return r
}

func TestReclaimRestoresStockAndDeletesCart(t *testing.T) {
	store := openStore(t)
	seedProduct(t, store, "P1", 100, 8)
	fillCarts(t, store, []string{"U1"}, 3)
	if got := stockOf(t, store, "P1"); got != 5 {
		t.Fatalf("precondition: stock = %d, want 5", got)
	}

	pub := &capturePublisher{}
	r := newReclaimer(store, t0.Add(2*time.Hour), 500, nil, pub)
	res, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Carts != 1 || res.Units != 3 {
		t.Fatalf("result = %+v", res)
	}
	if got := stockOf(t, store, "P1"); got != 8 {
		t.Fatalf("stock = %d, want 8", got)
	}
	if findCart(t, store, "U1") != nil {
		t.Fatal("cart should be gone")
	}
	if len(pub.events) != 1 || pub.events[0].Owner != "U1" || pub.events[0].Reason != domain.ReclaimByScheduler || pub.events[0].State != domain.StateReclaimed {
		t.Fatalf("events = %+v", pub.events)
	}
}

func TestReclaimLeavesActiveCarts(t *testing.T) {
	store := openStore(t)
	seedProduct(t, store, "P1", 100, 10)
	fillCarts(t, store, []string{"U1"}, 2)

	r := newReclaimer(store, t0.Add(2*time.Hour-time.Second), 500, nil, nil)
	res, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Carts != 0 || findCart(t, store, "U1") == nil {
		t.Fatalf("active cart reclaimed: %+v", res)
	}
	if got := stockOf(t, store, "P1"); got != 8 {
		t.Fatalf("stock = %d, want 8", got)
	}
}

func TestReclaimBatchesBacklog(t *testing.T) {
	store := openStore(t)
	seedProduct(t, store, "P1", 100, 10)
	users := make([]string, 5)
	for i := range users {
		users[i] = fmt.Sprintf("u%d", i)
	}
	fillCarts(t, store, users, 2)

	r := newReclaimer(store, t0.Add(3*time.Hour), 2, nil, nil)
	var runs []int
	for i := 0; i < 4; i++ {
		res, err := r.RunOnce(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		runs = append(runs, res.Carts)
	}
	if fmt.Sprint(runs) != "[2 2 1 0]" {
		t.Fatalf("carts per run = %v", runs)
	}
	if got := stockOf(t, store, "P1"); got != 10 {
		t.Fatalf("stock = %d, want 10", got)
	}
}

func TestReclaimFailureKeepsBatchForNextRun(t *testing.T) {
	base := openStore(t)
	seedProduct(t, base, "P1", 100, 8)
	fillCarts(t, base, []string{"U1", "U2"}, 2)

	store := &faultyStore{Store: base, failAdjust: true}
	r := newReclaimer(store, t0.Add(3*time.Hour), 500, nil, nil)

	if _, err := r.RunOnce(context.Background()); !errors.Is(err, errInjected) {
		t.Fatalf("err = %v", err)
	}
	if len(allCarts(t, base)) != 2 {
		t.Fatal("carts must not be deleted when stock restore fails")
	}
	if got := stockOf(t, base, "P1"); got != 4 {
		t.Fatalf("stock = %d, want 4", got)
	}

	store.failAdjust = false
	res, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Carts != 2 || stockOf(t, base, "P1") != 8 {
		t.Fatalf("rerun result = %+v", res)
	}
}

func TestReclaimDeleteFailureRollsBackStock(t *testing.T) {
	base := openStore(t)
	seedProduct(t, base, "P1", 100, 8)
	fillCarts(t, base, []string{"U1"}, 3)

	store := &deleteFailingStore{Store: base}
	r := newReclaimer(store, t0.Add(3*time.Hour), 500, nil, nil)

	if _, err := r.RunOnce(context.Background()); !errors.Is(err, errInjected) {
		t.Fatalf("err = %v", err)
	}
	if got := stockOf(t, base, "P1"); got != 5 {
		t.Fatalf("stock = %d, want 5 (restore rolled back)", got)
	}
	if findCart(t, base, "U1") == nil {
		t.Fatal("cart must survive")
	}
}

func TestReclaimSkipsWithoutLock(t *testing.T) {
	store := openStore(t)
	seedProduct(t, store, "P1", 100, 8)
	fillCarts(t, store, []string{"U1"}, 3)

	lock := &stubLock{}
	r := newReclaimer(store, t0.Add(3*time.Hour), 500, lock, nil)
	res, err := r.RunOnce(context.Background())
	if err != nil || !res.Skipped {
		t.Fatalf("res = %+v err = %v", res, err)
	}
	if findCart(t, store, "U1") == nil {
		t.Fatal("nothing should be reclaimed without the lock")
	}

	lock.acquired = true
	res, err = r.RunOnce(context.Background())
	if err != nil || res.Carts != 1 {
		t.Fatalf("res = %+v err = %v", res, err)
	}
	if lock.released != 1 {
		t.Fatalf("released = %d, want 1", lock.released)
	}
}

func TestReclaimerStartStopsOnCancel(t *testing.T) {
	store := openStore(t)
	seedProduct(t, store, "P1", 100, 8)
	fillCarts(t, store, []string{"U1"}, 3)

	r := NewReclaimer(store, tracer, ReclaimerOptions{
		Interval:   time.Hour,
		BatchSize:  10,
		RunOnStart: true,
		Now:        func() time.Time { return t0.Add(3 * time.Hour) },
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for stockOf(t, store, "P1") != 8 {
		if time.Now().After(deadline) {
			t.Fatal("run on start did not reclaim")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

type deleteFailingStore struct {
	domain.Store
}

func (s *deleteFailingStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return s.Store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return fn(ctx, deleteFailingTx{Tx: tx})
	})
}

type deleteFailingTx struct{ domain.Tx }

func (t deleteFailingTx) Carts() domain.CartRepository {
	return deleteFailingCarts{CartRepository: t.Tx.Carts()}
}

type deleteFailingCarts struct{ domain.CartRepository }

func (deleteFailingCarts) DeleteExpired(context.Context, []string, time.Time) (int64, error) {
	return 0, errInjected
}
