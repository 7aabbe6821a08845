package domain

import (
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAddItemMergesAndLocksPrice(t *testing.T) {
	c := NewCart("u1", t0, 2*time.Hour)
	p := &Product{ID: "p1", Name: "mug", Price: 100, StockQuantity: 10}

	c.AddItem(p, 2)
	p.Price = 150 // 目录调价不影响已有行
	c.AddItem(p, 3)

	if len(c.Items) != 1 {
		t.Fatalf("items = %+v, want one merged line", c.Items)
	}
	if got := c.Items[0]; got.Quantity != 5 || got.UnitPrice != 100 {
		t.Fatalf("line = %+v, want qty 5 @ 100", got)
	}
	if c.TotalPrice != 500 {
		t.Fatalf("total = %d, want 500", c.TotalPrice)
	}
}

func TestItemsKeepInsertionOrder(t *testing.T) {
	c := NewCart("u1", t0, time.Hour)
	for _, id := range []string{"b", "a", "c"} {
		c.AddItem(&Product{ID: id, Price: 1}, 1)
	}
	if _, err := c.RemoveItem("a"); err != nil {
		t.Fatal(err)
	}
	if c.Items[0].ProductID != "b" || c.Items[1].ProductID != "c" {
		t.Fatalf("order = %+v", c.Items)
	}
}

func TestSetQuantityReturnsDelta(t *testing.T) {
	c := NewCart("u1", t0, time.Hour)
	c.AddItem(&Product{ID: "p1", Price: 250}, 4)

	delta, err := c.SetQuantity("p1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if delta != -2 || c.TotalPrice != 500 {
		t.Fatalf("delta = %d total = %d", delta, c.TotalPrice)
	}

	if _, err := c.SetQuantity("p2", 1); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("err = %v, want ErrItemNotFound", err)
	}
	if _, err := c.SetQuantity("p1", 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("err = %v, want ErrInvalidQuantity", err)
	}
}

func TestTotalAlwaysMatchesFold(t *testing.T) {
	c := NewCart("u1", t0, time.Hour)
	c.AddItem(&Product{ID: "p1", Price: 199}, 3)
	c.AddItem(&Product{ID: "p2", Price: 5}, 7)
	_, _ = c.SetQuantity("p1", 1)
	c.AddItem(&Product{ID: "p3", Price: 1000}, 1)
	_, _ = c.RemoveItem("p2")

	if c.TotalPrice != ComputeTotal(c.Items) || c.TotalPrice != 1199 {
		t.Fatalf("total = %d, fold = %d", c.TotalPrice, ComputeTotal(c.Items))
	}
	if c.TotalQuantity() != 2 {
		t.Fatalf("quantity = %d", c.TotalQuantity())
	}
}

func TestExpiryBoundary(t *testing.T) {
	c := NewCart("u1", t0, 2*time.Hour)
	if c.State(t0.Add(time.Hour)) != StateActive {
		t.Fatal("cart should be active before ttl")
	}
	if c.State(t0.Add(2*time.Hour)) != StateExpired {
		t.Fatal("expiresAt == now counts as expired")
	}

	c.Touch(t0.Add(90*time.Minute), 2*time.Hour)
	if !c.ExpiresAt.Equal(t0.Add(210 * time.Minute)) {
		t.Fatalf("expiresAt = %v", c.ExpiresAt)
	}
}

func TestReleasesAggregatesPerProduct(t *testing.T) {
	c := &Cart{Items: []CartItem{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
		{ProductID: "p1", Quantity: 3},
	}}
	got := c.Releases()
	if len(got) != 2 || got[0] != (StockAdjustment{"p1", 5}) || got[1] != (StockAdjustment{"p2", 1}) {
		t.Fatalf("releases = %+v", got)
	}
}

func TestKindOfAndPublicMessage(t *testing.T) {
	wrapped := errors.Wrap(ErrInsufficientStock, "product p1")
	if KindOf(wrapped) != KindInsufficientStock {
		t.Fatalf("kind = %s", KindOf(wrapped))
	}
	if PublicMessage(wrapped) != "insufficient stock" {
		t.Fatalf("message = %q", PublicMessage(wrapped))
	}

	raw := errors.New("bolt: database not open")
	if KindOf(raw) != KindInternal || PublicMessage(raw) != "internal error" {
		t.Fatal("storage errors must not leak")
	}
	if PublicMessage(errors.Wrap(ErrTxAborted, "write conflict")) != "internal error" {
		t.Fatal("aborts are internal")
	}
}

func TestAmountOverflowGuards(t *testing.T) {
	big := &Product{ID: "big", Name: "big", Price: math.MaxInt64 / 2, StockQuantity: 1}
	if err := big.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := (&Product{ID: "x", Name: "x", Price: math.MaxInt64 / 2, StockQuantity: 3}).Validate(); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("price x stock overflow: err = %v", err)
	}

	c := NewCart("u1", t0, 2*time.Hour)
	if err := c.CheckAdd(big, 1); err != nil {
		t.Fatalf("first line: %v", err)
	}
	c.AddItem(big, 1)

	other := &Product{ID: "other", Name: "other", Price: math.MaxInt64 / 2, StockQuantity: 1}
	if err := c.CheckAdd(other, 1); err != nil {
		t.Fatalf("total just below max: %v", err)
	}
	c.AddItem(other, 1)

	third := &Product{ID: "third", Name: "third", Price: 2, StockQuantity: 1}
	if err := c.CheckAdd(third, 1); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("total overflow: err = %v", err)
	}
	if err := c.CheckAdd(big, math.MaxInt64); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("merged quantity overflow: err = %v", err)
	}
	if err := c.CheckQuantity("big", 3); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("line overflow: err = %v", err)
	}
	if err := c.CheckQuantity("missing", 1); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("missing line: err = %v", err)
	}
	if c.TotalPrice < 0 {
		t.Fatalf("total wrapped: %d", c.TotalPrice)
	}
}
