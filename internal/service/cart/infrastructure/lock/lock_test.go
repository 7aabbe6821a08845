package lock

import (
	"context"
	"testing"

	"nexus-cart/internal/service/cart/domain/port"
)

var (
	_ port.CycleLock = (*RedisLock)(nil)
	_ port.CycleLock = (*ZookeeperLock)(nil)
	_ port.CycleLock = Noop{}
)

func TestNoopAlwaysAcquires(t *testing.T) {
	release, ok, err := Noop{}.TryAcquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("ok = %v err = %v", ok, err)
	}
	if err := release(context.Background()); err != nil {
		t.Fatal(err)
	}
}
