package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocal_ExclusiveUntilReleased(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "scheduler", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first TryLock: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := l.TryLock(ctx, "scheduler", time.Minute); ok {
		t.Fatal("second TryLock acquired a held lock")
	}
	if _, ok, _ := l.TryLock(ctx, "sweeper", time.Minute); !ok {
		t.Fatal("different key should be free")
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Errorf("double release: got %v, want ErrNotHeld", err)
	}
	if _, ok, _ := l.TryLock(ctx, "scheduler", time.Minute); !ok {
		t.Fatal("lock not reacquirable after release")
	}
}

func TestLocal_ExpiredLeaseCanBeTaken(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	stale, ok, _ := l.TryLock(ctx, "scheduler", time.Second)
	if !ok {
		t.Fatal("TryLock failed")
	}
	now = now.Add(2 * time.Second)
	if _, ok, _ := l.TryLock(ctx, "scheduler", time.Second); !ok {
		t.Fatal("expired lease not taken over")
	}
	if err := stale(ctx); !errors.Is(err, ErrNotHeld) {
		t.Errorf("stale release: got %v, want ErrNotHeld", err)
	}
}
