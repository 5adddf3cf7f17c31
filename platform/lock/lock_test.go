package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestKeyedSerialisesSameKey(t *testing.T) {
	k := NewKeyed[string]()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "lead")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxSeen)
	}
	if k.Len() != 0 {
		t.Fatalf("expected no leftover entries, got %d", k.Len())
	}
}

func TestKeyedLockHonoursContext(t *testing.T) {
	k := NewKeyed[string]()
	unlock, _ := k.Lock(context.Background(), "a")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	other, err := k.Lock(context.Background(), "b")
	if err != nil {
		t.Fatalf("different key must not block: %v", err)
	}
	other()
}

func TestKeyedTryLock(t *testing.T) {
	k := NewKeyed[int]()
	unlock, ok := k.TryLock(1)
	if !ok {
		t.Fatalf("expected first TryLock to succeed")
	}
	if _, ok := k.TryLock(1); ok {
		t.Fatalf("expected second TryLock to fail")
	}
	unlock()
	unlock()
	if _, ok := k.TryLock(1); !ok {
		t.Fatalf("expected TryLock after unlock to succeed")
	}
}

func TestRedisLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	lease, ok, err := Acquire(ctx, client, "sweep", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := Acquire(ctx, client, "sweep", time.Minute); ok {
		t.Fatalf("second acquire must fail while held")
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := Acquire(ctx, client, "sweep", time.Minute); !ok {
		t.Fatalf("acquire after release must succeed")
	}
}

func TestRedisLeaseExpiredIsNotReleasedByOldHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	old, _, _ := Acquire(ctx, client, "sweep", time.Second)
	mr.FastForward(2 * time.Second)
	if _, ok, _ := Acquire(ctx, client, "sweep", time.Minute); !ok {
		t.Fatalf("expected expired lease to be re-acquirable")
	}
	if err := old.Release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
	if !mr.Exists("sweep") {
		t.Fatalf("old holder must not delete the new lease")
	}
}
