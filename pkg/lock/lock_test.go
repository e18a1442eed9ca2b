package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLocal_SerializesSameKey(t *testing.T) {
	l := NewLocal()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "docs")
			if err != nil {
				t.Error(err)
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside.Load() != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxInside.Load())
	}
	if len(l.slots) != 0 {
		t.Fatalf("slots leaked: %d", len(l.slots))
	}
}

func TestLocal_DifferentKeysIndependent(t *testing.T) {
	l := NewLocal()
	unlockA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("key b should not wait for key a: %v", err)
	}
	unlockB()
}

func TestLocal_ContextCancel(t *testing.T) {
	l := NewLocal()
	unlock, _ := l.Lock(context.Background(), "docs")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "docs"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestLocal_DoubleUnlockIsSafe(t *testing.T) {
	l := NewLocal()
	unlock, _ := l.Lock(context.Background(), "docs")
	unlock()
	unlock()
	unlock2, err := l.Lock(context.Background(), "docs")
	if err != nil {
		t.Fatal(err)
	}
	unlock2()
}

type mockRedis struct {
	mu        sync.Mutex
	held      map[string]string
	setErr    error
	evals     int
	refreshes int
	failures  int
}

func (m *mockRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return redis.NewBoolResult(false, m.setErr)
	}
	if _, ok := m.held[key]; ok {
		m.failures++
		return redis.NewBoolResult(false, nil)
	}
	m.held[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (m *mockRedis) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if script == refreshScript {
		if m.held[keys[0]] != args[0] {
			return redis.NewCmdResult(int64(0), nil)
		}
		m.refreshes++
		return redis.NewCmdResult(int64(1), nil)
	}
	m.evals++
	if m.held[keys[0]] == args[0] {
		delete(m.held, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedis_AcquireRelease(t *testing.T) {
	rc := &mockRedis{held: map[string]string{}}
	l := NewRedis(rc, time.Minute, nil)
	unlock, err := l.Lock(context.Background(), "docs")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rc.held[keyPrefix+"docs"]; !ok {
		t.Fatal("key not set")
	}
	unlock()
	unlock()
	if len(rc.held) != 0 || rc.evals != 1 {
		t.Fatalf("held=%v evals=%d", rc.held, rc.evals)
	}
}

func TestRedis_WaitsForHolder(t *testing.T) {
	rc := &mockRedis{held: map[string]string{}}
	l := NewRedis(rc, time.Minute, nil)
	l.poll = time.Millisecond

	unlock, _ := l.Lock(context.Background(), "docs")
	go func() {
		time.Sleep(20 * time.Millisecond)
		unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	unlock2, err := l.Lock(ctx, "docs")
	if err != nil {
		t.Fatalf("second lock: %v", err)
	}
	unlock2()
	if rc.failures == 0 {
		t.Fatal("second lock should have retried")
	}
}

func TestRedis_ContextCancel(t *testing.T) {
	rc := &mockRedis{held: map[string]string{keyPrefix + "docs": "other"}}
	l := NewRedis(rc, time.Minute, nil)
	l.poll = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "docs"); err == nil {
		t.Fatal("expected timeout")
	}
}

func TestRedis_SetError(t *testing.T) {
	rc := &mockRedis{held: map[string]string{}, setErr: errors.New("down")}
	if _, err := NewRedis(rc, 0, nil).Lock(context.Background(), "docs"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRedis_RefreshesWhileHeld(t *testing.T) {
	rc := &mockRedis{held: map[string]string{}}
	l := NewRedis(rc, time.Minute, nil)
	l.refresh = 5 * time.Millisecond

	unlock, err := l.Lock(context.Background(), "docs")
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		rc.mu.Lock()
		n := rc.refreshes
		rc.mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected the TTL to be renewed, got %d refreshes", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	unlock()

	rc.mu.Lock()
	after := rc.refreshes
	held := len(rc.held)
	rc.mu.Unlock()
	if held != 0 {
		t.Fatal("key still held after unlock")
	}
	time.Sleep(30 * time.Millisecond)
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.refreshes != after {
		t.Fatalf("refresh continued after unlock: %d -> %d", after, rc.refreshes)
	}
}

func TestRedis_StopsRefreshingLostLock(t *testing.T) {
	rc := &mockRedis{held: map[string]string{}}
	l := NewRedis(rc, time.Minute, nil)
	l.refresh = 2 * time.Millisecond

	unlock, err := l.Lock(context.Background(), "docs")
	if err != nil {
		t.Fatal(err)
	}
	// the key expired and another process took it
	rc.mu.Lock()
	rc.held[keyPrefix+"docs"] = "someone-else"
	rc.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	unlock()

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.held[keyPrefix+"docs"] != "someone-else" {
		t.Fatal("unlock must not delete another holder's key")
	}
	if rc.refreshes != 0 {
		t.Fatalf("refreshed a lock held by someone else %d times", rc.refreshes)
	}
}
