package pace

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"
)

func TestSleep_ZeroAndNegative(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) error: %v", err)
	}
	if err := Sleep(context.Background(), -time.Second); err != nil {
		t.Errorf("Sleep(-1s) error: %v", err)
	}
}

func TestSleep_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep on canceled ctx = %v, want context.Canceled", err)
	}
}

func TestPoll_ImmediateSuccess(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
		calls++
		return true, nil
	})
	if err != nil {
		t.Fatalf("Poll error: %v", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestPoll_EventualSuccess(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	if err != nil {
		t.Fatalf("Poll error: %v", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestPoll_BudgetExceeded(t *testing.T) {
	err := Poll(context.Background(), 5*time.Millisecond, 20*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("Poll = %v, want ErrBudgetExceeded", err)
	}
}

func TestPoll_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := Poll(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Poll = %v, want wrapped fn error", err)
	}
}

func TestPoll_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Poll(ctx, 5*time.Millisecond, time.Minute, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Poll = %v, want context.Canceled", err)
	}
	if calls == 0 {
		t.Error("fn should run at least once before cancellation")
	}
}

func TestJitter_Bounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		d, err := Jitter(time.Second, 3*time.Second, rng)
		if err != nil {
			t.Fatalf("Jitter error: %v", err)
		}
		if d < time.Second || d > 3*time.Second {
			t.Fatalf("Jitter = %v, outside [1s, 3s]", d)
		}
	}
}

func TestJitter_Degenerate(t *testing.T) {
	if d, err := Jitter(2*time.Second, 2*time.Second, nil); err != nil || d != 2*time.Second {
		t.Errorf("Jitter(min==max) = %v, %v", d, err)
	}
	if _, err := Jitter(3*time.Second, time.Second, nil); err == nil {
		t.Error("Jitter(min>max) should error")
	}
	if _, err := Jitter(-time.Second, time.Second, nil); err == nil {
		t.Error("Jitter(negative) should error")
	}
}
