package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), "flaky", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	want := errors.New("down")
	err := Do(context.Background(), fastPolicy(3), "down", func(ctx context.Context) error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoPermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	want := errors.New("bad input")
	err := Do(context.Background(), fastPolicy(5), "permanent", func(ctx context.Context) error {
		calls++
		return Permanent(want)
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestValueReturnsResult(t *testing.T) {
	calls := 0
	got, err := Value(context.Background(), fastPolicy(3), "value", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("expected 42, got %d err=%v", got, err)
	}
}

func TestDelayCapped(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second
	cases := map[int]time.Duration{
		0:  100 * time.Millisecond,
		1:  200 * time.Millisecond,
		3:  800 * time.Millisecond,
		4:  time.Second,
		10: time.Second,
	}
	for n, want := range cases {
		if got := Delay(n, base, max); got != want {
			t.Fatalf("Delay(%d) = %v, want %v", n, got, want)
		}
	}
	if Delay(3, 0, max) != 0 {
		t.Fatalf("expected zero delay for zero base")
	}
}
