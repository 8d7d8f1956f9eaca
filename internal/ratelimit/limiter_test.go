package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterSpacesCalls(t *testing.T) {
	l := New(10, time.Second, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	// First token is immediate, the next two are 100ms apart.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("3 calls took %v, want >= 150ms", elapsed)
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := New(0, 0, 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("unlimited calls took %v", elapsed)
	}
}

func TestLimiterHonoursContext(t *testing.T) {
	l := New(1, time.Hour, 1)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	if err == nil {
		t.Fatal("Wait() should fail when the next token is an hour away")
	}
	if errors.Is(err, context.Canceled) {
		t.Errorf("unexpected cancel error: %v", err)
	}
}
