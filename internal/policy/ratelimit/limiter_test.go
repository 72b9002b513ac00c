package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/JakeFAU/sbir-solicitations/internal/metrics"
)

func TestLimiter_Wait(t *testing.T) {
	metrics.Init()
	// 10 RPS = 1 token every 100ms, burst 1.
	l := New(Config{
		DefaultRPS:   10,
		DefaultBurst: 1,
	})

	ctx := context.Background()

	// Consume initial token
	if err := l.Wait(ctx, "https://api.example.gov/solicitations?start=0&rows=10"); err != nil {
		t.Fatal(err)
	}

	// Next one should wait ~100ms
	start := time.Now()
	if err := l.Wait(ctx, "https://api.example.gov/solicitations?start=10&rows=10"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentHosts(t *testing.T) {
	metrics.Init()
	l := New(Config{
		DefaultRPS:   1, // 1 RPS = 1s interval
		DefaultBurst: 1,
	})

	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.example.gov/1"); err != nil {
		t.Fatal(err)
	}

	// Host B should not be blocked by A
	start := time.Now()
	if err := l.Wait(ctx, "https://b.example.gov/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("host B blocked unexpectedly")
	}
}

func TestLimiter_DisabledWhenRateNotPositive(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := l.Wait(context.Background(), "https://api.example.gov"); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("expected unlimited limiter to never block")
	}
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	metrics.Init()
	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	if err := l.Wait(context.Background(), "https://slow.example.gov"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	// x/time/rate fails fast when the next token lies beyond the deadline.
	if err := l.Wait(ctx, "https://slow.example.gov"); err == nil {
		t.Fatal("expected context error")
	}
}
