package net

import (
	"testing"
	"time"
)

func TestTokenRecvLimiterTake(t *testing.T) {
	limiter := NewTokenRecvLimiter(1000, 10)
	for i := 0; i < 10; i++ {
		if err := limiter.Take(); err != nil {
			t.Fatalf("Take() err = %v", err)
		}
	}
}

func TestTokenRecvLimiterThrottles(t *testing.T) {
	// 10 rps with burst 1: the second request must wait roughly 100ms
	limiter := NewTokenRecvLimiter(10, 1)

	if err := limiter.Take(); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := limiter.Take(); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("second Take() returned after %v, want throttling", elapsed)
	}
}

func TestTokenRecvLimiterReload(t *testing.T) {
	limiter := NewTokenRecvLimiter(1, 1)
	limiter.Reload(100000, 1000)

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := limiter.Take(); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("reloaded limiter still slow: %v for 100 takes", elapsed)
	}
}

func TestFunnelRecvLimiterSpacing(t *testing.T) {
	// 100 rps leaky bucket: three takes span at least ~20ms
	limiter := NewFunnelRecvLimiter(100)

	start := time.Now()
	limiter.Take()
	limiter.Take()
	limiter.Take()
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("three takes finished in %v, want even spacing", elapsed)
	}

	limiter.Reload(2000)
	limiter.Take()
}

func TestNewRecvLimiterFilterKinds(t *testing.T) {
	tests := []struct {
		name string
		cfg  *EndpointConfig
	}{
		{"default is token", &EndpointConfig{RecvRateLimit: 1000, TokenBurst: 100}},
		{"token", &EndpointConfig{RecvRateLimit: 1000, TokenBurst: 100, RecvLimiterKind: RecvLimiterToken}},
		{"funnel", &EndpointConfig{RecvRateLimit: 1000, RecvLimiterKind: RecvLimiterFunnel}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := newRecvLimiterFilter(tt.cfg)
			if filter == nil {
				t.Fatal("newRecvLimiterFilter() = nil")
			}

			handled := false
			chain := DispatcherFilterChain{filter}
			err := chain.Handle(&DispatcherDelivery{}, func(dd *DispatcherDelivery) error {
				handled = true
				return nil
			})
			if err != nil {
				t.Fatalf("Handle() err = %v", err)
			}
			if !handled {
				t.Fatal("filter swallowed the request")
			}
		})
	}
}
