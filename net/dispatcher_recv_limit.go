package net

import (
	"context"
	"sync/atomic"

	"go.uber.org/ratelimit"
	"golang.org/x/time/rate"
)

// Receive limiter kinds selectable through EndpointConfig.RecvLimiterKind.
// Token allows bursts up to the configured bucket size; funnel spaces
// requests evenly and suits connections that must not see request clumping.
const (
	RecvLimiterToken  = "token"
	RecvLimiterFunnel = "funnel"
)

// newRecvLimiterFilter builds the limiter the endpoint configuration asks
// for and adapts it to the dispatcher filter chain. Unknown kinds are caught
// by EndpointConfig.Validate; here they fall back to the token bucket.
func newRecvLimiterFilter(cfg *EndpointConfig) DispatcherFilter {
	if cfg.RecvLimiterKind == RecvLimiterFunnel {
		return NewFunnelRecvLimiter(cfg.RecvRateLimit).recvLimiterFilter
	}
	return NewTokenRecvLimiter(cfg.RecvRateLimit, cfg.TokenBurst).recvLimiterFilter
}

// DispatcherRecvLimiter throttles the inbound request path with a token
// bucket. Take blocks the connection reader, which is the intended
// backpressure: the peer's unread requests queue in the transport. Replies
// to our own calls never pass through it.
//
// The limiter pointer is swapped atomically so Reload needs no lock on the
// hot path.
type DispatcherRecvLimiter struct {
	limiter atomic.Pointer[rate.Limiter]
}

// NewTokenRecvLimiter creates a token bucket limiter allowing limit requests
// per second with the given burst.
func NewTokenRecvLimiter(limit int, burst int) *DispatcherRecvLimiter {
	l := &DispatcherRecvLimiter{}
	l.limiter.Store(rate.NewLimiter(rate.Limit(limit), burst))
	return l
}

// Take blocks until a token is available.
func (l *DispatcherRecvLimiter) Take() error {
	return l.limiter.Load().Wait(context.Background())
}

// Reload swaps in a new rate and burst at runtime.
func (l *DispatcherRecvLimiter) Reload(limit int, burst int) {
	l.limiter.Store(rate.NewLimiter(rate.Limit(limit), burst))
}

func (l *DispatcherRecvLimiter) recvLimiterFilter(dd *DispatcherDelivery, f DispatcherFilterHandleFunc) error {
	if err := l.Take(); err != nil {
		return err
	}
	return f(dd)
}

// FunnelRecvLimiter is the leaky bucket alternative, selected with
// RecvLimiterKind "funnel".
type FunnelRecvLimiter struct {
	limiter atomic.Pointer[ratelimit.Limiter]
}

// NewFunnelRecvLimiter creates a leaky bucket limiter allowing limit
// requests per second.
func NewFunnelRecvLimiter(limit int) *FunnelRecvLimiter {
	l := &FunnelRecvLimiter{}
	lim := ratelimit.New(limit)
	l.limiter.Store(&lim)
	return l
}

// Take blocks until the next request slot.
func (l *FunnelRecvLimiter) Take() {
	(*l.limiter.Load()).Take()
}

// Reload swaps in a new rate at runtime.
func (l *FunnelRecvLimiter) Reload(limit int) {
	lim := ratelimit.New(limit)
	l.limiter.Store(&lim)
}

func (l *FunnelRecvLimiter) recvLimiterFilter(dd *DispatcherDelivery, f DispatcherFilterHandleFunc) error {
	l.Take()
	return f(dd)
}
