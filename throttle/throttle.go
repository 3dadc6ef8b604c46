// Package throttle spaces out requests to the same host.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrClosed     = errors.New("throttle: limiter closed")
	ErrInvalidURL = errors.New("throttle: invalid url")
)

// Limiter keeps one token bucket per hostname, created on first use.
type Limiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	closed   bool
	hosts    map[string]*rate.Limiter
	retryAts map[string]time.Time
}

// New creates a Limiter allowing requestsPerSecond sustained requests with
// bursts of burst requests to each host.
func New(requestsPerSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
		hosts:    make(map[string]*rate.Limiter),
		retryAts: make(map[string]time.Time),
	}
}

// Hostname returns the lowercased host of rawURL without port.
func Hostname(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidURL, rawURL)
	}
	return host, nil
}

func (l *Limiter) forHost(host string) (*rate.Limiter, time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, time.Time{}, ErrClosed
	}
	limiter, ok := l.hosts[host]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.hosts[host] = limiter
	}
	return limiter, l.retryAts[host], nil
}

// Wait blocks until a request to the host of rawURL fits the rate limit.
// It also respects any backoff set by Backoff.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host, err := Hostname(rawURL)
	if err != nil {
		return err
	}
	limiter, retryAt, err := l.forHost(host)
	if err != nil {
		return err
	}

	if wait := time.Until(retryAt); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return limiter.Wait(ctx)
}

// Backoff holds back every request to the host of rawURL for d, typically
// after the host answered 429 or 503.
func (l *Limiter) Backoff(rawURL string, d time.Duration) error {
	host, err := Hostname(rawURL)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.retryAts[host] = time.Now().Add(d)
	return nil
}

// Hosts returns the number of hosts seen so far.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}

// Close releases the per-host state. Wait fails afterwards.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.hosts = nil
	l.retryAts = nil
}
