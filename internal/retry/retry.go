// Package retry wraps outbound network calls with a per-attempt timeout and
// bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrTimeout indicates a single attempt exceeded its timeout.
	ErrTimeout = errors.New("operation timed out")

	// ErrRetriesExhausted indicates every attempt failed with a transient error.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// StatusError is returned by HTTP-backed operations for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// Operation is a single outbound call. It must honor ctx cancellation.
type Operation func(ctx context.Context) error

// Policy configures Call.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration
	// Multiplier grows the wait between consecutive attempts.
	Multiplier float64
	// Timeout bounds each attempt. Zero disables the per-attempt timeout.
	Timeout time.Duration

	// Sleep waits between attempts; nil uses a timer that honors ctx.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// DefaultPolicy returns three attempts with 2s/4s backoff and a 45s timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Multiplier:  2,
		Timeout:     45 * time.Second,
	}
}

// WithTimeout returns a copy of p with a different per-attempt timeout.
func (p Policy) WithTimeout(d time.Duration) Policy {
	p.Timeout = d
	return p
}

// Backoff returns the wait before attempt n+1 after attempt n failed (n >= 1).
func (p Policy) Backoff(n int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(n-1)))
}

// Call runs op until it succeeds, fails permanently, or MaxAttempts transient
// failures have occurred. Permanent errors are returned as-is without retrying.
// After exhausting attempts the returned error wraps both ErrRetriesExhausted
// and the last underlying cause.
func Call(ctx context.Context, p Policy, op Operation) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do is Call for operations that return a value. The value of an attempt
// abandoned on timeout is discarded.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var zero T
	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err := attemptOnce(ctx, p.Timeout, op)
		if err == nil {
			return v, nil
		}
		last = err

		if ctx.Err() != nil {
			return zero, err
		}
		if !IsTransient(err) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := p.Backoff(attempt)
		logger.Warn("transient failure, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, last)
}

type result[T any] struct {
	v   T
	err error
}

// attemptOnce races op against the attempt timeout. The timer is released on
// every return path through cancel.
func attemptOnce[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := op(attemptCtx)
		done <- result[T]{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, r.err)
		}
		return r.v, r.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsTransient reports whether err is presumed recoverable by retrying:
// timeouts, connection resets and refusals, DNS failures, socket hang-ups,
// and HTTP 429/502/503.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable:
			return true
		}
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// Errors flattened to strings by intermediate layers.
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection reset", "connection refused", "socket hang up", "no such host"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
