package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSleeps returns a Sleep func that records waits without blocking.
func recordSleeps(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestCall_SucceedsFirstAttempt(t *testing.T) {
	var waits []time.Duration
	p := DefaultPolicy()
	p.Sleep = recordSleeps(&waits)

	calls := 0
	err := Call(context.Background(), p, func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestCall_TransientBackoffThenExhausted(t *testing.T) {
	var waits []time.Duration
	p := DefaultPolicy()
	p.Sleep = recordSleeps(&waits)

	calls := 0
	err := Call(context.Background(), p, func(ctx context.Context) error {
		calls++
		return &StatusError{Code: 503}
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "no fourth attempt")
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, waits)
	assert.ErrorIs(t, err, ErrRetriesExhausted)

	var se *StatusError
	require.ErrorAs(t, err, &se, "last cause must stay reachable")
	assert.Equal(t, 503, se.Code)
}

func TestCall_RecoversAfterTransient(t *testing.T) {
	var waits []time.Duration
	p := DefaultPolicy()
	p.Sleep = recordSleeps(&waits)

	calls := 0
	err := Call(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("dial: %w", syscall.ECONNRESET)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, waits)
}

func TestCall_PermanentErrorNoRetry(t *testing.T) {
	var waits []time.Duration
	p := DefaultPolicy()
	p.Sleep = recordSleeps(&waits)

	calls := 0
	err := Call(context.Background(), p, func(ctx context.Context) error {
		calls++
		return &StatusError{Code: 400, Body: "bad query"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Contains(t, err.Error(), "400")
}

func TestCall_AttemptTimeout(t *testing.T) {
	var waits []time.Duration
	p := DefaultPolicy()
	p.Timeout = 20 * time.Millisecond
	p.Sleep = recordSleeps(&waits)

	var calls atomic.Int32
	err := Call(context.Background(), p, func(ctx context.Context) error {
		calls.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})

	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Len(t, waits, 2)
}

func TestCall_ParentCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	err := Call(ctx, p, func(ctx context.Context) error {
		calls++
		return &StatusError{Code: 429}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout sentinel", ErrTimeout, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"429", &StatusError{Code: 429}, true},
		{"502", &StatusError{Code: 502}, true},
		{"503", &StatusError{Code: 503}, true},
		{"500", &StatusError{Code: 500}, false},
		{"404", &StatusError{Code: 404}, false},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"dns", &net.DNSError{Err: "no such host", Name: "search.invalid"}, true},
		{"hang up text", errors.New("socket hang up"), true},
		{"parse", errors.New("invalid character '<' looking for beginning of value"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestBackoff(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 8*time.Second, p.Backoff(3))
}

func TestDo_ReturnsValue(t *testing.T) {
	var waits []time.Duration
	p := DefaultPolicy()
	p.Sleep = recordSleeps(&waits)

	calls := 0
	got, err := Do(context.Background(), p, func(ctx context.Context) ([]string, error) {
		calls++
		if calls == 1 {
			return nil, &StatusError{Code: 502}
		}
		return []string{"a", "b"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, []time.Duration{2 * time.Second}, waits)
}
