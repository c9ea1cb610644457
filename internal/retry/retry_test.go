package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"reelswap/internal/retry"
	"reelswap/internal/services"
)

func recordSleeps(delays *[]time.Duration) retry.Option {
	return retry.WithSleeper(func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	})
}

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	var delays []time.Duration
	calls := 0
	budget := retry.Budget{Attempts: 3, Initial: 100 * time.Millisecond, Max: time.Second}
	err := retry.Do(context.Background(), budget, func(context.Context) error {
		calls++
		if calls < 3 {
			return services.Wrap(services.ErrTransient, "transcribe", "upload", "502", nil)
		}
		return nil
	}, recordSleeps(&delays))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(delays) != 2 || delays[0] != 100*time.Millisecond || delays[1] != 200*time.Millisecond {
		t.Fatalf("unexpected delays %v", delays)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := services.Wrap(services.ErrValidation, "reference", "search", "bad request", nil)
	err := retry.Do(context.Background(), retry.Budget{Attempts: 5}, func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, services.ErrValidation) || calls != 1 {
		t.Fatalf("expected one call returning the permanent error, got %d calls, %v", calls, err)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Budget{Attempts: 2}, func(context.Context) error {
		calls++
		return services.ErrTimeout
	})
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected last error to be wrapped, got %v", err)
	}
}

func TestDoHonoursRetryAfter(t *testing.T) {
	var delays []time.Duration
	calls := 0
	budget := retry.Budget{Attempts: 2, Initial: time.Millisecond, Max: 5 * time.Second}
	_ = retry.Do(context.Background(), budget, func(context.Context) error {
		calls++
		return &services.HTTPError{Service: "reference", StatusCode: 429, RetryAfter: 3 * time.Second}
	}, recordSleeps(&delays))
	if len(delays) != 1 || delays[0] != 3*time.Second {
		t.Fatalf("expected Retry-After delay, got %v", delays)
	}
}

func TestDoStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retry.Do(ctx, retry.Budget{Attempts: 5}, func(context.Context) error {
		calls++
		cancel()
		return services.ErrTransient
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDelayCapsAtMax(t *testing.T) {
	budget := retry.Budget{Initial: time.Second, Max: 3 * time.Second}
	if got := retry.Delay(budget, 4, errors.New("x")); got != 3*time.Second {
		t.Fatalf("Delay = %s, want 3s", got)
	}
	if got := retry.Delay(retry.Budget{}, 2, errors.New("x")); got != 0 {
		t.Fatalf("zero budget delay = %s", got)
	}
}
