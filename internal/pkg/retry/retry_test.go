package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type statusErr struct {
	code int
	msg  string
}

func (e *statusErr) Error() string       { return e.msg }
func (e *statusErr) HTTPStatusCode() int { return e.code }

func TestDoExhaustsRetriesAndReturnsLastError(t *testing.T) {
	calls := 0
	last := &statusErr{code: 429, msg: "rate limited"}

	_, err := Do(context.Background(), Config{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}, func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, last
	})

	if calls != 4 {
		t.Fatalf("expected 4 invocations (1 initial + 3 retries), got %d", calls)
	}
	if !errors.Is(err, last) {
		t.Fatalf("expected the last error to surface unmodified, got %v", err)
	}
}

func TestDoNonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	bad := &statusErr{code: 400, msg: "bad voice id"}

	start := time.Now()
	_, err := Do(context.Background(), Config{
		MaxRetries: 5,
		BaseDelay:  time.Second,
	}, func(ctx context.Context) (int, error) {
		calls++
		return 0, bad
	})

	if calls != 1 {
		t.Fatalf("expected exactly 1 invocation, got %d", calls)
	}
	if !errors.Is(err, bad) {
		t.Fatalf("expected original error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("non-retryable failure should not delay, took %s", elapsed)
	}
}

func TestDoSucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	retries := 0

	out, err := Do(context.Background(), Config{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			retries++
			if attempt != retries {
				t.Errorf("attempt numbering: got %d want %d", attempt, retries)
			}
		},
	}, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &statusErr{code: 503, msg: "unavailable"}
		}
		return "audio-bytes", nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "audio-bytes" {
		t.Fatalf("unexpected result %q", out)
	}
	if retries != 1 {
		t.Fatalf("expected OnRetry once, got %d", retries)
	}
}

func TestDoOnRetryPanicDoesNotAbort(t *testing.T) {
	calls := 0
	out, err := Do(context.Background(), Config{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		OnRetry: func(int, time.Duration, error) {
			panic("hook misbehaved")
		},
	}, func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, &statusErr{code: 502, msg: "bad gateway"}
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 42 {
		t.Fatalf("unexpected result %d", out)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Do(ctx, Config{MaxRetries: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if calls != 0 {
		t.Fatalf("cancelled context should prevent the call, got %d calls", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
