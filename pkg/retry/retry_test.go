package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	calls := 0
	wantErr := errors.New("still failing")
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 4 { // initial + 3 retries
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, &Config{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}, func() error {
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDoIfRetryableStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := DoIfRetryable(context.Background(), fastConfig(), func() error {
		calls++
		return errors.New("invalid api key")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error should not be retried, got %d calls", calls)
	}
}

type explicitRetryable struct{ retryable bool }

func (e explicitRetryable) Error() string     { return "explicit" }
func (e explicitRetryable) IsRetryable() bool { return e.retryable }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "rate limit", err: errors.New("HTTP 429 too many requests"), want: true},
		{name: "server error", err: errors.New("upstream returned 503"), want: true},
		{name: "deadlock", err: errors.New("deadlock detected"), want: true},
		{name: "timeout", err: errors.New("i/o timeout"), want: true},
		{name: "bad credentials", err: errors.New("401 unauthorized"), want: false},
		{name: "explicit retryable", err: explicitRetryable{retryable: true}, want: true},
		{name: "explicit permanent", err: explicitRetryable{retryable: false}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
