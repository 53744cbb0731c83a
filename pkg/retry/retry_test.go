package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 3 || cfg.InitialDelay != 100*time.Millisecond || cfg.MaxDelay != 5*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.JitterFactor != 0.1 {
		t.Errorf("expected JitterFactor=0.1, got %f", cfg.JitterFactor)
	}
}

func TestDo(t *testing.T) {
	errFlaky := errors.New("connection refused")

	tests := []struct {
		name       string
		maxRetries int
		failFirst  int // calls that fail before success; -1 fails forever
		wantCalls  int
		wantErr    bool
	}{
		{"succeeds first time", 3, 0, 1, false},
		{"succeeds after two failures", 3, 2, 3, false},
		{"exhausts retries", 2, -1, 3, true},
		{"no retries", 0, -1, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), fastConfig(tt.maxRetries), func() error {
				calls++
				if tt.failFirst < 0 || calls <= tt.failFirst {
					return errFlaky
				}
				return nil
			})

			if calls != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, calls)
			}
			if tt.wantErr && !errors.Is(err, errFlaky) {
				t.Errorf("expected last error, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected success, got %v", err)
			}
		})
	}
}

func TestDo_PermanentErrorIsUnwrapped(t *testing.T) {
	errBadDSN := errors.New("invalid dsn")
	calls := 0

	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return Permanent(errBadDSN)
	})

	if calls != 1 {
		t.Errorf("expected permanent error to stop after 1 call, got %d", calls)
	}
	if err != errBadDSN {
		t.Errorf("expected the unwrapped error, got %v", err)
	}
	if Permanent(nil) != nil {
		t.Error("expected Permanent(nil) to be nil")
	}
}

func TestDoWithResult_ReturnsValue(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("not yet")
		}
		return "pool", nil
	})

	if err != nil || got != "pool" {
		t.Errorf("expected (pool, nil), got (%q, %v)", got, err)
	}
}

func TestDoWithResult_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	calls := 0
	_, err := DoWithResult(ctx, cfg, func() (int, error) {
		calls++
		cancel()
		return 0, errors.New("unavailable")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestDoWithResult_NilConfigUsesDefaults(t *testing.T) {
	got, err := DoWithResult(context.Background(), nil, func() (int, error) { return 7, nil })
	if err != nil || got != 7 {
		t.Errorf("expected (7, nil), got (%d, %v)", got, err)
	}
}

func TestApplyJitter(t *testing.T) {
	base := 100 * time.Millisecond
	if got := applyJitter(base, 0); got != base {
		t.Errorf("expected no jitter, got %v", got)
	}
	for i := 0; i < 50; i++ {
		got := applyJitter(base, 0.1)
		if got < 90*time.Millisecond || got > 110*time.Millisecond {
			t.Fatalf("jittered delay %v outside +/-10%%", got)
		}
	}
}
