package resilience

import (
	"errors"
	"testing"
	"time"
)

func newStringGroup(maxFailures int, reset time.Duration) *FallbackGroup[string] {
	fg := NewFallbackGroup("deepgram", "deepgram", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  maxFailures,
			ResetTimeout: reset,
		},
	})
	fg.AddFallback("whisper", "whisper")
	return fg
}

func TestFallbackGroup_PrimaryServes(t *testing.T) {
	fg := newStringGroup(3, 0)

	var served string
	err := fg.Execute(func(v string) error {
		served = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if served != "deepgram" {
		t.Fatalf("served by %q, want deepgram", served)
	}
}

func TestFallbackGroup_FailoverToNext(t *testing.T) {
	fg := newStringGroup(3, 0)

	var served string
	err := fg.Execute(func(v string) error {
		if v == "deepgram" {
			return errTest
		}
		served = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if served != "whisper" {
		t.Fatalf("served by %q, want whisper", served)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := newStringGroup(3, 0)

	err := fg.Execute(func(string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_OpenBreakerSkipsPrimary(t *testing.T) {
	fg := newStringGroup(2, time.Hour)

	// Fail the primary enough times to open its breaker.
	for range 2 {
		_ = fg.Execute(func(v string) error {
			if v == "deepgram" {
				return errTest
			}
			return nil
		})
	}

	// The primary is skipped without being invoked while its breaker is open.
	var primaryCalls int
	var served string
	err := fg.Execute(func(v string) error {
		if v == "deepgram" {
			primaryCalls++
		}
		served = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primaryCalls != 0 {
		t.Errorf("primary invoked %d times through an open breaker", primaryCalls)
	}
	if served != "whisper" {
		t.Fatalf("served by %q, want whisper", served)
	}
}

func TestExecuteWithResult(t *testing.T) {
	tests := []struct {
		name        string
		primaryFail bool
		want        string
	}{
		{"primary serves", false, "primary transcript"},
		{"failover serves", true, "fallback transcript"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fg := newStringGroup(3, 0)

			got, err := ExecuteWithResult(fg, func(v string) (string, error) {
				if v == "deepgram" {
					if tc.primaryFail {
						return "", errTest
					}
					return "primary transcript", nil
				}
				return "fallback transcript", nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("result = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	fg := newStringGroup(3, 0)

	_, err := ExecuteWithResult(fg, func(string) (string, error) {
		return "", errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
