package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"2", 2 * time.Second},
		{"0", 0},
		{"-1", 0},
		{"120", 0},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0},
	}
	for _, tc := range tests {
		if got := parseRetryAfter(tc.in); got != tc.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestBackoff_GrowsWithAttempt(t *testing.T) {
	fastRetries(t)
	for attempt := 1; attempt <= maxRetries; attempt++ {
		base := time.Duration(attempt*attempt) * retryBaseDelay
		got := backoff(attempt)
		if got < base || got > base+base/2 {
			t.Fatalf("backoff(%d) = %v, want within [%v, %v]", attempt, got, base, base+base/2)
		}
	}
}

func TestRetryCall(t *testing.T) {
	fastRetries(t)
	transient := errors.New("transient")
	permanent := errors.New("permanent")
	retryable := func(err error) bool { return errors.Is(err, transient) }

	t.Run("recovers", func(t *testing.T) {
		calls := 0
		err := retryCall(context.Background(), testLogger(), func() error {
			calls++
			if calls < 3 {
				return transient
			}
			return nil
		}, retryable)
		if err != nil || calls != 3 {
			t.Fatalf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("permanent error stops", func(t *testing.T) {
		calls := 0
		err := retryCall(context.Background(), testLogger(), func() error {
			calls++
			return permanent
		}, retryable)
		if !errors.Is(err, permanent) || calls != 1 {
			t.Fatalf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := retryCall(context.Background(), testLogger(), func() error {
			calls++
			return transient
		}, retryable)
		if !errors.Is(err, transient) || calls != maxRetries+1 {
			t.Fatalf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := retryCall(ctx, testLogger(), func() error {
			calls++
			cancel()
			return transient
		}, retryable)
		if !errors.Is(err, transient) || calls != 1 {
			t.Fatalf("err=%v calls=%d", err, calls)
		}
	})
}
