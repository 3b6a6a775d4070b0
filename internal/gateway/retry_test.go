package gateway

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/user/soulsync/internal/session"
)

func fastPolicy(attempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		Multiplier:   2,
		MaxDelay:     5 * time.Millisecond,
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"permanent", Permanent(errors.New("database is locked")), false},
		{"canceled", fmt.Errorf("commit: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, false},
		{"no session", session.ErrNoActiveSession, false},
		{"bad report", fmt.Errorf("start: %w", session.ErrInvalidReport), false},
		{"permission", &fs.PathError{Op: "open", Path: "/data/memory.json", Err: fs.ErrPermission}, false},
		{"readonly", errors.New("attempt to write a readonly database"), false},
		{"schema", errors.New("no such table: memory_entries"), false},
		{"busy", errors.New("commit memory: database is locked (5) (SQLITE_BUSY)"), true},
		{"llm outage", errors.New("summarize: 503 Service Unavailable"), true},
		{"unknown", errors.New("something odd"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPermanentUnwraps(t *testing.T) {
	base := errors.New("disk full")
	if !errors.Is(Permanent(base), base) {
		t.Error("expected permanent error to unwrap to its cause")
	}
	if Permanent(nil) != nil {
		t.Error("expected Permanent(nil) to be nil")
	}
}

func TestNextDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	for attempt, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second} {
		if got := p.NextDelay(attempt); got != want {
			t.Errorf("NextDelay(%d) = %v, want %v", attempt, got, want)
		}
	}

	p.Multiplier = 10
	if got := p.NextDelay(5); got != p.MaxDelay {
		t.Errorf("NextDelay(5) = %v, want cap %v", got, p.MaxDelay)
	}
}

func TestExecuteSucceedsAfterRetries(t *testing.T) {
	var seen []int
	err := fastPolicy(3).Execute(context.Background(), func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("attempts = %v, want [1 2 3]", seen)
	}
}

func TestExecuteStopsOnFinalError(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Execute(context.Background(), func(int) error {
		calls++
		return session.ErrNoActiveSession
	})
	if !errors.Is(err, session.ErrNoActiveSession) {
		t.Errorf("err = %v, want ErrNoActiveSession", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecuteGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	last := errors.New("timeout")
	err := fastPolicy(2).Execute(context.Background(), func(int) error {
		calls++
		return last
	})
	if !errors.Is(err, last) {
		t.Errorf("err = %v, want last failure", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}

	calls = 0
	_ = fastPolicy(0).Execute(context.Background(), func(int) error {
		calls++
		return last
	})
	if calls != 1 {
		t.Errorf("zero MaxAttempts: calls = %d, want 1", calls)
	}
}

func TestExecuteHonoursContext(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 1, MaxDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Execute(ctx, func(int) error {
			calls++
			return errors.New("database is locked")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancel")
	}
}
