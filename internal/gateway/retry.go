package gateway

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/soulsync/internal/session"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryPolicy retries failed session commits with exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy allows 3 attempts starting at 1s, doubling, capped at 30s.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// finalMarkers are substrings of storage errors that another attempt cannot
// fix.
var finalMarkers = []string{
	"readonly database",
	"no such table",
	"constraint failed",
}

// Retryable reports whether a failed commit may succeed if tried again.
// Caller mistakes, permission problems, broken schemas and cancellation are
// final; everything else is retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	switch {
	case errors.As(err, &perm),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, session.ErrNoActiveSession),
		errors.Is(err, session.ErrInvalidReport),
		errors.Is(err, fs.ErrPermission):
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range finalMarkers {
		if strings.Contains(msg, m) {
			return false
		}
	}
	return true
}

// NextDelay returns the wait after the given 1-indexed attempt:
// InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Execute calls fn until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. Waiting between attempts stops early when ctx is
// done, returning ctx's error.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if !Retryable(err) || attempt == attempts {
			return err
		}

		delay := p.NextDelay(attempt)
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("commit failed, retrying")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
