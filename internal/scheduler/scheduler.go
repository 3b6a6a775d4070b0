// internal/scheduler/scheduler.go
package scheduler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/user/soulsync/internal/state"
)

// ErrCheckInDisabled is returned when firing a disabled check-in.
var ErrCheckInDisabled = errors.New("check-in disabled")

// Handler is the callback invoked when a check-in fires.
type Handler func(c *state.CheckIn)

// Scheduler evaluates cron expressions from the check-in store and fires
// them through a handler callback. It also runs the idle-session reaper.
type Scheduler struct {
	store   *state.CheckInStore
	handler Handler

	reapSpec string
	reap     func()

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithReaper runs fn on spec, e.g. "@every 5m".
func WithReaper(spec string, fn func()) Option {
	return func(s *Scheduler) {
		s.reapSpec = spec
		s.reap = fn
	}
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether spec is a schedule the scheduler accepts.
func Validate(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// New creates a new Scheduler backed by the given check-in store. The
// handler is called each time a scheduled check-in fires.
func New(store *state.CheckInStore, handler Handler, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:   store,
		handler: handler,
		cron:    cron.New(cron.WithParser(cronParser)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads check-ins from the store, registers enabled ones that have a
// schedule as cron entries, adds the reaper, and starts the cron ticker.
// An invalid reaper schedule is an error; an invalid check-in is skipped.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reap != nil {
		reap := s.reap
		if _, err := s.cron.AddFunc(s.reapSpec, func() {
			log.Debug().Msg("cron running idle-session reaper")
			reap()
		}); err != nil {
			return fmt.Errorf("reaper schedule %q: %w", s.reapSpec, err)
		}
	}

	checkIns, err := s.store.List()
	if err != nil {
		return err
	}

	for _, c := range checkIns {
		if c.Schedule == "" || !c.Enabled {
			continue
		}
		_, err := s.cron.AddFunc(c.Schedule, func() {
			log.Info().Str("name", c.Name).Str("session_key", c.SessionKey).Msg("cron firing check-in")
			s.handler(c)
		})
		if err != nil {
			log.Error().Err(err).Str("name", c.Name).Str("schedule", c.Schedule).Msg("invalid cron schedule")
			continue
		}
		log.Info().Str("name", c.Name).Str("schedule", c.Schedule).Msg("scheduled check-in")
	}

	s.cron.Start()
	return nil
}

// Fire runs the named check-in immediately, regardless of its schedule.
func (s *Scheduler) Fire(name string) error {
	c, err := s.store.Get(name)
	if err != nil {
		return err
	}
	if !c.Enabled {
		return fmt.Errorf("%w: %s", ErrCheckInDisabled, name)
	}
	log.Info().Str("name", c.Name).Str("session_key", c.SessionKey).Msg("firing check-in on demand")
	s.handler(c)
	return nil
}

// Reload stops the existing cron, creates a new one, and calls Start() again.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	s.cron.Stop()
	s.cron = cron.New(cron.WithParser(cronParser))
	s.mu.Unlock()
	return s.Start()
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Stop()
}
