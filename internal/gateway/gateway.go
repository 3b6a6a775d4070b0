package gateway

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/soulsync/internal/session"
	"github.com/user/soulsync/internal/types"
)

// Factory builds the orchestrator for a session key on first use.
type Factory func(key types.SessionKey) (*session.Orchestrator, error)

// Gateway hosts one orchestrator per session key. Every operation is
// wrapped in a Run and executed in the key's lane, so turns for one
// conversation never overlap.
type Gateway struct {
	sessions types.SessionStore
	factory  Factory
	queue    *Queue
	retry    *RetryPolicy

	mu            sync.Mutex
	orchestrators map[types.SessionKey]*session.Orchestrator

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway wired to the session index and an orchestrator
// factory, with the given concurrency limit for simultaneous runs.
func New(sessions types.SessionStore, factory Factory, maxConcurrent ...int64) *Gateway {
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	g := &Gateway{
		sessions:      sessions,
		factory:       factory,
		retry:         DefaultRetryPolicy(),
		orchestrators: make(map[types.SessionKey]*session.Orchestrator),
	}
	g.queue = NewQueue(concurrency, g.process)
	return g
}

// SetRetryPolicy replaces the policy used for session commits.
func (g *Gateway) SetRetryPolicy(p *RetryPolicy) {
	g.retry = p
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.queue.Start(g.ctx)
}

// Stop cancels the gateway context, stops the queue, and waits for any
// outstanding work to finish.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.queue.Stop()
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnComplete sets a callback invoked when the run finishes.
func WithOnComplete(fn func(Result)) RunOption {
	return func(r *Run) { r.OnComplete = fn }
}

// WithContext runs the operation under ctx instead of the gateway context.
func WithContext(ctx context.Context) RunOption {
	return func(r *Run) { r.Ctx = ctx }
}

// HandleInbound enqueues a message run. A key without an active session is
// started from the event's report, or a simulated analysis of its text.
func (g *Gateway) HandleInbound(ctx context.Context, event *types.InboundEvent, opts ...RunOption) error {
	return g.enqueue(RunMessage, event, opts...)
}

// StartSession enqueues a start run for the event's key.
func (g *Gateway) StartSession(ctx context.Context, event *types.InboundEvent, opts ...RunOption) error {
	return g.enqueue(RunStart, event, opts...)
}

// EndSession enqueues an end run for key.
func (g *Gateway) EndSession(ctx context.Context, key types.SessionKey, opts ...RunOption) error {
	return g.enqueue(RunEnd, &types.InboundEvent{Source: key.Source(), SessionKey: key}, opts...)
}

// Submit enqueues a run and waits for its result or ctx cancellation.
func (g *Gateway) Submit(ctx context.Context, kind RunKind, event *types.InboundEvent) (Result, error) {
	done := make(chan Result, 1)
	err := g.enqueue(kind, event, WithContext(ctx), WithOnComplete(func(r Result) { done <- r }))
	if err != nil {
		return Result{}, err
	}
	select {
	case res := <-done:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (g *Gateway) enqueue(kind RunKind, event *types.InboundEvent, opts ...RunOption) error {
	if event == nil || event.SessionKey == "" {
		return errors.New("gateway: session key is required")
	}
	run := NewRun(kind, event.SessionKey, event)
	for _, opt := range opts {
		opt(run)
	}
	return g.queue.Enqueue(run)
}

// orchestrator returns the orchestrator for key, creating it on first use.
func (g *Gateway) orchestrator(key types.SessionKey) (*session.Orchestrator, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if o, ok := g.orchestrators[key]; ok {
		return o, nil
	}
	o, err := g.factory(key)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	g.orchestrators[key] = o
	return o, nil
}

func (g *Gateway) lookup(key types.SessionKey) (*session.Orchestrator, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orchestrators[key]
	return o, ok
}

func (g *Gateway) process(run *Run) (Result, error) {
	ctx := run.Ctx
	orch, err := g.orchestrator(run.SessionKey)
	if err != nil {
		return Result{}, err
	}

	switch run.Kind {
	case RunStart:
		return g.start(ctx, orch, run)
	case RunMessage:
		if !orch.Active() {
			return g.start(ctx, orch, run)
		}
		return g.message(ctx, orch, run)
	case RunEnd:
		return g.end(ctx, orch, run)
	}
	return Result{}, fmt.Errorf("unknown run kind %q", run.Kind)
}

func (g *Gateway) start(ctx context.Context, orch *session.Orchestrator, run *Run) (Result, error) {
	report := run.Event.Report
	if report == nil {
		report = session.SimulatedAnalysis(run.Event.Text, time.Now())
	}
	source := run.Event.Source
	if source == "" {
		source = run.SessionKey.Source()
	}

	id, err := g.sessions.ResolveOrCreate(ctx, run.SessionKey, source)
	if err != nil {
		return Result{}, fmt.Errorf("resolve session: %w", err)
	}
	resp, err := orch.Start(ctx, report, id)
	if err != nil {
		return Result{}, err
	}
	g.touch(ctx, orch, run.SessionKey)
	return Result{Response: resp, Continue: true, Started: true}, nil
}

func (g *Gateway) message(ctx context.Context, orch *session.Orchestrator, run *Run) (Result, error) {
	resp, more, err := orch.Continue(ctx, run.Event.Text)
	if err != nil {
		return Result{}, err
	}
	g.touch(ctx, orch, run.SessionKey)
	return Result{Response: resp, Continue: more}, nil
}

// end commits the session, retrying failed commits with backoff.
func (g *Gateway) end(ctx context.Context, orch *session.Orchestrator, run *Run) (Result, error) {
	var summary string
	err := g.retry.Execute(ctx, func(attempt int) error {
		var err error
		summary, err = orch.End(ctx)
		if err != nil && attempt > 1 {
			log.Debug().Err(err).Str("session_key", string(run.SessionKey)).Int("attempt", attempt).Msg("session end attempt failed")
		}
		return err
	})
	if err != nil {
		return Result{}, err
	}

	if err := g.sessions.MarkEnded(ctx, run.SessionKey); err != nil {
		log.Warn().Err(err).Str("session_key", string(run.SessionKey)).Msg("mark session ended failed")
	}
	return Result{Response: summary, Ended: true}, nil
}

func (g *Gateway) touch(ctx context.Context, orch *session.Orchestrator, key types.SessionKey) {
	snap := orch.Snapshot()
	if snap == nil {
		return
	}
	if err := g.sessions.Touch(ctx, key, len(snap.Messages)); err != nil {
		log.Warn().Err(err).Str("session_key", string(key)).Msg("session index update failed")
	}
}

// Snapshot returns a copy of the active session for key, or nil.
func (g *Gateway) Snapshot(key types.SessionKey) *types.Session {
	o, ok := g.lookup(key)
	if !ok {
		return nil
	}
	return o.Snapshot()
}

// Orchestrator returns the orchestrator already hosted for key.
func (g *Gateway) Orchestrator(key types.SessionKey) (*session.Orchestrator, bool) {
	return g.lookup(key)
}

// hosted copies the orchestrator map. Orchestrator methods block while a
// reply is generated, so callers inspect them outside g.mu.
func (g *Gateway) hosted() map[types.SessionKey]*session.Orchestrator {
	g.mu.Lock()
	defer g.mu.Unlock()
	return maps.Clone(g.orchestrators)
}

// ActiveKeys lists keys with a session in progress.
func (g *Gateway) ActiveKeys() []types.SessionKey {
	var keys []types.SessionKey
	for k, o := range g.hosted() {
		if o.Active() {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ReapIdle enqueues an end run for every session idle longer than maxIdle
// and returns how many were enqueued.
func (g *Gateway) ReapIdle(ctx context.Context, maxIdle time.Duration, opts ...RunOption) int {
	cutoff := time.Now().Add(-maxIdle)

	var idle []types.SessionKey
	for k, o := range g.hosted() {
		if o.Active() && o.LastActivity().Before(cutoff) {
			idle = append(idle, k)
		}
	}

	n := 0
	for _, key := range idle {
		if err := g.EndSession(ctx, key, opts...); err != nil {
			log.Warn().Err(err).Str("session_key", string(key)).Msg("reap enqueue failed")
			continue
		}
		log.Info().Str("session_key", string(key)).Dur("max_idle", maxIdle).Msg("reaping idle session")
		n++
	}
	return n
}
