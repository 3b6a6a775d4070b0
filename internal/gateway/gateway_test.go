package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/soulsync/internal/memory"
	"github.com/user/soulsync/internal/session"
	"github.com/user/soulsync/internal/state"
	"github.com/user/soulsync/internal/types"
	"github.com/user/soulsync/pkg/llm"
)

type echoProvider struct{}

func (echoProvider) Complete(_ context.Context, msgs []llm.Message) (*llm.Response, error) {
	return &llm.Response{Content: "I'm listening."}, nil
}

// flakyMemory fails the first failCommits commits.
type flakyMemory struct {
	mu          sync.Mutex
	failCommits int
	commits     int
	attempts    int
}

func (m *flakyMemory) Retrieve(context.Context, string, int) []string { return nil }

func (m *flakyMemory) AggregatePatterns(time.Duration) memory.Patterns { return memory.Patterns{} }

func (m *flakyMemory) CommitSession(_ context.Context, s *types.Session, summary string) (*types.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.failCommits > 0 {
		m.failCommits--
		return nil, errors.New("connection reset")
	}
	m.commits++
	return &types.SessionRecord{SessionID: int64(m.commits), Duration: "1s"}, nil
}

func newTestGateway(t *testing.T, mem session.Memory, opts ...session.Option) (*Gateway, *state.SessionStore) {
	t.Helper()
	dir := t.TempDir()
	sessions := state.NewSessionStore(dir)
	events := state.NewEventStore(dir)

	gw := New(sessions, func(key types.SessionKey) (*session.Orchestrator, error) {
		all := append([]session.Option{session.WithJournal(events, key)}, opts...)
		return session.New(echoProvider{}, mem, nil, nil, nil, all...)
	})
	gw.SetRetryPolicy(&RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   2,
		MaxDelay:     10 * time.Millisecond,
	})
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)
	return gw, sessions
}

func inbound(key types.SessionKey, text string) *types.InboundEvent {
	return &types.InboundEvent{Source: key.Source(), SessionKey: key, UserID: "user1", Text: text}
}

func TestGatewayHandleInbound(t *testing.T) {
	gw, sessions := newTestGateway(t, &flakyMemory{})
	ctx := context.Background()
	key := types.NewSessionKey("test", "123")

	done := make(chan Result, 1)
	if err := gw.HandleInbound(ctx, inbound(key, "I'm feeling sad today"), WithOnComplete(func(r Result) { done <- r })); err != nil {
		t.Fatal(err)
	}

	var res Result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run")
	}
	if res.Err != nil || !res.Started || res.Response != "I'm listening." {
		t.Errorf("unexpected result %+v", res)
	}

	sessionList, err := sessions.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessionList) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessionList))
	}
	if sessionList[0].Messages != 1 || sessionList[0].Source != "test" {
		t.Errorf("unexpected index entry %+v", sessionList[0])
	}

	snap := gw.Snapshot(key)
	if snap == nil || snap.ID != sessionList[0].SessionID {
		t.Errorf("expected orchestrator session to match index, got %+v", snap)
	}
	if snap.InitialAnalysis.Source != session.SourceStandalone {
		t.Errorf("expected simulated analysis, got %q", snap.InitialAnalysis.Source)
	}
}

func TestGatewayMessageFlow(t *testing.T) {
	gw, sessions := newTestGateway(t, &flakyMemory{})
	ctx := context.Background()
	key := types.NewSessionKey("test", "same-key")

	res, err := gw.Submit(ctx, RunStart, &types.InboundEvent{
		Source:     "test",
		SessionKey: key,
		Report: &types.AnalysisReport{
			Transcription: "I'm stressed about exams",
			Sentiment:     types.Sentiment{Label: "NEGATIVE", Confidence: 0.7},
			Emotions:      []types.EmotionScore{{Emotion: "fear", Confidence: 0.6}},
		},
	})
	if err != nil || !res.Started {
		t.Fatalf("start: %+v %v", res, err)
	}

	res, err = gw.Submit(ctx, RunMessage, inbound(key, "I keep thinking I'll fail"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Started || !res.Continue {
		t.Errorf("expected a continuing turn, got %+v", res)
	}

	res, err = gw.Submit(ctx, RunMessage, inbound(key, "thanks, bye"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Continue {
		t.Error("expected closing phrase to stop the conversation")
	}

	res, err = gw.Submit(ctx, RunEnd, inbound(key, ""))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Ended || !strings.Contains(res.Response, "SOULSYNC SESSION SUMMARY") {
		t.Errorf("unexpected end result %+v", res)
	}

	idx, err := sessions.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Status != types.SessionStatusEnded || idx.Messages != 5 {
		t.Errorf("unexpected index entry %+v", idx)
	}
	if gw.Snapshot(key) != nil {
		t.Error("expected no active session after end")
	}
	if len(gw.ActiveKeys()) != 0 {
		t.Errorf("expected no active keys, got %v", gw.ActiveKeys())
	}
}

func TestGatewayStartTwiceFails(t *testing.T) {
	gw, _ := newTestGateway(t, &flakyMemory{})
	ctx := context.Background()
	key := types.NewSessionKey("test", "dup")

	if _, err := gw.Submit(ctx, RunStart, inbound(key, "hello")); err != nil {
		t.Fatal(err)
	}
	if _, err := gw.Submit(ctx, RunStart, inbound(key, "hello again")); !errors.Is(err, session.ErrSessionActive) {
		t.Errorf("expected ErrSessionActive, got %v", err)
	}
}

func TestGatewayEndRetriesCommit(t *testing.T) {
	mem := &flakyMemory{failCommits: 2}
	gw, _ := newTestGateway(t, mem)
	ctx := context.Background()
	key := types.NewSessionKey("test", "retry")

	if _, err := gw.Submit(ctx, RunMessage, inbound(key, "hello")); err != nil {
		t.Fatal(err)
	}
	res, err := gw.Submit(ctx, RunEnd, inbound(key, ""))
	if err != nil {
		t.Fatalf("expected end to succeed after retries: %v", err)
	}
	if !res.Ended {
		t.Errorf("unexpected result %+v", res)
	}
	if mem.attempts != 3 || mem.commits != 1 {
		t.Errorf("expected 3 attempts and 1 commit, got %d and %d", mem.attempts, mem.commits)
	}
}

func TestGatewayEndGivesUpAndKeepsSession(t *testing.T) {
	mem := &flakyMemory{failCommits: 10}
	gw, sessions := newTestGateway(t, mem)
	ctx := context.Background()
	key := types.NewSessionKey("test", "down")

	if _, err := gw.Submit(ctx, RunMessage, inbound(key, "hello")); err != nil {
		t.Fatal(err)
	}
	if _, err := gw.Submit(ctx, RunEnd, inbound(key, "")); err == nil {
		t.Fatal("expected end to fail")
	}
	if mem.attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", mem.attempts)
	}
	if gw.Snapshot(key) == nil {
		t.Error("expected session to stay active")
	}
	idx, err := sessions.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Status != types.SessionStatusActive {
		t.Errorf("expected active index entry, got %s", idx.Status)
	}
}

func TestGatewayEndWithoutSession(t *testing.T) {
	mem := &flakyMemory{}
	gw, _ := newTestGateway(t, mem)

	_, err := gw.Submit(context.Background(), RunEnd, inbound(types.NewSessionKey("test", "none"), ""))
	if !errors.Is(err, session.ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession, got %v", err)
	}
	if mem.attempts != 0 {
		t.Errorf("expected no commit attempts, got %d", mem.attempts)
	}
}

func TestGatewayDifferentSessions(t *testing.T) {
	gw, sessions := newTestGateway(t, &flakyMemory{})
	ctx := context.Background()

	for _, key := range []string{"session-a", "session-b"} {
		if _, err := gw.Submit(ctx, RunMessage, inbound(types.NewSessionKey("test", key), "hello")); err != nil {
			t.Fatal(err)
		}
	}

	sessionList, err := sessions.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessionList) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(sessionList))
	}
	if keys := gw.ActiveKeys(); len(keys) != 2 {
		t.Errorf("expected 2 active keys, got %v", keys)
	}
}

func TestGatewayReapIdle(t *testing.T) {
	mem := &flakyMemory{}
	clock := time.Now().Add(-time.Hour)
	gw, _ := newTestGateway(t, mem, session.WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	key := types.NewSessionKey("test", "idle")

	if _, err := gw.Submit(ctx, RunMessage, inbound(key, "hello")); err != nil {
		t.Fatal(err)
	}

	done := make(chan Result, 1)
	if n := gw.ReapIdle(ctx, 10*time.Minute, WithOnComplete(func(r Result) { done <- r })); n != 1 {
		t.Fatalf("expected 1 reaped session, got %d", n)
	}
	select {
	case res := <-done:
		if res.Err != nil || !res.Ended {
			t.Errorf("unexpected reap result %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reap")
	}
	if mem.commits != 1 {
		t.Errorf("expected reaped session to be committed, got %d commits", mem.commits)
	}
	if n := gw.ReapIdle(ctx, 10*time.Minute); n != 0 {
		t.Errorf("expected nothing left to reap, got %d", n)
	}
}

// heldProvider blocks completions while hold is set, until release closes.
type heldProvider struct {
	hold    atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (p *heldProvider) Complete(ctx context.Context, _ []llm.Message) (*llm.Response, error) {
	if p.hold.Load() {
		p.entered <- struct{}{}
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &llm.Response{Content: "I'm listening."}, nil
}

func TestGatewayReapDoesNotStallOtherKeys(t *testing.T) {
	dir := t.TempDir()
	events := state.NewEventStore(dir)
	provider := &heldProvider{entered: make(chan struct{}, 1), release: make(chan struct{})}
	gw := New(state.NewSessionStore(dir), func(key types.SessionKey) (*session.Orchestrator, error) {
		return session.New(provider, &flakyMemory{}, nil, nil, nil, session.WithJournal(events, key))
	})
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)
	defer close(provider.release)
	ctx := context.Background()

	slow := types.NewSessionKey("test", "slow")
	if _, err := gw.Submit(ctx, RunMessage, inbound(slow, "hello")); err != nil {
		t.Fatal(err)
	}

	// the next reply on the slow key is held mid-generation
	provider.hold.Store(true)
	if err := gw.HandleInbound(ctx, inbound(slow, "still there?")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-provider.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("generation never started")
	}
	provider.hold.Store(false)

	go gw.ReapIdle(ctx, time.Hour)
	go gw.ActiveKeys()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	fastCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	res, err := gw.Submit(fastCtx, RunStart, inbound(types.NewSessionKey("test", "fast"), "hi"))
	if err != nil {
		t.Fatalf("start on another key blocked behind the reaper: %v", err)
	}
	if !res.Started {
		t.Errorf("unexpected result %+v", res)
	}
	if d := time.Since(start); d > 500*time.Millisecond {
		t.Errorf("start on another key took %v", d)
	}
}

func TestGatewayRequiresKey(t *testing.T) {
	gw, _ := newTestGateway(t, &flakyMemory{})
	if err := gw.HandleInbound(context.Background(), &types.InboundEvent{Text: "hi"}); err == nil {
		t.Error("expected error for missing session key")
	}
}
