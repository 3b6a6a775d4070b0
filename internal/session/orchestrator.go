// Package session runs one therapeutic conversation at a time: crisis
// scoring, technique selection, memory retrieval and prompt assembly per
// turn, and a durable commit on end.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/soulsync/internal/crisis"
	"github.com/user/soulsync/internal/memory"
	"github.com/user/soulsync/internal/prompt"
	"github.com/user/soulsync/internal/technique"
	"github.com/user/soulsync/internal/types"
	"github.com/user/soulsync/pkg/llm"
)

var (
	ErrNoActiveSession  = errors.New("session: no active session")
	ErrSessionActive    = errors.New("session: a session is already active")
	ErrInvalidReport    = errors.New("session: invalid analysis report")
	ErrMissingGenerator = errors.New("session: generator is required")
	ErrMissingMemory    = errors.New("session: memory store is required")
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxMessages = 30
	DefaultLookback    = 30 * 24 * time.Hour
	DefaultRecall      = 5

	// FallbackResponse replaces a failed or timed-out generation.
	FallbackResponse = "I'm having trouble processing right now. Could you share a bit more about how you're feeling?"
)

const (
	tagSessionStart        = "session_start"
	tagTherapeuticResponse = "therapeutic_response"
	sourceAnalysis         = "technical_analysis"
	techniqueContextLen    = 100
)

// Memory is the long-term store a session reads from and commits to.
type Memory interface {
	Retrieve(ctx context.Context, query string, k int) []string
	AggregatePatterns(lookback time.Duration) memory.Patterns
	CommitSession(ctx context.Context, session *types.Session, summary string) (*types.SessionRecord, error)
}

// Orchestrator owns at most one active session.
type Orchestrator struct {
	generator llm.Provider
	memory    Memory
	detector  *crisis.Detector
	selector  *technique.Selector
	prompts   *prompt.Engine

	extractor   llm.Extractor
	journal     types.EventStore
	key         types.SessionKey
	timeout     time.Duration
	maxMessages int
	lookback    time.Duration
	recall      int
	now         func() time.Time

	mu           sync.Mutex
	session      *types.Session
	pending      string
	lastActivity time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout bounds each generation call.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxMessages sets the message cap after which turns stop continuing.
func WithMaxMessages(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxMessages = n
		}
	}
}

// WithLookback sets the window for pattern aggregation.
func WithLookback(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.lookback = d
		}
	}
}

// WithRecall sets how many memories are retrieved per turn.
func WithRecall(k int) Option {
	return func(o *Orchestrator) {
		if k > 0 {
			o.recall = k
		}
	}
}

// WithJournal records session events under key.
func WithJournal(es types.EventStore, key types.SessionKey) Option {
	return func(o *Orchestrator) {
		o.journal = es
		o.key = key
	}
}

// WithExtractor enables structured key insights in the summary.
func WithExtractor(x llm.Extractor) Option {
	return func(o *Orchestrator) { o.extractor = x }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. A nil detector, selector or prompt engine is
// replaced by the built-in default.
func New(
	generator llm.Provider,
	mem Memory,
	detector *crisis.Detector,
	selector *technique.Selector,
	prompts *prompt.Engine,
	opts ...Option,
) (*Orchestrator, error) {
	if generator == nil {
		return nil, ErrMissingGenerator
	}
	if mem == nil {
		return nil, ErrMissingMemory
	}

	var err error
	if detector == nil {
		if detector, err = crisis.New(); err != nil {
			return nil, err
		}
	}
	if selector == nil {
		if selector, err = technique.New(); err != nil {
			return nil, err
		}
	}
	if prompts == nil {
		if prompts, err = prompt.New("", 0, 0); err != nil {
			return nil, err
		}
	}

	o := &Orchestrator{
		generator:   generator,
		memory:      mem,
		detector:    detector,
		selector:    selector,
		prompts:     prompts,
		timeout:     DefaultTimeout,
		maxMessages: DefaultMaxMessages,
		lookback:    DefaultLookback,
		recall:      DefaultRecall,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.lastActivity = o.now()
	return o, nil
}

func validateReport(r *types.AnalysisReport) error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: missing report", ErrInvalidReport)
	case strings.TrimSpace(r.Transcription) == "":
		return fmt.Errorf("%w: transcription is required", ErrInvalidReport)
	case len(r.Emotions) == 0:
		return fmt.Errorf("%w: emotions must not be empty", ErrInvalidReport)
	}
	return nil
}

// Start opens a session from an analysis report and returns the opening
// message. id pins the session id; a fresh one is generated otherwise.
func (o *Orchestrator) Start(ctx context.Context, report *types.AnalysisReport, id ...types.SessionID) (string, error) {
	if err := validateReport(report); err != nil {
		return "", err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session != nil {
		return "", ErrSessionActive
	}

	now := o.now()
	sid := types.NewSessionID()
	if len(id) > 0 && id[0] != "" {
		sid = id[0]
	}
	intensity := report.Sentiment.Intensity
	if intensity == "" {
		intensity = "moderate"
	}
	top := report.TopEmotions(3)

	s := &types.Session{
		ID:              sid,
		StartTime:       now,
		InitialAnalysis: report,
		UserContext: types.UserContext{
			PrimaryConcern: report.Transcription,
			EmotionalState: types.EmotionalState{
				Sentiment:   report.Sentiment.Label,
				Intensity:   intensity,
				Confidence:  report.Sentiment.Confidence,
				TopEmotions: top,
			},
			SessionGoals:     inferGoals(report.Transcription, report.Sentiment),
			TherapeuticNeeds: assessNeeds(report.Transcription, report.Emotions),
			RecurringThemes:  make(map[string]int),
		},
	}
	s.EmotionsTracked = append(s.EmotionsTracked, types.EmotionSnapshot{
		Timestamp: now,
		Sentiment: report.Sentiment.Label,
		Emotions:  top,
		Source:    sourceAnalysis,
		Intensity: intensity,
	})

	o.session = s
	o.pending = ""
	o.lastActivity = now
	o.record(ctx, types.EventSessionStarted, map[string]any{
		"transcription": report.Transcription,
		"sentiment":     report.Sentiment.Label,
		"emotions":      top,
	})

	level := o.detector.AssessCrisisLevel(report.Transcription, report.Sentiment, report.Emotions)
	alert := level > 3
	if alert {
		o.flagCrisis(ctx, s, level, types.CrisisInitialAssessment, report.Transcription)
	}

	memories := o.memory.Retrieve(ctx, report.Transcription+" "+strings.Join(top, " "), o.recall)
	patterns := o.memory.AggregatePatterns(o.lookback)

	emotions := report.Emotions
	if len(emotions) > 3 {
		emotions = emotions[:3]
	}
	msgs, err := o.prompts.BuildOpening(prompt.OpeningData{
		Transcript:       report.Transcription,
		Sentiment:        report.Sentiment,
		Emotions:         emotions,
		Intensity:        intensity,
		TherapeuticNeeds: s.UserContext.TherapeuticNeeds,
		Goals:            s.UserContext.SessionGoals,
		Memories:         memories,
		Patterns:         prompt.TopPatterns(patterns.EmotionsFrequency, 3),
		Crisis:           alert,
	})
	response := o.generate(ctx, msgs, err)

	o.appendMessage(ctx, types.RoleAssistant, tagSessionStart, response)
	log.Info().
		Str("session", string(sid)).
		Int("crisis_level", level).
		Int("memories", len(memories)).
		Msg("session started")
	return response, nil
}

// Continue runs one conversational turn and reports whether the
// conversation should go on.
func (o *Orchestrator) Continue(ctx context.Context, input string) (string, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.session
	if s == nil {
		return "", false, ErrNoActiveSession
	}

	now := o.now()
	o.pending = ""
	o.lastActivity = now
	o.appendMessage(ctx, types.RoleUser, input, "")
	updateUserContext(&s.UserContext, input, now)

	level := o.detector.AssessTextForCrisis(input)
	alert := level > 3
	if alert {
		o.flagCrisis(ctx, s, level, types.CrisisConversationCrisis, input)
	}

	memories := o.memory.Retrieve(ctx, input+" "+emotionalContext(&s.UserContext), o.recall)

	tech := o.selector.SelectTechnique(input, s.Messages, s.EmotionsTracked)
	rationale := o.selector.Rationale(tech)
	s.TechniquesUsed = append(s.TechniquesUsed, types.TechniqueUse{
		Timestamp: now,
		Technique: tech,
		Context:   truncateRunes(input, techniqueContextLen),
		Rationale: rationale,
	})

	msgs, err := o.prompts.BuildFollowUp(prompt.FollowUpData{
		Input:            input,
		PrimaryConcern:   s.UserContext.PrimaryConcern,
		EmotionalState:   s.UserContext.EmotionalState.Sentiment,
		Goals:            s.UserContext.SessionGoals,
		TherapeuticNeeds: s.UserContext.TherapeuticNeeds,
		Journey:          journey(&s.UserContext),
		History:          prompt.HistoryLines(s.Messages),
		Memories:         memories,
		Progress:         progress(s),
		Technique:        tech,
		Rationale:        rationale,
		Crisis:           alert,
	})
	response := o.generate(ctx, msgs, err)

	more := !IsClosing(input) && len(s.Messages) < o.maxMessages
	o.appendMessage(ctx, types.RoleAssistant, tagTherapeuticResponse, response)

	log.Debug().
		Str("session", string(s.ID)).
		Str("technique", string(tech)).
		Int("crisis_level", level).
		Bool("continue", more).
		Msg("turn complete")
	return response, more, nil
}

// End summarizes and commits the active session. On commit failure the
// session stays active so the caller can retry.
func (o *Orchestrator) End(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.session
	if s == nil {
		return "", ErrNoActiveSession
	}

	if o.pending == "" {
		o.pending = o.summarize(ctx, s)
	}
	summary := o.pending

	rec, err := o.memory.CommitSession(ctx, s, summary)
	if err != nil {
		log.Warn().Err(err).Str("session", string(s.ID)).Msg("session commit failed, keeping session active")
		return "", fmt.Errorf("commit session: %w", err)
	}

	o.record(ctx, types.EventSessionEnded, map[string]any{
		"memory_session_id": rec.SessionID,
		"duration":          rec.Duration,
		"messages":          len(s.Messages),
		"max_crisis_level":  s.MaxCrisisLevel(),
	})
	o.session = nil
	o.pending = ""
	o.lastActivity = o.now()

	log.Info().
		Str("session", string(s.ID)).
		Int64("memory_session_id", rec.SessionID).
		Int("messages", len(s.Messages)).
		Msg("session ended")
	return summary, nil
}

// Active reports whether a session is in progress.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session != nil
}

// Snapshot returns a copy of the active session, or nil.
func (o *Orchestrator) Snapshot() *types.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	return cloneSession(o.session)
}

// Effectiveness scores the techniques used so far in the active session.
func (o *Orchestrator) Effectiveness() map[types.Technique]technique.Effectiveness {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return map[types.Technique]technique.Effectiveness{}
	}
	return technique.AssessEffectiveness(o.session)
}

// CrisisResponse returns the tiered response for the highest level flagged
// in the active session.
func (o *Orchestrator) CrisisResponse() crisis.Response {
	o.mu.Lock()
	defer o.mu.Unlock()
	level := crisis.MinLevel
	if o.session != nil {
		if flagged := o.session.MaxCrisisLevel(); flagged > level {
			level = flagged
		}
	}
	return o.detector.GetCrisisResponse(level)
}

// LastActivity is the time of the last start, turn or end.
func (o *Orchestrator) LastActivity() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastActivity
}

// generate calls the generator under the configured timeout. Any failure,
// including a prompt build error, yields FallbackResponse.
func (o *Orchestrator) generate(ctx context.Context, msgs []llm.Message, buildErr error) string {
	if buildErr != nil {
		log.Warn().Err(buildErr).Msg("prompt build failed")
		return FallbackResponse
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.generator.Complete(ctx, msgs)
	if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		log.Warn().Err(err).Dur("timeout", o.timeout).Msg("generation failed, using fallback")
		return FallbackResponse
	}
	return resp.Content
}

func (o *Orchestrator) appendMessage(ctx context.Context, role types.Role, content, response string) {
	s := o.session
	s.Messages = append(s.Messages, types.Message{
		Timestamp: o.now(),
		Role:      role,
		Content:   content,
		Response:  response,
	})

	typ := types.EventUserMessage
	if role == types.RoleAssistant {
		typ = types.EventAssistantMessage
	}
	o.record(ctx, typ, map[string]any{"text": types.Message{Content: content, Response: response}.Text()})
}

func (o *Orchestrator) flagCrisis(ctx context.Context, s *types.Session, level int, kind, text string) {
	flag := types.CrisisFlag{Timestamp: o.now(), Level: level, Type: kind}
	if kind == types.CrisisConversationCrisis {
		flag.Text = text
	}
	s.CrisisFlags = append(s.CrisisFlags, flag)

	err := o.detector.LogCrisisEvent(ctx, crisis.Event{
		SessionID:     s.ID,
		SessionKey:    o.key,
		Level:         level,
		DetectedTypes: o.detector.Assess(text).Categories,
		Text:          text,
		ResponseType:  crisis.Tier(level),
		Resources:     o.detector.GetCrisisResponse(level).Resources,
		At:            flag.Timestamp,
	})
	if err != nil {
		log.Warn().Err(err).Str("session", string(s.ID)).Msg("crisis event logging failed")
	}
}

// record appends to the journal when one is configured. Journal failures
// never break a turn.
func (o *Orchestrator) record(ctx context.Context, typ string, payload map[string]any) {
	if o.journal == nil || o.session == nil {
		return
	}
	err := o.journal.Append(ctx, &types.Event{
		SessionID:  o.session.ID,
		SessionKey: o.key,
		Type:       typ,
		Source:     o.key.Source(),
		At:         o.now(),
		Payload:    payload,
	})
	if err != nil {
		log.Warn().Err(err).Str("type", typ).Msg("journal append failed")
	}
}

func cloneSession(s *types.Session) *types.Session {
	c := *s
	c.Messages = append([]types.Message(nil), s.Messages...)
	c.EmotionsTracked = append([]types.EmotionSnapshot(nil), s.EmotionsTracked...)
	c.TechniquesUsed = append([]types.TechniqueUse(nil), s.TechniquesUsed...)
	c.CrisisFlags = append([]types.CrisisFlag(nil), s.CrisisFlags...)
	c.UserContext.SessionGoals = append([]string(nil), s.UserContext.SessionGoals...)
	c.UserContext.EmotionalTrajectory = append([]types.TrajectoryPoint(nil), s.UserContext.EmotionalTrajectory...)
	c.UserContext.RecurringThemes = make(map[string]int, len(s.UserContext.RecurringThemes))
	for k, v := range s.UserContext.RecurringThemes {
		c.UserContext.RecurringThemes[k] = v
	}
	return &c
}
