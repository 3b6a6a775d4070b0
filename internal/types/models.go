// internal/types/models.go
package types

import (
	"strings"
	"time"
)

// Role is the author of a logged session message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Technique is a therapeutic technique label.
type Technique string

const (
	TechniqueCrisisSupport Technique = "crisis_support"
	TechniqueCBT           Technique = "cbt"
	TechniqueDBT           Technique = "dbt"
	TechniqueACT           Technique = "act"
	TechniqueValidation    Technique = "validation"
	TechniqueReflection    Technique = "reflection"
)

// Sentiment is the upstream polarity signal for a block of text.
type Sentiment struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Intensity  string  `json:"intensity,omitempty"`
}

// IsNegative reports whether the label is negative, ignoring case.
func (s Sentiment) IsNegative() bool {
	return strings.EqualFold(s.Label, "negative")
}

// EmotionScore is one entry of an upstream emotion ranking.
type EmotionScore struct {
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
}

// AnalysisReport is the input to a session start. Emotions are ordered
// most-confident first and must be non-empty.
type AnalysisReport struct {
	Transcription string         `json:"transcription"`
	Sentiment     Sentiment      `json:"sentiment"`
	Emotions      []EmotionScore `json:"emotions"`
	Source        string         `json:"source,omitempty"`
	Timestamp     time.Time      `json:"timestamp,omitempty"`
}

// TopEmotions returns up to n emotion names from the head of the ranking.
func (r *AnalysisReport) TopEmotions(n int) []string {
	if n > len(r.Emotions) {
		n = len(r.Emotions)
	}
	out := make([]string, 0, n)
	for _, e := range r.Emotions[:n] {
		out = append(out, e.Emotion)
	}
	return out
}

// Message is one logged turn. User turns carry Content; assistant turns carry
// a short tag in Content and the generated text in Response.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Response  string    `json:"response"`
}

// Text returns the visible text of the message.
func (m Message) Text() string {
	if m.Response != "" {
		return m.Response
	}
	return m.Content
}

type EmotionSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Sentiment string    `json:"sentiment"`
	Emotions  []string  `json:"emotions"`
	Source    string    `json:"source,omitempty"`
	Intensity string    `json:"intensity,omitempty"`
}

type TechniqueUse struct {
	Timestamp time.Time `json:"timestamp"`
	Technique Technique `json:"technique"`
	Context   string    `json:"context,omitempty"`
	Rationale string    `json:"rationale"`
}

const (
	CrisisInitialAssessment  = "initial_assessment"
	CrisisConversationCrisis = "conversation_crisis"
)

type CrisisFlag struct {
	Timestamp time.Time `json:"timestamp"`
	Level     int       `json:"level"`
	Type      string    `json:"type"`
	Text      string    `json:"text,omitempty"`
}

type EmotionalState struct {
	Sentiment   string   `json:"sentiment"`
	Intensity   string   `json:"intensity"`
	Confidence  float64  `json:"confidence"`
	TopEmotions []string `json:"top_emotions"`
}

type TrajectoryPoint struct {
	Direction string    `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}

// UserContext is the mutable per-session understanding of the user.
type UserContext struct {
	PrimaryConcern      string            `json:"primary_concern"`
	EmotionalState      EmotionalState    `json:"emotional_state"`
	SessionGoals        []string          `json:"session_goals"`
	TherapeuticNeeds    string            `json:"therapeutic_needs"`
	EmotionalTrajectory []TrajectoryPoint `json:"emotional_trajectory,omitempty"`
	RecurringThemes     map[string]int    `json:"recurring_themes,omitempty"`
}

// Session is the live state of one therapeutic conversation.
type Session struct {
	ID              SessionID         `json:"id"`
	StartTime       time.Time         `json:"start_time"`
	Messages        []Message         `json:"messages"`
	EmotionsTracked []EmotionSnapshot `json:"emotions_tracked"`
	TechniquesUsed  []TechniqueUse    `json:"techniques_used"`
	CrisisFlags     []CrisisFlag      `json:"crisis_flags"`
	UserContext     UserContext       `json:"user_context"`
	InitialAnalysis *AnalysisReport   `json:"initial_analysis,omitempty"`
}

// MaxCrisisLevel returns the highest flagged level, or 0 without flags.
func (s *Session) MaxCrisisLevel() int {
	max := 0
	for _, f := range s.CrisisFlags {
		if f.Level > max {
			max = f.Level
		}
	}
	return max
}

// EntryType classifies a memory entry.
type EntryType string

const (
	EntrySessionSummary EntryType = "session_summary"
	EntryKeyPhrase      EntryType = "key_phrase"
	EntryCrisisFlag     EntryType = "crisis_flag"
)

// MemoryEntry is one immutable searchable fragment of past sessions.
type MemoryEntry struct {
	IndexID     int64       `json:"index_id"`
	Type        EntryType   `json:"type"`
	Content     string      `json:"content"`
	SessionID   int64       `json:"session_id"`
	Timestamp   time.Time   `json:"timestamp"`
	Emotions    [][]string  `json:"emotions,omitempty"`
	Techniques  []Technique `json:"techniques,omitempty"`
	PhraseIndex *int        `json:"phrase_index,omitempty"`
	CrisisLevel int         `json:"crisis_level,omitempty"`
}

// SessionRecord is the durable form of a completed session.
type SessionRecord struct {
	SessionID       int64             `json:"session_id"`
	Timestamp       time.Time         `json:"timestamp"`
	Duration        string            `json:"duration"`
	Summary         string            `json:"summary"`
	EmotionsTracked []EmotionSnapshot `json:"emotions_tracked"`
	TechniquesUsed  []TechniqueUse    `json:"techniques_used"`
	CrisisFlags     []CrisisFlag      `json:"crisis_flags"`
	KeyPhrases      []string          `json:"key_phrases"`
	InitialAnalysis *AnalysisReport   `json:"initial_analysis,omitempty"`
}

// MemorySnapshot is everything a durable memory store holds.
type MemorySnapshot struct {
	Sessions      []*SessionRecord `json:"sessions"`
	Entries       []*MemoryEntry   `json:"entries"`
	Vectors       [][]float32      `json:"vectors,omitempty"`
	NextIndexID   int64            `json:"next_index_id"`
	NextSessionID int64            `json:"next_session_id"`
}

// MemoryCommit is one atomic addition to a durable memory store. Record is
// nil for raw entry appends.
type MemoryCommit struct {
	Record        *SessionRecord
	Entries       []*MemoryEntry
	Vectors       [][]float32
	NextIndexID   int64
	NextSessionID int64
}

// Event is one line of the session journal.
type Event struct {
	ID         EventID        `json:"id"`
	SessionID  SessionID      `json:"session_id"`
	SessionKey SessionKey     `json:"session_key,omitempty"`
	Seq        int64          `json:"seq"`
	Type       string         `json:"type"`
	Source     string         `json:"source"`
	At         time.Time      `json:"at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

const (
	EventSessionStarted   = "session_started"
	EventUserMessage      = "user_message"
	EventAssistantMessage = "assistant_message"
	EventCrisis           = "crisis_event"
	EventSessionEnded     = "session_ended"
)

const (
	SessionStatusActive = "active"
	SessionStatusEnded  = "ended"
)

// SessionIndex maps a session key to its current session.
type SessionIndex struct {
	SessionKey SessionKey `json:"session_key"`
	SessionID  SessionID  `json:"session_id"`
	Source     string     `json:"source"`
	Status     string     `json:"status"`
	Messages   int        `json:"messages"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// InboundEvent is a message arriving from any surface.
type InboundEvent struct {
	Source     string          `json:"source"`
	SessionKey SessionKey      `json:"session_key"`
	UserID     string          `json:"user_id"`
	Text       string          `json:"text"`
	Report     *AnalysisReport `json:"report,omitempty"`
}
