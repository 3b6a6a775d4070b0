package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/soulsync/internal/types"
)

func TestInferGoals(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		sentiment  types.Sentiment
		want       []string
	}{
		{
			name:       "baseline",
			transcript: "Hello there",
			want:       []string{"understand current emotional state"},
		},
		{
			name:       "relationship",
			transcript: "my friend stopped calling",
			want:       []string{"understand current emotional state", "explore interpersonal relationships"},
		},
		{
			name:       "capped at four",
			transcript: "I need help, I'm worried and sad about my job and family",
			sentiment:  types.Sentiment{Label: "NEGATIVE", Confidence: 0.95},
			want: []string{
				"understand current emotional state",
				"provide emotional support and guidance",
				"address anxiety and stress management",
				"explore and process sadness/depression",
			},
		},
		{
			name:       "negative label is case-insensitive",
			transcript: "Hello",
			sentiment:  types.Sentiment{Label: "negative", Confidence: 0.81},
			want:       []string{"understand current emotional state", "process strong negative emotions"},
		},
		{
			name:       "confidence must exceed 0.8",
			transcript: "Hello",
			sentiment:  types.Sentiment{Label: "NEGATIVE", Confidence: 0.8},
			want:       []string{"understand current emotional state"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inferGoals(tt.transcript, tt.sentiment))
		})
	}
}

func TestAssessNeeds(t *testing.T) {
	fear := []types.EmotionScore{{Emotion: "fear", Confidence: 0.9}}

	tests := []struct {
		transcript string
		emotions   []types.EmotionScore
		want       string
	}{
		{"I can't cope with my job", fear, "crisis intervention and immediate support"},
		{"I'm so anxious about my deadline at work", fear, "work-life balance and stress management"},
		{"my partner and I argue", fear, "relationship counseling and communication skills"},
		{"I feel uneasy", fear, "anxiety reduction and coping strategies"},
		{"I feel fine", []types.EmotionScore{{Emotion: "joy"}}, "maintaining positive mental health"},
		{"I feel something", []types.EmotionScore{{Emotion: "awe"}}, "general emotional support"},
		{"I feel something", nil, "general emotional wellness support"},
	}
	for _, tt := range tests {
		t.Run(tt.transcript, func(t *testing.T) {
			assert.Equal(t, tt.want, assessNeeds(tt.transcript, tt.emotions))
		})
	}
}

func TestUpdateUserContext(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	uc := &types.UserContext{}

	updateUserContext(uc, "Today was better but still difficult", now)
	updateUserContext(uc, "My health and my health anxiety", now)
	updateUserContext(uc, "It got worse at work", now)

	require.Len(t, uc.EmotionalTrajectory, 2)
	assert.Equal(t, "positive", uc.EmotionalTrajectory[0].Direction, "positive words win")
	assert.Equal(t, "negative", uc.EmotionalTrajectory[1].Direction)
	assert.Equal(t, now, uc.EmotionalTrajectory[0].Timestamp)
	assert.Equal(t, map[string]int{"health": 1, "anxiety": 1, "work": 1}, uc.RecurringThemes)
}

func TestJourneyAndProgress(t *testing.T) {
	uc := &types.UserContext{EmotionalState: types.EmotionalState{Sentiment: "NEGATIVE"}}
	assert.Equal(t, "Started session feeling NEGATIVE", journey(uc))

	uc.EmotionalTrajectory = []types.TrajectoryPoint{{Direction: "negative"}, {Direction: "positive"}}
	assert.Equal(t, "Started NEGATIVE → Currently trending positive", journey(uc))

	assert.Equal(t, "Started session feeling unknown", journey(&types.UserContext{}))

	s := &types.Session{Messages: make([]types.Message, 2)}
	assert.Equal(t, "Early in session - building rapport and understanding", progress(s))

	s.Messages = make([]types.Message, 5)
	s.TechniquesUsed = make([]types.TechniqueUse, 2)
	assert.Equal(t, "Mid-session - actively exploring with 2 therapeutic approaches", progress(s))

	s.Messages = make([]types.Message, 8)
	assert.Equal(t, "Advanced session - deep therapeutic work with 2 techniques applied", progress(s))
}

func TestEmotionalContext(t *testing.T) {
	uc := &types.UserContext{
		EmotionalState:   types.EmotionalState{Sentiment: "NEGATIVE", TopEmotions: []string{"fear", "sadness"}},
		TherapeuticNeeds: "anxiety reduction and coping strategies",
	}
	assert.Equal(t, "NEGATIVE fear sadness anxiety reduction and coping strategies", emotionalContext(uc))
	assert.Empty(t, emotionalContext(&types.UserContext{}))
}

func TestIsClosing(t *testing.T) {
	for _, in := range []string{"Thank you so much", "ok BYE", "I'm done for today", "please stop", "That's all"} {
		assert.True(t, IsClosing(in), in)
	}
	for _, in := range []string{"", "I feel lost", "tell me more"} {
		assert.False(t, IsClosing(in), in)
	}
}

func TestSimulatedAnalysis(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		message   string
		label     string
		conf      float64
		intensity string
		primary   string
	}{
		{"I'm sad and worried about tomorrow", "NEGATIVE", 0.75, "moderate", "sadness"},
		{"I had a great day, I love it", "POSITIVE", 0.75, "moderate", "joy"},
		{"Just checking in", "NEUTRAL", 0.60, "low", "neutral"},
		{"good but bad", "NEUTRAL", 0.60, "low", "neutral"},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			r := SimulatedAnalysis(tt.message, now)
			assert.Equal(t, tt.message, r.Transcription)
			assert.Equal(t, tt.label, r.Sentiment.Label)
			assert.InDelta(t, tt.conf, r.Sentiment.Confidence, 1e-9)
			assert.Equal(t, tt.intensity, r.Sentiment.Intensity)
			require.Len(t, r.Emotions, 3)
			assert.Equal(t, types.EmotionScore{Emotion: tt.primary, Confidence: 0.70}, r.Emotions[0])
			assert.Equal(t, "surprise", r.Emotions[1].Emotion)
			assert.Equal(t, "neutral", r.Emotions[2].Emotion)
			assert.Equal(t, SourceStandalone, r.Source)
			assert.Equal(t, now, r.Timestamp)
		})
	}
}
