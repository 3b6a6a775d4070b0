package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/user/soulsync/internal/types"
)

const maxGoals = 4

type keywordRule struct {
	words  []string
	result string
}

var goalRules = []keywordRule{
	{[]string{"help", "support", "don't know"}, "provide emotional support and guidance"},
	{[]string{"anxious", "worried", "stress", "panic"}, "address anxiety and stress management"},
	{[]string{"sad", "depressed", "down", "low"}, "explore and process sadness/depression"},
	{[]string{"work", "job", "office", "deadline"}, "discuss work-related stress and coping"},
	{[]string{"relationship", "family", "friend"}, "explore interpersonal relationships"},
}

// needRules are checked in order and override the emotion mapping.
var needRules = []keywordRule{
	{[]string{"crisis", "emergency", "help me", "can't cope"}, "crisis intervention and immediate support"},
	{[]string{"work", "job", "career", "deadline"}, "work-life balance and stress management"},
	{[]string{"relationship", "partner", "family"}, "relationship counseling and communication skills"},
}

var emotionNeeds = map[string]string{
	"sadness":  "emotional processing and mood support",
	"anger":    "anger management and emotional regulation",
	"fear":     "anxiety reduction and coping strategies",
	"anxiety":  "anxiety management and grounding techniques",
	"disgust":  "value clarification and acceptance work",
	"surprise": "processing unexpected events and adaptation",
	"joy":      "maintaining positive mental health",
	"neutral":  "general emotional wellness support",
}

var (
	positiveWords = []string{"better", "good", "okay", "fine", "improving", "helped"}
	negativeWords = []string{"worse", "bad", "terrible", "awful", "struggling", "difficult"}
	themeWords    = []string{"work", "family", "health", "relationship", "anxiety", "depression", "stress"}
	closingPhrase = []string{"thank you", "thanks", "goodbye", "bye", "that's all", "i'm done", "end session", "stop", "quit"}
)

func containsAny(lower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// inferGoals derives up to four session goals from the opening transcript.
func inferGoals(transcript string, sentiment types.Sentiment) []string {
	lower := strings.ToLower(transcript)
	goals := []string{"understand current emotional state"}
	for _, r := range goalRules {
		if containsAny(lower, r.words) {
			goals = append(goals, r.result)
		}
	}
	if sentiment.IsNegative() && sentiment.Confidence > 0.8 {
		goals = append(goals, "process strong negative emotions")
	}
	if len(goals) > maxGoals {
		goals = goals[:maxGoals]
	}
	return goals
}

// assessNeeds picks the primary therapeutic need. Keyword overrides win over
// the top emotion.
func assessNeeds(transcript string, emotions []types.EmotionScore) string {
	lower := strings.ToLower(transcript)
	for _, r := range needRules {
		if containsAny(lower, r.words) {
			return r.result
		}
	}
	top := "neutral"
	if len(emotions) > 0 {
		top = emotions[0].Emotion
	}
	if need, ok := emotionNeeds[top]; ok {
		return need
	}
	return "general emotional support"
}

// updateUserContext tags the trajectory direction and counts theme mentions.
func updateUserContext(uc *types.UserContext, input string, now time.Time) {
	lower := strings.ToLower(input)
	switch {
	case containsAny(lower, positiveWords):
		uc.EmotionalTrajectory = append(uc.EmotionalTrajectory, types.TrajectoryPoint{Direction: "positive", Timestamp: now})
	case containsAny(lower, negativeWords):
		uc.EmotionalTrajectory = append(uc.EmotionalTrajectory, types.TrajectoryPoint{Direction: "negative", Timestamp: now})
	}

	if uc.RecurringThemes == nil {
		uc.RecurringThemes = make(map[string]int)
	}
	for _, theme := range themeWords {
		if strings.Contains(lower, theme) {
			uc.RecurringThemes[theme]++
		}
	}
}

// emotionalContext is the retrieval suffix for follow-up turns.
func emotionalContext(uc *types.UserContext) string {
	var parts []string
	if uc.EmotionalState.Sentiment != "" {
		parts = append(parts, uc.EmotionalState.Sentiment)
	}
	parts = append(parts, uc.EmotionalState.TopEmotions...)
	if uc.TherapeuticNeeds != "" {
		parts = append(parts, uc.TherapeuticNeeds)
	}
	return strings.Join(parts, " ")
}

func journey(uc *types.UserContext) string {
	start := uc.EmotionalState.Sentiment
	if start == "" {
		start = "unknown"
	}
	if len(uc.EmotionalTrajectory) == 0 {
		return "Started session feeling " + start
	}
	last := uc.EmotionalTrajectory[len(uc.EmotionalTrajectory)-1]
	return fmt.Sprintf("Started %s → Currently trending %s", start, last.Direction)
}

func progress(s *types.Session) string {
	switch n := len(s.Messages); {
	case n < 3:
		return "Early in session - building rapport and understanding"
	case n < 8:
		return fmt.Sprintf("Mid-session - actively exploring with %d therapeutic approaches", len(s.TechniquesUsed))
	default:
		return fmt.Sprintf("Advanced session - deep therapeutic work with %d techniques applied", len(s.TechniquesUsed))
	}
}

// IsClosing reports whether input contains a closing phrase.
func IsClosing(input string) bool {
	return containsAny(strings.ToLower(input), closingPhrase)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
