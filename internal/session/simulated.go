package session

import (
	"strings"
	"time"

	"github.com/user/soulsync/internal/types"
)

// SourceStandalone marks reports built by SimulatedAnalysis.
const SourceStandalone = "standalone_chat"

var (
	simPositive = []string{"happy", "good", "great", "wonderful", "excited", "joy", "love", "amazing"}
	simNegative = []string{"sad", "bad", "terrible", "awful", "depressed", "angry", "hate", "horrible", "anxious", "worried", "stressed"}
)

// SimulatedAnalysis builds an analysis report from keyword counts for
// front-ends that have no upstream classifiers.
func SimulatedAnalysis(message string, now time.Time) *types.AnalysisReport {
	lower := strings.ToLower(message)
	pos, neg := countWords(lower, simPositive), countWords(lower, simNegative)

	sentiment := types.Sentiment{Label: "NEUTRAL", Confidence: 0.60, Intensity: "low"}
	primary := "neutral"
	switch {
	case neg > pos:
		sentiment = types.Sentiment{Label: "NEGATIVE", Confidence: 0.75, Intensity: "moderate"}
		primary = "sadness"
	case pos > neg:
		sentiment = types.Sentiment{Label: "POSITIVE", Confidence: 0.75, Intensity: "moderate"}
		primary = "joy"
	}

	return &types.AnalysisReport{
		Transcription: message,
		Sentiment:     sentiment,
		Emotions: []types.EmotionScore{
			{Emotion: primary, Confidence: 0.70},
			{Emotion: "surprise", Confidence: 0.15},
			{Emotion: "neutral", Confidence: 0.10},
		},
		Source:    SourceStandalone,
		Timestamp: now,
	}
}

func countWords(lower string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(lower, w) {
			n++
		}
	}
	return n
}
