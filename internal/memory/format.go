package memory

import (
	"fmt"
	"strings"

	"github.com/user/soulsync/internal/types"
)

const (
	summaryPreview  = 200
	maxPhraseLength = 200
	minPhraseSource = 20
	minPhraseEntry  = 10
)

// FormatEntry renders an entry as prompt context. Unknown types render empty.
func FormatEntry(e *types.MemoryEntry) string {
	switch e.Type {
	case types.EntrySessionSummary:
		return "Previous session: " + truncate(e.Content, summaryPreview) + "..."
	case types.EntryKeyPhrase:
		return "Past conversation: " + e.Content
	case types.EntryCrisisFlag:
		return "Previous crisis indicator: " + e.Content
	}
	return ""
}

// KeyPhrases collects the opening transcript and substantive user messages,
// truncated and deduplicated in order.
func KeyPhrases(s *types.Session) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}

	if s.InitialAnalysis != nil {
		add(truncate(s.InitialAnalysis.Transcription, maxPhraseLength))
	}
	for _, m := range s.Messages {
		if m.Role == types.RoleUser && len([]rune(m.Content)) > minPhraseSource {
			add(truncate(m.Content, maxPhraseLength))
		}
	}
	return out
}

// buildEntries derives the searchable entries for a session record. Index
// ids are assigned by the store.
func buildEntries(rec *types.SessionRecord) []*types.MemoryEntry {
	emotions := make([][]string, 0, len(rec.EmotionsTracked))
	for _, e := range rec.EmotionsTracked {
		emotions = append(emotions, e.Emotions)
	}
	techniques := make([]types.Technique, 0, len(rec.TechniquesUsed))
	for _, t := range rec.TechniquesUsed {
		techniques = append(techniques, t.Technique)
	}

	entries := []*types.MemoryEntry{{
		Type:       types.EntrySessionSummary,
		Content:    rec.Summary,
		SessionID:  rec.SessionID,
		Timestamp:  rec.Timestamp,
		Emotions:   emotions,
		Techniques: techniques,
	}}

	for i, phrase := range rec.KeyPhrases {
		if len([]rune(strings.TrimSpace(phrase))) <= minPhraseEntry {
			continue
		}
		idx := i
		entries = append(entries, &types.MemoryEntry{
			Type:        types.EntryKeyPhrase,
			Content:     phrase,
			SessionID:   rec.SessionID,
			Timestamp:   rec.Timestamp,
			PhraseIndex: &idx,
		})
	}

	for _, flag := range rec.CrisisFlags {
		text := flag.Text
		if text == "" {
			text = "N/A"
		}
		entries = append(entries, &types.MemoryEntry{
			Type:        types.EntryCrisisFlag,
			Content:     fmt.Sprintf("Crisis level %d: %s", flag.Level, text),
			SessionID:   rec.SessionID,
			Timestamp:   flag.Timestamp,
			CrisisLevel: flag.Level,
		})
	}
	return entries
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
