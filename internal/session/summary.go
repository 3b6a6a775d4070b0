package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/soulsync/internal/types"
)

const staticInsights = "Insights generated based on conversation patterns and emotional responses"

type tally struct {
	name  string
	count int
}

// countInOrder counts names keeping first-seen order.
func countInOrder(names []string) []tally {
	idx := make(map[string]int)
	var out []tally
	for _, n := range names {
		if i, ok := idx[n]; ok {
			out[i].count++
			continue
		}
		idx[n] = len(out)
		out = append(out, tally{name: n, count: 1})
	}
	return out
}

func summarizeEmotions(s *types.Session) string {
	if len(s.EmotionsTracked) == 0 {
		return "No specific emotions tracked"
	}
	var names []string
	for _, snap := range s.EmotionsTracked {
		names = append(names, snap.Emotions...)
	}
	counts := countInOrder(names)
	sort.SliceStable(counts, func(i, j int) bool { return counts[i].count > counts[j].count })
	if len(counts) > 5 {
		counts = counts[:5]
	}
	return formatTally(counts)
}

func summarizeTechniques(s *types.Session) string {
	if len(s.TechniquesUsed) == 0 {
		return "No specific techniques applied"
	}
	names := make([]string, 0, len(s.TechniquesUsed))
	for _, use := range s.TechniquesUsed {
		names = append(names, string(use.Technique))
	}
	return formatTally(countInOrder(names))
}

func formatTally(counts []tally) string {
	lines := make([]string, 0, len(counts))
	for _, c := range counts {
		lines = append(lines, fmt.Sprintf("- %s: %d times", c.name, c.count))
	}
	return strings.Join(lines, "\n")
}

func summarizeCrisis(s *types.Session) string {
	if len(s.CrisisFlags) == 0 {
		return ""
	}
	return fmt.Sprintf(`
⚠️ CRISIS INDICATORS DETECTED:
- %d crisis flags raised
- Highest level: %d
- Immediate professional support recommended
`, len(s.CrisisFlags), s.MaxCrisisLevel())
}

// transcript renders the session for insight extraction.
func transcript(s *types.Session) string {
	var b strings.Builder
	if s.InitialAnalysis != nil {
		fmt.Fprintf(&b, "user: %s\n", s.InitialAnalysis.Transcription)
	}
	for _, m := range s.Messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text())
	}
	return b.String()
}

// keyInsights asks the extractor for a digest and falls back to static text.
func (o *Orchestrator) keyInsights(ctx context.Context, s *types.Session) string {
	if o.extractor == nil || len(s.Messages) == 0 {
		return staticInsights
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	insights, err := o.extractor.ExtractInsights(ctx, transcript(s))
	if err != nil {
		log.Warn().Err(err).Str("session", string(s.ID)).Msg("insight extraction failed")
		return staticInsights
	}

	var lines []string
	for _, in := range insights.KeyInsights {
		lines = append(lines, "- "+in)
	}
	if len(insights.Themes) > 0 {
		lines = append(lines, "- Themes: "+strings.Join(insights.Themes, ", "))
	}
	if insights.Progress != "" {
		lines = append(lines, "- Progress: "+insights.Progress)
	}
	if len(lines) == 0 {
		return staticInsights
	}
	return strings.Join(lines, "\n")
}

func (o *Orchestrator) summarize(ctx context.Context, s *types.Session) string {
	duration := o.now().Sub(s.StartTime).Round(time.Second)

	return fmt.Sprintf(`
🌿 SOULSYNC SESSION SUMMARY
%s

📅 Session Duration: %s
💬 Total Interactions: %d

🧠 EMOTIONS TRACKED:
%s

🔧 THERAPEUTIC TECHNIQUES USED:
%s

💡 KEY INSIGHTS:
%s

%s

📝 RECOMMENDATIONS:
- Continue monitoring emotional patterns
- Practice suggested coping strategies
- Consider professional support if patterns persist

🎯 NEXT STEPS:
- Reflect on insights from this session
- Apply therapeutic techniques in daily life
- Return when you need support or want to check in
`,
		strings.Repeat("=", 50),
		duration,
		len(s.Messages),
		summarizeEmotions(s),
		summarizeTechniques(s),
		o.keyInsights(ctx, s),
		summarizeCrisis(s),
	)
}
