// internal/prompt/engine.go
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/rs/zerolog/log"

	"github.com/user/soulsync/internal/types"
	"github.com/user/soulsync/pkg/llm"
)

const (
	historyLines = 4
	historyCut   = 150
)

// Line is one rendered turn of the conversation flow.
type Line struct {
	Speaker string
	Text    string
}

// Pattern is a recurring emotion and the number of past sessions it appeared in.
type Pattern struct {
	Name  string
	Count int
}

// OpeningData feeds OpeningPrompt.
type OpeningData struct {
	Transcript       string
	Sentiment        types.Sentiment
	Emotions         []types.EmotionScore
	Intensity        string
	TherapeuticNeeds string
	Goals            []string
	Memories         []string
	Patterns         []Pattern
	Crisis           bool
}

// FollowUpData feeds FollowUpPrompt.
type FollowUpData struct {
	Input            string
	PrimaryConcern   string
	EmotionalState   string
	Goals            []string
	TherapeuticNeeds string
	Journey          string
	History          []Line
	Memories         []string
	Progress         string
	Technique        types.Technique
	Rationale        string
	Crisis           bool
}

// BPE ranks are embedded in the binary; nothing is fetched at runtime.
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Engine renders token-budgeted therapeutic prompts.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
	opening   *template.Template
	followUp  *template.Template
}

// New creates a prompt engine with the specified token budget.
// model is used to select the appropriate tokenizer.
// maxTokens is the model's context window size.
// reserve is the number of tokens to reserve for the model's response.
// A non-positive budget disables trimming.
func New(model string, maxTokens, reserve int) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Gemini and other non-OpenAI models fall back to cl100k_base.
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}

	funcs := template.FuncMap{
		"inc":  func(i int) int { return i + 1 },
		"sub":  func(a, b int) int { return a - b },
		"join": strings.Join,
	}
	opening, err := template.New("opening").Funcs(funcs).Parse(OpeningPrompt + memoriesTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse opening prompt: %w", err)
	}
	followUp, err := template.New("follow_up").Funcs(funcs).Parse(FollowUpPrompt + memoriesTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse follow-up prompt: %w", err)
	}

	return &Engine{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
		opening:   opening,
		followUp:  followUp,
	}, nil
}

// countTokens returns the token count for a string.
func (e *Engine) countTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

func (e *Engine) budget() int {
	return e.maxTokens - e.reserve
}

// BuildOpening renders the session-start prompt. Memories are dropped from
// the tail until it fits the budget.
func (e *Engine) BuildOpening(data OpeningData) ([]llm.Message, error) {
	text, err := e.fit(
		func() (string, error) { return render(e.opening, data) },
		func() bool {
			if len(data.Memories) == 0 {
				return false
			}
			data.Memories = data.Memories[:len(data.Memories)-1]
			return true
		},
	)
	if err != nil {
		return nil, err
	}
	return []llm.Message{llm.UserMessage(text)}, nil
}

// BuildFollowUp renders the per-turn prompt. Memories are dropped from the
// tail first, then history lines from the oldest.
func (e *Engine) BuildFollowUp(data FollowUpData) ([]llm.Message, error) {
	text, err := e.fit(
		func() (string, error) { return render(e.followUp, data) },
		func() bool {
			switch {
			case len(data.Memories) > 0:
				data.Memories = data.Memories[:len(data.Memories)-1]
			case len(data.History) > 0:
				data.History = data.History[1:]
			default:
				return false
			}
			return true
		},
	)
	if err != nil {
		return nil, err
	}
	return []llm.Message{llm.UserMessage(text)}, nil
}

// fit renders until the text fits the input budget or shrink gives up.
func (e *Engine) fit(render func() (string, error), shrink func() bool) (string, error) {
	limit := e.budget()
	for {
		text, err := render()
		if err != nil {
			return "", err
		}
		if limit <= 0 {
			return text, nil
		}
		tokens := e.countTokens(text)
		if tokens <= limit {
			return text, nil
		}
		if !shrink() {
			log.Warn().Int("tokens", tokens).Int("budget", limit).Msg("prompt exceeds budget after trimming")
			return text, nil
		}
		log.Debug().Int("tokens", tokens).Int("budget", limit).Msg("trimming prompt")
	}
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return b.String(), nil
}

// HistoryLines renders the last four messages, cutting each at 150 characters.
func HistoryLines(messages []types.Message) []Line {
	if len(messages) > historyLines {
		messages = messages[len(messages)-historyLines:]
	}
	lines := make([]Line, 0, len(messages))
	for _, m := range messages {
		speaker := "SoulSync"
		if m.Role == types.RoleUser {
			speaker = "You"
		}
		text := m.Text()
		if r := []rune(text); len(r) > historyCut {
			text = string(r[:historyCut]) + "..."
		}
		lines = append(lines, Line{Speaker: speaker, Text: text})
	}
	return lines
}

// TopPatterns returns the n most frequent emotions, ties broken by name.
func TopPatterns(freq map[string]int, n int) []Pattern {
	out := make([]Pattern, 0, len(freq))
	for name, count := range freq {
		out = append(out, Pattern{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
