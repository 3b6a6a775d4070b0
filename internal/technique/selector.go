// Package technique selects a therapeutic technique for a user turn and
// serves the per-technique question, response and coping tables.
package technique

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/user/soulsync/internal/types"
)

//go:embed techniques.yaml
var techniquesYAML []byte

// recentWindow is how many emotion snapshots feed selection.
const recentWindow = 3

type policySpec struct {
	Technique types.Technique     `yaml:"technique"`
	Groups    map[string][]string `yaml:"groups"`
	Emotions  []string            `yaml:"emotions"`
}

type tables struct {
	CrisisPatterns   []string                                `yaml:"crisis_patterns"`
	Policies         []policySpec                            `yaml:"policies"`
	Default          types.Technique                         `yaml:"default"`
	Rationales       map[types.Technique]string              `yaml:"rationales"`
	DefaultRationale string                                  `yaml:"default_rationale"`
	Questions        map[types.Technique][]string            `yaml:"questions"`
	Responses        map[types.Technique]map[string][]string `yaml:"responses"`
	Coping           map[string][]string                     `yaml:"coping"`
}

type policy struct {
	technique types.Technique
	patterns  []*regexp.Regexp
	emotions  map[string]bool
}

func (p policy) matches(lower string, recent []string) bool {
	for _, re := range p.patterns {
		if re.MatchString(lower) {
			return true
		}
	}
	for _, e := range recent {
		if p.emotions[e] {
			return true
		}
	}
	return false
}

// Selector is immutable after construction.
type Selector struct {
	t        *tables
	crisis   []*regexp.Regexp
	policies []policy
}

func New() (*Selector, error) {
	var t tables
	if err := yaml.Unmarshal(techniquesYAML, &t); err != nil {
		return nil, fmt.Errorf("parse technique tables: %w", err)
	}

	s := &Selector{t: &t}
	for _, p := range t.CrisisPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("crisis pattern %q: %w", p, err)
		}
		s.crisis = append(s.crisis, re)
	}

	for _, spec := range t.Policies {
		p := policy{technique: spec.Technique, emotions: make(map[string]bool, len(spec.Emotions))}
		for group, patterns := range spec.Groups {
			for _, raw := range patterns {
				re, err := regexp.Compile(raw)
				if err != nil {
					return nil, fmt.Errorf("%s/%s pattern %q: %w", spec.Technique, group, raw, err)
				}
				p.patterns = append(p.patterns, re)
			}
		}
		for _, e := range spec.Emotions {
			p.emotions[e] = true
		}
		s.policies = append(s.policies, p)
	}
	return s, nil
}

func MustNew() *Selector {
	s, err := New()
	if err != nil {
		panic(err)
	}
	return s
}

// SelectTechnique returns the first matching technique: crisis_support, then
// cbt, dbt, act, falling back to validation. History is accepted for
// interface stability and does not affect the result.
func (s *Selector) SelectTechnique(text string, history []types.Message, emotions []types.EmotionSnapshot) types.Technique {
	lower := strings.ToLower(text)

	for _, re := range s.crisis {
		if re.MatchString(lower) {
			return types.TechniqueCrisisSupport
		}
	}

	recent := RecentEmotions(emotions)
	for _, p := range s.policies {
		if p.matches(lower, recent) {
			return p.technique
		}
	}
	return s.t.Default
}

// RecentEmotions flattens the top emotions of the last three snapshots.
func RecentEmotions(tracked []types.EmotionSnapshot) []string {
	if len(tracked) > recentWindow {
		tracked = tracked[len(tracked)-recentWindow:]
	}
	var out []string
	for _, snap := range tracked {
		out = append(out, snap.Emotions...)
	}
	return out
}

func (s *Selector) Rationale(t types.Technique) string {
	if r, ok := s.t.Rationales[t]; ok {
		return r
	}
	return s.t.DefaultRationale
}

// Questions returns the probing questions for a technique, defaulting to
// validation.
func (s *Selector) Questions(t types.Technique) []string {
	q, ok := s.t.Questions[t]
	if !ok {
		q = s.t.Questions[types.TechniqueValidation]
	}
	return append([]string(nil), q...)
}

// Responses returns response templates by category. Unknown techniques get
// an empty map.
func (s *Selector) Responses(t types.Technique) map[string][]string {
	out := make(map[string][]string)
	for cat, lines := range s.t.Responses[t] {
		out[cat] = append([]string(nil), lines...)
	}
	return out
}

func (s *Selector) CopingStrategies(t types.Technique) []string {
	c, ok := s.t.Coping[string(t)]
	if !ok {
		c = s.t.Coping["general"]
	}
	return append([]string(nil), c...)
}

// Effectiveness is the heuristic score of one technique within a session.
type Effectiveness struct {
	Count int `json:"count"`
	Score int `json:"score"`
}

// AssessEffectiveness scores each technique used in a session: base 3, plus
// one for more than ten messages, plus one for a session without crisis flags.
func AssessEffectiveness(session *types.Session) map[types.Technique]Effectiveness {
	score := 3
	if len(session.Messages) > 10 {
		score++
	}
	if len(session.CrisisFlags) == 0 {
		score++
	}

	out := make(map[types.Technique]Effectiveness)
	for _, use := range session.TechniquesUsed {
		e := out[use.Technique]
		e.Count++
		e.Score = score
		out[use.Technique] = e
	}
	return out
}
