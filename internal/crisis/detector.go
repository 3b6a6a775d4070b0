// Package crisis scores free text for crisis risk and serves the static
// crisis response, safety plan and coping tables.
package crisis

import (
	"regexp"
	"strings"

	"github.com/user/soulsync/internal/types"
)

const (
	MinLevel = 1
	MaxLevel = 5
)

// Assessment is the result of a text scan.
type Assessment struct {
	Level      int      `json:"level"`
	Categories []string `json:"categories"`
	Score      int      `json:"score"`
}

// Detector is safe for concurrent use once constructed.
type Detector struct {
	tx         *taxonomy
	categories []category
	immediacy  []*regexp.Regexp
	highRisk   map[string]bool

	journal    types.EventStore
	onPriority PriorityHandler
}

type Option func(*Detector)

// WithJournal appends crisis events to the given event store.
func WithJournal(es types.EventStore) Option {
	return func(d *Detector) { d.journal = es }
}

// WithPriorityHandler is invoked for crisis events at level 4 and above.
func WithPriorityHandler(h PriorityHandler) Option {
	return func(d *Detector) { d.onPriority = h }
}

// New loads the embedded taxonomy.
func New(opts ...Option) (*Detector, error) {
	tx, cats, imm, err := loadTaxonomy(taxonomyYAML)
	if err != nil {
		return nil, err
	}
	d := &Detector{
		tx:         tx,
		categories: cats,
		immediacy:  imm,
		highRisk:   make(map[string]bool, len(tx.HighRiskEmotions)),
	}
	for _, e := range tx.HighRiskEmotions {
		d.highRisk[e] = true
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// MustNew is New for the embedded taxonomy, which is known to be valid.
func MustNew(opts ...Option) *Detector {
	d, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// scan adds the category weight for every matching pattern. When immediate is
// set, matches in immediacy-sensitive categories add the bonus as well.
func (d *Detector) scan(lower string, immediate bool) (int, []string) {
	score := 0
	var matched []string
	for _, c := range d.categories {
		hit := false
		for _, re := range c.patterns {
			if !re.MatchString(lower) {
				continue
			}
			score += c.weight
			if immediate && c.immediate {
				score += d.tx.Immediacy.Bonus
			}
			hit = true
		}
		if hit {
			matched = append(matched, c.name)
		}
	}
	return score, matched
}

func (d *Detector) hasImmediacy(lower string) bool {
	for _, re := range d.immediacy {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// AssessCrisisLevel scores an opening transcript together with the upstream
// sentiment and emotion ranking.
func (d *Detector) AssessCrisisLevel(text string, sentiment types.Sentiment, emotions []types.EmotionScore) int {
	if text == "" {
		return MinLevel
	}
	score, _ := d.scan(strings.ToLower(text), false)

	if sentiment.IsNegative() && sentiment.Confidence > 0.8 {
		score++
	}

	top := emotions
	if len(top) > 3 {
		top = top[:3]
	}
	for _, e := range top {
		if d.highRisk[e.Emotion] && e.Confidence > 0.7 {
			score++
		}
	}
	return bucket(score)
}

// AssessTextForCrisis scores an in-conversation message.
func (d *Detector) AssessTextForCrisis(text string) int {
	return d.Assess(text).Level
}

// Assess is AssessTextForCrisis with the matched category set.
func (d *Detector) Assess(text string) Assessment {
	if text == "" {
		return Assessment{Level: MinLevel}
	}
	lower := strings.ToLower(text)
	score, matched := d.scan(lower, d.hasImmediacy(lower))
	return Assessment{Level: bucket(score), Categories: matched, Score: score}
}

func bucket(score int) int {
	switch {
	case score <= 0:
		return 1
	case score <= 2:
		return 2
	case score <= 4:
		return 3
	case score <= 6:
		return 4
	default:
		return 5
	}
}

// Clamp bounds a level to [MinLevel, MaxLevel].
func Clamp(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}
