package crisis

import (
	_ "embed"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.yaml
var taxonomyYAML []byte

type categorySpec struct {
	Name     string   `yaml:"name"`
	Weight   int      `yaml:"weight"`
	Patterns []string `yaml:"patterns"`
}

type tierSpec struct {
	ImmediateAction string   `yaml:"immediate_action"`
	Resources       []string `yaml:"resources"`
	SafetyPlan      []string `yaml:"safety_plan"`
}

// Contact is one entry of the support-contacts list of a safety plan.
type Contact struct {
	Name  string `yaml:"name" json:"name"`
	Phone string `yaml:"phone" json:"phone"`
}

// Hotline is one crisis line.
type Hotline struct {
	Number string `yaml:"number" json:"number"`
	Name   string `yaml:"name" json:"name"`
}

// SafetyPlan is the generic personal safety plan template.
type SafetyPlan struct {
	WarningSigns      []string  `yaml:"warning_signs" json:"warning_signs"`
	CopingStrategies  []string  `yaml:"coping_strategies" json:"coping_strategies"`
	SupportContacts   []Contact `yaml:"support_contacts" json:"support_contacts"`
	ProfessionalHelp  []string  `yaml:"professional_help" json:"professional_help"`
	EnvironmentSafety []string  `yaml:"environment_safety" json:"environment_safety"`
}

// Resources is the emergency resource directory.
type Resources struct {
	Hotlines struct {
		US            []Hotline `yaml:"us" json:"us"`
		International []Hotline `yaml:"international" json:"international"`
	} `yaml:"hotlines" json:"crisis_hotlines"`
	EmergencyServices string   `yaml:"emergency_services" json:"emergency_services"`
	OnlineSupport     []string `yaml:"online_support" json:"online_support"`
}

type taxonomy struct {
	Categories []categorySpec `yaml:"categories"`
	Immediacy  struct {
		Patterns   []string `yaml:"patterns"`
		Categories []string `yaml:"categories"`
		Bonus      int      `yaml:"bonus"`
	} `yaml:"immediacy"`
	HighRiskEmotions []string `yaml:"high_risk_emotions"`
	Responses        struct {
		High     tierSpec `yaml:"high"`
		Moderate tierSpec `yaml:"moderate"`
		Mild     tierSpec `yaml:"mild"`
		FollowUp string   `yaml:"follow_up"`
	} `yaml:"responses"`
	SafetyPlan SafetyPlan          `yaml:"safety_plan"`
	Coping     map[string][]string `yaml:"coping"`
	Emergency  Resources           `yaml:"emergency"`
}

type category struct {
	name      string
	weight    int
	immediate bool
	patterns  []*regexp.Regexp
}

func loadTaxonomy(data []byte) (*taxonomy, []category, []*regexp.Regexp, error) {
	var tx taxonomy
	if err := yaml.Unmarshal(data, &tx); err != nil {
		return nil, nil, nil, fmt.Errorf("parse taxonomy: %w", err)
	}

	immediate := make(map[string]bool, len(tx.Immediacy.Categories))
	for _, name := range tx.Immediacy.Categories {
		immediate[name] = true
	}

	cats := make([]category, 0, len(tx.Categories))
	for _, spec := range tx.Categories {
		c := category{name: spec.Name, weight: spec.Weight, immediate: immediate[spec.Name]}
		for _, p := range spec.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("category %s: pattern %q: %w", spec.Name, p, err)
			}
			c.patterns = append(c.patterns, re)
		}
		cats = append(cats, c)
	}

	var imm []*regexp.Regexp
	for _, p := range tx.Immediacy.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("immediacy pattern %q: %w", p, err)
		}
		imm = append(imm, re)
	}

	return &tx, cats, imm, nil
}
