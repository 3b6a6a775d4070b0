package crisis

// Response is the tiered reply to an assessed crisis level.
type Response struct {
	Level           int      `json:"level"`
	ImmediateAction string   `json:"immediate_action"`
	Resources       []string `json:"resources"`
	SafetyPlan      []string `json:"safety_plan"`
	FollowUp        string   `json:"follow_up"`
}

// GetCrisisResponse returns the tier for level: >=4 high, 3 moderate, 2 mild.
// Other levels get no action or resources. FollowUp is always set.
func (d *Detector) GetCrisisResponse(level int) Response {
	r := Response{
		Level:      level,
		Resources:  []string{},
		SafetyPlan: []string{},
		FollowUp:   d.tx.Responses.FollowUp,
	}

	var tier *tierSpec
	switch {
	case level >= 4:
		tier = &d.tx.Responses.High
	case level == 3:
		tier = &d.tx.Responses.Moderate
	case level == 2:
		tier = &d.tx.Responses.Mild
	}
	if tier != nil {
		r.ImmediateAction = tier.ImmediateAction
		r.Resources = append(r.Resources, tier.Resources...)
		r.SafetyPlan = append(r.SafetyPlan, tier.SafetyPlan...)
	}
	return r
}

// CreateSafetyPlan returns a copy of the safety plan template.
func (d *Detector) CreateSafetyPlan() SafetyPlan {
	src := d.tx.SafetyPlan
	return SafetyPlan{
		WarningSigns:      append([]string(nil), src.WarningSigns...),
		CopingStrategies:  append([]string(nil), src.CopingStrategies...),
		SupportContacts:   append([]Contact(nil), src.SupportContacts...),
		ProfessionalHelp:  append([]string(nil), src.ProfessionalHelp...),
		EnvironmentSafety: append([]string(nil), src.EnvironmentSafety...),
	}
}

// GetImmediateCopingTechniques returns grounding steps for a crisis type,
// falling back to the general list.
func (d *Detector) GetImmediateCopingTechniques(crisisType string) []string {
	list, ok := d.tx.Coping[crisisType]
	if !ok {
		list = d.tx.Coping["general"]
	}
	return append([]string(nil), list...)
}

// CopingTypes lists the crisis types with dedicated coping techniques.
func (d *Detector) CopingTypes() []string {
	out := make([]string, 0, len(d.tx.Coping))
	for _, c := range d.categories {
		if _, ok := d.tx.Coping[c.name]; ok {
			out = append(out, c.name)
		}
	}
	return append(out, "general")
}

func (d *Detector) EmergencyResources() Resources {
	return d.tx.Emergency
}

// Tier names the response tier GetCrisisResponse uses for level.
func Tier(level int) string {
	switch {
	case level >= 4:
		return "high"
	case level == 3:
		return "moderate"
	case level == 2:
		return "mild"
	}
	return "none"
}
