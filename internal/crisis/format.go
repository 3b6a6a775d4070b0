package crisis

import (
	"fmt"
	"strings"
)

// FormatResources renders the emergency directory as plain text.
func FormatResources(r Resources) string {
	var b strings.Builder
	b.WriteString("🆘 CRISIS RESOURCES\n")
	b.WriteString("\nUS hotlines:\n")
	for _, h := range r.Hotlines.US {
		fmt.Fprintf(&b, "  • %s: %s\n", h.Name, h.Number)
	}
	b.WriteString("\nInternational:\n")
	for _, h := range r.Hotlines.International {
		fmt.Fprintf(&b, "  • %s: %s\n", h.Name, h.Number)
	}
	fmt.Fprintf(&b, "\nEmergency services: %s\n", r.EmergencyServices)
	if len(r.OnlineSupport) > 0 {
		b.WriteString("\nOnline support:\n")
		for _, s := range r.OnlineSupport {
			fmt.Fprintf(&b, "  • %s\n", s)
		}
	}
	return b.String()
}

// FormatSafetyPlan renders a safety plan as a fill-in worksheet.
func FormatSafetyPlan(p SafetyPlan) string {
	var b strings.Builder
	b.WriteString("🛡️ PERSONAL SAFETY PLAN\n")
	section(&b, "Warning signs", p.WarningSigns)
	section(&b, "Coping strategies", p.CopingStrategies)
	b.WriteString("\nSupport contacts:\n")
	for _, c := range p.SupportContacts {
		fmt.Fprintf(&b, "  • %s: %s\n", c.Name, c.Phone)
	}
	section(&b, "Professional help", p.ProfessionalHelp)
	section(&b, "Making the environment safe", p.EnvironmentSafety)
	return b.String()
}

// FormatCoping renders grounding steps as a numbered list.
func FormatCoping(crisisType string, steps []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Immediate coping techniques (%s):\n", crisisType)
	for i, s := range steps {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, s)
	}
	return b.String()
}

func section(b *strings.Builder, title string, items []string) {
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "  • %s\n", it)
	}
}
