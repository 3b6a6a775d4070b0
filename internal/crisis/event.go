package crisis

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/soulsync/internal/types"
)

// PriorityLevel is the lowest level that triggers the priority handler.
const PriorityLevel = 4

const maxLoggedText = 200

// Event is one detected crisis for the audit trail.
type Event struct {
	SessionID     types.SessionID
	SessionKey    types.SessionKey
	Level         int
	DetectedTypes []string
	Text          string
	ResponseType  string
	Resources     []string
	At            time.Time
}

// PriorityHandler receives high-risk crisis events.
type PriorityHandler func(ctx context.Context, ev Event) error

// LogCrisisEvent records a crisis event in the log and the journal and
// escalates high-risk events to the priority handler.
func (d *Detector) LogCrisisEvent(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	ev.Text = truncate(ev.Text, maxLoggedText)
	priority := ev.Level >= PriorityLevel

	log.Error().
		Str("session", string(ev.SessionID)).
		Int("crisis_level", ev.Level).
		Strs("detected_types", ev.DetectedTypes).
		Str("user_text", ev.Text).
		Str("response_given", ev.ResponseType).
		Strs("resources_provided", ev.Resources).
		Bool("priority", priority).
		Msg("crisis event logged")

	if d.journal != nil && ev.SessionID != "" {
		err := d.journal.Append(ctx, &types.Event{
			ID:         types.NewEventID(),
			SessionID:  ev.SessionID,
			SessionKey: ev.SessionKey,
			Type:       types.EventCrisis,
			Source:     "crisis",
			At:         ev.At,
			Payload: map[string]any{
				"level":          ev.Level,
				"detected_types": ev.DetectedTypes,
				"text":           ev.Text,
				"response_type":  ev.ResponseType,
				"resources":      ev.Resources,
				"priority":       priority,
			},
		})
		if err != nil {
			return fmt.Errorf("journal crisis event: %w", err)
		}
	}

	if priority && d.onPriority != nil {
		if err := d.onPriority(ctx, ev); err != nil {
			return fmt.Errorf("priority handler: %w", err)
		}
	}
	return nil
}

// FormatAlert renders a high-risk event for an operator channel.
func FormatAlert(ev Event) string {
	return fmt.Sprintf("HIGH-RISK CRISIS EVENT (level %d) in session %s [%s]: %s",
		ev.Level, ev.SessionID, ev.SessionKey, ev.Text)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
