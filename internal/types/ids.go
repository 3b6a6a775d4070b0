// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type (
	// SessionKey names a conversation partner on a surface:
	// "telegram:<user>:<chat>", "http:<key>" or "cli:<user>".
	SessionKey string
	// SessionID names one bounded therapeutic session.
	SessionID string
	// RunID names one queued gateway run.
	RunID string
	// EventID names one journal entry.
	EventID string
)

func newID() string { return uuid.NewString() }

func NewSessionID() SessionID { return SessionID(newID()) }
func NewRunID() RunID { return RunID(newID()) }
func NewEventID() EventID { return EventID(newID()) }

// NewSessionKey joins the surface name and its identifiers with colons.
func NewSessionKey(surface string, ids ...string) SessionKey {
	return SessionKey(strings.Join(append([]string{surface}, ids...), ":"))
}

// Source returns the surface part of the key.
func (k SessionKey) Source() string {
	surface, _, _ := strings.Cut(string(k), ":")
	return surface
}
