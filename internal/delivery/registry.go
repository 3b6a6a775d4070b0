// internal/delivery/registry.go
package delivery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/user/soulsync/internal/crisis"
	"github.com/user/soulsync/internal/types"
)

// Handler delivers a message to the conversation identified by key.
type Handler func(ctx context.Context, key types.SessionKey, message string) error

// Registry routes outbound messages (check-ins, crisis alerts) to the
// surface that owns a session key, matched by prefix ("telegram:", "cli").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for session keys starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Prefixes lists the registered prefixes in sorted order.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for p := range r.handlers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Deliver calls the handler with the longest prefix matching key. Returns
// an error if no handler is registered for it.
func (r *Registry) Deliver(ctx context.Context, key types.SessionKey, message string) error {
	r.mu.RLock()
	var (
		best    string
		handler Handler
	)
	for prefix, h := range r.handlers {
		if strings.HasPrefix(string(key), prefix) && len(prefix) >= len(best) {
			best, handler = prefix, h
		}
	}
	r.mu.RUnlock()

	if handler == nil {
		return fmt.Errorf("no delivery handler for session key: %s", key)
	}
	return handler(ctx, key, message)
}

// CrisisAlerts returns a priority handler that forwards high-risk crisis
// events to the operator key. An empty operator key only logs.
func (r *Registry) CrisisAlerts(operator types.SessionKey) crisis.PriorityHandler {
	return func(ctx context.Context, ev crisis.Event) error {
		if operator == "" {
			log.Warn().
				Str("session", string(ev.SessionID)).
				Int("crisis_level", ev.Level).
				Msg("no operator configured for crisis alert")
			return nil
		}
		return r.Deliver(ctx, operator, crisis.FormatAlert(ev))
	}
}
