package gateway

import (
	"context"
	"time"

	"github.com/user/soulsync/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunKind selects the orchestrator operation a Run performs.
type RunKind string

const (
	RunStart   RunKind = "start"
	RunMessage RunKind = "message"
	RunEnd     RunKind = "end"
)

// Result is what a Run hands back to its caller.
type Result struct {
	Response string
	Continue bool
	Started  bool
	Ended    bool
	Err      error
}

// Run tracks a single operation against the session for one key.
type Run struct {
	ID         types.RunID
	Kind       RunKind
	SessionKey types.SessionKey
	Event      *types.InboundEvent
	Status     RunStatus
	Attempts   int
	CreatedAt  time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
	Error      error
	Ctx        context.Context
	OnComplete func(Result)
}

// NewRun creates a Run in the Queued state for the given key.
func NewRun(kind RunKind, key types.SessionKey, event *types.InboundEvent) *Run {
	return &Run{
		ID:         types.NewRunID(),
		Kind:       kind,
		SessionKey: key,
		Event:      event,
		Status:     RunStatusQueued,
		CreatedAt:  time.Now(),
	}
}

func (r *Run) complete(res Result) {
	now := time.Now()
	r.EndedAt = &now
	r.Error = res.Err
	r.Status = RunStatusComplete
	if res.Err != nil {
		r.Status = RunStatusFailed
	}
	if r.OnComplete != nil {
		r.OnComplete(res)
	}
}
