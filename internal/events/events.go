package events

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/phrazzld/genjob-api/internal/domain"
)

// EventType names the transition that produced a JobEvent.
type EventType string

const (
	// EventJobCreated is emitted when a job is stored as pending.
	EventJobCreated EventType = "job.created"
	// EventJobStarted is emitted when a worker claims the job.
	EventJobStarted EventType = "job.started"
	// EventJobProgressed is emitted for progress updates while running.
	EventJobProgressed EventType = "job.progressed"
	// EventJobCompleted is emitted when the job finishes with a result.
	EventJobCompleted EventType = "job.completed"
	// EventJobFailed is emitted when the job finishes with an error.
	EventJobFailed EventType = "job.failed"
)

// Terminal reports whether the event ends the job's lifecycle.
func (t EventType) Terminal() bool {
	return t == EventJobCompleted || t == EventJobFailed
}

// JobEvent carries a snapshot of a job right after a persisted transition.
// Events for one job are emitted in transition order by the single worker
// that owns it.
type JobEvent struct {
	// ID is a unique, time-ordered identifier for this event
	ID ulid.ULID `json:"id"`

	// Type indicates which transition happened
	Type EventType `json:"type"`

	// Job is a copy of the job as stored after the transition
	Job *domain.Job `json:"job"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewJobEvent creates an event of the given type for a copy of job.
func NewJobEvent(eventType EventType, job *domain.Job) *JobEvent {
	return &JobEvent{
		ID:        ulid.Make(),
		Type:      eventType,
		Job:       job.Clone(),
		CreatedAt: time.Now(),
	}
}

// TypeFor derives the event type from the job's current state.
func TypeFor(job *domain.Job) EventType {
	switch job.Status {
	case domain.StatusPending:
		return EventJobCreated
	case domain.StatusRunning:
		if job.StartedAt != nil && job.UpdatedAt.Equal(*job.StartedAt) {
			return EventJobStarted
		}
		return EventJobProgressed
	case domain.StatusCompleted:
		return EventJobCompleted
	default:
		return EventJobFailed
	}
}

// EventHandler defines an interface for components that can handle events.
// Handlers must not block for long: they run on the emitting worker.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *JobEvent) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event *JobEvent) error

// HandleEvent implements EventHandler.
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *JobEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows the worker pool to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *JobEvent) error
}
