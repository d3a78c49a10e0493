package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(t *testing.T) *domain.Job {
	t.Helper()
	job, err := domain.NewJob(domain.KindTextToImage, domain.Params{
		Prompt: "a paper boat",
		Model:  "wan2.5-t2i-preview",
		Count:  1,
		Size:   "1024*1024",
	}, "session-a", time.Now())
	require.NoError(t, err)
	return job
}

func TestNewJobEvent(t *testing.T) {
	job := newJob(t)

	event := NewJobEvent(EventJobCreated, job)
	job.Owner = "mutated after emit"

	assert.NotZero(t, event.ID)
	assert.Equal(t, EventJobCreated, event.Type)
	assert.Equal(t, "session-a", event.Job.Owner, "the event holds a snapshot")
	assert.False(t, event.CreatedAt.IsZero())

	later := NewJobEvent(EventJobStarted, job)
	assert.Equal(t, 1, later.ID.Compare(event.ID), "event ids are time ordered")
}

func TestTypeFor(t *testing.T) {
	job := newJob(t)
	now := time.Now()
	assert.Equal(t, EventJobCreated, TypeFor(job))

	require.NoError(t, job.Apply(domain.Running(10), now))
	assert.Equal(t, EventJobStarted, TypeFor(job))

	require.NoError(t, job.Apply(domain.Progressed(30), now.Add(time.Second)))
	assert.Equal(t, EventJobProgressed, TypeFor(job))

	failed := job.Clone()
	require.NoError(t, failed.Apply(domain.Failed("boom"), now.Add(2*time.Second)))
	assert.Equal(t, EventJobFailed, TypeFor(failed))
	assert.True(t, TypeFor(failed).Terminal())

	require.NoError(t, job.Apply(domain.Completed(domain.Result{Images: []string{"a.png"}}), now.Add(2*time.Second)))
	assert.Equal(t, EventJobCompleted, TypeFor(job))
	assert.False(t, EventJobProgressed.Terminal())
}

// MockEventHandler implements the EventHandler interface for testing
type MockEventHandler struct {
	// The last event received by this handler
	LastEvent *JobEvent
	// Error to return from HandleEvent
	HandlerError error
	// Count of events handled
	HandledCount int
}

// HandleEvent implements the EventHandler interface
func (h *MockEventHandler) HandleEvent(ctx context.Context, event *JobEvent) error {
	h.LastEvent = event
	h.HandledCount++
	return h.HandlerError
}

func TestEventHandlerFunc(t *testing.T) {
	var got *JobEvent
	handler := EventHandlerFunc(func(ctx context.Context, event *JobEvent) error {
		got = event
		return errors.New("handler error")
	})

	event := NewJobEvent(EventJobCreated, newJob(t))
	err := handler.HandleEvent(context.Background(), event)

	assert.EqualError(t, err, "handler error")
	assert.Same(t, event, got)
}
