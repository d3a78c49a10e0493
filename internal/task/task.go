package task

import (
	"context"

	"github.com/google/uuid"
)

// TaskTypeGeneration is the type of the task that runs one generation job.
const TaskTypeGeneration = "generation_job"

// Task represents a unit of background work to be processed
type Task interface {
	// ID returns the identifier of the job the task works on
	ID() uuid.UUID

	// Type returns the task type identifier
	Type() string

	// Execute runs the task logic
	Execute(ctx context.Context) error
}

// TaskQueueReader provides read-only access to the task channel
// allowing workers to consume tasks without the ability to enqueue
type TaskQueueReader interface {
	// GetChannel returns a read-only channel for consuming tasks
	GetChannel() <-chan Task
}

// jobTask processes one stored job through the runner.
type jobTask struct {
	id     uuid.UUID
	runner *Runner
}

func (t *jobTask) ID() uuid.UUID {
	return t.id
}

func (t *jobTask) Type() string {
	return TaskTypeGeneration
}

func (t *jobTask) Execute(ctx context.Context) error {
	return t.runner.process(ctx, t.id)
}
