package domain

import (
	"fmt"
	"time"
)

// Patch describes a partial update to a job. Zero-valued fields are left
// unchanged.
type Patch struct {
	Status   Status
	Progress *int
	Result   *Result
	Error    string
}

// Running returns the patch a worker applies when it claims a job.
func Running(progress int) Patch {
	return Patch{Status: StatusRunning, Progress: &progress}
}

// Progressed returns a patch that only advances progress.
func Progressed(progress int) Patch {
	return Patch{Progress: &progress}
}

// Completed returns the terminal patch for a successful job.
func Completed(result Result) Patch {
	return Patch{Status: StatusCompleted, Result: &result}
}

// Failed returns the terminal patch for a failed job.
func Failed(message string) Patch {
	return Patch{Status: StatusError, Error: message}
}

// allowedTransitions is the status graph. pending may fail before it ever
// runs, which keeps the visited statuses a subsequence of
// pending, running, error.
var allowedTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusError},
	StatusRunning: {StatusCompleted, StatusError},
}

// CanTransition reports whether from -> to is an edge of the status graph.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Apply merges the patch into the job. It is the single place status
// transitions are checked; every store calls it under its own lock or
// transaction. Naming the current status again is a re-entered edge and is
// rejected, which is what makes claiming a pending job succeed only once.
// On error the job is left unmodified.
func (j *Job) Apply(p Patch, now time.Time) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, j.ID, j.Status)
	}

	next := j.Status
	if p.Status != "" {
		if !CanTransition(j.Status, p.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, p.Status)
		}
		next = p.Status
	}

	switch next {
	case StatusCompleted:
		if p.Result == nil {
			return fmt.Errorf("%w: completed requires a result", ErrInvalidPatch)
		}
		if p.Error != "" {
			return fmt.Errorf("%w: completed cannot carry an error", ErrInvalidPatch)
		}
	case StatusError:
		if p.Error == "" {
			return fmt.Errorf("%w: error requires a message", ErrInvalidPatch)
		}
		if p.Result != nil {
			return fmt.Errorf("%w: error cannot carry a result", ErrInvalidPatch)
		}
	default:
		if p.Result != nil || p.Error != "" {
			return fmt.Errorf("%w: result and error are only set on terminal status", ErrInvalidPatch)
		}
	}

	progress := j.Progress
	if p.Progress != nil {
		if *p.Progress < 0 || *p.Progress > 100 {
			return fmt.Errorf("%w: progress %d out of range", ErrInvalidPatch, *p.Progress)
		}
		if *p.Progress < j.Progress {
			return fmt.Errorf("%w: progress cannot go from %d to %d", ErrInvalidPatch, j.Progress, *p.Progress)
		}
		progress = *p.Progress
	}

	now = now.UTC()
	if next == StatusRunning && j.Status == StatusPending {
		j.StartedAt = &now
	}
	if next.IsTerminal() {
		progress = 100
		j.CompletedAt = &now
		if p.Result != nil {
			r := *p.Result
			r.Images = append([]string(nil), p.Result.Images...)
			if len(r.Images) == 0 {
				r.Images = nil
			}
			j.Result = &r
		}
		j.Error = p.Error
	}

	j.Status = next
	j.Progress = progress
	j.UpdatedAt = now
	return nil
}
