package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/store"
)

// Polling cadence bounds.
const (
	DefaultInterval = 2 * time.Second
	MinInterval     = time.Second
	MaxInterval     = 5 * time.Second
)

// subscriberBuffer is how many undelivered deltas a subscriber may hold
// before new ones are dropped for it.
const subscriberBuffer = 8

// JobLister is the read-only view of the store a Reconciler needs.
type JobLister interface {
	List(ctx context.Context, filter store.Filter) ([]*domain.Job, error)
}

// Change is one job whose status or progress differs from what was last
// reported. Previous is empty the first time a job is seen.
type Change struct {
	Job      *domain.Job   `json:"job"`
	Previous domain.Status `json:"previous_status,omitempty"`
}

// Terminal reports whether the change settles the job.
func (c Change) Terminal() bool {
	return c.Job.Status.IsTerminal()
}

type observed struct {
	status   domain.Status
	progress int
}

// Options configures a Reconciler.
type Options struct {
	// Owner scopes the reconciler to one session; empty observes every job.
	Owner string
	// Interval is the polling cadence of Run, clamped to
	// [MinInterval, MaxInterval]; zero uses DefaultInterval.
	Interval time.Duration
}

// Reconciler tracks the last reported status of each job and reports what
// changed since. It is safe for concurrent use.
type Reconciler struct {
	lister   JobLister
	owner    string
	interval time.Duration
	logger   *slog.Logger

	// pollMu serializes Poll so a slower List never overwrites a newer diff.
	pollMu sync.Mutex

	mu     sync.Mutex
	seen   map[uuid.UUID]observed
	subs   []chan []Change
	closed bool

	wake chan struct{}
}

// New creates a Reconciler reading from lister.
func New(lister JobLister, opts Options, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		lister:   lister,
		owner:    opts.Owner,
		interval: ClampInterval(opts.Interval),
		logger:   logger.With("component", "reconciler", "owner", opts.Owner),
		seen:     make(map[uuid.UUID]observed),
		wake:     make(chan struct{}, 1),
	}
}

// ClampInterval bounds d to the supported polling cadence.
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultInterval
	case d < MinInterval:
		return MinInterval
	case d > MaxInterval:
		return MaxInterval
	default:
		return d
	}
}

// Poll reads the store and returns the jobs whose status or progress changed
// since the previous call, oldest first. A second call with nothing changed in
// between returns an empty slice. Jobs no longer in the store are forgotten,
// and a terminal job is reported once.
func (r *Reconciler) Poll(ctx context.Context) ([]Change, error) {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	jobs, err := r.lister.List(ctx, store.Filter{Owner: r.owner})
	if err != nil {
		return nil, fmt.Errorf("failed to poll jobs: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	present := make(map[uuid.UUID]struct{}, len(jobs))
	changes := []Change{}
	// List is newest first; report oldest first.
	for i := len(jobs) - 1; i >= 0; i-- {
		job := jobs[i]
		present[job.ID] = struct{}{}

		now := observed{status: job.Status, progress: job.Progress}
		last, known := r.seen[job.ID]
		if known && last == now {
			continue
		}
		r.seen[job.ID] = now
		changes = append(changes, Change{Job: job, Previous: last.status})
	}

	for id := range r.seen {
		if _, ok := present[id]; !ok {
			delete(r.seen, id)
		}
	}
	return changes, nil
}

// Active reports whether any job seen by the last Poll is still pending or
// running.
func (r *Reconciler) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.seen {
		if o.status.IsActive() {
			return true
		}
	}
	return false
}

// Wake makes Run poll on its next tick even when no job is active, for
// example right after a submission. It never blocks.
func (r *Reconciler) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Subscribe returns a channel receiving each non-empty delta published by
// Run. A subscriber that falls behind misses deltas instead of stalling the
// others. The channel is closed when Run returns.
func (r *Reconciler) Subscribe() <-chan []Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan []Change, subscriberBuffer)
	if r.closed {
		close(ch)
		return ch
	}
	r.subs = append(r.subs, ch)
	return ch
}

// Run polls on every tick while a job is active, on the first tick and after
// Wake, until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	defer r.closeSubscribers()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	due := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
			due = true
		case <-ticker.C:
			if !due && !r.Active() {
				continue
			}
			due = false

			changes, err := r.Poll(ctx)
			if err != nil {
				r.logger.Warn("reconcile poll failed", "error", err)
				continue
			}
			if len(changes) > 0 {
				r.publish(changes)
			}
		}
	}
}

func (r *Reconciler) publish(changes []Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- changes:
		default:
			r.logger.Debug("subscriber behind, delta dropped", "changes", len(changes))
		}
	}
}

func (r *Reconciler) closeSubscribers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
}
