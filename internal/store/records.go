package store

import (
	"github.com/google/uuid"
	"github.com/phrazzld/genjob-api/internal/domain"
)

// Records is an oldest-first collection of jobs ordered by creation time.
// It backs the in-memory and file stores, which hold the whole collection
// and rewrite it under a single lock.
type Records []*domain.Job

// Insert places job at its position by creation time. Jobs created at the
// same instant keep insertion order.
func (r Records) Insert(job *domain.Job) Records {
	i := len(r)
	for i > 0 && r[i-1].CreatedAt.After(job.CreatedAt) {
		i--
	}
	r = append(r, nil)
	copy(r[i+1:], r[i:])
	r[i] = job
	return r
}

// Evict drops the oldest records until at most max remain and returns the
// kept collection together with the dropped jobs.
func (r Records) Evict(max int) (Records, []*domain.Job) {
	if max <= 0 || len(r) <= max {
		return r, nil
	}
	n := len(r) - max
	evicted := append([]*domain.Job(nil), r[:n]...)
	kept := append(Records(nil), r[n:]...)
	return kept, evicted
}

// Index returns the position of id, or -1.
func (r Records) Index(id uuid.UUID) int {
	for i, j := range r {
		if j.ID == id {
			return i
		}
	}
	return -1
}

// Remove deletes the record at position i.
func (r Records) Remove(i int) Records {
	return append(r[:i], r[i+1:]...)
}

// Select returns copies of the matching jobs, newest first, paged by the
// filter.
func (r Records) Select(f Filter) []*domain.Job {
	out := make([]*domain.Job, 0, len(r))
	for i := len(r) - 1; i >= 0; i-- {
		if f.Matches(r[i]) {
			out = append(out, r[i])
		}
	}
	out = f.Page(out)
	for i, j := range out {
		out[i] = j.Clone()
	}
	return out
}

// Count returns how many records match the filter.
func (r Records) Count(f Filter) int {
	n := 0
	for _, j := range r {
		if f.Matches(j) {
			n++
		}
	}
	return n
}

// RemoveOwner deletes every record belonging to owner (all records when
// owner is empty) and reports how many were removed.
func (r Records) RemoveOwner(owner string) (Records, int) {
	if owner == "" {
		return Records{}, len(r)
	}
	kept := r[:0]
	removed := 0
	for _, j := range r {
		if j.Owner == owner {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	return kept, removed
}
