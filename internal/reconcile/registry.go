package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxSessions bounds the number of per-session reconcilers kept.
const DefaultMaxSessions = 256

// Registry keeps one Reconciler per session for clients that poll over HTTP.
// The least recently used session is dropped when the registry is full; its
// next request starts over and reports every job once more.
type Registry struct {
	lister JobLister
	cache  *lru.Cache[string, *Reconciler]
	logger *slog.Logger
}

// NewRegistry creates a Registry holding at most maxSessions reconcilers.
func NewRegistry(lister JobLister, maxSessions int, logger *slog.Logger) (*Registry, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	cache, err := lru.New[string, *Reconciler](maxSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconciler registry: %w", err)
	}
	return &Registry{
		lister: lister,
		cache:  cache,
		logger: logger,
	}, nil
}

// Changes returns the delta for session since its previous call. The first
// call for a session reports every job it owns.
func (g *Registry) Changes(ctx context.Context, session string) ([]Change, error) {
	r, ok := g.cache.Get(session)
	if !ok {
		fresh := New(g.lister, Options{Owner: session}, g.logger)
		prev, found, evicted := g.cache.PeekOrAdd(session, fresh)
		if evicted {
			g.logger.Debug("reconciler registry full, evicted least recent session")
		}
		r = fresh
		if found {
			r = prev
		}
	}
	return r.Poll(ctx)
}

// Forget drops the state kept for session. An empty session drops every
// session.
func (g *Registry) Forget(session string) {
	if session == "" {
		g.cache.Purge()
		return
	}
	g.cache.Remove(session)
}

// Len returns the number of sessions tracked.
func (g *Registry) Len() int {
	return g.cache.Len()
}
