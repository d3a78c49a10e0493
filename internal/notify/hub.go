package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/events"
	"github.com/phrazzld/genjob-api/internal/metrics"
)

// Errors returned by Channel.Send.
var (
	ErrChannelClosed = errors.New("notification channel closed")
	ErrChannelFull   = errors.New("notification channel full")
)

// deliveredCapacity bounds the per-job memory used to suppress duplicates.
const deliveredCapacity = 4096

// Channel is one open connection to an observer. Send must not block; a
// channel that cannot accept a message returns an error and is dropped.
type Channel interface {
	Send(msg Message) error
	Close()
}

type jobState struct {
	status   domain.Status
	progress int
}

// stage orders statuses along the only direction a job can move.
func (s jobState) stage() int {
	switch s.status {
	case domain.StatusPending:
		return 0
	case domain.StatusRunning:
		return 1
	default:
		return 2
	}
}

// advances reports whether s is strictly later than prev. A terminal state
// is never followed by another.
func (s jobState) advances(prev jobState) bool {
	if s.stage() != prev.stage() {
		return s.stage() > prev.stage()
	}
	return s.stage() < 2 && s.progress > prev.progress
}

// Hub routes messages to the channels registered for a session. It is safe
// for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[Channel]struct{}

	// delivered remembers the last state pushed per job, so a job reported
	// both by an event and by the reconciler is pushed once and never moves
	// backwards. deliverMu covers the check, the record and the send.
	deliverMu sync.Mutex
	delivered *lru.Cache[uuid.UUID, jobState]

	logger *slog.Logger
}

var _ events.EventHandler = (*Hub)(nil)

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	// Only fails for a non-positive size.
	delivered, _ := lru.New[uuid.UUID, jobState](deliveredCapacity)
	return &Hub{
		sessions:  make(map[string]map[Channel]struct{}),
		delivered: delivered,
		logger:    logger.With("component", "notify_hub"),
	}
}

// Register adds ch to the channels of session.
func (h *Hub) Register(session string, ch Channel) {
	h.mu.Lock()
	set, ok := h.sessions[session]
	if !ok {
		set = make(map[Channel]struct{})
		h.sessions[session] = set
	}
	set[ch] = struct{}{}
	count := h.countLocked()
	h.mu.Unlock()

	metrics.SetNotifySessions(count)
	h.logger.Debug("channel registered", "session_id", session, "channels", len(set))
}

// Unregister removes ch from session. It does not close ch and reports
// whether ch was registered.
func (h *Hub) Unregister(session string, ch Channel) bool {
	h.mu.Lock()
	set, ok := h.sessions[session]
	if ok {
		_, ok = set[ch]
		delete(set, ch)
		if len(set) == 0 {
			delete(h.sessions, session)
		}
	}
	count := h.countLocked()
	h.mu.Unlock()

	metrics.SetNotifySessions(count)
	return ok
}

// Notify sends msg to every channel of session and returns how many
// accepted it. A channel that fails is unregistered and closed; delivery to
// the others continues.
func (h *Hub) Notify(session string, msg Message) int {
	h.mu.RLock()
	channels := make([]Channel, 0, len(h.sessions[session]))
	for ch := range h.sessions[session] {
		channels = append(channels, ch)
	}
	h.mu.RUnlock()

	sent := 0
	for _, ch := range channels {
		if err := safeSend(ch, msg); err != nil {
			h.logger.Info("dropping notification channel",
				"session_id", session,
				"message_type", msg.Type,
				"error", err)
			metrics.IncNotifyDelivery(string(msg.Type), "dropped")
			if h.Unregister(session, ch) {
				safeClose(ch)
			}
			continue
		}
		metrics.IncNotifyDelivery(string(msg.Type), "sent")
		sent++
	}
	return sent
}

// NotifyJob pushes the state of job to its owner's session when it is later
// than the last state pushed for that job. Duplicates and stale snapshots
// are dropped. Jobs without an owner are not pushed.
func (h *Hub) NotifyJob(job *domain.Job) int {
	if job.Owner == "" {
		return 0
	}
	state := jobState{status: job.Status, progress: job.Progress}

	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()
	if prev, ok := h.delivered.Peek(job.ID); ok && !state.advances(prev) {
		return 0
	}
	h.delivered.Add(job.ID, state)
	return h.Notify(job.Owner, MessageFor(job))
}

// HandleEvent implements events.EventHandler.
func (h *Hub) HandleEvent(ctx context.Context, event *events.JobEvent) error {
	if event == nil || event.Job == nil {
		return fmt.Errorf("notify: event without job")
	}
	h.NotifyJob(event.Job)
	return nil
}

// Sessions returns how many sessions have at least one open channel.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close unregisters and closes every channel.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]map[Channel]struct{})
	h.mu.Unlock()

	for _, set := range sessions {
		for ch := range set {
			safeClose(ch)
		}
	}
	metrics.SetNotifySessions(0)
}

func (h *Hub) countLocked() int {
	n := 0
	for _, set := range h.sessions {
		n += len(set)
	}
	return n
}

// safeSend turns a panicking Channel into a send error.
func safeSend(ch Channel, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: send panicked: %v", ErrChannelClosed, r)
		}
	}()
	return ch.Send(msg)
}

func safeClose(ch Channel) {
	defer func() { _ = recover() }()
	ch.Close()
}
