package notify

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/phrazzld/genjob-api/internal/domain"
)

// MessageType identifies the kind of message sent to a client.
type MessageType string

const (
	TypeProgress  MessageType = "progress"
	TypeCompleted MessageType = "completed"
	TypeFailed    MessageType = "failed"
	TypeConnected MessageType = "connected"
	TypePong      MessageType = "pong"

	// TypePing is the only message a client may send.
	TypePing MessageType = "ping"
)

// Message is the envelope of every server to client message.
type Message struct {
	ID        ulid.ULID   `json:"id"`
	Type      MessageType `json:"type"`
	JobID     string      `json:"job_id,omitempty"`
	Payload   any         `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ProgressPayload accompanies progress messages.
type ProgressPayload struct {
	Status   domain.Status `json:"status"`
	Progress int           `json:"progress"`
}

// CompletedPayload accompanies completed messages.
type CompletedPayload struct {
	Status domain.Status  `json:"status"`
	Kind   domain.Kind    `json:"kind"`
	Result *domain.Result `json:"result"`
}

// FailedPayload accompanies failed messages.
type FailedPayload struct {
	Status domain.Status `json:"status"`
	Error  string        `json:"error"`
}

// ConnectedPayload greets a new connection.
type ConnectedPayload struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// PongPayload echoes the timestamp the client sent with its ping.
type PongPayload struct {
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// clientMessage is what a client sends over the socket.
type clientMessage struct {
	Type      MessageType     `json:"type"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// NewMessage creates a message with a fresh id.
func NewMessage(msgType MessageType, jobID string, payload any) Message {
	return Message{
		ID:        ulid.Make(),
		Type:      msgType,
		JobID:     jobID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// MessageFor describes the current state of job.
func MessageFor(job *domain.Job) Message {
	id := job.ID.String()
	switch job.Status {
	case domain.StatusCompleted:
		return NewMessage(TypeCompleted, id, CompletedPayload{Status: job.Status, Kind: job.Kind, Result: job.Result})
	case domain.StatusError:
		return NewMessage(TypeFailed, id, FailedPayload{Status: job.Status, Error: job.Error})
	default:
		return NewMessage(TypeProgress, id, ProgressPayload{Status: job.Status, Progress: job.Progress})
	}
}
