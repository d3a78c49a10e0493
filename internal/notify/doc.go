// Package notify pushes job state changes to connected observers. A Hub maps
// session ids to open channels; WebSocket clients are one implementation of
// a channel. The Hub subscribes to job events, so every transition a worker
// persists is pushed to the session that owns the job.
package notify
