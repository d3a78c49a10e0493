package api

import (
	"time"

	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/generation"
	"github.com/phrazzld/genjob-api/internal/reconcile"
)

// TextToImageRequest defines the payload for POST /text-to-image.
// PromptExtend defaults to true when omitted, as in the other requests.
type TextToImageRequest struct {
	Prompt         string `json:"prompt" validate:"required"`
	NegativePrompt string `json:"negative_prompt"`
	Model          string `json:"model"`
	Count          int    `json:"n" validate:"omitempty,min=1,max=4"`
	Size           string `json:"size"`
	Seed           *int   `json:"seed"`
	PromptExtend   *bool  `json:"prompt_extend"`
	Watermark      bool   `json:"watermark"`
	SessionID      string `json:"session_id" validate:"max=100"`
}

func (req TextToImageRequest) params() domain.Params {
	return domain.Params{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Model:          req.Model,
		Count:          req.Count,
		Size:           req.Size,
		Seed:           req.Seed,
		PromptExtend:   boolOr(req.PromptExtend, true),
		Watermark:      req.Watermark,
	}
}

// ImageToVideoRequest defines the payload for POST /image-to-video. The
// image may be an http(s) URL, a data URI or a path on the server.
type ImageToVideoRequest struct {
	ImageURL       string `json:"image_url" validate:"required"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Model          string `json:"model"`
	Resolution     string `json:"resolution"`
	Duration       int    `json:"duration"`
	AudioURL       string `json:"audio_url"`
	Seed           *int   `json:"seed"`
	PromptExtend   *bool  `json:"prompt_extend"`
	Watermark      bool   `json:"watermark"`
	SessionID      string `json:"session_id" validate:"max=100"`
}

func (req ImageToVideoRequest) params() domain.Params {
	return domain.Params{
		ImageURL:       req.ImageURL,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Model:          req.Model,
		Resolution:     req.Resolution,
		Duration:       req.Duration,
		AudioURL:       req.AudioURL,
		Seed:           req.Seed,
		PromptExtend:   boolOr(req.PromptExtend, true),
		Watermark:      req.Watermark,
	}
}

// TextToVideoRequest defines the payload for POST /text-to-video.
type TextToVideoRequest struct {
	Prompt         string `json:"prompt" validate:"required"`
	NegativePrompt string `json:"negative_prompt"`
	Model          string `json:"model"`
	Resolution     string `json:"resolution"`
	Duration       int    `json:"duration"`
	Seed           *int   `json:"seed"`
	PromptExtend   *bool  `json:"prompt_extend"`
	Watermark      bool   `json:"watermark"`
	SessionID      string `json:"session_id" validate:"max=100"`
}

func (req TextToVideoRequest) params() domain.Params {
	return domain.Params{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Model:          req.Model,
		Resolution:     req.Resolution,
		Duration:       req.Duration,
		Seed:           req.Seed,
		PromptExtend:   boolOr(req.PromptExtend, true),
		Watermark:      req.Watermark,
	}
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// JobCreatedResponse is returned when a job has been accepted.
type JobCreatedResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// JobResponse represents a job and its current state.
type JobResponse struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	Status      string         `json:"status"`
	Progress    int            `json:"progress"`
	Params      domain.Params  `json:"params"`
	Result      *domain.Result `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	RetryOf     string         `json:"retry_of,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// JobListResponse is one page of jobs, newest first.
type JobListResponse struct {
	Jobs     []JobResponse `json:"jobs"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// ClearResponse reports how many jobs were deleted.
type ClearResponse struct {
	Deleted int `json:"deleted"`
}

// ChangeResponse is one job whose state moved since the previous poll.
type ChangeResponse struct {
	Job            JobResponse `json:"job"`
	PreviousStatus string      `json:"previous_status,omitempty"`
	// Terminal is set once the job reached completed or error.
	Terminal       bool        `json:"terminal"`
}

// ChangesResponse is the reconciler delta for a session.
type ChangesResponse struct {
	SessionID string           `json:"session_id"`
	Changes   []ChangeResponse `json:"changes"`
}

// ModelsResponse lists the models a client may request.
type ModelsResponse struct {
	Models []generation.Model `json:"models"`
}

func jobToResponse(job *domain.Job) JobResponse {
	resp := JobResponse{
		ID:          job.ID.String(),
		Kind:        string(job.Kind),
		Status:      string(job.Status),
		Progress:    job.Progress,
		Params:      job.Params,
		Result:      job.Result,
		Error:       job.Error,
		SessionID:   job.Owner,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
	if job.RetryOf != nil {
		resp.RetryOf = job.RetryOf.String()
	}
	return resp
}

func jobsToResponse(jobs []*domain.Job) []JobResponse {
	out := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobToResponse(job))
	}
	return out
}

func changesToResponse(session string, changes []reconcile.Change) ChangesResponse {
	resp := ChangesResponse{SessionID: session, Changes: make([]ChangeResponse, 0, len(changes))}
	for _, c := range changes {
		resp.Changes = append(resp.Changes, ChangeResponse{
			Job:            jobToResponse(c.Job),
			PreviousStatus: string(c.Previous),
			Terminal:       c.Terminal(),
		})
	}
	return resp
}
