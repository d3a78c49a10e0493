package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the category of generation a job performs
type Kind string

// Possible job kinds
const (
	KindTextToImage  Kind = "text-to-image"
	KindImageToVideo Kind = "image-to-video"
	KindTextToVideo  Kind = "text-to-video"
)

// Kinds lists every supported job kind in a stable order.
var Kinds = []Kind{KindTextToImage, KindImageToVideo, KindTextToVideo}

// ParseKind converts a string to a Kind. Both the hyphenated form and the
// underscored form ("text_to_image") are accepted.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindTextToImage, KindImageToVideo, KindTextToVideo:
		return true
	default:
		return false
	}
}

// IsVideo reports whether the kind produces a single video reference.
func (k Kind) IsVideo() bool {
	return k == KindImageToVideo || k == KindTextToVideo
}

// Status represents the lifecycle state of a job
type Status string

// Possible job status values
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusRunning, StatusCompleted, StatusError:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// IsTerminal reports whether no further transition can leave this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// IsActive reports whether a job in this status still has work ahead of it.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// Params holds the validated input of one remote generation call.
// Which fields are meaningful depends on the job kind.
type Params struct {
	Prompt         string `json:"prompt,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Model          string `json:"model"`
	Count          int    `json:"count,omitempty"`
	Size           string `json:"size,omitempty"`
	Resolution     string `json:"resolution,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	Seed           *int   `json:"seed,omitempty"`
	PromptExtend   bool   `json:"prompt_extend"`
	Watermark      bool   `json:"watermark"`
	ImageURL       string `json:"image_url,omitempty"`
	AudioURL       string `json:"audio_url,omitempty"`
}

// Result is the output of a completed job: a set of image references for
// text-to-image, or a single video reference for the video kinds.
type Result struct {
	Images []string `json:"images,omitempty"`
	Video  string   `json:"video,omitempty"`
}

// Job is one generation request together with its tracked lifecycle.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	Kind        Kind       `json:"kind"`
	Status      Status     `json:"status"`
	Params      Params     `json:"params"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Progress    int        `json:"progress"`
	Owner       string     `json:"owner,omitempty"`
	RetryOf     *uuid.UUID `json:"retry_of,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a pending job with a fresh identifier.
// Returns an error if the kind is unknown or no model is set.
func NewJob(kind Kind, params Params, owner string, now time.Time) (*Job, error) {
	job := &Job{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    StatusPending,
		Params:    params,
		Owner:     owner,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks the structural invariants of a job record.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return fmt.Errorf("%w: job id is empty", ErrValidation)
	}
	if !j.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, j.Kind)
	}
	if _, err := ParseStatus(string(j.Status)); err != nil {
		return err
	}
	if j.Params.Model == "" {
		return fmt.Errorf("%w: model is required", ErrValidation)
	}
	if j.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrValidation)
	}

	switch j.Status {
	case StatusCompleted:
		if j.Result == nil || j.Error != "" {
			return fmt.Errorf("%w: completed job must carry a result and no error", ErrValidation)
		}
	case StatusError:
		if j.Error == "" || j.Result != nil {
			return fmt.Errorf("%w: failed job must carry an error and no result", ErrValidation)
		}
	default:
		if j.Result != nil || j.Error != "" {
			return fmt.Errorf("%w: %s job cannot carry a result or error", ErrValidation, j.Status)
		}
	}
	return nil
}

// Clone returns a deep copy of the job so callers never share mutable state
// with a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Params.Seed != nil {
		seed := *j.Params.Seed
		c.Params.Seed = &seed
	}
	if j.Result != nil {
		r := Result{Video: j.Result.Video}
		if j.Result.Images != nil {
			r.Images = append([]string(nil), j.Result.Images...)
		}
		c.Result = &r
	}
	if j.RetryOf != nil {
		id := *j.RetryOf
		c.RetryOf = &id
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
