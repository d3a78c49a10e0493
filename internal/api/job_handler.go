package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/phrazzld/genjob-api/internal/api/shared"
	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/generation"
	"github.com/phrazzld/genjob-api/internal/platform/logger"
	"github.com/phrazzld/genjob-api/internal/reconcile"
	"github.com/phrazzld/genjob-api/internal/service"
)

// ChangeSource reports, per session, the jobs whose state moved since the
// session last asked.
type ChangeSource interface {
	Changes(ctx context.Context, session string) ([]reconcile.Change, error)
	// Forget drops the state kept for session, or for every session when
	// session is empty.
	Forget(session string)
}

// JobHandler handles generation job HTTP requests
type JobHandler struct {
	jobs    service.JobService
	changes ChangeSource
	catalog *generation.Catalog
	logger  *slog.Logger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(
	jobs service.JobService,
	changes ChangeSource,
	catalog *generation.Catalog,
	logger *slog.Logger,
) *JobHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for JobHandler")
	}

	return &JobHandler{
		jobs:    jobs,
		changes: changes,
		catalog: catalog,
		logger:  logger.With(slog.String("component", "job_handler")),
	}
}

// TextToImage handles POST /generation/text-to-image requests
func (h *JobHandler) TextToImage(w http.ResponseWriter, r *http.Request) {
	var req TextToImageRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.submit(w, r, domain.KindTextToImage, req.params(), req.SessionID)
}

// ImageToVideo handles POST /generation/image-to-video requests
func (h *JobHandler) ImageToVideo(w http.ResponseWriter, r *http.Request) {
	var req ImageToVideoRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.submit(w, r, domain.KindImageToVideo, req.params(), req.SessionID)
}

// TextToVideo handles POST /generation/text-to-video requests
func (h *JobHandler) TextToVideo(w http.ResponseWriter, r *http.Request) {
	var req TextToVideoRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.submit(w, r, domain.KindTextToVideo, req.params(), req.SessionID)
}

// decode reads and validates the request body, writing a 400 response when
// either fails.
func (h *JobHandler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	log := logger.FromContext(r.Context())

	if err := shared.DecodeJSON(w, r, req); err != nil {
		log.Debug("malformed request body", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return false
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, shared.ValidationMessage(err), err)
		return false
	}
	return true
}

func (h *JobHandler) submit(
	w http.ResponseWriter,
	r *http.Request,
	kind domain.Kind,
	params domain.Params,
	session string,
) {
	job, err := h.jobs.Submit(r.Context(), kind, params, session)
	if err != nil {
		handleError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, JobCreatedResponse{
		JobID:   job.ID.String(),
		Status:  string(job.Status),
		Message: string(kind) + " job created",
	})
}

// GetJob handles GET /generation/jobs/{id} requests
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(job))
}

// ListJobs handles GET /generation/jobs requests. It accepts the page,
// page_size, status, kind and session_id query parameters.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := queryInt(r, "page")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid page")
		return
	}
	pageSize, err := queryInt(r, "page_size")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid page_size")
		return
	}

	query := service.ListQuery{
		Owner:    q.Get("session_id"),
		Page:     page,
		PageSize: pageSize,
	}
	if raw := q.Get("status"); raw != "" {
		if query.Status, err = domain.ParseStatus(raw); err != nil {
			handleError(w, r, err)
			return
		}
	}
	if raw := q.Get("kind"); raw != "" {
		if query.Kind, err = domain.ParseKind(raw); err != nil {
			handleError(w, r, err)
			return
		}
	}

	result, err := h.jobs.List(r.Context(), query)
	if err != nil {
		handleError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, JobListResponse{
		Jobs:     jobsToResponse(result.Jobs),
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
	})
}

// DeleteJob handles DELETE /generation/jobs/{id} requests
func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID")
		return
	}

	if err := h.jobs.Delete(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearJobs handles DELETE /generation/jobs requests. It removes the jobs
// of session_id; removing every job requires all=true instead.
func (h *JobHandler) ClearJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	session := q.Get("session_id")
	if session == "" && q.Get("all") != "true" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "session_id is required")
		return
	}

	n, err := h.jobs.Clear(r.Context(), session)
	if err != nil {
		handleError(w, r, err)
		return
	}
	h.changes.Forget(session)
	shared.RespondWithJSON(w, r, http.StatusOK, ClearResponse{Deleted: n})
}

// RetryJob handles POST /generation/jobs/{id}/retry requests
func (h *JobHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.jobs.Retry(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("job retried",
		slog.String("job_id", id.String()),
		slog.String("new_job_id", job.ID.String()))
	shared.RespondWithJSON(w, r, http.StatusAccepted, JobCreatedResponse{
		JobID:   job.ID.String(),
		Status:  string(job.Status),
		Message: "retry of " + id.String() + " created",
	})
}

// Changes handles GET /generation/changes requests. Each call returns the
// jobs of session_id whose status or progress moved since the previous call.
func (h *JobHandler) Changes(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session_id")
	if session == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "session_id is required")
		return
	}

	changes, err := h.changes.Changes(r.Context(), session)
	if err != nil {
		handleError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, changesToResponse(session, changes))
}

// Models handles GET /generation/models requests, optionally filtered by kind.
func (h *JobHandler) Models(w http.ResponseWriter, r *http.Request) {
	models := h.catalog.Models()
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind, err := domain.ParseKind(raw)
		if err != nil {
			handleError(w, r, err)
			return
		}
		models = h.catalog.ForKind(kind)
	}
	if models == nil {
		models = []generation.Model{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ModelsResponse{Models: models})
}
