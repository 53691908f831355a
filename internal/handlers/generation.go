package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"fablevoice-backend/internal/middleware"
	"fablevoice-backend/internal/models"
	"fablevoice-backend/internal/pipeline"
	"fablevoice-backend/internal/repository"
	"fablevoice-backend/internal/worker"
)

type GenerationHandler struct {
	jobRepo     *repository.JobRepo
	storyRepo   *repository.StoryRepo
	profileRepo *repository.ProfileRepo
	redis       *redis.Client
}

func NewGenerationHandler(
	jobRepo *repository.JobRepo,
	storyRepo *repository.StoryRepo,
	profileRepo *repository.ProfileRepo,
	redisClient *redis.Client,
) *GenerationHandler {
	return &GenerationHandler{
		jobRepo:     jobRepo,
		storyRepo:   storyRepo,
		profileRepo: profileRepo,
		redis:       redisClient,
	}
}

// Submit validates a generation request, persists the job and queues it.
// Everything that can be rejected synchronously is rejected here; once the
// 202 goes out, failures surface only through the job's status document.
func (h *GenerationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req models.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if req.StoryID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"story_id": "story_id is required"}, r))
		return
	}

	story, configs, err := pipeline.ValidateSubmission(r.Context(), h.storyRepo, h.profileRepo, userID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	job := &models.GenerationJob{
		UserID:         userID,
		StoryID:        story.ID,
		SpeakerConfigs: configs,
		FullVideo:      req.FullVideo,
	}
	if err := h.jobRepo.Create(r.Context(), job); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to create job", r))
		return
	}

	if err := worker.Enqueue(r.Context(), h.redis, worker.QueueGeneration, worker.TaskMessage{ID: job.ID}); err != nil {
		// The job row exists; the startup recovery scan will pick it up even
		// if this push is lost.
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to queue job", r))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"status": models.PublicStatus(job.Status),
	})
}

// Status returns the polled status document for one job.
func (h *GenerationHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid job id", r))
		return
	}

	job, err := h.jobRepo.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Job not found", r))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load job", r))
		return
	}

	// Jobs of other users are indistinguishable from missing ones.
	if job.UserID != userID {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Job not found", r))
		return
	}

	writeJSON(w, http.StatusOK, job.StatusDocument())
}

// List returns the caller's jobs, newest first.
func (h *GenerationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	limit := parseIntQuery(r, "limit", 20)
	offset := parseIntQuery(r, "offset", 0)

	jobs, err := h.jobRepo.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list jobs", r))
		return
	}

	docs := make([]models.JobStatusResponse, 0, len(jobs))
	for i := range jobs {
		docs = append(docs, jobs[i].StatusDocument())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": docs})
}
