package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"fablevoice-backend/internal/repository"
	"fablevoice-backend/internal/worker"
)

type StoryHandler struct {
	storyRepo *repository.StoryRepo
	redis     *redis.Client
}

func NewStoryHandler(storyRepo *repository.StoryRepo, redisClient *redis.Client) *StoryHandler {
	return &StoryHandler{storyRepo: storyRepo, redis: redisClient}
}

// List returns the story catalog. The catalog is shared across users, so no
// ownership filter applies.
func (h *StoryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 50)
	offset := parseIntQuery(r, "offset", 0)

	stories, err := h.storyRepo.List(r.Context(), limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list stories", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"stories": stories})
}

func (h *StoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	storyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid story id", r))
		return
	}

	story, err := h.storyRepo.GetByID(r.Context(), storyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Story not found", r))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load story", r))
		return
	}

	writeJSON(w, http.StatusOK, story)
}

// Reanalyze clears the cached speaker detection and queues a fresh analysis
// run. Jobs submitted while the re-analysis is in flight fall back to the
// in-job analysis path.
func (h *StoryHandler) Reanalyze(w http.ResponseWriter, r *http.Request) {
	storyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid story id", r))
		return
	}

	if _, err := h.storyRepo.GetByID(r.Context(), storyID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Story not found", r))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load story", r))
		return
	}

	if err := h.storyRepo.ClearAnalysis(r.Context(), storyID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to reset analysis", r))
		return
	}

	msg := worker.TaskMessage{ID: storyID}
	if err := worker.Enqueue(context.Background(), h.redis, worker.QueueAnalysis, msg); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to queue analysis", r))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"story_id": storyID, "status": "queued"})
}

func parseIntQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
