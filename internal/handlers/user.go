package handlers

import (
	"encoding/json"
	"net/http"

	"fablevoice-backend/internal/middleware"
	"fablevoice-backend/internal/repository"
)

type UserHandler struct {
	userRepo *repository.UserRepo
}

func NewUserHandler(userRepo *repository.UserRepo) *UserHandler {
	return &UserHandler{userRepo: userRepo}
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	user, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "User not found", r))
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// UpdateNotifications toggles the completion-email preference.
func (h *UserHandler) UpdateNotifications(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req struct {
		NotifyOnComplete *bool `json:"notify_on_complete"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NotifyOnComplete == nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "notify_on_complete is required", r))
		return
	}

	if err := h.userRepo.UpdateNotifyOnComplete(r.Context(), userID, *req.NotifyOnComplete); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to update preferences", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"notify_on_complete": *req.NotifyOnComplete})
}
