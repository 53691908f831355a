package handlers

import (
	"encoding/json"
	"net/http"

	"fablevoice-backend/internal/middleware"
	"fablevoice-backend/internal/models"
	"fablevoice-backend/internal/repository"
)

type ProfileHandler struct {
	profileRepo *repository.ProfileRepo
}

func NewProfileHandler(profileRepo *repository.ProfileRepo) *ProfileHandler {
	return &ProfileHandler{profileRepo: profileRepo}
}

func (h *ProfileHandler) CreateVoice(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req models.CreateVoiceProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	fields := map[string]string{}
	if req.Name == "" {
		fields["name"] = "Name is required"
	}
	if req.SampleURL == "" {
		fields["sample_url"] = "Sample URL is required"
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	profile := &models.VoiceProfile{
		UserID:    userID,
		Name:      req.Name,
		SampleURL: req.SampleURL,
	}
	if err := h.profileRepo.CreateVoice(r.Context(), profile); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to create voice profile", r))
		return
	}

	writeJSON(w, http.StatusCreated, profile)
}

func (h *ProfileHandler) ListVoice(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	profiles, err := h.profileRepo.ListVoiceByUser(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list voice profiles", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"voice_profiles": profiles})
}

func (h *ProfileHandler) CreateAvatar(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req models.CreateAvatarProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	fields := map[string]string{}
	if req.Name == "" {
		fields["name"] = "Name is required"
	}
	if req.ImageURL == "" {
		fields["image_url"] = "Image URL is required"
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	profile := &models.AvatarProfile{
		UserID:   userID,
		Name:     req.Name,
		ImageURL: req.ImageURL,
	}
	if err := h.profileRepo.CreateAvatar(r.Context(), profile); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to create avatar profile", r))
		return
	}

	writeJSON(w, http.StatusCreated, profile)
}

func (h *ProfileHandler) ListAvatar(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	profiles, err := h.profileRepo.ListAvatarByUser(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list avatar profiles", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"avatar_profiles": profiles})
}
