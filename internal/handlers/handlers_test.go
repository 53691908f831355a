package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"fablevoice-backend/internal/models"
	"fablevoice-backend/internal/services"
)

// ─── Generation Handler Tests ───

func TestSubmit_InvalidBody(t *testing.T) {
	h := NewGenerationHandler(nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generations", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()

	h.Submit(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rr.Code)
	}

	var resp models.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if resp.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("Expected VALIDATION_ERROR, got %q", resp.Error.Code)
	}
}

func TestSubmit_MissingStoryID(t *testing.T) {
	h := NewGenerationHandler(nil, nil, nil, nil)

	body, _ := json.Marshal(map[string]interface{}{"full_video": true})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generations", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.Submit(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rr.Code)
	}

	var resp models.ErrorResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if _, ok := resp.Error.Fields["story_id"]; !ok {
		t.Errorf("Expected story_id field error, got %v", resp.Error.Fields)
	}
}

func TestStatus_InvalidJobID(t *testing.T) {
	h := NewGenerationHandler(nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/generations/not-a-uuid", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "not-a-uuid")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rr := httptest.NewRecorder()
	h.Status(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rr.Code)
	}
}

// ─── Story Handler Tests ───

func TestStoryGet_InvalidID(t *testing.T) {
	h := NewStoryHandler(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stories/xyz", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "xyz")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rr := httptest.NewRecorder()
	h.Get(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rr.Code)
	}
}

// ─── User Handler Tests ───

func TestUpdateNotifications_MissingField(t *testing.T) {
	h := NewUserHandler(nil)

	body, _ := json.Marshal(map[string]string{})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/user/notifications", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.UpdateNotifications(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rr.Code)
	}
}

// ─── Profile Handler Tests ───

func TestCreateVoice_MissingFields(t *testing.T) {
	h := NewProfileHandler(nil)

	tests := []struct {
		name  string
		body  map[string]string
		field string
	}{
		{"missing name", map[string]string{"sample_url": "https://x/s.wav"}, "name"},
		{"missing sample", map[string]string{"name": "Mom"}, "sample_url"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body, _ := json.Marshal(tc.body)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/voice-profiles", bytes.NewReader(body))
			rr := httptest.NewRecorder()

			h.CreateVoice(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", rr.Code)
			}
			var resp models.ErrorResponse
			json.NewDecoder(rr.Body).Decode(&resp)
			if _, ok := resp.Error.Fields[tc.field]; !ok {
				t.Errorf("Expected %s field error, got %v", tc.field, resp.Error.Fields)
			}
		})
	}
}

// ─── Shared Helper Tests ───

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()

	writeJSON(rr, http.StatusAccepted, map[string]string{"status": "queued"})

	if rr.Code != http.StatusAccepted {
		t.Errorf("Expected 202, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %q", ct)
	}

	var result map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result["status"] != "queued" {
		t.Errorf("Expected status 'queued', got %q", result["status"])
	}
}

func TestErrorResp_CarriesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")

	resp := errorResp("NOT_FOUND", "Job not found", req)

	if resp.Error.Code != "NOT_FOUND" {
		t.Errorf("Expected NOT_FOUND, got %q", resp.Error.Code)
	}
	if resp.Error.RequestID != "req-123" {
		t.Errorf("Expected request id to carry over, got %q", resp.Error.RequestID)
	}
}

func TestHandleServiceError_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", &services.ValidationError{Fields: map[string]string{"x": "bad"}}, http.StatusBadRequest},
		{"conflict", &services.ConflictError{Message: "exists"}, http.StatusConflict},
		{"not found", &services.NotFoundError{Message: "missing"}, http.StatusNotFound},
		{"unauthorized", &services.UnauthorizedError{Message: "nope"}, http.StatusUnauthorized},
		{"forbidden", &services.ForbiddenError{Message: "not yours"}, http.StatusForbidden},
		{"rate limited", &services.RateLimitError{Message: "slow down"}, http.StatusTooManyRequests},
		{"unknown", context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)

			handleServiceError(rr, req, tc.err)

			if rr.Code != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, rr.Code)
			}
		})
	}
}
