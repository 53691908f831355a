package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fablevoice-backend/internal/models"
)

// ComposerService merges the per-speaker tracks, background audio and avatar
// overlays into the final deliverable.
type ComposerService struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewComposerService(baseURL, apiKey string, timeout time.Duration) *ComposerService {
	return &ComposerService{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// ComposeTrack is one speaker's synthesized audio placed on the timeline at
// that speaker's diarized intervals.
type ComposeTrack struct {
	SpeakerID string           `json:"speaker_id"`
	AudioURL  string           `json:"audio_url"`
	Segments  []models.Segment `json:"segments"`
}

// ComposeOverlay is one speaker's avatar clip drawn picture-in-picture.
// Overlays must be supplied in draw order; the compositor renders them
// bottom-up in the order given.
type ComposeOverlay struct {
	SpeakerID string           `json:"speaker_id"`
	VideoURL  string           `json:"video_url"`
	Segments  []models.Segment `json:"segments"`
}

type ComposeRequest struct {
	SourceVideoURL     string           `json:"source_video_url"`
	BackgroundAudioURL string           `json:"background_audio_url"`
	Tracks             []ComposeTrack   `json:"tracks"`
	Overlays           []ComposeOverlay `json:"overlays,omitempty"`
	FullVideo          bool             `json:"full_video"`
}

// Compose runs the final merge and returns the vendor URL of the artifact:
// an audio container when FullVideo is false, a video otherwise.
func (s *ComposerService) Compose(ctx context.Context, req ComposeRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode compose request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/compose", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build compose request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("composition request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("composer service returned status %d: %s", resp.StatusCode, string(msg))
	}

	var result struct {
		OutputURL string `json:"output_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode compose response: %w", err)
	}
	if result.OutputURL == "" {
		return "", fmt.Errorf("composer service returned no output URL")
	}

	return result.OutputURL, nil
}
