package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AvatarService drives the lip-sync video generator. The vendor is
// asynchronous: submit returns a render id that is polled until terminal.
type AvatarService struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	pollInterval time.Duration
	pollBudget   time.Duration
}

func NewAvatarService(baseURL, apiKey string, timeout time.Duration) *AvatarService {
	return &AvatarService{
		baseURL:      baseURL,
		apiKey:       apiKey,
		client:       &http.Client{Timeout: 60 * time.Second},
		pollInterval: 5 * time.Second,
		pollBudget:   timeout,
	}
}

type renderStatus string

const (
	renderQueued    renderStatus = "queued"
	renderRunning   renderStatus = "running"
	renderCompleted renderStatus = "completed"
	renderFailed    renderStatus = "failed"
)

func (s renderStatus) terminal() bool {
	return s == renderCompleted || s == renderFailed
}

// Render produces a lip-synced avatar clip from a face image and a speech
// track, returning the vendor URL of the finished video.
func (s *AvatarService) Render(ctx context.Context, imageURL, audioURL string) (string, error) {
	renderID, err := s.submit(ctx, imageURL, audioURL)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(s.pollBudget)
	for {
		status, videoURL, renderErr, err := s.poll(ctx, renderID)
		if err != nil {
			return "", err
		}

		if status == renderCompleted {
			if videoURL == "" {
				return "", fmt.Errorf("avatar render %s completed without a video URL", renderID)
			}
			return videoURL, nil
		}
		if status == renderFailed {
			return "", fmt.Errorf("avatar render failed: %s", renderErr)
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("avatar render %s did not finish within %s", renderID, s.pollBudget)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

func (s *AvatarService) submit(ctx context.Context, imageURL, audioURL string) (string, error) {
	payload := map[string]string{
		"image_url": imageURL,
		"audio_url": audioURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/renders", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("avatar submit failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("avatar service returned status %d: %s", resp.StatusCode, string(msg))
	}

	var result struct {
		RenderID string `json:"render_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode submit response: %w", err)
	}
	if result.RenderID == "" {
		return "", fmt.Errorf("avatar service returned no render id")
	}
	return result.RenderID, nil
}

func (s *AvatarService) poll(ctx context.Context, renderID string) (renderStatus, string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/renders/"+renderID, nil)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to build poll request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", "", fmt.Errorf("avatar poll failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", "", "", fmt.Errorf("avatar poll returned status %d: %s", resp.StatusCode, string(msg))
	}

	var result struct {
		Status   renderStatus `json:"status"`
		VideoURL string       `json:"video_url"`
		Error    string       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", "", fmt.Errorf("failed to decode poll response: %w", err)
	}

	return result.Status, result.VideoURL, result.Error, nil
}
