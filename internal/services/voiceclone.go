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

// VoiceCloneService converts a speaker's original track into the cloned voice
// from a voice profile sample.
type VoiceCloneService struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewVoiceCloneService(baseURL, apiKey string, timeout time.Duration) *VoiceCloneService {
	return &VoiceCloneService{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Clone re-speaks sourceAudioURL in the voice captured at sampleURL and
// returns the vendor URL of the generated track.
func (s *VoiceCloneService) Clone(ctx context.Context, sourceAudioURL, sampleURL string) (string, error) {
	payload := map[string]string{
		"source_audio_url": sourceAudioURL,
		"voice_sample_url": sampleURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode clone request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/clone", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build clone request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("voice cloning request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("voice cloning service returned status %d: %s", resp.StatusCode, string(msg))
	}

	var result struct {
		AudioURL string `json:"audio_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode clone response: %w", err)
	}
	if result.AudioURL == "" {
		return "", fmt.Errorf("voice cloning service returned no audio URL")
	}

	return result.AudioURL, nil
}
