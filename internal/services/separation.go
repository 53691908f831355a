package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"fablevoice-backend/internal/models"
)

// MaxDetectedSpeakers caps diarization output regardless of any externally
// supplied hint. Two speakers bound synthesis cost and keep the picker UI
// manageable; anything the model finds beyond that is folded into background.
const MaxDetectedSpeakers = 2

// SeparationService talks to the audio extraction / vocal separation /
// diarization service.
type SeparationService struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewSeparationService(baseURL, apiKey string, timeout time.Duration) *SeparationService {
	return &SeparationService{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// SeparationResult holds the vendor URLs for the split tracks.
type SeparationResult struct {
	VocalsURL     string `json:"vocals_url"`
	BackgroundURL string `json:"background_url"`
}

// DiarizedCluster is one speaker cluster as reported by the diarization model.
type DiarizedCluster struct {
	SpeakerID string           `json:"speaker_id"`
	Gender    string           `json:"gender"`
	AudioURL  string           `json:"audio_url"`
	Duration  float64          `json:"duration_seconds"`
	Segments  []models.Segment `json:"segments"`
}

// Separate extracts the audio track from the source video and splits vocals
// from background.
func (s *SeparationService) Separate(ctx context.Context, videoURL string) (*SeparationResult, error) {
	payload := map[string]string{"video_url": videoURL}

	var result SeparationResult
	if err := s.postJSON(ctx, "/v1/separate", payload, &result); err != nil {
		return nil, fmt.Errorf("vocal separation failed: %w", err)
	}

	if result.VocalsURL == "" || result.BackgroundURL == "" {
		return nil, fmt.Errorf("separation service returned incomplete track set")
	}
	return &result, nil
}

// Diarize partitions the vocal track into speaker clusters. The maxSpeakers
// hint is clamped to the system cap before it reaches the model, and the
// response is reduced client-side in case the model returns more clusters
// than asked for.
func (s *SeparationService) Diarize(ctx context.Context, vocalsURL string, maxSpeakers int) (kept, merged []DiarizedCluster, err error) {
	capped := clampSpeakerCount(maxSpeakers)

	payload := map[string]interface{}{
		"audio_url":    vocalsURL,
		"max_speakers": capped,
	}

	var result struct {
		Clusters []DiarizedCluster `json:"clusters"`
	}
	if err := s.postJSON(ctx, "/v1/diarize", payload, &result); err != nil {
		return nil, nil, fmt.Errorf("diarization failed: %w", err)
	}

	kept, merged = reduceClusters(result.Clusters, capped)
	return kept, merged, nil
}

// clampSpeakerCount bounds a speaker-count hint to [1, maxDetectedSpeakers].
func clampSpeakerCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxDetectedSpeakers {
		return MaxDetectedSpeakers
	}
	return n
}

// reduceClusters keeps the max most-talked clusters and returns the rest for
// merging into the background mix. Kept clusters come back in ascending
// speaker-id order.
func reduceClusters(clusters []DiarizedCluster, max int) (kept, merged []DiarizedCluster) {
	if len(clusters) <= max {
		kept = append(kept, clusters...)
		sort.Slice(kept, func(i, j int) bool { return kept[i].SpeakerID < kept[j].SpeakerID })
		return kept, nil
	}

	byTalkTime := append([]DiarizedCluster(nil), clusters...)
	sort.SliceStable(byTalkTime, func(i, j int) bool { return byTalkTime[i].Duration > byTalkTime[j].Duration })

	kept = byTalkTime[:max]
	merged = byTalkTime[max:]

	sort.Slice(kept, func(i, j int) bool { return kept[i].SpeakerID < kept[j].SpeakerID })
	return kept, merged
}

func (s *SeparationService) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("service returned status %d: %s", resp.StatusCode, string(msg))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
