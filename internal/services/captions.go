package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"fablevoice-backend/internal/models"
)

// CaptionService produces word-level captions for a speaker's audio track
// using Gemini's multimodal transcription.
type CaptionService struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	rateChan chan struct{} // Token bucket
}

func NewCaptionService(apiKey string, concurrentReqs int) (*CaptionService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel("gemini-3-flash-preview")
	model.SetTemperature(0.1)

	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &CaptionService{
		client:   client,
		model:    model,
		rateChan: rateChan,
	}, nil
}

func (s *CaptionService) Close() {
	s.client.Close()
}

// acquireRate blocks until a rate slot is available
func (s *CaptionService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (s *CaptionService) releaseRate() {
	s.rateChan <- struct{}{}
}

// TranscribeWords uploads one speaker's audio track and returns word-level
// captions with start/end offsets in seconds.
func (s *CaptionService) TranscribeWords(ctx context.Context, audio []byte, mimeType string) ([]models.Word, error) {
	if err := s.acquireRate(ctx); err != nil {
		return nil, err
	}
	defer s.releaseRate()

	if len(audio) == 0 {
		return nil, fmt.Errorf("audio payload is empty")
	}

	file, err := s.client.UploadFile(ctx, "", bytes.NewReader(audio), &genai.UploadFileOptions{
		DisplayName: "speaker-track",
		MIMEType:    mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload audio to Gemini: %w", err)
	}

	// Ensure remote file is cleaned up
	defer s.client.DeleteFile(context.Background(), file.Name)

	// Wait until file is active
	for i := 0; i < 20; i++ {
		current, getErr := s.client.GetFile(ctx, file.Name)
		if getErr != nil {
			return nil, fmt.Errorf("failed to get uploaded file status: %w", getErr)
		}

		if current.State == genai.FileStateActive {
			file = current
			break
		}
		if current.State == genai.FileStateFailed {
			return nil, fmt.Errorf("Gemini failed to process uploaded audio file")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	if file.State != genai.FileStateActive {
		return nil, fmt.Errorf("audio file did not become active in time")
	}

	prompt := `Transcribe the provided audio with word-level timestamps.
Return ONLY a JSON array, no markdown fences, where each element is
{"text": "<word>", "start": <seconds>, "end": <seconds>}.`

	resp, err := s.model.GenerateContent(ctx,
		genai.Text(prompt),
		genai.FileData{MIMEType: mimeType, URI: file.URI},
	)
	if err != nil {
		return nil, fmt.Errorf("Gemini transcription error: %w", err)
	}

	raw := strings.TrimSpace(extractText(resp))
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var words []models.Word
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &words); err != nil {
		return nil, fmt.Errorf("failed to parse word-level captions: %w", err)
	}

	return words, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
