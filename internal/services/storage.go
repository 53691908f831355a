package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ArtifactStore keeps stage outputs on local disk under deterministic keys and
// serves them at stable URLs. Keys are scoped by job id (and speaker id where
// applicable), so re-running a stage overwrites its own prior artifact instead
// of accumulating partials.
type ArtifactStore struct {
	root    string
	baseURL string
	client  *http.Client
}

func NewArtifactStore(root, baseURL string) *ArtifactStore {
	return &ArtifactStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

// Ingest downloads a vendor output into the store under key and returns the
// stable public URL. An existing artifact at the same key is overwritten.
func (s *ArtifactStore) Ingest(ctx context.Context, srcURL, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download artifact from %s: %w", srcURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("artifact download returned status %d", resp.StatusCode)
	}

	fullPath := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	// Write to a temp file first so readers never see a partial artifact.
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".ingest-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write artifact %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close artifact %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}

	return s.URL(key), nil
}

// URL returns the stable public URL for a stored key.
func (s *ArtifactStore) URL(key string) string {
	return s.baseURL + "/" + key
}

// Exists reports whether an artifact is already stored at key.
func (s *ArtifactStore) Exists(key string) bool {
	_, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(key)))
	return err == nil
}

// Open reads a stored artifact, e.g. to send audio bytes to the caption model.
func (s *ArtifactStore) Open(key string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.root, filepath.FromSlash(key)))
}

// Artifact key layout.

func SpeakerVoiceKey(jobID uuid.UUID, speakerID string) string {
	return fmt.Sprintf("jobs/%s/synthesis/%s/voice.wav", jobID, speakerID)
}

func SpeakerAvatarKey(jobID uuid.UUID, speakerID string) string {
	return fmt.Sprintf("jobs/%s/synthesis/%s/avatar.mp4", jobID, speakerID)
}

func FinalVideoKey(jobID uuid.UUID, fullVideo bool) string {
	if fullVideo {
		return fmt.Sprintf("jobs/%s/final.mp4", jobID)
	}
	return fmt.Sprintf("jobs/%s/final.m4a", jobID)
}

func StoryTrackKey(storyID uuid.UUID, name string) string {
	return fmt.Sprintf("stories/%s/analysis/%s", storyID, name)
}
