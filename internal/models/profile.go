package models

import (
	"time"

	"github.com/google/uuid"
)

// VoiceProfile references a captured voice sample usable as a cloning source.
// The sample itself lives in object storage; only the URL is held here.
type VoiceProfile struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	SampleURL string    `json:"sample_url"`
	CreatedAt time.Time `json:"created_at"`
}

// AvatarProfile references a face image usable for lip-synced video generation.
type AvatarProfile struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	ImageURL  string    `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateVoiceProfileRequest struct {
	Name      string `json:"name"`
	SampleURL string `json:"sample_url"`
}

type CreateAvatarProfileRequest struct {
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}
