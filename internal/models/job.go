package models

import (
	"time"

	"github.com/google/uuid"
)

// Job status values. These are the internal state machine states; the polled
// API collapses the three working states into "processing" (see PublicStatus).
const (
	JobStatusPending      = "pending"
	JobStatusAnalyzing    = "analyzing"
	JobStatusSynthesizing = "synthesizing"
	JobStatusComposing    = "composing"
	JobStatusCompleted    = "completed"
	JobStatusFailed       = "failed"
)

// Current-step tags exposed in the status document.
const (
	StepInit         = "init"
	StepAnalyzing    = "analyzing"
	StepSynthesizing = "synthesizing"
	StepComposing    = "composing"
	StepCompleted    = "completed"
)

// SpeakerConfig assigns a voice and optionally an avatar to one detected
// speaker. A nil VoiceProfileID keeps the speaker's original voice; a nil
// AvatarProfileID means audio only. Disabled speakers are removed from the
// mix entirely.
type SpeakerConfig struct {
	SpeakerID       string     `json:"speaker_id"`
	VoiceProfileID  *uuid.UUID `json:"voice_profile_id"`
	AvatarProfileID *uuid.UUID `json:"avatar_profile_id"`
	Enabled         bool       `json:"enabled"`
}

// SpeakerSynthesis is the persisted output of the synthesis stage for one
// speaker. Recorded on the job as each speaker finishes so a restarted worker
// can skip completed speakers.
type SpeakerSynthesis struct {
	AudioRef       string  `json:"audio_ref"`
	AvatarVideoRef *string `json:"avatar_video_ref,omitempty"`
}

// GenerationJob is the aggregate root of the pipeline. Rows are inserted once
// at submission, field-updated by the single worker executing the job, and
// frozen once terminal (the repository refuses further mutation).
type GenerationJob struct {
	ID             uuid.UUID                   `json:"id"`
	UserID         uuid.UUID                   `json:"user_id"`
	StoryID        uuid.UUID                   `json:"story_id"`
	SpeakerConfigs []SpeakerConfig             `json:"speaker_configs"`
	FullVideo      bool                        `json:"full_video"`
	Status         string                      `json:"status"`
	Progress       int                         `json:"progress"`
	CurrentStep    string                      `json:"current_step"`
	Synthesis      map[string]SpeakerSynthesis `json:"synthesis,omitempty"`
	FinalVideoURL  *string                     `json:"final_video_url"`
	ErrorMessage   *string                     `json:"error_message"`
	RetryCount     int                         `json:"retry_count"`
	CreatedAt      time.Time                   `json:"created_at"`
	CompletedAt    *time.Time                  `json:"completed_at"`
}

// IsTerminal reports whether the job has reached a final state.
func (j *GenerationJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// EnabledConfigs returns the enabled speaker configurations.
func (j *GenerationJob) EnabledConfigs() []SpeakerConfig {
	var enabled []SpeakerConfig
	for _, sc := range j.SpeakerConfigs {
		if sc.Enabled {
			enabled = append(enabled, sc)
		}
	}
	return enabled
}

// PublicStatus maps an internal job status to the polled representation:
// pending | processing | completed | failed.
func PublicStatus(status string) string {
	switch status {
	case JobStatusAnalyzing, JobStatusSynthesizing, JobStatusComposing:
		return "processing"
	default:
		return status
	}
}

// GenerateRequest is the submission body. Either SpeakerConfigs or the legacy
// single-profile pair must be present; the legacy pair is normalized into a
// one-entry configuration before validation.
type GenerateRequest struct {
	StoryID         uuid.UUID       `json:"story_id"`
	SpeakerConfigs  []SpeakerConfig `json:"speaker_configs"`
	VoiceProfileID  *uuid.UUID      `json:"voice_profile_id"`
	AvatarProfileID *uuid.UUID      `json:"avatar_profile_id"`
	FullVideo       bool            `json:"full_video"`
}

// JobStatusResponse is the document returned to polling clients.
type JobStatusResponse struct {
	JobID          uuid.UUID       `json:"job_id"`
	Status         string          `json:"status"`
	Progress       int             `json:"progress"`
	CurrentStep    string          `json:"current_step"`
	FinalVideoURL  *string         `json:"final_video_url"`
	Error          *string         `json:"error"`
	SpeakerConfigs []SpeakerConfig `json:"speaker_configs"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
}

// StatusDocument builds the polled representation of a job.
func (j *GenerationJob) StatusDocument() JobStatusResponse {
	return JobStatusResponse{
		JobID:          j.ID,
		Status:         PublicStatus(j.Status),
		Progress:       j.Progress,
		CurrentStep:    j.CurrentStep,
		FinalVideoURL:  j.FinalVideoURL,
		Error:          j.ErrorMessage,
		SpeakerConfigs: j.SpeakerConfigs,
		CreatedAt:      j.CreatedAt,
		CompletedAt:    j.CompletedAt,
	}
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
