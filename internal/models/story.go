package models

import (
	"time"

	"github.com/google/uuid"
)

// Story is a source video from the story catalog. The video itself is never
// mutated; jobs only reference it. Speaker detection is cached on the record
// after the first analysis run and swapped whole on re-analysis.
type Story struct {
	ID               uuid.UUID         `json:"id"`
	Title            string            `json:"title"`
	VideoURL         string            `json:"video_url"`
	DurationSeconds  float64           `json:"duration_seconds"`
	Detection        *SpeakerDetection `json:"detection,omitempty"`
	DetectionVersion int               `json:"detection_version"`
	AnalysisError    *string           `json:"analysis_error,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// SpeakerDetection is the cached result of the analysis stage for one story.
// Cardinality of Speakers is always 1 or 2.
type SpeakerDetection struct {
	Speakers           []SpeakerTrack `json:"speakers"`
	BackgroundAudioRef string         `json:"background_audio_ref"`
	AnalyzedAt         time.Time      `json:"analyzed_at"`
}

// Speaker returns the track with the given id, or nil if unknown.
func (d *SpeakerDetection) Speaker(speakerID string) *SpeakerTrack {
	for i := range d.Speakers {
		if d.Speakers[i].SpeakerID == speakerID {
			return &d.Speakers[i]
		}
	}
	return nil
}

type SpeakerTrack struct {
	SpeakerID     string    `json:"speaker_id"` // "SPEAKER_00" | "SPEAKER_01"
	Label         string    `json:"label"`
	Gender        string    `json:"gender"` // "male" | "female" | "unknown"
	AudioTrackRef string    `json:"audio_track_ref"`
	Duration      float64   `json:"duration_seconds"`
	Segments      []Segment `json:"segments"`
	Words         []Word    `json:"words,omitempty"`
}

// Segment is one interval during which the speaker is talking,
// in seconds from the start of the video.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Word is a single word-level caption entry.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}
