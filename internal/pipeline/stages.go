package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"fablevoice-backend/internal/models"
)

// Stage names used in error reporting.
const (
	StageAnalysis    = "analysis"
	StageSynthesis   = "synthesis"
	StageComposition = "composition"
)

// Synthesis sub-operations, named in user-facing errors so a failed speaker
// can be retried with an adjusted configuration.
const (
	OpVoiceClone   = "voice cloning"
	OpAvatarRender = "avatar rendering"
)

// AnalysisStage produces the speaker detection result for a story: split
// tracks, at most two diarized speakers, word-level captions.
type AnalysisStage interface {
	Analyze(ctx context.Context, story *models.Story) (*models.SpeakerDetection, error)
}

// SynthesisInput is the work order for one enabled speaker. A nil
// VoiceProfile passes the original track through; a nil AvatarProfile skips
// the avatar clip.
type SynthesisInput struct {
	JobID         uuid.UUID
	Speaker       models.SpeakerTrack
	VoiceProfile  *models.VoiceProfile
	AvatarProfile *models.AvatarProfile
}

// SynthesisStage produces one speaker's voice track and optional avatar clip.
// Speakers are independent; a failure for one is reported on its own.
type SynthesisStage interface {
	Synthesize(ctx context.Context, in SynthesisInput) (models.SpeakerSynthesis, error)
}

// SpeakerOutput pairs a detected speaker with its synthesis result for
// composition.
type SpeakerOutput struct {
	Speaker models.SpeakerTrack
	Result  models.SpeakerSynthesis
}

// CompositionInput carries everything the final merge needs. Tracks are
// ordered by ascending speaker id; the compositor draws overlays in the order
// given, which makes output reproducible for identical inputs.
type CompositionInput struct {
	JobID              uuid.UUID
	SourceVideoURL     string
	BackgroundAudioRef string
	Tracks             []SpeakerOutput
	FullVideo          bool
}

// CompositionStage merges tracks and overlays into the final artifact and
// returns its durable URL.
type CompositionStage interface {
	Compose(ctx context.Context, in CompositionInput) (string, error)
}

// StageError is a pipeline failure attributed to a stage and, for synthesis,
// to a specific speaker and sub-operation. Its message is what the polling
// client sees in the job's error field.
type StageError struct {
	Stage     string
	SpeakerID string
	Op        string
	Err       error
}

func (e *StageError) Error() string {
	switch {
	case e.SpeakerID != "" && e.Op != "":
		return fmt.Sprintf("%s failed for %s (%s): %v", e.Stage, e.SpeakerID, e.Op, e.Err)
	case e.SpeakerID != "":
		return fmt.Sprintf("%s failed for %s: %v", e.Stage, e.SpeakerID, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
}

func (e *StageError) Unwrap() error { return e.Err }

// InfraError marks a transient infrastructure failure (queue or store
// unavailable). It is not a job failure: the worker layer retries it with
// backoff and the job's own state machine never sees it.
type InfraError struct {
	Err error
}

func (e *InfraError) Error() string { return fmt.Sprintf("infrastructure error: %v", e.Err) }
func (e *InfraError) Unwrap() error { return e.Err }
