package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"fablevoice-backend/internal/models"
	"fablevoice-backend/internal/services"
)

// Production stage implementations calling the real external services. Each
// writes its artifacts into the store under job/speaker-scoped keys, so a
// re-invocation overwrites its own prior output instead of corrupting state.

// WordTranscriber produces word-level captions for an audio track.
// *services.CaptionService is the production implementation.
type WordTranscriber interface {
	TranscribeWords(ctx context.Context, audio []byte, mimeType string) ([]models.Word, error)
}

// AnalysisRunner implements AnalysisStage against the separation service and
// the caption model.
type AnalysisRunner struct {
	separation *services.SeparationService
	captions   WordTranscriber
	store      *services.ArtifactStore
}

func NewAnalysisRunner(separation *services.SeparationService, captions WordTranscriber, store *services.ArtifactStore) *AnalysisRunner {
	return &AnalysisRunner{separation: separation, captions: captions, store: store}
}

func (a *AnalysisRunner) Analyze(ctx context.Context, story *models.Story) (*models.SpeakerDetection, error) {
	sep, err := a.separation.Separate(ctx, story.VideoURL)
	if err != nil {
		return nil, err
	}

	backgroundRef, err := a.store.Ingest(ctx, sep.BackgroundURL, services.StoryTrackKey(story.ID, "background.wav"))
	if err != nil {
		return nil, fmt.Errorf("failed to store background track: %w", err)
	}

	kept, merged, err := a.separation.Diarize(ctx, sep.VocalsURL, services.MaxDetectedSpeakers)
	if err != nil {
		return nil, err
	}

	// Zero confident clusters is not a failure: treat the whole vocal track
	// as a single speaker.
	if len(kept) == 0 {
		kept = []services.DiarizedCluster{{
			SpeakerID: PrimarySpeakerID,
			Gender:    "unknown",
			AudioURL:  sep.VocalsURL,
			Duration:  story.DurationSeconds,
			Segments:  []models.Segment{{Start: 0, End: story.DurationSeconds}},
		}}
	}

	if len(merged) > 0 {
		log.Printf("story %s: diarization returned %d extra clusters, folded into background", story.ID, len(merged))
	}

	det := &models.SpeakerDetection{
		BackgroundAudioRef: backgroundRef,
		AnalyzedAt:         time.Now(),
	}

	for i, cluster := range kept {
		key := services.StoryTrackKey(story.ID, cluster.SpeakerID+".wav")
		audioRef, err := a.store.Ingest(ctx, cluster.AudioURL, key)
		if err != nil {
			return nil, fmt.Errorf("failed to store track for %s: %w", cluster.SpeakerID, err)
		}

		track := models.SpeakerTrack{
			SpeakerID:     cluster.SpeakerID,
			Label:         fmt.Sprintf("Speaker %d", i+1),
			Gender:        cluster.Gender,
			AudioTrackRef: audioRef,
			Duration:      cluster.Duration,
			Segments:      cluster.Segments,
		}

		// Captions are for display only; a transcription failure degrades
		// the result rather than failing the whole analysis.
		words, err := a.transcribeTrack(ctx, key)
		if err != nil {
			log.Printf("caption transcription failed for story %s %s: %v", story.ID, cluster.SpeakerID, err)
		} else {
			track.Words = words
		}

		det.Speakers = append(det.Speakers, track)
	}

	return det, nil
}

func (a *AnalysisRunner) transcribeTrack(ctx context.Context, key string) ([]models.Word, error) {
	f, err := a.store.Open(key)
	if err != nil {
		return nil, fmt.Errorf("failed to open stored track: %w", err)
	}
	defer f.Close()

	audio, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored track: %w", err)
	}

	mimeType := "audio/wav"
	if path.Ext(key) == ".mp3" {
		mimeType = "audio/mpeg"
	}

	return a.captions.TranscribeWords(ctx, audio, mimeType)
}

// SynthesisRunner implements SynthesisStage against the voice-clone and
// avatar services.
type SynthesisRunner struct {
	clone  *services.VoiceCloneService
	avatar *services.AvatarService
	store  *services.ArtifactStore
}

func NewSynthesisRunner(clone *services.VoiceCloneService, avatar *services.AvatarService, store *services.ArtifactStore) *SynthesisRunner {
	return &SynthesisRunner{clone: clone, avatar: avatar, store: store}
}

func (s *SynthesisRunner) Synthesize(ctx context.Context, in SynthesisInput) (models.SpeakerSynthesis, error) {
	speakerID := in.Speaker.SpeakerID
	res := models.SpeakerSynthesis{}

	// No voice profile: the original extracted track passes through.
	audioRef := in.Speaker.AudioTrackRef

	if in.VoiceProfile != nil {
		clonedURL, err := s.clone.Clone(ctx, in.Speaker.AudioTrackRef, in.VoiceProfile.SampleURL)
		if err != nil {
			return res, &StageError{Stage: StageSynthesis, SpeakerID: speakerID, Op: OpVoiceClone, Err: err}
		}

		audioRef, err = s.store.Ingest(ctx, clonedURL, services.SpeakerVoiceKey(in.JobID, speakerID))
		if err != nil {
			return res, &StageError{Stage: StageSynthesis, SpeakerID: speakerID, Op: OpVoiceClone, Err: err}
		}
	}
	res.AudioRef = audioRef

	if in.AvatarProfile != nil {
		videoURL, err := s.avatar.Render(ctx, in.AvatarProfile.ImageURL, audioRef)
		if err != nil {
			return res, &StageError{Stage: StageSynthesis, SpeakerID: speakerID, Op: OpAvatarRender, Err: err}
		}

		avatarRef, err := s.store.Ingest(ctx, videoURL, services.SpeakerAvatarKey(in.JobID, speakerID))
		if err != nil {
			return res, &StageError{Stage: StageSynthesis, SpeakerID: speakerID, Op: OpAvatarRender, Err: err}
		}
		res.AvatarVideoRef = &avatarRef
	}

	return res, nil
}

// CompositionRunner implements CompositionStage against the composer service.
type CompositionRunner struct {
	composer *services.ComposerService
	store    *services.ArtifactStore
}

func NewCompositionRunner(composer *services.ComposerService, store *services.ArtifactStore) *CompositionRunner {
	return &CompositionRunner{composer: composer, store: store}
}

func (c *CompositionRunner) Compose(ctx context.Context, in CompositionInput) (string, error) {
	req := services.ComposeRequest{
		SourceVideoURL:     in.SourceVideoURL,
		BackgroundAudioURL: in.BackgroundAudioRef,
		FullVideo:          in.FullVideo,
	}

	// Tracks arrive ordered by ascending speaker id; preserving that order
	// here is what makes overlay stacking reproducible.
	for _, out := range in.Tracks {
		req.Tracks = append(req.Tracks, services.ComposeTrack{
			SpeakerID: out.Speaker.SpeakerID,
			AudioURL:  out.Result.AudioRef,
			Segments:  out.Speaker.Segments,
		})

		if in.FullVideo && out.Result.AvatarVideoRef != nil {
			req.Overlays = append(req.Overlays, services.ComposeOverlay{
				SpeakerID: out.Speaker.SpeakerID,
				VideoURL:  *out.Result.AvatarVideoRef,
				Segments:  out.Speaker.Segments,
			})
		}
	}

	outputURL, err := c.composer.Compose(ctx, req)
	if err != nil {
		return "", err
	}

	finalURL, err := c.store.Ingest(ctx, outputURL, services.FinalVideoKey(in.JobID, in.FullVideo))
	if err != nil {
		return "", fmt.Errorf("failed to store final artifact: %w", err)
	}

	return finalURL, nil
}
