package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fablevoice-backend/internal/models"
	"fablevoice-backend/internal/repository"
)

// maxConcurrentSynthesis bounds per-speaker parallelism within one job. The
// speaker cap is 2, so bound matches cardinality.
const maxConcurrentSynthesis = 2

// JobStore is the persistence surface the orchestrator mutates. Only the
// worker executing a job calls these, so no locking is needed beyond the
// repository's own terminal guard.
type JobStore interface {
	SetStep(ctx context.Context, id uuid.UUID, status, step string, progress int) error
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error
	SaveSpeakerResult(ctx context.Context, id uuid.UUID, speakerID string, res models.SpeakerSynthesis) error
	Complete(ctx context.Context, id uuid.UUID, finalVideoURL string) error
	Fail(ctx context.Context, id uuid.UUID, msg string) error
}

// StoryStore reads stories and writes analysis results back to them.
type StoryStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error)
	SaveDetection(ctx context.Context, storyID uuid.UUID, det *models.SpeakerDetection) error
	MarkAnalysisFailed(ctx context.Context, storyID uuid.UUID, msg string) error
}

// Orchestrator drives a generation job through analysis, synthesis and
// composition. All stage errors are caught here and recorded on the job; a
// job never leaves Run stuck in a non-terminal state except on
// infrastructure errors, which the worker retries.
type Orchestrator struct {
	jobs         JobStore
	stories      StoryStore
	profiles     ProfileLookup
	analysis     AnalysisStage
	synthesis    SynthesisStage
	composition  CompositionStage
	stageTimeout time.Duration
}

func NewOrchestrator(
	jobs JobStore,
	stories StoryStore,
	profiles ProfileLookup,
	analysis AnalysisStage,
	synthesis SynthesisStage,
	composition CompositionStage,
	stageTimeout time.Duration,
) *Orchestrator {
	return &Orchestrator{
		jobs:         jobs,
		stories:      stories,
		profiles:     profiles,
		analysis:     analysis,
		synthesis:    synthesis,
		composition:  composition,
		stageTimeout: stageTimeout,
	}
}

// Run executes a job to a terminal state. It is safe to call again on a job
// that was interrupted mid-flight: analysis is skipped when the story has a
// cached detection, and speakers whose synthesis output is already recorded
// are not redone.
func (o *Orchestrator) Run(ctx context.Context, job *models.GenerationJob) error {
	if job.IsTerminal() {
		return nil
	}

	story, err := o.stories.GetByID(ctx, job.StoryID)
	if err != nil {
		return &InfraError{Err: fmt.Errorf("failed to load story %s: %w", job.StoryID, err)}
	}

	detection := story.Detection
	if detection == nil {
		// Fail fast if a prior analysis of this story already failed; a new
		// attempt needs an explicit re-analysis request.
		if story.AnalysisError != nil {
			return o.fail(ctx, job, &StageError{
				Stage: StageAnalysis,
				Err:   fmt.Errorf("speaker analysis previously failed: %s", *story.AnalysisError),
			})
		}

		if err := o.step(ctx, job, models.JobStatusAnalyzing, models.StepAnalyzing, 10); err != nil {
			return err
		}

		detection, err = o.runAnalysis(ctx, story)
		if err != nil {
			return o.fail(ctx, job, err)
		}
	}

	if err := o.step(ctx, job, models.JobStatusSynthesizing, models.StepSynthesizing, 40); err != nil {
		return err
	}

	outputs, err := o.runSynthesis(ctx, job, detection)
	if err != nil {
		return o.fail(ctx, job, err)
	}

	if err := o.step(ctx, job, models.JobStatusComposing, models.StepComposing, 80); err != nil {
		return err
	}

	sctx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	finalURL, err := o.composition.Compose(sctx, CompositionInput{
		JobID:              job.ID,
		SourceVideoURL:     story.VideoURL,
		BackgroundAudioRef: detection.BackgroundAudioRef,
		Tracks:             outputs,
		FullVideo:          job.FullVideo,
	})
	cancel()
	if err != nil {
		return o.fail(ctx, job, wrapStage(StageComposition, err))
	}

	if err := o.jobs.Complete(ctx, job.ID, finalURL); err != nil {
		// A terminal guard trip here means a prior interrupted run already
		// recorded completion; nothing left to do.
		if errors.Is(err, repository.ErrJobTerminal) {
			return nil
		}
		return &InfraError{Err: fmt.Errorf("failed to record completion of job %s: %w", job.ID, err)}
	}

	job.Status = models.JobStatusCompleted
	job.FinalVideoURL = &finalURL
	return nil
}

// runAnalysis invokes the analysis stage and caches the result on the story.
// A stage failure is also recorded on the story so later jobs fail fast.
func (o *Orchestrator) runAnalysis(ctx context.Context, story *models.Story) (*models.SpeakerDetection, error) {
	sctx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	det, err := o.analysis.Analyze(sctx, story)
	cancel()
	if err != nil {
		stageErr := wrapStage(StageAnalysis, err)
		if markErr := o.stories.MarkAnalysisFailed(ctx, story.ID, err.Error()); markErr != nil {
			log.Printf("failed to record analysis error for story %s: %v", story.ID, markErr)
		}
		return nil, stageErr
	}

	if err := o.stories.SaveDetection(ctx, story.ID, det); err != nil {
		return nil, &InfraError{Err: fmt.Errorf("failed to cache detection for story %s: %w", story.ID, err)}
	}
	return det, nil
}

// runSynthesis processes every enabled speaker, in parallel up to the bound,
// skipping speakers whose recorded output already satisfies their
// configuration. Outputs come back ordered by ascending speaker id.
func (o *Orchestrator) runSynthesis(ctx context.Context, job *models.GenerationJob, detection *models.SpeakerDetection) ([]SpeakerOutput, error) {
	enabled := job.EnabledConfigs()
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].SpeakerID < enabled[j].SpeakerID })

	outputs := make([]SpeakerOutput, len(enabled))
	total := len(enabled)
	var completed int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSynthesis)

	for i, sc := range enabled {
		track := detection.Speaker(sc.SpeakerID)
		if track == nil {
			return nil, &StageError{
				Stage:     StageSynthesis,
				SpeakerID: sc.SpeakerID,
				Err:       fmt.Errorf("speaker is not present in the story's analysis"),
			}
		}

		// Resume path: reuse an output recorded before a restart, as long as
		// it covers what the configuration asks for.
		if prev, ok := job.Synthesis[sc.SpeakerID]; ok && outputSatisfies(prev, sc) {
			outputs[i] = SpeakerOutput{Speaker: *track, Result: prev}
			done := atomic.AddInt64(&completed, 1)
			o.reportSynthesisProgress(ctx, job.ID, done, total)
			continue
		}

		i, sc, track := i, sc, track
		g.Go(func() error {
			in, err := o.buildSynthesisInput(gctx, job, sc, *track)
			if err != nil {
				return err
			}

			sctx, cancel := context.WithTimeout(gctx, o.stageTimeout)
			res, err := o.synthesis.Synthesize(sctx, in)
			cancel()
			if err != nil {
				return wrapSpeaker(sc.SpeakerID, err)
			}

			if err := o.jobs.SaveSpeakerResult(gctx, job.ID, sc.SpeakerID, res); err != nil {
				return &InfraError{Err: fmt.Errorf("failed to record synthesis for %s: %w", sc.SpeakerID, err)}
			}

			outputs[i] = SpeakerOutput{Speaker: *track, Result: res}
			done := atomic.AddInt64(&completed, 1)
			o.reportSynthesisProgress(gctx, job.ID, done, total)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// buildSynthesisInput resolves the profiles a speaker's configuration
// references. A profile that disappeared since submission is reported as
// that speaker's failure.
func (o *Orchestrator) buildSynthesisInput(ctx context.Context, job *models.GenerationJob, sc models.SpeakerConfig, track models.SpeakerTrack) (SynthesisInput, error) {
	in := SynthesisInput{JobID: job.ID, Speaker: track}

	if sc.VoiceProfileID != nil {
		vp, err := o.profiles.GetVoiceByID(ctx, *sc.VoiceProfileID)
		if err != nil {
			return in, &StageError{
				Stage:     StageSynthesis,
				SpeakerID: sc.SpeakerID,
				Op:        OpVoiceClone,
				Err:       fmt.Errorf("voice profile is no longer available"),
			}
		}
		in.VoiceProfile = vp
	}

	if sc.AvatarProfileID != nil {
		ap, err := o.profiles.GetAvatarByID(ctx, *sc.AvatarProfileID)
		if err != nil {
			return in, &StageError{
				Stage:     StageSynthesis,
				SpeakerID: sc.SpeakerID,
				Op:        OpAvatarRender,
				Err:       fmt.Errorf("avatar profile is no longer available"),
			}
		}
		in.AvatarProfile = ap
	}

	return in, nil
}

// reportSynthesisProgress interpolates the 40-80 band by the fraction of
// enabled speakers whose track is ready. Advisory only; errors are logged,
// not propagated.
func (o *Orchestrator) reportSynthesisProgress(ctx context.Context, jobID uuid.UUID, done int64, total int) {
	progress := 40 + int(40*float64(done)/float64(total))
	if err := o.jobs.UpdateProgress(ctx, jobID, progress); err != nil {
		log.Printf("failed to update progress for job %s: %v", jobID, err)
	}
}

// outputSatisfies reports whether a recorded synthesis output covers the
// configuration: an avatar assignment needs a rendered clip, audio is always
// required.
func outputSatisfies(res models.SpeakerSynthesis, sc models.SpeakerConfig) bool {
	if res.AudioRef == "" {
		return false
	}
	if sc.AvatarProfileID != nil && res.AvatarVideoRef == nil {
		return false
	}
	return true
}

// step advances the job's durable state. A terminal guard trip means some
// other path already finished the job; that is not an error here.
func (o *Orchestrator) step(ctx context.Context, job *models.GenerationJob, status, stepName string, progress int) error {
	if err := o.jobs.SetStep(ctx, job.ID, status, stepName, progress); err != nil {
		return &InfraError{Err: fmt.Errorf("failed to advance job %s to %s: %w", job.ID, stepName, err)}
	}
	job.Status = status
	job.CurrentStep = stepName
	if progress > job.Progress {
		job.Progress = progress
	}
	return nil
}

// fail records a stage error on the job and returns it. If the record write
// itself fails the error is reclassified as infrastructure so the worker
// retries, which will land back here.
func (o *Orchestrator) fail(ctx context.Context, job *models.GenerationJob, stageErr error) error {
	var infra *InfraError
	if errors.As(stageErr, &infra) {
		return stageErr
	}

	msg := stageErr.Error()
	if err := o.jobs.Fail(ctx, job.ID, msg); err != nil {
		return &InfraError{Err: fmt.Errorf("failed to record failure of job %s: %w", job.ID, err)}
	}

	job.Status = models.JobStatusFailed
	job.ErrorMessage = &msg
	return stageErr
}

// Reanalyze runs the analysis stage for a story outside any job, overwriting
// the cached detection. Used for explicit re-analysis requests.
func (o *Orchestrator) Reanalyze(ctx context.Context, storyID uuid.UUID) error {
	story, err := o.stories.GetByID(ctx, storyID)
	if err != nil {
		return &InfraError{Err: fmt.Errorf("failed to load story %s: %w", storyID, err)}
	}

	_, err = o.runAnalysis(ctx, story)
	return err
}

// wrapStage attributes an error to a stage unless it already carries stage
// or infrastructure context.
func wrapStage(stage string, err error) error {
	var se *StageError
	var ie *InfraError
	if errors.As(err, &se) || errors.As(err, &ie) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// wrapSpeaker attributes a synthesis error to a speaker unless the stage
// already named one.
func wrapSpeaker(speakerID string, err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	var ie *InfraError
	if errors.As(err, &ie) {
		return err
	}
	return &StageError{Stage: StageSynthesis, SpeakerID: speakerID, Err: err}
}
