package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fablevoice-backend/internal/models"
)

// ─── Fakes ───

type fakeJobStore struct {
	mu        sync.Mutex
	statuses  []string
	progress  []int
	saved     map[string]models.SpeakerSynthesis
	completed *string
	failedMsg *string
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{saved: make(map[string]models.SpeakerSynthesis)}
}

func (f *fakeJobStore) SetStep(ctx context.Context, id uuid.UUID, status, step string, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	f.progress = append(f.progress, progress)
	return nil
}

func (f *fakeJobStore) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, progress)
	return nil
}

func (f *fakeJobStore) SaveSpeakerResult(ctx context.Context, id uuid.UUID, speakerID string, res models.SpeakerSynthesis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[speakerID] = res
	return nil
}

func (f *fakeJobStore) Complete(ctx context.Context, id uuid.UUID, finalVideoURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = &finalVideoURL
	return nil
}

func (f *fakeJobStore) Fail(ctx context.Context, id uuid.UUID, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedMsg = &msg
	return nil
}

type fakeStoryStore struct {
	story        *models.Story
	savedDet     *models.SpeakerDetection
	analysisFail *string
}

func (f *fakeStoryStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	if f.story == nil {
		return nil, errors.New("story not found")
	}
	return f.story, nil
}

func (f *fakeStoryStore) SaveDetection(ctx context.Context, storyID uuid.UUID, det *models.SpeakerDetection) error {
	f.savedDet = det
	return nil
}

func (f *fakeStoryStore) MarkAnalysisFailed(ctx context.Context, storyID uuid.UUID, msg string) error {
	f.analysisFail = &msg
	return nil
}

type fakeProfiles struct {
	voices  map[uuid.UUID]*models.VoiceProfile
	avatars map[uuid.UUID]*models.AvatarProfile
}

func (f *fakeProfiles) GetVoiceByID(ctx context.Context, id uuid.UUID) (*models.VoiceProfile, error) {
	if p, ok := f.voices[id]; ok {
		return p, nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeProfiles) GetAvatarByID(ctx context.Context, id uuid.UUID) (*models.AvatarProfile, error) {
	if p, ok := f.avatars[id]; ok {
		return p, nil
	}
	return nil, pgx.ErrNoRows
}

type fakeAnalysis struct {
	det   *models.SpeakerDetection
	err   error
	calls int
}

func (f *fakeAnalysis) Analyze(ctx context.Context, story *models.Story) (*models.SpeakerDetection, error) {
	f.calls++
	return f.det, f.err
}

type fakeSynthesis struct {
	mu    sync.Mutex
	calls []string
	fn    func(in SynthesisInput) (models.SpeakerSynthesis, error)
}

func (f *fakeSynthesis) Synthesize(ctx context.Context, in SynthesisInput) (models.SpeakerSynthesis, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in.Speaker.SpeakerID)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(in)
	}
	return models.SpeakerSynthesis{AudioRef: "audio/" + in.Speaker.SpeakerID}, nil
}

type fakeComposition struct {
	input *CompositionInput
	url   string
	err   error
}

func (f *fakeComposition) Compose(ctx context.Context, in CompositionInput) (string, error) {
	f.input = &in
	return f.url, f.err
}

// ─── Fixtures ───

func twoSpeakerDetection() *models.SpeakerDetection {
	return &models.SpeakerDetection{
		Speakers: []models.SpeakerTrack{
			{SpeakerID: "SPEAKER_00", Label: "Speaker 1", AudioTrackRef: "tracks/SPEAKER_00.wav", Duration: 40,
				Segments: []models.Segment{{Start: 0, End: 40}}},
			{SpeakerID: "SPEAKER_01", Label: "Speaker 2", AudioTrackRef: "tracks/SPEAKER_01.wav", Duration: 20,
				Segments: []models.Segment{{Start: 40, End: 60}}},
		},
		BackgroundAudioRef: "tracks/background.wav",
		AnalyzedAt:         time.Now(),
	}
}

func analyzedStory() *models.Story {
	return &models.Story{
		ID:        uuid.New(),
		Title:     "The Three Bears",
		VideoURL:  "https://cdn.example.com/stories/bears.mp4",
		Detection: twoSpeakerDetection(),
	}
}

func jobFor(story *models.Story, configs ...models.SpeakerConfig) *models.GenerationJob {
	return &models.GenerationJob{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		StoryID:        story.ID,
		SpeakerConfigs: configs,
		Status:         models.JobStatusPending,
	}
}

func buildOrchestrator(jobs *fakeJobStore, stories *fakeStoryStore, profiles *fakeProfiles,
	analysis *fakeAnalysis, synthesis *fakeSynthesis, composition *fakeComposition) *Orchestrator {
	if profiles == nil {
		profiles = &fakeProfiles{}
	}
	return NewOrchestrator(jobs, stories, profiles, analysis, synthesis, composition, time.Minute)
}

// ─── Tests ───

func TestRun_CompletesJobWithCachedDetection(t *testing.T) {
	story := analyzedStory()
	job := jobFor(story,
		models.SpeakerConfig{SpeakerID: "SPEAKER_00", Enabled: true},
		models.SpeakerConfig{SpeakerID: "SPEAKER_01", Enabled: true},
	)

	jobs := newFakeJobStore()
	analysis := &fakeAnalysis{}
	synthesis := &fakeSynthesis{}
	composition := &fakeComposition{url: "https://media.example.com/jobs/x/final.mp4"}

	o := buildOrchestrator(jobs, &fakeStoryStore{story: story}, nil, analysis, synthesis, composition)

	if err := o.Run(context.Background(), job); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if jobs.completed == nil || *jobs.completed != composition.url {
		t.Fatalf("Expected completion with %q, got %v", composition.url, jobs.completed)
	}
	if analysis.calls != 0 {
		t.Errorf("Expected cached detection to skip analysis, got %d calls", analysis.calls)
	}
	if len(synthesis.calls) != 2 {
		t.Errorf("Expected 2 synthesis calls, got %d", len(synthesis.calls))
	}
	if job.Status != models.JobStatusCompleted {
		t.Errorf("Expected in-memory status completed, got %q", job.Status)
	}

	// Progress must never move backwards.
	for i := 1; i < len(jobs.progress); i++ {
		if jobs.progress[i] < jobs.progress[i-1] {
			t.Errorf("Progress went backwards: %v", jobs.progress)
			break
		}
	}
}

func TestRun_SynthesisProgressInterpolates(t *testing.T) {
	story := analyzedStory()
	job := jobFor(story,
		models.SpeakerConfig{SpeakerID: "SPEAKER_00", Enabled: true},
		models.SpeakerConfig{SpeakerID: "SPEAKER_01", Enabled: true},
	)

	jobs := newFakeJobStore()
	o := buildOrchestrator(jobs, &fakeStoryStore{story: story}, nil,
		&fakeAnalysis{}, &fakeSynthesis{}, &fakeComposition{url: "final"})

	if err := o.Run(context.Background(), job); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	has60, has80 := false, false
	for _, p := range jobs.progress {
		if p == 60 {
			has60 = true
		}
		if p == 80 {
			has80 = true
		}
	}
	if !has60 || !has80 {
		t.Errorf("Expected progress to pass through 60 and 80, got %v", jobs.progress)
	}
}

func TestRun_RunsAnalysisWhenNotCached(t *testing.T) {
	story := analyzedStory()
	story.Detection = nil
	job := jobFor(story, models.SpeakerConfig{SpeakerID: "SPEAKER_00", Enabled: true})

	jobs := newFakeJobStore()
	stories := &fakeStoryStore{story: story}
	analysis := &fakeAnalysis{det: twoSpeakerDetection()}

	o := buildOrchestrator(jobs, stories, nil, analysis, &fakeSynthesis{}, &fakeComposition{url: "final"})

	if err := o.Run(context.Background(), job); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if analysis.calls != 1 {
		t.Errorf("Expected 1 analysis call, got %d", analysis.calls)
	}
	if stories.savedDet == nil {
		t.Error("Expected detection to be cached on the story")
	}
	if jobs.statuses[0] != models.JobStatusAnalyzing {
		t.Errorf("Expected first transition to analyzing, got %q", jobs.statuses[0])
	}
}

func TestRun_AnalysisFailureRecordedOnStoryAndJob(t *testing.T) {
	story := analyzedStory()
	story.Detection = nil
	job := jobFor(story, models.SpeakerConfig{SpeakerID: "SPEAKER_00", Enabled: true})

	jobs := newFakeJobStore()
	stories := &fakeStoryStore{story: story}
	analysis := &fakeAnalysis{err: errors.New("diarization failed: status 502")}

	o := buildOrchestrator(jobs, stories, nil, analysis, &fakeSynthesis{}, &fakeComposition{})

	if err := o.Run(context.Background(), job); err == nil {
		t.Fatal("Expected an error from Run")
	}

	if jobs.failedMsg == nil {
		t.Fatal("Expected job to be failed")
	}
	if stories.analysisFail == nil {
		t.Error("Expected analysis failure to be recorded on the story")
	}
	if jobs.completed != nil {
		t.Error("Job must not complete after an analysis failure")
	}
}

func TestRun_FailsFastOnPriorAnalysisError(t *testing.T) {
	story := analyzedStory()
	story.Detection = nil
	prior := "diarization failed: status 502"
	story.AnalysisError = &prior
	job := jobFor(story, models.SpeakerConfig{SpeakerID: "SPEAKER_00", Enabled: true})

	jobs := newFakeJobStore()
	analysis := &fakeAnalysis{det: twoSpeakerDetection()}

	o := buildOrchestrator(jobs, &fakeStoryStore{story: story}, nil, analysis, &fakeSynthesis{}, &fakeComposition{})

	if err := o.Run(context.Background(), job); err == nil {
		t.Fatal("Expected an error from Run")
	}

	if analysis.calls != 0 {
		t.Errorf("Expected no analysis attempt after a recorded failure, got %d calls", analysis.calls)
	}
	if jobs.failedMsg == nil || !strings.Contains(*jobs.failedMsg, prior) {
		t.Errorf("Expected failure message to carry the recorded cause, got %v", jobs.failedMsg)
	}
}

func TestRun_SynthesisFailureNamesSpeakerAndOperation(t *testing.T) {
	story := analyzedStory()
	job := jobFor(story,
		models.SpeakerConfig{SpeakerID: "SPEAKER_00", Enabled: true},
		models.SpeakerConfig{SpeakerID: "SPEAKER_01", Enabled: true},
	)

	jobs := newFakeJobStore()
	synthesis := &fakeSynthesis{fn: func(in SynthesisInput) (models.SpeakerSynthesis, error) {
		if in.Speaker.SpeakerID == "SPEAKER_01" {
			return models.SpeakerSynthesis{}, &StageError{
				Stage: StageSynthesis, SpeakerID: "SPEAKER_01", Op: OpVoiceClone,
				Err: errors.New("clone service returned status 500"),
			}
		}
		return models.SpeakerSynthesis{AudioRef: "ok"}, nil
	}}

	o := buildOrchestrator(jobs, &fakeStoryStore{story: story}, nil, &fakeAnalysis{}, synthesis, &fakeComposition{})

	if err := o.Run(context.Background(), job); err == nil {
		t.Fatal("Expected an error from Run")
	}

	if jobs.failedMsg == nil {
		t.Fatal("Expected job to be failed")
	}
	for _, want := range []string{"SPEAKER_01", "voice cloning"} {
		if !strings.Contains(*jobs.failedMsg, want) {
			t.Errorf("Expected failure message to contain %q, got %q", want, *jobs.failedMsg)
		}
	}
	if jobs.completed != nil {
		t.Error("Job must not complete after a synthesis failure")
	}
}

func TestRun_ResumeSkipsRecordedSpeaker(t *testing.T) {
	story := analyzedStory()
	job := jobFor(story,
		models.SpeakerConfig{SpeakerID: "SPEAKER_00", Enabled: true},
		models.SpeakerConfig{SpeakerID: "SPEAKER_01", Enabled: true},
	)
	job.Status = models.JobStatusSynthesizing
	job.Synthesis = map[string]models.SpeakerSynthesis{
		"SPEAKER_00": {AudioRef: "audio/SPEAKER_00"},
	}

	jobs := newFakeJobStore()
	synthesis := &fakeSynthesis{}
	composition := &fakeComposition{url: "final"}

	o := buildOrchestrator(jobs, &fakeStoryStore{story: story}, nil, &fakeAnalysis{}, synthesis, composition)

	if err := o.Run(context.Background(), job); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(synthesis.calls) != 1 || synthesis.calls[0] != "SPEAKER_01" {
		t.Errorf("Expected only SPEAKER_01 to be synthesized, got %v", synthesis.calls)
	}
	if composition.input == nil || len(composition.input.Tracks) != 2 {
		t.Fatalf("Expected both speakers in composition input")
	}
}

func TestRun_ResumeRedoesSpeakerMissingAvatar(t *testing.T) {
	story := analyzedStory()
	avatarID := uuid.New()
	job := jobFor(story,
		models.SpeakerConfig{SpeakerID: "SPEAKER_00", AvatarProfileID: &avatarID, Enabled: true},
	)
	// Recorded output predates the avatar assignment, so it does not cover
	// the configuration and must be redone.
	job.Synthesis = map[string]models.SpeakerSynthesis{
		"SPEAKER_00": {AudioRef: "audio/SPEAKER_00"},
	}

	jobs := newFakeJobStore()
	profiles := &fakeProfiles{avatars: map[uuid.UUID]*models.AvatarProfile{
		avatarID: {ID: avatarID, ImageURL: "https://media.example.com/faces/dad.png"},
	}}
	clip := "video/SPEAKER_00"
	synthesis := &fakeSynthesis{fn: func(in SynthesisInput) (models.SpeakerSynthesis, error) {
		return models.SpeakerSynthesis{AudioRef: "audio/SPEAKER_00", AvatarVideoRef: &clip}, nil
	}}

	o := buildOrchestrator(jobs, &fakeStoryStore{story: story}, profiles, &fakeAnalysis{}, synthesis, &fakeComposition{url: "final"})

	if err := o.Run(context.Background(), job); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(synthesis.calls) != 1 {
		t.Errorf("Expected SPEAKER_00 to be re-synthesized, got %v", synthesis.calls)
	}
}

func TestRun_DisabledSpeakerExcludedFromComposition(t *testing.T) {
	story := analyzedStory()
	job := jobFor(story,
		models.SpeakerConfig{SpeakerID: "SPEAKER_00", Enabled: true},
		models.SpeakerConfig{SpeakerID: "SPEAKER_01", Enabled: false},
	)

	jobs := newFakeJobStore()
	synthesis := &fakeSynthesis{}
	composition := &fakeComposition{url: "final"}

	o := buildOrchestrator(jobs, &fakeStoryStore{story: story}, nil, &fakeAnalysis{}, synthesis, composition)

	if err := o.Run(context.Background(), job); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(synthesis.calls) != 1 || synthesis.calls[0] != "SPEAKER_00" {
		t.Errorf("Expected only SPEAKER_00 to be synthesized, got %v", synthesis.calls)
	}
	if len(composition.input.Tracks) != 1 || composition.input.Tracks[0].Speaker.SpeakerID != "SPEAKER_00" {
		t.Errorf("Expected composition to carry only SPEAKER_00")
	}
}

func TestRun_CompositionTracksOrderedBySpeakerID(t *testing.T) {
	story := analyzedStory()
	// Configs submitted out of order.
	job := jobFor(story,
		models.SpeakerConfig{SpeakerID: "SPEAKER_01", Enabled: true},
		models.SpeakerConfig{SpeakerID: "SPEAKER_00", Enabled: true},
	)

	jobs := newFakeJobStore()
	composition := &fakeComposition{url: "final"}

	o := buildOrchestrator(jobs, &fakeStoryStore{story: story}, nil, &fakeAnalysis{}, &fakeSynthesis{}, composition)

	if err := o.Run(context.Background(), job); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	got := []string{}
	for _, tr := range composition.input.Tracks {
		got = append(got, tr.Speaker.SpeakerID)
	}
	if len(got) != 2 || got[0] != "SPEAKER_00" || got[1] != "SPEAKER_01" {
		t.Errorf("Expected tracks ordered by speaker id, got %v", got)
	}
}

func TestRun_UnknownSpeakerFailsJob(t *testing.T) {
	story := analyzedStory()
	job := jobFor(story, models.SpeakerConfig{SpeakerID: "SPEAKER_07", Enabled: true})

	jobs := newFakeJobStore()
	o := buildOrchestrator(jobs, &fakeStoryStore{story: story}, nil, &fakeAnalysis{}, &fakeSynthesis{}, &fakeComposition{})

	if err := o.Run(context.Background(), job); err == nil {
		t.Fatal("Expected an error from Run")
	}
	if jobs.failedMsg == nil || !strings.Contains(*jobs.failedMsg, "SPEAKER_07") {
		t.Errorf("Expected failure to name SPEAKER_07, got %v", jobs.failedMsg)
	}
}

func TestRun_InfraErrorDoesNotFailJob(t *testing.T) {
	story := analyzedStory()
	job := jobFor(story, models.SpeakerConfig{SpeakerID: "SPEAKER_00", Enabled: true})

	jobs := newFakeJobStore()
	synthesis := &fakeSynthesis{fn: func(in SynthesisInput) (models.SpeakerSynthesis, error) {
		return models.SpeakerSynthesis{}, &InfraError{Err: errors.New("connection refused")}
	}}

	o := buildOrchestrator(jobs, &fakeStoryStore{story: story}, nil, &fakeAnalysis{}, synthesis, &fakeComposition{})

	err := o.Run(context.Background(), job)
	var infra *InfraError
	if !errors.As(err, &infra) {
		t.Fatalf("Expected an InfraError, got %v", err)
	}
	if jobs.failedMsg != nil {
		t.Errorf("Infrastructure errors must not mark the job failed, got %q", *jobs.failedMsg)
	}
}

func TestRun_TerminalJobIsNoop(t *testing.T) {
	story := analyzedStory()
	job := jobFor(story, models.SpeakerConfig{SpeakerID: "SPEAKER_00", Enabled: true})
	job.Status = models.JobStatusCompleted

	jobs := newFakeJobStore()
	synthesis := &fakeSynthesis{}
	o := buildOrchestrator(jobs, &fakeStoryStore{story: story}, nil, &fakeAnalysis{}, synthesis, &fakeComposition{})

	if err := o.Run(context.Background(), job); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(synthesis.calls) != 0 || len(jobs.statuses) != 0 {
		t.Error("Expected no work for a terminal job")
	}
}

func TestStageError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *StageError
		want string
	}{
		{
			"synthesis with speaker and op",
			&StageError{Stage: StageSynthesis, SpeakerID: "SPEAKER_01", Op: OpVoiceClone, Err: errors.New("status 500")},
			"synthesis failed for SPEAKER_01 (voice cloning): status 500",
		},
		{
			"analysis without speaker",
			&StageError{Stage: StageAnalysis, Err: errors.New("no vocals found")},
			"analysis failed: no vocals found",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestOutputSatisfies(t *testing.T) {
	avatarID := uuid.New()
	clip := "video/clip.mp4"

	tests := []struct {
		name string
		res  models.SpeakerSynthesis
		sc   models.SpeakerConfig
		want bool
	}{
		{"audio only satisfies audio config", models.SpeakerSynthesis{AudioRef: "a"}, models.SpeakerConfig{}, true},
		{"missing audio never satisfies", models.SpeakerSynthesis{}, models.SpeakerConfig{}, false},
		{"avatar config needs clip", models.SpeakerSynthesis{AudioRef: "a"}, models.SpeakerConfig{AvatarProfileID: &avatarID}, false},
		{"avatar config with clip", models.SpeakerSynthesis{AudioRef: "a", AvatarVideoRef: &clip}, models.SpeakerConfig{AvatarProfileID: &avatarID}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := outputSatisfies(tc.res, tc.sc); got != tc.want {
				t.Errorf("Expected %v, got %v", tc.want, got)
			}
		})
	}
}
