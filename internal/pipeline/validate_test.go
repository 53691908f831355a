package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fablevoice-backend/internal/models"
	"fablevoice-backend/internal/services"
)

type fakeStoryCatalog struct {
	story *models.Story
}

func (f *fakeStoryCatalog) GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	if f.story == nil || f.story.ID != id {
		return nil, pgx.ErrNoRows
	}
	return f.story, nil
}

func ownedProfiles(userID uuid.UUID, voiceID, avatarID uuid.UUID) *fakeProfiles {
	return &fakeProfiles{
		voices: map[uuid.UUID]*models.VoiceProfile{
			voiceID: {ID: voiceID, UserID: userID, SampleURL: "https://media.example.com/samples/mom.wav"},
		},
		avatars: map[uuid.UUID]*models.AvatarProfile{
			avatarID: {ID: avatarID, UserID: userID, ImageURL: "https://media.example.com/faces/mom.png"},
		},
	}
}

func TestNormalizeConfigs_LegacyPairExpands(t *testing.T) {
	voiceID := uuid.New()
	req := models.GenerateRequest{StoryID: uuid.New(), VoiceProfileID: &voiceID}

	configs, err := NormalizeConfigs(req)
	if err != nil {
		t.Fatalf("NormalizeConfigs returned error: %v", err)
	}

	if len(configs) != 1 {
		t.Fatalf("Expected 1 config, got %d", len(configs))
	}
	sc := configs[0]
	if sc.SpeakerID != PrimarySpeakerID {
		t.Errorf("Expected legacy config bound to %s, got %s", PrimarySpeakerID, sc.SpeakerID)
	}
	if !sc.Enabled {
		t.Error("Expected legacy config to be enabled")
	}
	if sc.VoiceProfileID == nil || *sc.VoiceProfileID != voiceID {
		t.Error("Expected voice profile to carry over")
	}
	if sc.AvatarProfileID != nil {
		t.Error("Expected no avatar profile")
	}
}

func TestNormalizeConfigs_EmptyRequestRejected(t *testing.T) {
	_, err := NormalizeConfigs(models.GenerateRequest{StoryID: uuid.New()})

	var verr *services.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if _, ok := verr.Fields["speaker_configs"]; !ok {
		t.Error("Expected speaker_configs field error")
	}
}

func TestNormalizeConfigs_ExplicitPassThrough(t *testing.T) {
	in := []models.SpeakerConfig{
		{SpeakerID: "SPEAKER_00", Enabled: true},
		{SpeakerID: "SPEAKER_01", Enabled: false},
	}
	configs, err := NormalizeConfigs(models.GenerateRequest{StoryID: uuid.New(), SpeakerConfigs: in})
	if err != nil {
		t.Fatalf("NormalizeConfigs returned error: %v", err)
	}
	if len(configs) != 2 || configs[0].SpeakerID != "SPEAKER_00" || configs[1].SpeakerID != "SPEAKER_01" {
		t.Errorf("Expected explicit configs untouched, got %v", configs)
	}
}

func TestValidateSubmission_StoryNotFound(t *testing.T) {
	userID := uuid.New()
	voiceID := uuid.New()
	req := models.GenerateRequest{StoryID: uuid.New(), VoiceProfileID: &voiceID}

	_, _, err := ValidateSubmission(context.Background(), &fakeStoryCatalog{}, &fakeProfiles{}, userID, req)

	var nf *services.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Expected NotFoundError, got %v", err)
	}
}

func TestValidateSubmission_LegacyWithoutDetection(t *testing.T) {
	// The legacy path must work before the story was ever analyzed.
	userID := uuid.New()
	voiceID, avatarID := uuid.New(), uuid.New()
	story := analyzedStory()
	story.Detection = nil

	req := models.GenerateRequest{StoryID: story.ID, VoiceProfileID: &voiceID}

	got, configs, err := ValidateSubmission(context.Background(),
		&fakeStoryCatalog{story: story}, ownedProfiles(userID, voiceID, avatarID), userID, req)
	if err != nil {
		t.Fatalf("ValidateSubmission returned error: %v", err)
	}
	if got.ID != story.ID {
		t.Error("Expected the story back")
	}
	if len(configs) != 1 || configs[0].SpeakerID != PrimarySpeakerID {
		t.Errorf("Expected normalized legacy config, got %v", configs)
	}
}

func TestValidateSubmission_ExplicitConfigsNeedDetection(t *testing.T) {
	userID := uuid.New()
	story := analyzedStory()
	story.Detection = nil

	req := models.GenerateRequest{
		StoryID:        story.ID,
		SpeakerConfigs: []models.SpeakerConfig{{SpeakerID: "SPEAKER_00", Enabled: true}},
	}

	_, _, err := ValidateSubmission(context.Background(), &fakeStoryCatalog{story: story}, &fakeProfiles{}, userID, req)

	var verr *services.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

func TestValidateSubmission_RejectsUnknownSpeaker(t *testing.T) {
	userID := uuid.New()
	story := analyzedStory()

	req := models.GenerateRequest{
		StoryID:        story.ID,
		SpeakerConfigs: []models.SpeakerConfig{{SpeakerID: "SPEAKER_02", Enabled: true}},
	}

	_, _, err := ValidateSubmission(context.Background(), &fakeStoryCatalog{story: story}, &fakeProfiles{}, userID, req)

	var verr *services.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

func TestValidateSubmission_RejectsDuplicateSpeaker(t *testing.T) {
	userID := uuid.New()
	story := analyzedStory()

	req := models.GenerateRequest{
		StoryID: story.ID,
		SpeakerConfigs: []models.SpeakerConfig{
			{SpeakerID: "SPEAKER_00", Enabled: true},
			{SpeakerID: "SPEAKER_00", Enabled: true},
		},
	}

	_, _, err := ValidateSubmission(context.Background(), &fakeStoryCatalog{story: story}, &fakeProfiles{}, userID, req)

	var verr *services.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

func TestValidateSubmission_RejectsAllDisabled(t *testing.T) {
	userID := uuid.New()
	story := analyzedStory()

	req := models.GenerateRequest{
		StoryID: story.ID,
		SpeakerConfigs: []models.SpeakerConfig{
			{SpeakerID: "SPEAKER_00", Enabled: false},
			{SpeakerID: "SPEAKER_01", Enabled: false},
		},
	}

	_, _, err := ValidateSubmission(context.Background(), &fakeStoryCatalog{story: story}, &fakeProfiles{}, userID, req)

	var verr *services.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

func TestValidateSubmission_RejectsMissingProfile(t *testing.T) {
	userID := uuid.New()
	voiceID := uuid.New()
	story := analyzedStory()

	req := models.GenerateRequest{
		StoryID: story.ID,
		SpeakerConfigs: []models.SpeakerConfig{
			{SpeakerID: "SPEAKER_00", VoiceProfileID: &voiceID, Enabled: true},
		},
	}

	_, _, err := ValidateSubmission(context.Background(), &fakeStoryCatalog{story: story}, &fakeProfiles{}, userID, req)

	var verr *services.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

func TestValidateSubmission_RejectsForeignProfile(t *testing.T) {
	owner := uuid.New()
	caller := uuid.New()
	voiceID, avatarID := uuid.New(), uuid.New()
	story := analyzedStory()

	req := models.GenerateRequest{
		StoryID: story.ID,
		SpeakerConfigs: []models.SpeakerConfig{
			{SpeakerID: "SPEAKER_00", VoiceProfileID: &voiceID, Enabled: true},
		},
	}

	_, _, err := ValidateSubmission(context.Background(),
		&fakeStoryCatalog{story: story}, ownedProfiles(owner, voiceID, avatarID), caller, req)

	var forbidden *services.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("Expected ForbiddenError, got %v", err)
	}
}

func TestValidateSubmission_AcceptsFullConfiguration(t *testing.T) {
	userID := uuid.New()
	voiceID, avatarID := uuid.New(), uuid.New()
	story := analyzedStory()

	req := models.GenerateRequest{
		StoryID: story.ID,
		SpeakerConfigs: []models.SpeakerConfig{
			{SpeakerID: "SPEAKER_00", VoiceProfileID: &voiceID, AvatarProfileID: &avatarID, Enabled: true},
			{SpeakerID: "SPEAKER_01", Enabled: false},
		},
		FullVideo: true,
	}

	_, configs, err := ValidateSubmission(context.Background(),
		&fakeStoryCatalog{story: story}, ownedProfiles(userID, voiceID, avatarID), userID, req)
	if err != nil {
		t.Fatalf("ValidateSubmission returned error: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("Expected 2 configs, got %d", len(configs))
	}
}
