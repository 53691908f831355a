package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fablevoice-backend/internal/models"
	"fablevoice-backend/internal/services"
)

// PrimarySpeakerID is the speaker a legacy single-profile submission binds to.
const PrimarySpeakerID = "SPEAKER_00"

// StoryLookup and ProfileLookup are the read surfaces validation needs; the
// pgx repositories satisfy them, fakes stand in for tests.
type StoryLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error)
}

type ProfileLookup interface {
	GetVoiceByID(ctx context.Context, id uuid.UUID) (*models.VoiceProfile, error)
	GetAvatarByID(ctx context.Context, id uuid.UUID) (*models.AvatarProfile, error)
}

// NormalizeConfigs expands the legacy voice_profile_id/avatar_profile_id
// shorthand into a one-entry enabled configuration. Explicit configs pass
// through untouched.
func NormalizeConfigs(req models.GenerateRequest) ([]models.SpeakerConfig, error) {
	if len(req.SpeakerConfigs) > 0 {
		return req.SpeakerConfigs, nil
	}

	if req.VoiceProfileID == nil && req.AvatarProfileID == nil {
		return nil, &services.ValidationError{Fields: map[string]string{
			"speaker_configs": "speaker_configs or voice_profile_id/avatar_profile_id is required",
		}}
	}

	return []models.SpeakerConfig{{
		SpeakerID:       PrimarySpeakerID,
		VoiceProfileID:  req.VoiceProfileID,
		AvatarProfileID: req.AvatarProfileID,
		Enabled:         true,
	}}, nil
}

// ValidateSubmission checks a generation request synchronously, before any
// job row is created. It returns the story and the normalized speaker
// configuration on success.
//
// Rules: the story must exist; explicit configs require a cached detection
// result and may only reference detected speaker ids; at least one speaker
// must be enabled; every referenced profile must exist and belong to the
// caller.
func ValidateSubmission(ctx context.Context, stories StoryLookup, profiles ProfileLookup, userID uuid.UUID, req models.GenerateRequest) (*models.Story, []models.SpeakerConfig, error) {
	story, err := stories.GetByID(ctx, req.StoryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, &services.NotFoundError{Message: "Story not found"}
		}
		return nil, nil, err
	}

	explicit := len(req.SpeakerConfigs) > 0
	configs, err := NormalizeConfigs(req)
	if err != nil {
		return nil, nil, err
	}

	if explicit && story.Detection == nil {
		return nil, nil, &services.ValidationError{Fields: map[string]string{
			"speaker_configs": "story has no speaker analysis yet; submit with voice_profile_id or trigger analysis first",
		}}
	}

	seen := make(map[string]bool, len(configs))
	anyEnabled := false
	for _, sc := range configs {
		if seen[sc.SpeakerID] {
			return nil, nil, &services.ValidationError{Fields: map[string]string{
				"speaker_configs": fmt.Sprintf("duplicate entry for %s", sc.SpeakerID),
			}}
		}
		seen[sc.SpeakerID] = true

		if explicit && story.Detection.Speaker(sc.SpeakerID) == nil {
			return nil, nil, &services.ValidationError{Fields: map[string]string{
				"speaker_configs": fmt.Sprintf("unknown speaker id %s", sc.SpeakerID),
			}}
		}

		if sc.Enabled {
			anyEnabled = true
		}

		if sc.VoiceProfileID != nil {
			vp, err := profiles.GetVoiceByID(ctx, *sc.VoiceProfileID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil, nil, &services.ValidationError{Fields: map[string]string{
						"voice_profile_id": fmt.Sprintf("voice profile %s not found", sc.VoiceProfileID),
					}}
				}
				return nil, nil, err
			}
			if vp.UserID != userID {
				return nil, nil, &services.ForbiddenError{Message: "Voice profile belongs to another user"}
			}
		}

		if sc.AvatarProfileID != nil {
			ap, err := profiles.GetAvatarByID(ctx, *sc.AvatarProfileID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil, nil, &services.ValidationError{Fields: map[string]string{
						"avatar_profile_id": fmt.Sprintf("avatar profile %s not found", sc.AvatarProfileID),
					}}
				}
				return nil, nil, err
			}
			if ap.UserID != userID {
				return nil, nil, &services.ForbiddenError{Message: "Avatar profile belongs to another user"}
			}
		}
	}

	if !anyEnabled {
		return nil, nil, &services.ValidationError{Fields: map[string]string{
			"speaker_configs": "at least one speaker must be enabled",
		}}
	}

	return story, configs, nil
}
