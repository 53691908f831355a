package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"fablevoice-backend/internal/models"
)

type StoryRepo struct {
	pool *pgxpool.Pool
}

func NewStoryRepo(pool *pgxpool.Pool) *StoryRepo {
	return &StoryRepo{pool: pool}
}

func (r *StoryRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	s := &models.Story{}
	var detectionJSON []byte

	query := `SELECT id, title, video_url, duration_seconds, detection_json, detection_version, analysis_error, created_at
		FROM stories WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.Title, &s.VideoURL, &s.DurationSeconds,
		&detectionJSON, &s.DetectionVersion, &s.AnalysisError, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(detectionJSON) > 0 {
		var det models.SpeakerDetection
		if err := json.Unmarshal(detectionJSON, &det); err != nil {
			return nil, fmt.Errorf("failed to decode cached detection for story %s: %w", id, err)
		}
		s.Detection = &det
	}

	return s, nil
}

func (r *StoryRepo) List(ctx context.Context, limit, offset int) ([]models.Story, error) {
	query := `SELECT id, title, video_url, duration_seconds, detection_json, detection_version, analysis_error, created_at
		FROM stories ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stories []models.Story
	for rows.Next() {
		var s models.Story
		var detectionJSON []byte
		if err := rows.Scan(
			&s.ID, &s.Title, &s.VideoURL, &s.DurationSeconds,
			&detectionJSON, &s.DetectionVersion, &s.AnalysisError, &s.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(detectionJSON) > 0 {
			var det models.SpeakerDetection
			if err := json.Unmarshal(detectionJSON, &det); err == nil {
				s.Detection = &det
			}
		}
		stories = append(stories, s)
	}
	return stories, rows.Err()
}

// SaveDetection swaps the cached speaker detection in a single UPDATE and bumps
// the version, so concurrent readers of the row always see either the prior
// snapshot or the new one, never a partial write. Last writer wins.
func (r *StoryRepo) SaveDetection(ctx context.Context, storyID uuid.UUID, det *models.SpeakerDetection) error {
	detectionJSON, err := json.Marshal(det)
	if err != nil {
		return fmt.Errorf("failed to encode detection: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`UPDATE stories SET detection_json = $1, detection_version = detection_version + 1, analysis_error = NULL WHERE id = $2`,
		detectionJSON, storyID,
	)
	return err
}

// MarkAnalysisFailed records a permanent analysis error so that later jobs on
// the same story fail fast instead of repeating the expensive call.
func (r *StoryRepo) MarkAnalysisFailed(ctx context.Context, storyID uuid.UUID, msg string) error {
	_, err := r.pool.Exec(ctx, "UPDATE stories SET analysis_error = $1 WHERE id = $2", msg, storyID)
	return err
}

// ClearAnalysis drops the cached detection and any recorded analysis error.
// Used when a re-analysis is explicitly requested.
func (r *StoryRepo) ClearAnalysis(ctx context.Context, storyID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE stories SET detection_json = NULL, analysis_error = NULL WHERE id = $1",
		storyID,
	)
	return err
}
