package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"fablevoice-backend/internal/models"
)

// ErrJobTerminal is returned when an update targets a job that is already
// completed or failed. Terminal rows are immutable history.
var ErrJobTerminal = errors.New("job is in a terminal state")

type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

func (r *JobRepo) Create(ctx context.Context, j *models.GenerationJob) error {
	j.ID = uuid.New()
	j.Status = models.JobStatusPending
	j.CurrentStep = models.StepInit
	j.Progress = 0

	configsJSON, err := json.Marshal(j.SpeakerConfigs)
	if err != nil {
		return fmt.Errorf("failed to encode speaker configs: %w", err)
	}

	query := `INSERT INTO generation_jobs (id, user_id, story_id, speaker_configs, full_video, status, current_step, progress)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		j.ID, j.UserID, j.StoryID, configsJSON, j.FullVideo, j.Status, j.CurrentStep, j.Progress,
	).Scan(&j.CreatedAt)
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	query := `SELECT id, user_id, story_id, speaker_configs, full_video, status, progress, current_step,
			synthesis_json, final_video_url, error_message, retry_count, created_at, completed_at
		FROM generation_jobs WHERE id = $1`

	return r.scanJob(r.pool.QueryRow(ctx, query, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *JobRepo) scanJob(row rowScanner) (*models.GenerationJob, error) {
	j := &models.GenerationJob{}
	var configsJSON, synthesisJSON []byte

	err := row.Scan(
		&j.ID, &j.UserID, &j.StoryID, &configsJSON, &j.FullVideo, &j.Status, &j.Progress, &j.CurrentStep,
		&synthesisJSON, &j.FinalVideoURL, &j.ErrorMessage, &j.RetryCount, &j.CreatedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(configsJSON) > 0 {
		if err := json.Unmarshal(configsJSON, &j.SpeakerConfigs); err != nil {
			return nil, fmt.Errorf("failed to decode speaker configs for job %s: %w", j.ID, err)
		}
	}
	if len(synthesisJSON) > 0 {
		if err := json.Unmarshal(synthesisJSON, &j.Synthesis); err != nil {
			return nil, fmt.Errorf("failed to decode synthesis results for job %s: %w", j.ID, err)
		}
	}
	return j, nil
}

func (r *JobRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.GenerationJob, error) {
	query := `SELECT id, user_id, story_id, speaker_configs, full_video, status, progress, current_step,
			synthesis_json, final_video_url, error_message, retry_count, created_at, completed_at
		FROM generation_jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.GenerationJob
	for rows.Next() {
		j, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// ListInFlight returns jobs stranded in a non-terminal state, oldest first.
// Used at startup to re-enqueue work whose queue message was consumed by a
// worker that died mid-run.
func (r *JobRepo) ListInFlight(ctx context.Context) ([]models.GenerationJob, error) {
	query := `SELECT id, user_id, story_id, speaker_configs, full_video, status, progress, current_step,
			synthesis_json, final_video_url, error_message, retry_count, created_at, completed_at
		FROM generation_jobs WHERE status NOT IN ('completed', 'failed') ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.GenerationJob
	for rows.Next() {
		j, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// SetStep advances the job to a new state and step. Progress uses GREATEST so
// it can never move backwards, and the WHERE clause refuses to touch terminal
// rows.
func (r *JobRepo) SetStep(ctx context.Context, id uuid.UUID, status, step string, progress int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE generation_jobs
		 SET status = $1, current_step = $2, progress = GREATEST(progress, $3)
		 WHERE id = $4 AND status NOT IN ('completed', 'failed')`,
		status, step, progress, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobTerminal
	}
	return nil
}

// UpdateProgress bumps the advisory progress estimate. Monotonic: a lower
// value than what is stored is silently ignored by GREATEST.
func (r *JobRepo) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE generation_jobs SET progress = GREATEST(progress, $1)
		 WHERE id = $2 AND status NOT IN ('completed', 'failed')`,
		progress, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobTerminal
	}
	return nil
}

// SaveSpeakerResult records one speaker's synthesis output on the job row.
// Keyed by speaker id, so a re-run of the same speaker overwrites its prior
// partial artifact.
func (r *JobRepo) SaveSpeakerResult(ctx context.Context, id uuid.UUID, speakerID string, res models.SpeakerSynthesis) error {
	resJSON, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode synthesis result: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE generation_jobs
		 SET synthesis_json = jsonb_set(synthesis_json, ARRAY[$1::text], $2::jsonb)
		 WHERE id = $3 AND status NOT IN ('completed', 'failed')`,
		speakerID, resJSON, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobTerminal
	}
	return nil
}

func (r *JobRepo) Complete(ctx context.Context, id uuid.UUID, finalVideoURL string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE generation_jobs
		 SET status = 'completed', current_step = 'completed', progress = 100,
		     final_video_url = $1, error_message = NULL, completed_at = $2
		 WHERE id = $3 AND status NOT IN ('completed', 'failed')`,
		finalVideoURL, time.Now(), id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobTerminal
	}
	return nil
}

func (r *JobRepo) Fail(ctx context.Context, id uuid.UUID, msg string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE generation_jobs
		 SET status = 'failed', error_message = $1, final_video_url = NULL, completed_at = $2
		 WHERE id = $3 AND status NOT IN ('completed', 'failed')`,
		msg, time.Now(), id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobTerminal
	}
	return nil
}

// UpdateRetryCount tracks infrastructure-level requeues. Stage failures never
// retry; this only counts transient queue/store trouble.
func (r *JobRepo) UpdateRetryCount(ctx context.Context, id uuid.UUID, count int) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE generation_jobs SET retry_count = $1 WHERE id = $2", count, id,
	)
	return err
}
