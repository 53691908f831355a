package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"fablevoice-backend/internal/models"
)

type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

func (r *ProfileRepo) CreateVoice(ctx context.Context, p *models.VoiceProfile) error {
	p.ID = uuid.New()
	return r.pool.QueryRow(ctx,
		`INSERT INTO voice_profiles (id, user_id, name, sample_url) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		p.ID, p.UserID, p.Name, p.SampleURL,
	).Scan(&p.CreatedAt)
}

func (r *ProfileRepo) GetVoiceByID(ctx context.Context, id uuid.UUID) (*models.VoiceProfile, error) {
	p := &models.VoiceProfile{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, name, sample_url, created_at FROM voice_profiles WHERE id = $1`, id,
	).Scan(&p.ID, &p.UserID, &p.Name, &p.SampleURL, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *ProfileRepo) ListVoiceByUser(ctx context.Context, userID uuid.UUID) ([]models.VoiceProfile, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, name, sample_url, created_at FROM voice_profiles WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []models.VoiceProfile
	for rows.Next() {
		var p models.VoiceProfile
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.SampleURL, &p.CreatedAt); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (r *ProfileRepo) CreateAvatar(ctx context.Context, p *models.AvatarProfile) error {
	p.ID = uuid.New()
	return r.pool.QueryRow(ctx,
		`INSERT INTO avatar_profiles (id, user_id, name, image_url) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		p.ID, p.UserID, p.Name, p.ImageURL,
	).Scan(&p.CreatedAt)
}

func (r *ProfileRepo) GetAvatarByID(ctx context.Context, id uuid.UUID) (*models.AvatarProfile, error) {
	p := &models.AvatarProfile{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, name, image_url, created_at FROM avatar_profiles WHERE id = $1`, id,
	).Scan(&p.ID, &p.UserID, &p.Name, &p.ImageURL, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *ProfileRepo) ListAvatarByUser(ctx context.Context, userID uuid.UUID) ([]models.AvatarProfile, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, name, image_url, created_at FROM avatar_profiles WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []models.AvatarProfile
	for rows.Next() {
		var p models.AvatarProfile
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.ImageURL, &p.CreatedAt); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}
