package repository

import (
	"context"

	"profitum_messaging/internal/messaging/domain"
	errprocess "profitum_messaging/pkg/err"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ParticipantRepository read-only directory of platform users. The
// directory lives in the main business database; messaging only ever
// reads from it.
type ParticipantRepository interface {
	FindByID(ctx context.Context, participantID string) (*domain.ParticipantProfile, error)
	Exists(ctx context.Context, participantID string) (bool, error)
}

type participantRepository struct {
	pool *pgxpool.Pool
}

// NewPGParticipantRepository create a ParticipantRepository
func NewPGParticipantRepository(pool *pgxpool.Pool) ParticipantRepository {
	return &participantRepository{pool: pool}
}

func (r *participantRepository) FindByID(ctx context.Context, participantID string) (*domain.ParticipantProfile, error) {
	const query = `SELECT id, display_name, role, email FROM participants WHERE id = $1`

	var p domain.ParticipantProfile
	err := r.pool.QueryRow(ctx, query, participantID).Scan(&p.ID, &p.DisplayName, &p.Role, &p.Email)
	if err == pgx.ErrNoRows {
		return nil, errprocess.NotFound("participant not found")
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *participantRepository) Exists(ctx context.Context, participantID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM participants WHERE id = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, participantID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
