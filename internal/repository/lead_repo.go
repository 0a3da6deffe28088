package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"douly-backend/internal/models"
)

type LeadRepo struct {
	pool *pgxpool.Pool
}

func NewLeadRepo(pool *pgxpool.Pool) *LeadRepo {
	return &LeadRepo{pool: pool}
}

// Save archives a notified lead. A second notification for the same session
// refreshes the record.
func (r *LeadRepo) Save(ctx context.Context, lead *models.Lead) error {
	sessionID, err := uuid.Parse(lead.SessionID)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", lead.SessionID, err)
	}

	query := `INSERT INTO leads (session_id, full_name, company, email, sector, score, transcript, notified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			company = EXCLUDED.company,
			email = EXCLUDED.email,
			sector = EXCLUDED.sector,
			score = EXCLUDED.score,
			transcript = EXCLUDED.transcript,
			notified_at = EXCLUDED.notified_at`

	_, err = r.pool.Exec(ctx, query,
		sessionID, lead.FullName, lead.Company, lead.Email, lead.Sector, lead.Score, lead.Transcript, lead.NotifiedAt,
	)
	if err != nil {
		return fmt.Errorf("saving lead %s: %w", lead.SessionID, err)
	}
	return nil
}
