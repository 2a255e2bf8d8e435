package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/freeeve/westmarches-hexmap/internal/model"
)

// SubmissionRepo handles Town Map submission database operations.
type SubmissionRepo struct {
	db querier
}

// NewSubmissionRepo creates a SubmissionRepo.
func NewSubmissionRepo(db *sql.DB) *SubmissionRepo {
	return &SubmissionRepo{db: db}
}

const submissionColumns = `id, expedition_id, submitted_by, status, hexes_submitted, hexes_accepted, hexes_conflicted, submitted_at`

func scanSubmission(row interface{ Scan(...any) error }) (*model.Submission, error) {
	var s model.Submission
	err := row.Scan(&s.ID, &s.ExpeditionID, &s.SubmittedBy, &s.Status,
		&s.HexesSubmitted, &s.HexesAccepted, &s.HexesConflicted, &s.SubmittedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a submission. The unique index on expedition_id turns a
// second submission into repository.ErrDuplicate.
func (r *SubmissionRepo) Create(ctx context.Context, s *model.Submission) (*model.Submission, error) {
	created, err := scanSubmission(r.db.QueryRowContext(ctx,
		`INSERT INTO town_map_submissions (expedition_id, submitted_by, status, hexes_submitted, hexes_accepted, hexes_conflicted, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+submissionColumns,
		s.ExpeditionID, s.SubmittedBy, s.Status, s.HexesSubmitted, s.HexesAccepted, s.HexesConflicted, s.SubmittedAt,
	))
	if err != nil {
		return nil, wrapErr("create submission", err)
	}
	return created, nil
}

// Finish writes a submission's final status and counts.
func (r *SubmissionRepo) Finish(ctx context.Context, s *model.Submission) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE town_map_submissions
		 SET status = $2, hexes_submitted = $3, hexes_accepted = $4, hexes_conflicted = $5
		 WHERE id = $1`,
		s.ID, s.Status, s.HexesSubmitted, s.HexesAccepted, s.HexesConflicted,
	)
	if err != nil {
		return fmt.Errorf("finish submission: %w", err)
	}
	return nil
}

// FindByExpedition returns the expedition's submission, or nil if it has none.
func (r *SubmissionRepo) FindByExpedition(ctx context.Context, expeditionID int64) (*model.Submission, error) {
	s, err := scanSubmission(r.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM town_map_submissions WHERE expedition_id = $1`, expeditionID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find submission: %w", err)
	}
	return s, nil
}
