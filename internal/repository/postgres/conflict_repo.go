package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/freeeve/westmarches-hexmap/internal/model"
)

// ConflictRepo handles map conflict and vote database operations.
type ConflictRepo struct {
	db querier
}

// NewConflictRepo creates a ConflictRepo.
func NewConflictRepo(db *sql.DB) *ConflictRepo {
	return &ConflictRepo{db: db}
}

const conflictColumns = `id, q, r, submission_id, expedition_id, new_submitter_id, existing_submitter_id,
	new_terrain, existing_terrain, status, resolution, resolution_notes, resolved_by, created_at, resolved_at`

func scanConflict(row interface{ Scan(...any) error }) (*model.Conflict, error) {
	var c model.Conflict
	var submissionID, existingSubmitter, resolvedBy sql.NullInt64
	var resolution sql.NullString
	err := row.Scan(&c.ID, &c.Q, &c.R, &submissionID, &c.ExpeditionID, &c.NewSubmitterID, &existingSubmitter,
		&c.NewTerrain, &c.ExistingTerrain, &c.Status, &resolution, &c.ResolutionNotes, &resolvedBy, &c.CreatedAt, &c.ResolvedAt)
	if err != nil {
		return nil, err
	}
	c.SubmissionID = nullInt64Ptr(submissionID)
	c.ExistingSubmitterID = nullInt64Ptr(existingSubmitter)
	c.ResolvedBy = nullInt64Ptr(resolvedBy)
	c.Resolution = resolution.String
	return &c, nil
}

// Create inserts a conflict.
func (r *ConflictRepo) Create(ctx context.Context, c *model.Conflict) (*model.Conflict, error) {
	created, err := scanConflict(r.db.QueryRowContext(ctx,
		`INSERT INTO map_conflicts (q, r, submission_id, expedition_id, new_submitter_id, existing_submitter_id,
		                            new_terrain, existing_terrain, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+conflictColumns,
		c.Q, c.R, nullInt64(c.SubmissionID), c.ExpeditionID, c.NewSubmitterID, nullInt64(c.ExistingSubmitterID),
		string(c.NewTerrain), string(c.ExistingTerrain), c.Status, c.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("create conflict: %w", err)
	}
	return created, nil
}

// FindByID returns a conflict, or nil if not found.
func (r *ConflictRepo) FindByID(ctx context.Context, id int64) (*model.Conflict, error) {
	c, err := scanConflict(r.db.QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM map_conflicts WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conflict: %w", err)
	}
	return c, nil
}

// Lock loads a conflict row FOR UPDATE.
func (r *ConflictRepo) Lock(ctx context.Context, id int64) (*model.Conflict, error) {
	c, err := scanConflict(r.db.QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM map_conflicts WHERE id = $1 FOR UPDATE`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock conflict: %w", err)
	}
	return c, nil
}

// ListOpen returns every conflict not yet resolved, oldest first.
func (r *ConflictRepo) ListOpen(ctx context.Context) ([]model.Conflict, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+conflictColumns+` FROM map_conflicts WHERE status <> 'resolved' ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list open conflicts: %w", err)
	}
	return collectConflicts(rows)
}

// ListBySubmission returns the conflicts raised by one submission.
func (r *ConflictRepo) ListBySubmission(ctx context.Context, submissionID int64) ([]model.Conflict, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+conflictColumns+` FROM map_conflicts WHERE submission_id = $1 ORDER BY id`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list submission conflicts: %w", err)
	}
	return collectConflicts(rows)
}

// UpdateStatus sets a conflict's status.
func (r *ConflictRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE map_conflicts SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update conflict status: %w", err)
	}
	return nil
}

// Resolve stores a conflict's resolution fields.
func (r *ConflictRepo) Resolve(ctx context.Context, c *model.Conflict) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE map_conflicts
		 SET status = $2, resolution = $3, resolution_notes = $4, resolved_by = $5, resolved_at = $6
		 WHERE id = $1`,
		c.ID, c.Status, c.Resolution, c.ResolutionNotes, nullInt64(c.ResolvedBy), c.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	return nil
}

// AddVote records a vote. Returns repository.ErrDuplicate if the player already voted.
func (r *ConflictRepo) AddVote(ctx context.Context, v *model.ConflictVote) (*model.ConflictVote, error) {
	var saved model.ConflictVote
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO conflict_votes (conflict_id, player_id, vote_for_new, comment, voted_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, conflict_id, player_id, vote_for_new, comment, voted_at`,
		v.ConflictID, v.PlayerID, v.VoteForNew, v.Comment, v.VotedAt,
	).Scan(&saved.ID, &saved.ConflictID, &saved.PlayerID, &saved.VoteForNew, &saved.Comment, &saved.VotedAt)
	if err != nil {
		return nil, wrapErr("add conflict vote", err)
	}
	return &saved, nil
}

// ListVotes returns a conflict's votes in the order they were cast.
func (r *ConflictRepo) ListVotes(ctx context.Context, conflictID int64) ([]model.ConflictVote, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, conflict_id, player_id, vote_for_new, comment, voted_at
		 FROM conflict_votes WHERE conflict_id = $1 ORDER BY voted_at, id`, conflictID)
	if err != nil {
		return nil, fmt.Errorf("list conflict votes: %w", err)
	}
	defer rows.Close()

	var votes []model.ConflictVote
	for rows.Next() {
		var v model.ConflictVote
		if err := rows.Scan(&v.ID, &v.ConflictID, &v.PlayerID, &v.VoteForNew, &v.Comment, &v.VotedAt); err != nil {
			return nil, fmt.Errorf("scan conflict vote: %w", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// CountVotes tallies a conflict's votes.
func (r *ConflictRepo) CountVotes(ctx context.Context, conflictID int64) (*model.VoteTally, error) {
	t := model.VoteTally{ConflictID: conflictID}
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FILTER (WHERE vote_for_new), COUNT(*) FILTER (WHERE NOT vote_for_new)
		 FROM conflict_votes WHERE conflict_id = $1`, conflictID,
	).Scan(&t.VotesForNew, &t.VotesForExisting)
	if err != nil {
		return nil, fmt.Errorf("count conflict votes: %w", err)
	}
	return &t, nil
}

func collectConflicts(rows *sql.Rows) ([]model.Conflict, error) {
	defer rows.Close()
	var conflicts []model.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		conflicts = append(conflicts, *c)
	}
	return conflicts, rows.Err()
}
