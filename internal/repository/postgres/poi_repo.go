package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/freeeve/westmarches-hexmap/internal/model"
)

// POIRepo handles point-of-interest database operations.
type POIRepo struct {
	db querier
}

// NewPOIRepo creates a POIRepo.
func NewPOIRepo(db *sql.DB) *POIRepo {
	return &POIRepo{db: db}
}

const poiColumns = `id, name, description, true_q, true_r, player_known_q, player_known_r, is_location_verified, created_by, created_at`

func scanPOI(row interface{ Scan(...any) error }) (*model.PointOfInterest, error) {
	var p model.PointOfInterest
	var knownQ, knownR sql.NullInt64
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.TrueQ, &p.TrueR, &knownQ, &knownR,
		&p.IsLocationVerified, &p.CreatedBy, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if knownQ.Valid && knownR.Valid {
		q, r := int(knownQ.Int64), int(knownR.Int64)
		p.PlayerKnownQ, p.PlayerKnownR = &q, &r
	}
	return &p, nil
}

// Create inserts a point of interest.
func (r *POIRepo) Create(ctx context.Context, p *model.PointOfInterest) (*model.PointOfInterest, error) {
	var knownQ, knownR sql.NullInt64
	if p.PlayerKnownQ != nil && p.PlayerKnownR != nil {
		knownQ = sql.NullInt64{Int64: int64(*p.PlayerKnownQ), Valid: true}
		knownR = sql.NullInt64{Int64: int64(*p.PlayerKnownR), Valid: true}
	}
	created, err := scanPOI(r.db.QueryRowContext(ctx,
		`INSERT INTO points_of_interest (name, description, true_q, true_r, player_known_q, player_known_r, is_location_verified, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+poiColumns,
		p.Name, p.Description, p.TrueQ, p.TrueR, knownQ, knownR, p.IsLocationVerified, p.CreatedBy,
	))
	if err != nil {
		return nil, fmt.Errorf("create poi: %w", err)
	}
	return created, nil
}

// FindByID returns a point of interest, or nil if not found.
func (r *POIRepo) FindByID(ctx context.Context, id int64) (*model.PointOfInterest, error) {
	p, err := scanPOI(r.db.QueryRowContext(ctx, `SELECT `+poiColumns+` FROM points_of_interest WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find poi: %w", err)
	}
	return p, nil
}

// List returns every point of interest.
func (r *POIRepo) List(ctx context.Context) ([]model.PointOfInterest, error) {
	return r.list(ctx, `SELECT `+poiColumns+` FROM points_of_interest ORDER BY id`)
}

// ListKnown returns points of interest players have a location for.
func (r *POIRepo) ListKnown(ctx context.Context) ([]model.PointOfInterest, error) {
	return r.list(ctx, `SELECT `+poiColumns+` FROM points_of_interest
		WHERE player_known_q IS NOT NULL AND player_known_r IS NOT NULL ORDER BY id`)
}

// Verify snaps the player-known location to the true one.
func (r *POIRepo) Verify(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE points_of_interest
		 SET player_known_q = true_q, player_known_r = true_r, is_location_verified = true
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("verify poi: %w", err)
	}
	return nil
}

func (r *POIRepo) list(ctx context.Context, query string) ([]model.PointOfInterest, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pois: %w", err)
	}
	defer rows.Close()

	var pois []model.PointOfInterest
	for rows.Next() {
		p, err := scanPOI(rows)
		if err != nil {
			return nil, fmt.Errorf("scan poi: %w", err)
		}
		pois = append(pois, *p)
	}
	return pois, rows.Err()
}
