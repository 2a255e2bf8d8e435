package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

// TownMapRepo handles Town Map and discovery history database operations.
type TownMapRepo struct {
	db querier
}

// NewTownMapRepo creates a TownMapRepo.
func NewTownMapRepo(db *sql.DB) *TownMapRepo {
	return &TownMapRepo{db: db}
}

const townHexColumns = `id, q, r, terrain, status, first_discovered_at, last_verified_at, discovered_by_expedition_id`

func scanTownHex(row interface{ Scan(...any) error }) (*model.TownMapHex, error) {
	var h model.TownMapHex
	var discoveredBy sql.NullInt64
	err := row.Scan(&h.ID, &h.Q, &h.R, &h.Terrain, &h.Status, &h.FirstDiscoveredAt, &h.LastVerifiedAt, &discoveredBy)
	if err != nil {
		return nil, err
	}
	h.DiscoveredByExpeditionID = nullInt64Ptr(discoveredBy)
	return &h, nil
}

// FindByCoord returns the Town Map hex at c, or nil if the town knows nothing of it.
func (r *TownMapRepo) FindByCoord(ctx context.Context, c hexmap.Coord) (*model.TownMapHex, error) {
	h, err := scanTownHex(r.db.QueryRowContext(ctx,
		`SELECT `+townHexColumns+` FROM town_map_hexes WHERE q = $1 AND r = $2`, c.Q, c.R,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find town hex: %w", err)
	}
	return h, nil
}

// List returns the whole Town Map.
func (r *TownMapRepo) List(ctx context.Context) ([]model.TownMapHex, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+townHexColumns+` FROM town_map_hexes ORDER BY q, r`)
	if err != nil {
		return nil, fmt.Errorf("list town map: %w", err)
	}
	return collectTownHexes(rows)
}

// ListByStatus returns Town Map hexes with the given status.
func (r *TownMapRepo) ListByStatus(ctx context.Context, status string) ([]model.TownMapHex, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+townHexColumns+` FROM town_map_hexes WHERE status = $1 ORDER BY q, r`, status)
	if err != nil {
		return nil, fmt.Errorf("list town map by status: %w", err)
	}
	return collectTownHexes(rows)
}

// Create inserts a Town Map hex.
func (r *TownMapRepo) Create(ctx context.Context, h *model.TownMapHex) (*model.TownMapHex, error) {
	created, err := scanTownHex(r.db.QueryRowContext(ctx,
		`INSERT INTO town_map_hexes (q, r, terrain, status, first_discovered_at, last_verified_at, discovered_by_expedition_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+townHexColumns,
		h.Q, h.R, string(h.Terrain), h.Status, h.FirstDiscoveredAt, h.LastVerifiedAt, nullInt64(h.DiscoveredByExpeditionID),
	))
	if err != nil {
		return nil, wrapErr("create town hex", err)
	}
	return created, nil
}

// Update writes a Town Map hex's terrain, status and verification time.
func (r *TownMapRepo) Update(ctx context.Context, h *model.TownMapHex) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE town_map_hexes SET terrain = $2, status = $3, last_verified_at = $4 WHERE id = $1`,
		h.ID, string(h.Terrain), h.Status, h.LastVerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("update town hex: %w", err)
	}
	return nil
}

// AppendHistory adds an entry to a Town Map hex's discovery log.
func (r *TownMapRepo) AppendHistory(ctx context.Context, e *model.DiscoveryEntry) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO town_map_history (town_map_hex_id, expedition_id, reported_terrain, discovered_at, is_verification)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		e.TownMapHexID, nullInt64(e.ExpeditionID), string(e.ReportedTerrain), e.DiscoveredAt, e.IsVerification,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("append town hex history: %w", err)
	}
	return nil
}

// History returns a Town Map hex's discovery log, oldest first.
func (r *TownMapRepo) History(ctx context.Context, townMapHexID int64) ([]model.DiscoveryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, town_map_hex_id, expedition_id, reported_terrain, discovered_at, is_verification
		 FROM town_map_history WHERE town_map_hex_id = $1 ORDER BY discovered_at, id`, townMapHexID)
	if err != nil {
		return nil, fmt.Errorf("list town hex history: %w", err)
	}
	defer rows.Close()

	var entries []model.DiscoveryEntry
	for rows.Next() {
		var e model.DiscoveryEntry
		var expID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.TownMapHexID, &expID, &e.ReportedTerrain, &e.DiscoveredAt, &e.IsVerification); err != nil {
			return nil, fmt.Errorf("scan town hex history: %w", err)
		}
		e.ExpeditionID = nullInt64Ptr(expID)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func collectTownHexes(rows *sql.Rows) ([]model.TownMapHex, error) {
	defer rows.Close()
	var hexes []model.TownMapHex
	for rows.Next() {
		h, err := scanTownHex(rows)
		if err != nil {
			return nil, fmt.Errorf("scan town hex: %w", err)
		}
		hexes = append(hexes, *h)
	}
	return hexes, rows.Err()
}
