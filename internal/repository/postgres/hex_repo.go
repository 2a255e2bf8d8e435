package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

// HexRepo handles GM map database operations.
type HexRepo struct {
	db querier
}

// NewHexRepo creates a HexRepo.
func NewHexRepo(db *sql.DB) *HexRepo {
	return &HexRepo{db: db}
}

const hexColumns = `id, q, r, terrain, is_manually_set, gm_notes, is_explored_by_gm, is_on_town_map,
	discovered_by_expedition_id, discovered_at, created_at, updated_at`

func scanHex(row interface{ Scan(...any) error }) (*model.Hex, error) {
	var h model.Hex
	var discoveredBy sql.NullInt64
	err := row.Scan(&h.ID, &h.Q, &h.R, &h.Terrain, &h.IsManuallySet, &h.GMNotes, &h.IsExploredByGM, &h.IsOnTownMap,
		&discoveredBy, &h.DiscoveredAt, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	h.DiscoveredByExpeditionID = nullInt64Ptr(discoveredBy)
	return &h, nil
}

// FindByCoord returns the hex at c, or nil if none exists.
func (r *HexRepo) FindByCoord(ctx context.Context, c hexmap.Coord) (*model.Hex, error) {
	h, err := scanHex(r.db.QueryRowContext(ctx,
		`SELECT `+hexColumns+` FROM hexes WHERE q = $1 AND r = $2`, c.Q, c.R,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find hex: %w", err)
	}
	return h, nil
}

// FindMany returns whichever of the given coordinates exist, in no particular order.
func (r *HexRepo) FindMany(ctx context.Context, coords []hexmap.Coord) ([]model.Hex, error) {
	if len(coords) == 0 {
		return nil, nil
	}
	qs := make([]int64, len(coords))
	rs := make([]int64, len(coords))
	for i, c := range coords {
		qs[i] = int64(c.Q)
		rs[i] = int64(c.R)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+hexColumns+` FROM hexes
		 WHERE (q, r) IN (SELECT * FROM unnest($1::int[], $2::int[]))`,
		pq.Array(qs), pq.Array(rs),
	)
	if err != nil {
		return nil, fmt.Errorf("find hexes: %w", err)
	}
	return collectHexes(rows)
}

// Create inserts a hex. Returns repository.ErrDuplicate if one already exists at the coordinate.
func (r *HexRepo) Create(ctx context.Context, h *model.Hex) (*model.Hex, error) {
	created, err := scanHex(r.db.QueryRowContext(ctx,
		`INSERT INTO hexes (q, r, terrain, is_manually_set, gm_notes, is_explored_by_gm, is_on_town_map)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+hexColumns,
		h.Q, h.R, string(h.Terrain), h.IsManuallySet, h.GMNotes, h.IsExploredByGM, h.IsOnTownMap,
	))
	if err != nil {
		return nil, wrapErr("create hex", err)
	}
	return created, nil
}

// Update changes a hex's terrain and notes and marks it manually set. Returns nil if absent.
func (r *HexRepo) Update(ctx context.Context, c hexmap.Coord, terrain hexmap.Terrain, notes string) (*model.Hex, error) {
	h, err := scanHex(r.db.QueryRowContext(ctx,
		`UPDATE hexes SET terrain = $3, gm_notes = $4, is_manually_set = true, updated_at = now()
		 WHERE q = $1 AND r = $2
		 RETURNING `+hexColumns,
		c.Q, c.R, string(terrain), notes,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update hex: %w", err)
	}
	return h, nil
}

// Delete removes a hex, reporting whether one existed.
func (r *HexRepo) Delete(ctx context.Context, c hexmap.Coord) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM hexes WHERE q = $1 AND r = $2`, c.Q, c.R)
	if err != nil {
		return false, fmt.Errorf("delete hex: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete hex: %w", err)
	}
	return n > 0, nil
}

// MarkPublic flags a hex as shown on the Town Map. The first discovering
// expedition is kept if one was already recorded.
func (r *HexRepo) MarkPublic(ctx context.Context, c hexmap.Coord, expeditionID *int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE hexes SET is_on_town_map = true,
		        discovered_by_expedition_id = COALESCE(discovered_by_expedition_id, $3),
		        discovered_at = COALESCE(discovered_at, $4),
		        updated_at = now()
		 WHERE q = $1 AND r = $2`,
		c.Q, c.R, nullInt64(expeditionID), at,
	)
	if err != nil {
		return false, fmt.Errorf("mark hex public: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark hex public: %w", err)
	}
	return n > 0, nil
}

// ListAll returns the full GM map.
func (r *HexRepo) ListAll(ctx context.Context) ([]model.Hex, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+hexColumns+` FROM hexes ORDER BY q, r`)
	if err != nil {
		return nil, fmt.Errorf("list hexes: %w", err)
	}
	return collectHexes(rows)
}

// ListPublic returns hexes flagged as shown on the Town Map.
func (r *HexRepo) ListPublic(ctx context.Context) ([]model.Hex, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+hexColumns+` FROM hexes WHERE is_on_town_map ORDER BY q, r`)
	if err != nil {
		return nil, fmt.Errorf("list public hexes: %w", err)
	}
	return collectHexes(rows)
}

func collectHexes(rows *sql.Rows) ([]model.Hex, error) {
	defer rows.Close()
	var hexes []model.Hex
	for rows.Next() {
		h, err := scanHex(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hex: %w", err)
		}
		hexes = append(hexes, *h)
	}
	return hexes, rows.Err()
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullInt64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
