package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

// ExpeditionRepo handles expedition, member and expedition hex database operations.
type ExpeditionRepo struct {
	db querier
}

// NewExpeditionRepo creates an ExpeditionRepo.
func NewExpeditionRepo(db *sql.DB) *ExpeditionRepo {
	return &ExpeditionRepo{db: db}
}

const expeditionColumns = `id, name, leader_id, start_q, start_r, last_known_q, last_known_r, status, created_at, completed_at`

func scanExpedition(row interface{ Scan(...any) error }) (*model.Expedition, error) {
	var e model.Expedition
	err := row.Scan(&e.ID, &e.Name, &e.LeaderID, &e.StartQ, &e.StartR, &e.LastKnownQ, &e.LastKnownR,
		&e.Status, &e.CreatedAt, &e.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Create inserts an expedition.
func (r *ExpeditionRepo) Create(ctx context.Context, e *model.Expedition) (*model.Expedition, error) {
	created, err := scanExpedition(r.db.QueryRowContext(ctx,
		`INSERT INTO expeditions (name, leader_id, start_q, start_r, last_known_q, last_known_r, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+expeditionColumns,
		e.Name, e.LeaderID, e.StartQ, e.StartR, e.LastKnownQ, e.LastKnownR, e.Status, e.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("create expedition: %w", err)
	}
	return created, nil
}

// FindByID returns an expedition by ID, or nil if not found.
func (r *ExpeditionRepo) FindByID(ctx context.Context, id int64) (*model.Expedition, error) {
	e, err := scanExpedition(r.db.QueryRowContext(ctx,
		`SELECT `+expeditionColumns+` FROM expeditions WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find expedition: %w", err)
	}
	return e, nil
}

// Lock loads an expedition row FOR UPDATE.
func (r *ExpeditionRepo) Lock(ctx context.Context, id int64) (*model.Expedition, error) {
	e, err := scanExpedition(r.db.QueryRowContext(ctx,
		`SELECT `+expeditionColumns+` FROM expeditions WHERE id = $1 FOR UPDATE`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock expedition: %w", err)
	}
	return e, nil
}

// List returns expeditions, newest first. An empty status lists all of them.
func (r *ExpeditionRepo) List(ctx context.Context, status string) ([]model.Expedition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+expeditionColumns+` FROM expeditions
		 WHERE $1 = '' OR status = $1
		 ORDER BY created_at DESC LIMIT 100`, status)
	if err != nil {
		return nil, fmt.Errorf("list expeditions: %w", err)
	}
	return collectExpeditions(rows)
}

// ListByUser returns every expedition the user has been a member of.
func (r *ExpeditionRepo) ListByUser(ctx context.Context, userID int64) ([]model.Expedition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT e.id, e.name, e.leader_id, e.start_q, e.start_r, e.last_known_q, e.last_known_r,
		        e.status, e.created_at, e.completed_at
		 FROM expeditions e
		 WHERE e.id IN (SELECT expedition_id FROM expedition_members WHERE user_id = $1)
		 ORDER BY e.created_at DESC LIMIT 100`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user expeditions: %w", err)
	}
	return collectExpeditions(rows)
}

// UpdateStatus sets an expedition's status and completion time.
func (r *ExpeditionRepo) UpdateStatus(ctx context.Context, id int64, status string, completedAt *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE expeditions SET status = $2, completed_at = COALESCE($3, completed_at) WHERE id = $1`,
		id, status, completedAt,
	)
	if err != nil {
		return fmt.Errorf("update expedition status: %w", err)
	}
	return nil
}

// UpdateLeader changes the expedition leader.
func (r *ExpeditionRepo) UpdateLeader(ctx context.Context, id, leaderID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE expeditions SET leader_id = $2 WHERE id = $1`, id, leaderID)
	if err != nil {
		return fmt.Errorf("update expedition leader: %w", err)
	}
	return nil
}

// UpdatePosition sets the expedition's actual last known position.
func (r *ExpeditionRepo) UpdatePosition(ctx context.Context, id int64, c hexmap.Coord) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE expeditions SET last_known_q = $2, last_known_r = $3 WHERE id = $1`, id, c.Q, c.R)
	if err != nil {
		return fmt.Errorf("update expedition position: %w", err)
	}
	return nil
}

const memberColumns = `id, expedition_id, user_id, joined_at, left_at, pushed_to_town_map, pushed_at`

func scanMember(row interface{ Scan(...any) error }) (*model.ExpeditionMember, error) {
	var m model.ExpeditionMember
	if err := row.Scan(&m.ID, &m.ExpeditionID, &m.UserID, &m.JoinedAt, &m.LeftAt, &m.PushedToTownMap, &m.PushedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// AddMember enrolls a user. Returns repository.ErrDuplicate if they are already a current member.
func (r *ExpeditionRepo) AddMember(ctx context.Context, expeditionID, userID int64, at time.Time) (*model.ExpeditionMember, error) {
	m, err := scanMember(r.db.QueryRowContext(ctx,
		`INSERT INTO expedition_members (expedition_id, user_id, joined_at)
		 VALUES ($1, $2, $3)
		 RETURNING `+memberColumns,
		expeditionID, userID, at,
	))
	if err != nil {
		return nil, wrapErr("add expedition member", err)
	}
	return m, nil
}

// FindMember returns the user's latest membership, or nil if they never joined.
func (r *ExpeditionRepo) FindMember(ctx context.Context, expeditionID, userID int64) (*model.ExpeditionMember, error) {
	m, err := scanMember(r.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM expedition_members WHERE expedition_id = $1 AND user_id = $2
		 ORDER BY id DESC LIMIT 1`,
		expeditionID, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find expedition member: %w", err)
	}
	return m, nil
}

// ListMembers returns an expedition's members in join order.
func (r *ExpeditionRepo) ListMembers(ctx context.Context, expeditionID int64) ([]model.ExpeditionMember, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM expedition_members WHERE expedition_id = $1 ORDER BY joined_at, id`,
		expeditionID)
	if err != nil {
		return nil, fmt.Errorf("list expedition members: %w", err)
	}
	defer rows.Close()

	var members []model.ExpeditionMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expedition member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// ActiveMembership returns the user's current membership in an active expedition, or nil.
func (r *ExpeditionRepo) ActiveMembership(ctx context.Context, userID int64) (*model.ExpeditionMember, error) {
	m, err := scanMember(r.db.QueryRowContext(ctx,
		`SELECT m.id, m.expedition_id, m.user_id, m.joined_at, m.left_at, m.pushed_to_town_map, m.pushed_at
		 FROM expedition_members m JOIN expeditions e ON e.id = m.expedition_id
		 WHERE m.user_id = $1 AND m.left_at IS NULL AND e.status = 'active'
		 LIMIT 1`, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active membership: %w", err)
	}
	return m, nil
}

// MarkLeft records when a membership ended.
func (r *ExpeditionRepo) MarkLeft(ctx context.Context, memberID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE expedition_members SET left_at = $2 WHERE id = $1`,
		memberID, at)
	if err != nil {
		return fmt.Errorf("mark member left: %w", err)
	}
	return nil
}

// MarkPushed records that a departed member pushed their map to the Town Map.
func (r *ExpeditionRepo) MarkPushed(ctx context.Context, memberID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE expedition_members SET pushed_to_town_map = true, pushed_at = $2 WHERE id = $1`,
		memberID, at)
	if err != nil {
		return fmt.Errorf("mark member pushed: %w", err)
	}
	return nil
}

const expeditionHexColumns = `id, expedition_id, q, r, actual_q, actual_r, terrain, is_accurate, from_town_map, notes, explored_at`

func scanExpeditionHex(row interface{ Scan(...any) error }) (*model.ExpeditionHex, error) {
	var h model.ExpeditionHex
	err := row.Scan(&h.ID, &h.ExpeditionID, &h.Q, &h.R, &h.ActualQ, &h.ActualR, &h.Terrain,
		&h.IsAccurate, &h.FromTownMap, &h.Notes, &h.ExploredAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// UpsertHex records an exploration, replacing any earlier record for the same believed coordinate.
func (r *ExpeditionRepo) UpsertHex(ctx context.Context, h *model.ExpeditionHex) (*model.ExpeditionHex, error) {
	saved, err := scanExpeditionHex(r.db.QueryRowContext(ctx,
		`INSERT INTO expedition_hexes (expedition_id, q, r, actual_q, actual_r, terrain, is_accurate, from_town_map, notes, explored_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (expedition_id, q, r) DO UPDATE SET
		     actual_q = EXCLUDED.actual_q, actual_r = EXCLUDED.actual_r, terrain = EXCLUDED.terrain,
		     is_accurate = EXCLUDED.is_accurate, from_town_map = EXCLUDED.from_town_map,
		     notes = EXCLUDED.notes, explored_at = EXCLUDED.explored_at
		 RETURNING `+expeditionHexColumns,
		h.ExpeditionID, h.Q, h.R, h.ActualQ, h.ActualR, string(h.Terrain), h.IsAccurate, h.FromTownMap, h.Notes, h.ExploredAt,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert expedition hex: %w", err)
	}
	return saved, nil
}

// ListHexes returns an expedition's private map in exploration order.
func (r *ExpeditionRepo) ListHexes(ctx context.Context, expeditionID int64) ([]model.ExpeditionHex, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+expeditionHexColumns+` FROM expedition_hexes WHERE expedition_id = $1 ORDER BY explored_at, id`,
		expeditionID)
	if err != nil {
		return nil, fmt.Errorf("list expedition hexes: %w", err)
	}
	return collectExpeditionHexes(rows)
}

// RecentExplorations returns the newest explored records, skipping those seeded from the Town Map.
func (r *ExpeditionRepo) RecentExplorations(ctx context.Context, expeditionID int64, limit int) ([]model.ExpeditionHex, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+expeditionHexColumns+` FROM expedition_hexes
		 WHERE expedition_id = $1 AND NOT from_town_map
		 ORDER BY explored_at DESC, id DESC LIMIT $2`,
		expeditionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent explorations: %w", err)
	}
	return collectExpeditionHexes(rows)
}

func collectExpeditions(rows *sql.Rows) ([]model.Expedition, error) {
	defer rows.Close()
	var expeditions []model.Expedition
	for rows.Next() {
		e, err := scanExpedition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expedition: %w", err)
		}
		expeditions = append(expeditions, *e)
	}
	return expeditions, rows.Err()
}

func collectExpeditionHexes(rows *sql.Rows) ([]model.ExpeditionHex, error) {
	defer rows.Close()
	var hexes []model.ExpeditionHex
	for rows.Next() {
		h, err := scanExpeditionHex(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expedition hex: %w", err)
		}
		hexes = append(hexes, *h)
	}
	return hexes, rows.Err()
}
