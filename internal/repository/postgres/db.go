package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/freeeve/westmarches-hexmap/internal/repository"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

// Connect opens a connection pool to the PostgreSQL database.
func Connect(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, so every repo can run
// inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const uniqueViolation = "23505"

// wrapErr maps unique violations to repository.ErrDuplicate and wraps the rest.
func wrapErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, repository.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// repos binds every repository to one querier.
type repos struct {
	users       *UserRepo
	hexes       *HexRepo
	townMap     *TownMapRepo
	expeditions *ExpeditionRepo
	submissions *SubmissionRepo
	conflicts   *ConflictRepo
}

func newRepos(q querier) repos {
	return repos{
		users:       &UserRepo{db: q},
		hexes:       &HexRepo{db: q},
		townMap:     &TownMapRepo{db: q},
		expeditions: &ExpeditionRepo{db: q},
		submissions: &SubmissionRepo{db: q},
		conflicts:   &ConflictRepo{db: q},
	}
}

func (r repos) Users() repository.UserRepository             { return r.users }
func (r repos) Hexes() repository.HexRepository              { return r.hexes }
func (r repos) TownMap() repository.TownMapRepository        { return r.townMap }
func (r repos) Expeditions() repository.ExpeditionRepository { return r.expeditions }
func (r repos) Submissions() repository.SubmissionRepository { return r.submissions }
func (r repos) Conflicts() repository.ConflictRepository     { return r.conflicts }

// Store is the Postgres implementation of repository.Store.
type Store struct {
	repos
	db   *sql.DB
	pois *POIRepo
}

// NewStore creates a Store over the connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{repos: newRepos(db), db: db, pois: &POIRepo{db: db}}
}

// POIs returns the point-of-interest repository.
func (s *Store) POIs() repository.POIRepository {
	return s.pois
}

// WithTx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txRepos{repos: newRepos(sqlTx), tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type txRepos struct {
	repos
	tx *sql.Tx
}

// LockCoord takes a transaction-scoped advisory lock keyed by the coordinate.
func (t *txRepos) LockCoord(ctx context.Context, c hexmap.Coord) error {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1::int4, $2::int4)`, c.Q, c.R); err != nil {
		return fmt.Errorf("lock coord %s: %w", c, err)
	}
	return nil
}
