package repository

import (
	"context"
	"errors"
	"time"

	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

// ErrDuplicate is returned when a write would violate a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate record")

// UserRepository is the user directory the map engine validates ids against.
type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
	// Lock loads the user row for update, serializing membership changes per user.
	Lock(ctx context.Context, id int64) (*model.User, error)
	FindByProviderID(ctx context.Context, provider, providerID string) (*model.User, error)
	Upsert(ctx context.Context, provider, providerID, displayName string, roles []string) (*model.User, error)
}

// HexRepository stores the GM map.
type HexRepository interface {
	FindByCoord(ctx context.Context, c hexmap.Coord) (*model.Hex, error)
	FindMany(ctx context.Context, coords []hexmap.Coord) ([]model.Hex, error)
	Create(ctx context.Context, h *model.Hex) (*model.Hex, error)
	Update(ctx context.Context, c hexmap.Coord, terrain hexmap.Terrain, notes string) (*model.Hex, error)
	Delete(ctx context.Context, c hexmap.Coord) (bool, error)
	MarkPublic(ctx context.Context, c hexmap.Coord, expeditionID *int64, at time.Time) (bool, error)
	ListAll(ctx context.Context) ([]model.Hex, error)
	ListPublic(ctx context.Context) ([]model.Hex, error)
}

// TownMapRepository stores the community Town Map and its discovery log.
type TownMapRepository interface {
	FindByCoord(ctx context.Context, c hexmap.Coord) (*model.TownMapHex, error)
	List(ctx context.Context) ([]model.TownMapHex, error)
	ListByStatus(ctx context.Context, status string) ([]model.TownMapHex, error)
	Create(ctx context.Context, h *model.TownMapHex) (*model.TownMapHex, error)
	Update(ctx context.Context, h *model.TownMapHex) error
	AppendHistory(ctx context.Context, e *model.DiscoveryEntry) error
	History(ctx context.Context, townMapHexID int64) ([]model.DiscoveryEntry, error)
}

// ExpeditionRepository stores expeditions, their members and their private maps.
type ExpeditionRepository interface {
	Create(ctx context.Context, e *model.Expedition) (*model.Expedition, error)
	FindByID(ctx context.Context, id int64) (*model.Expedition, error)
	// Lock loads the expedition row for update.
	Lock(ctx context.Context, id int64) (*model.Expedition, error)
	List(ctx context.Context, status string) ([]model.Expedition, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Expedition, error)
	UpdateStatus(ctx context.Context, id int64, status string, completedAt *time.Time) error
	UpdateLeader(ctx context.Context, id, leaderID int64) error
	UpdatePosition(ctx context.Context, id int64, c hexmap.Coord) error

	AddMember(ctx context.Context, expeditionID, userID int64, at time.Time) (*model.ExpeditionMember, error)
	FindMember(ctx context.Context, expeditionID, userID int64) (*model.ExpeditionMember, error)
	ListMembers(ctx context.Context, expeditionID int64) ([]model.ExpeditionMember, error)
	// ActiveMembership returns the user's not-left membership in an active expedition, if any.
	ActiveMembership(ctx context.Context, userID int64) (*model.ExpeditionMember, error)
	MarkLeft(ctx context.Context, memberID int64, at time.Time) error
	MarkPushed(ctx context.Context, memberID int64, at time.Time) error

	// UpsertHex inserts or replaces the record for the hex's believed coordinate.
	UpsertHex(ctx context.Context, h *model.ExpeditionHex) (*model.ExpeditionHex, error)
	ListHexes(ctx context.Context, expeditionID int64) ([]model.ExpeditionHex, error)
	// RecentExplorations returns up to limit explored (not seeded) records, newest first.
	RecentExplorations(ctx context.Context, expeditionID int64, limit int) ([]model.ExpeditionHex, error)
}

// SubmissionRepository stores Town Map submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, s *model.Submission) (*model.Submission, error)
	// Finish writes the final status and counts of a submission.
	Finish(ctx context.Context, s *model.Submission) error
	FindByExpedition(ctx context.Context, expeditionID int64) (*model.Submission, error)
}

// ConflictRepository stores map conflicts and their votes.
type ConflictRepository interface {
	Create(ctx context.Context, c *model.Conflict) (*model.Conflict, error)
	FindByID(ctx context.Context, id int64) (*model.Conflict, error)
	// Lock loads the conflict row for update.
	Lock(ctx context.Context, id int64) (*model.Conflict, error)
	ListOpen(ctx context.Context) ([]model.Conflict, error)
	ListBySubmission(ctx context.Context, submissionID int64) ([]model.Conflict, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	Resolve(ctx context.Context, c *model.Conflict) error

	AddVote(ctx context.Context, v *model.ConflictVote) (*model.ConflictVote, error)
	ListVotes(ctx context.Context, conflictID int64) ([]model.ConflictVote, error)
	CountVotes(ctx context.Context, conflictID int64) (*model.VoteTally, error)
}

// POIRepository stores points of interest.
type POIRepository interface {
	Create(ctx context.Context, p *model.PointOfInterest) (*model.PointOfInterest, error)
	FindByID(ctx context.Context, id int64) (*model.PointOfInterest, error)
	List(ctx context.Context) ([]model.PointOfInterest, error)
	ListKnown(ctx context.Context) ([]model.PointOfInterest, error)
	Verify(ctx context.Context, id int64) error
}

// Repos groups the repositories that can take part in a transaction.
type Repos interface {
	Users() UserRepository
	Hexes() HexRepository
	TownMap() TownMapRepository
	Expeditions() ExpeditionRepository
	Submissions() SubmissionRepository
	Conflicts() ConflictRepository
}

// Tx is a set of repositories bound to one database transaction.
type Tx interface {
	Repos
	// LockCoord serializes Town Map writes to one coordinate until the transaction ends.
	LockCoord(ctx context.Context, c hexmap.Coord) error
}

// Store is the transactional entry point to the map database.
type Store interface {
	Repos
	POIs() POIRepository
	// WithTx runs fn in a transaction, committing if it returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// VoteTallyCache holds live conflict tallies (Redis).
type VoteTallyCache interface {
	// GetTally returns nil, nil on a cache miss.
	GetTally(ctx context.Context, conflictID int64) (*model.VoteTally, error)
	// SetTally keeps whichever of the cached and given tallies counts more votes.
	SetTally(ctx context.Context, tally *model.VoteTally) error
	ExpireTally(ctx context.Context, conflictID int64, ttl time.Duration) error
}

// TownMapCache holds a snapshot of the whole Town Map (Redis).
type TownMapCache interface {
	// GetTownMap returns nil, nil on a cache miss.
	GetTownMap(ctx context.Context) ([]model.TownMapHex, error)
	// TownMapVersion returns the snapshot generation; read it before loading
	// the map from the database.
	TownMapVersion(ctx context.Context) (int64, error)
	// SetTownMap is a no-op when the map was invalidated after version was read.
	SetTownMap(ctx context.Context, version int64, hexes []model.TownMapHex) error
	// InvalidateTownMap drops the snapshot and bumps the generation.
	InvalidateTownMap(ctx context.Context) error
}
