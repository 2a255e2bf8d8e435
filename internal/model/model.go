package model

import (
	"time"

	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

// Roles granted by the identity provider.
const (
	RolePlayer = "player"
	RoleGM     = "gm"
	RoleAdmin  = "admin"
)

// User is the minimal directory entry the map engine needs.
type User struct {
	ID          int64     `json:"id"`
	Provider    string    `json:"provider"`
	ProviderID  string    `json:"provider_id"`
	DisplayName string    `json:"display_name"`
	Roles       []string  `json:"roles"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasRole reports whether the user holds any of the given roles.
func (u *User) HasRole(roles ...string) bool {
	for _, have := range u.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Hex is a GM map hex: the authoritative terrain at a coordinate.
type Hex struct {
	ID                       int64          `json:"id"`
	Q                        int            `json:"q"`
	R                        int            `json:"r"`
	Terrain                  hexmap.Terrain `json:"terrain"`
	IsManuallySet            bool           `json:"is_manually_set"`
	GMNotes                  string         `json:"gm_notes,omitempty"`
	IsExploredByGM           bool           `json:"is_explored_by_gm"`
	IsOnTownMap              bool           `json:"is_on_town_map"`
	DiscoveredByExpeditionID *int64         `json:"discovered_by_expedition_id,omitempty"`
	DiscoveredAt             *time.Time     `json:"discovered_at,omitempty"`
	CreatedAt                time.Time      `json:"created_at"`
	UpdatedAt                time.Time      `json:"updated_at"`
}

// Coord returns the hex's axial coordinate.
func (h *Hex) Coord() hexmap.Coord {
	return hexmap.Coord{Q: h.Q, R: h.R}
}

// Town map hex statuses.
const (
	HexUnexplored = "unexplored"
	HexVerified   = "verified"
	HexDisputed   = "disputed"
)

// TownMapHex is the community's belief about a coordinate.
type TownMapHex struct {
	ID                       int64          `json:"id"`
	Q                        int            `json:"q"`
	R                        int            `json:"r"`
	Terrain                  hexmap.Terrain `json:"terrain"`
	Status                   string         `json:"status"` // unexplored, verified, disputed
	FirstDiscoveredAt        time.Time      `json:"first_discovered_at"`
	LastVerifiedAt           time.Time      `json:"last_verified_at"`
	DiscoveredByExpeditionID *int64         `json:"discovered_by_expedition_id,omitempty"`
}

// Coord returns the hex's axial coordinate.
func (h *TownMapHex) Coord() hexmap.Coord {
	return hexmap.Coord{Q: h.Q, R: h.R}
}

// DiscoveryEntry is one append-only audit record of a Town Map hex report.
type DiscoveryEntry struct {
	ID              int64          `json:"id"`
	TownMapHexID    int64          `json:"town_map_hex_id"`
	ExpeditionID    *int64         `json:"expedition_id,omitempty"`
	ReportedTerrain hexmap.Terrain `json:"reported_terrain"`
	DiscoveredAt    time.Time      `json:"discovered_at"`
	IsVerification  bool           `json:"is_verification"`
}

// Expedition statuses.
const (
	ExpeditionActive    = "active"
	ExpeditionCompleted = "completed"
	ExpeditionArchived  = "archived"
	ExpeditionLost      = "lost"
	ExpeditionTPK       = "tpk"
)

// Expedition is one exploration trip.
type Expedition struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	LeaderID    int64              `json:"leader_id"`
	StartQ      int                `json:"start_q"`
	StartR      int                `json:"start_r"`
	LastKnownQ  int                `json:"last_known_q"`
	LastKnownR  int                `json:"last_known_r"`
	Status      string             `json:"status"` // active, completed, archived, lost, tpk
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Members     []ExpeditionMember `json:"members,omitempty"`
}

// Start returns the expedition's starting coordinate.
func (e *Expedition) Start() hexmap.Coord {
	return hexmap.Coord{Q: e.StartQ, R: e.StartR}
}

// LastKnown returns the expedition's actual last known position.
func (e *Expedition) LastKnown() hexmap.Coord {
	return hexmap.Coord{Q: e.LastKnownQ, R: e.LastKnownR}
}

// ExpeditionMember is a user's membership in an expedition.
type ExpeditionMember struct {
	ID              int64      `json:"id"`
	ExpeditionID    int64      `json:"expedition_id"`
	UserID          int64      `json:"user_id"`
	JoinedAt        time.Time  `json:"joined_at"`
	LeftAt          *time.Time `json:"left_at,omitempty"`
	PushedToTownMap bool       `json:"pushed_to_town_map"`
	PushedAt        *time.Time `json:"pushed_at,omitempty"`
}

// Active reports whether the member has not left.
func (m *ExpeditionMember) Active() bool {
	return m.LeftAt == nil
}

// ExpeditionHex is one exploration claim: where the party believed it was,
// where it actually was, and what terrain it reported.
type ExpeditionHex struct {
	ID           int64          `json:"id"`
	ExpeditionID int64          `json:"expedition_id"`
	Q            int            `json:"q"`
	R            int            `json:"r"`
	ActualQ      int            `json:"actual_q"`
	ActualR      int            `json:"actual_r"`
	Terrain      hexmap.Terrain `json:"terrain"`
	IsAccurate   bool           `json:"is_accurate"`
	FromTownMap  bool           `json:"from_town_map"`
	Notes        string         `json:"notes,omitempty"`
	ExploredAt   time.Time      `json:"explored_at"`
}

// Believed returns the coordinate the party thought it explored.
func (h *ExpeditionHex) Believed() hexmap.Coord {
	return hexmap.Coord{Q: h.Q, R: h.R}
}

// Actual returns the coordinate the party really explored.
func (h *ExpeditionHex) Actual() hexmap.Coord {
	return hexmap.Coord{Q: h.ActualQ, R: h.ActualR}
}

// Submission statuses.
const (
	SubmissionPending      = "pending"
	SubmissionApproved     = "approved"
	SubmissionHasConflicts = "has_conflicts"
)

// Submission records one expedition's merge into the Town Map.
type Submission struct {
	ID              int64      `json:"id"`
	ExpeditionID    int64      `json:"expedition_id"`
	SubmittedBy     int64      `json:"submitted_by"`
	Status          string     `json:"status"` // pending, approved, has_conflicts
	HexesSubmitted  int        `json:"hexes_submitted"`
	HexesAccepted   int        `json:"hexes_accepted"`
	HexesConflicted int        `json:"hexes_conflicted"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	Conflicts       []Conflict `json:"conflicts,omitempty"`
}

// MergeResult summarises a departing member's snapshot push.
type MergeResult struct {
	HexesAdded      int        `json:"hexes_added"`
	HexesConfirmed  int        `json:"hexes_confirmed"`
	HexesConflicted int        `json:"hexes_conflicted"`
	Conflicts       []Conflict `json:"conflicts,omitempty"`
}

// Conflict statuses.
const (
	ConflictUnresolved = "unresolved"
	ConflictVoting     = "voting"
	ConflictResolved   = "resolved"
)

// Conflict resolutions.
const (
	ResolutionAcceptNew    = "accept_new"
	ResolutionKeepExisting = "keep_existing"
	ResolutionVerification = "verification"
	ResolutionGMOverride   = "gm_override"
)

// Conflict is a disagreement between submitted and existing Town Map terrain.
type Conflict struct {
	ID                  int64          `json:"id"`
	Q                   int            `json:"q"`
	R                   int            `json:"r"`
	SubmissionID        *int64         `json:"submission_id,omitempty"`
	ExpeditionID        int64          `json:"expedition_id"`
	NewSubmitterID      int64          `json:"new_submitter_id"`
	ExistingSubmitterID *int64         `json:"existing_submitter_id,omitempty"`
	NewTerrain          hexmap.Terrain `json:"new_terrain"`
	ExistingTerrain     hexmap.Terrain `json:"existing_terrain"`
	Status              string         `json:"status"` // unresolved, voting, resolved
	Resolution          string         `json:"resolution,omitempty"`
	ResolutionNotes     string         `json:"resolution_notes,omitempty"`
	ResolvedBy          *int64         `json:"resolved_by,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	ResolvedAt          *time.Time     `json:"resolved_at,omitempty"`
	Votes               []ConflictVote `json:"votes,omitempty"`
}

// Coord returns the contested coordinate.
func (c *Conflict) Coord() hexmap.Coord {
	return hexmap.Coord{Q: c.Q, R: c.R}
}

// ConflictVote is one player's advisory vote on a conflict.
type ConflictVote struct {
	ID         int64     `json:"id"`
	ConflictID int64     `json:"conflict_id"`
	PlayerID   int64     `json:"player_id"`
	VoteForNew bool      `json:"vote_for_new"`
	Comment    string    `json:"comment,omitempty"`
	VotedAt    time.Time `json:"voted_at"`
}

// VoteTally aggregates the votes on a conflict.
type VoteTally struct {
	ConflictID       int64 `json:"conflict_id"`
	VotesForNew      int   `json:"votes_for_new"`
	VotesForExisting int   `json:"votes_for_existing"`
}

// PointOfInterest is a GM-placed landmark. Players may know it at a
// different position than where it really is.
type PointOfInterest struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	TrueQ              int       `json:"true_q"`
	TrueR              int       `json:"true_r"`
	PlayerKnownQ       *int      `json:"player_known_q,omitempty"`
	PlayerKnownR       *int      `json:"player_known_r,omitempty"`
	IsLocationVerified bool      `json:"is_location_verified"`
	CreatedBy          int64     `json:"created_by"`
	CreatedAt          time.Time `json:"created_at"`
}

// KnownPOI is the player view of a point of interest: only where players
// believe it is.
type KnownPOI struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Description        string `json:"description,omitempty"`
	Q                  int    `json:"q"`
	R                  int    `json:"r"`
	IsLocationVerified bool   `json:"is_location_verified"`
}
