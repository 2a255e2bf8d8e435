package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/internal/repository"
)

// resolvedTallyTTL is how long a resolved conflict's tally stays cached.
const resolvedTallyTTL = 24 * time.Hour

// ConflictService handles voting on and resolving Town Map conflicts. Votes
// are advisory; only a GM or admin resolves.
type ConflictService struct {
	store       repository.Store
	tallies     repository.VoteTallyCache
	townCache   repository.TownMapCache
	broadcaster Broadcaster
	now         func() time.Time
}

// NewConflictService creates a ConflictService.
func NewConflictService(store repository.Store, tallies repository.VoteTallyCache, townCache repository.TownMapCache, broadcaster Broadcaster) *ConflictService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &ConflictService{store: store, tallies: tallies, townCache: townCache, broadcaster: broadcaster, now: time.Now}
}

// ParseResolution validates a resolution name.
func ParseResolution(s string) (string, error) {
	switch s {
	case model.ResolutionAcceptNew, model.ResolutionKeepExisting, model.ResolutionVerification, model.ResolutionGMOverride:
		return s, nil
	}
	return "", ErrInvalidResolution
}

// Vote records a player's opinion on a conflict. The first vote moves the
// conflict into voting; votes never resolve it.
func (s *ConflictService) Vote(ctx context.Context, conflictID, playerID int64, voteForNew bool, comment string) (*model.ConflictVote, error) {
	var vote *model.ConflictVote
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		c, err := tx.Conflicts().Lock(ctx, conflictID)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrConflictNotFound
		}
		if c.Status == model.ConflictResolved {
			return ErrConflictResolved
		}
		player, err := tx.Users().FindByID(ctx, playerID)
		if err != nil {
			return err
		}
		if player == nil {
			return ErrUserNotFound
		}
		votes, err := tx.Conflicts().ListVotes(ctx, conflictID)
		if err != nil {
			return err
		}
		for _, v := range votes {
			if v.PlayerID == playerID {
				return ErrAlreadyVoted
			}
		}

		vote, err = tx.Conflicts().AddVote(ctx, &model.ConflictVote{
			ConflictID: conflictID,
			PlayerID:   playerID,
			VoteForNew: voteForNew,
			Comment:    comment,
			VotedAt:    s.now(),
		})
		if errors.Is(err, repository.ErrDuplicate) {
			return ErrAlreadyVoted
		}
		if err != nil {
			return err
		}
		if c.Status == model.ConflictUnresolved {
			return tx.Conflicts().UpdateStatus(ctx, conflictID, model.ConflictVoting)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Recount after commit so the cached tally includes this vote even when a
	// concurrent cold read seeded it from an older count.
	tally, err := s.store.Conflicts().CountVotes(ctx, conflictID)
	if err != nil {
		log.Warn().Err(err).Int64("conflictId", conflictID).Msg("Vote tally recount failed")
		return vote, nil
	}
	seedTally(ctx, s.tallies, tally)
	s.broadcaster.BroadcastTownMapEvent(EventConflictVoted, tally)
	return vote, nil
}

// Tally returns the vote counts of a conflict, from the cache when warm.
func (s *ConflictService) Tally(ctx context.Context, conflictID int64) (*model.VoteTally, error) {
	if s.tallies != nil {
		cached, err := s.tallies.GetTally(ctx, conflictID)
		if err != nil {
			log.Warn().Err(err).Int64("conflictId", conflictID).Msg("Vote tally cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	c, err := s.store.Conflicts().FindByID(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrConflictNotFound
	}
	tally, err := s.store.Conflicts().CountVotes(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	seedTally(ctx, s.tallies, tally)
	return tally, nil
}

// Resolve closes a conflict. accept_new adopts the reported terrain,
// gm_override adopts the GM map's terrain, and keep_existing and
// verification leave the Town Map terrain alone. The hex is verified again
// once no other conflict on it remains open.
func (s *ConflictService) Resolve(ctx context.Context, conflictID int64, resolution, notes string, resolverID int64) (*model.Conflict, error) {
	resolution, err := ParseResolution(resolution)
	if err != nil {
		return nil, err
	}

	var c *model.Conflict
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		c, err = tx.Conflicts().Lock(ctx, conflictID)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrConflictNotFound
		}
		if c.Status == model.ConflictResolved {
			return ErrConflictResolved
		}
		if err := tx.LockCoord(ctx, c.Coord()); err != nil {
			return err
		}
		th, err := tx.TownMap().FindByCoord(ctx, c.Coord())
		if err != nil {
			return err
		}
		if th == nil {
			return ErrTownHexNotFound
		}

		at := s.now()
		var reported *model.DiscoveryEntry
		switch resolution {
		case model.ResolutionAcceptNew:
			th.Terrain = c.NewTerrain
			expID := c.ExpeditionID
			reported = &model.DiscoveryEntry{ExpeditionID: &expID}
		case model.ResolutionGMOverride:
			gm, err := tx.Hexes().FindByCoord(ctx, c.Coord())
			if err != nil {
				return err
			}
			if gm == nil {
				return ErrHexNotFound
			}
			th.Terrain = gm.Terrain
			reported = &model.DiscoveryEntry{}
		}
		if reported != nil {
			reported.TownMapHexID = th.ID
			reported.ReportedTerrain = th.Terrain
			reported.DiscoveredAt = at
			if err := tx.TownMap().AppendHistory(ctx, reported); err != nil {
				return err
			}
		}

		c.Status = model.ConflictResolved
		c.Resolution = resolution
		c.ResolutionNotes = notes
		c.ResolvedBy = &resolverID
		c.ResolvedAt = &at
		if err := tx.Conflicts().Resolve(ctx, c); err != nil {
			return err
		}

		stillOpen, err := openConflictAt(ctx, tx, c)
		if err != nil {
			return err
		}
		if !stillOpen {
			th.Status = model.HexVerified
		}
		th.LastVerifiedAt = at
		return tx.TownMap().Update(ctx, th)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("conflictId", conflictID).Str("resolution", resolution).Int64("resolvedBy", resolverID).Msg("Conflict resolved")

	if s.tallies != nil {
		if err := s.tallies.ExpireTally(ctx, conflictID, resolvedTallyTTL); err != nil {
			log.Warn().Err(err).Int64("conflictId", conflictID).Msg("Vote tally expiry failed")
		}
	}
	invalidateTownMap(ctx, s.townCache)
	s.broadcaster.BroadcastTownMapEvent(EventConflictResolved, c)
	s.broadcaster.BroadcastTownMapEvent(EventTownMapUpdated, nil)
	return c, nil
}

// openConflictAt reports whether another conflict on the same coordinate is still open.
func openConflictAt(ctx context.Context, tx repository.Tx, resolved *model.Conflict) (bool, error) {
	open, err := tx.Conflicts().ListOpen(ctx)
	if err != nil {
		return false, err
	}
	for _, o := range open {
		if o.ID != resolved.ID && o.Q == resolved.Q && o.R == resolved.R {
			return true, nil
		}
	}
	return false, nil
}

// Get returns a conflict with its votes.
func (s *ConflictService) Get(ctx context.Context, conflictID int64) (*model.Conflict, error) {
	c, err := s.store.Conflicts().FindByID(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrConflictNotFound
	}
	votes, err := s.store.Conflicts().ListVotes(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	c.Votes = votes
	return c, nil
}

// ListOpen returns conflicts that are unresolved or being voted on.
func (s *ConflictService) ListOpen(ctx context.Context) ([]model.Conflict, error) {
	conflicts, err := s.store.Conflicts().ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	if conflicts == nil {
		conflicts = []model.Conflict{}
	}
	return conflicts, nil
}

// RecoverTallies rebuilds the cached tally of every open conflict from the
// database. Called once on startup.
func (s *ConflictService) RecoverTallies(ctx context.Context) error {
	open, err := s.store.Conflicts().ListOpen(ctx)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		log.Info().Msg("No open conflicts to recover")
		return nil
	}

	log.Info().Int("count", len(open)).Msg("Recovering vote tallies after restart")
	for _, c := range open {
		tally, err := s.store.Conflicts().CountVotes(ctx, c.ID)
		if err != nil {
			log.Error().Err(err).Int64("conflictId", c.ID).Msg("Failed to count votes during recovery")
			continue
		}
		seedTally(ctx, s.tallies, tally)
	}
	return nil
}
