package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/internal/repository"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

// ExpeditionService handles the expedition lifecycle: membership, exploration
// and completion. Completing an expedition never touches the Town Map.
type ExpeditionService struct {
	store       repository.Store
	tallies     repository.VoteTallyCache
	townCache   repository.TownMapCache
	broadcaster Broadcaster
	now         func() time.Time
}

// NewExpeditionService creates an ExpeditionService.
func NewExpeditionService(store repository.Store, tallies repository.VoteTallyCache, townCache repository.TownMapCache, broadcaster Broadcaster) *ExpeditionService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &ExpeditionService{store: store, tallies: tallies, townCache: townCache, broadcaster: broadcaster, now: time.Now}
}

// Create starts an expedition led by leaderID at start. The leader is
// enrolled and the party's private map is seeded with what the Town Map
// currently knows.
func (s *ExpeditionService) Create(ctx context.Context, name string, leaderID int64, start hexmap.Coord) (*model.Expedition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	var exp *model.Expedition
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		leader, err := tx.Users().Lock(ctx, leaderID)
		if err != nil {
			return err
		}
		if leader == nil {
			return ErrUserNotFound
		}
		startHex, err := tx.Hexes().FindByCoord(ctx, start)
		if err != nil {
			return err
		}
		if startHex == nil {
			return ErrHexNotFound
		}
		active, err := tx.Expeditions().ActiveMembership(ctx, leaderID)
		if err != nil {
			return err
		}
		if active != nil {
			return ErrAlreadyInExpedition
		}

		at := s.now()
		exp, err = tx.Expeditions().Create(ctx, &model.Expedition{
			Name:       name,
			LeaderID:   leaderID,
			StartQ:     start.Q,
			StartR:     start.R,
			LastKnownQ: start.Q,
			LastKnownR: start.R,
			Status:     model.ExpeditionActive,
			CreatedAt:  at,
		})
		if err != nil {
			return err
		}
		member, err := tx.Expeditions().AddMember(ctx, exp.ID, leaderID, at)
		if err != nil {
			return err
		}
		exp.Members = []model.ExpeditionMember{*member}

		town, err := tx.TownMap().List(ctx)
		if err != nil {
			return err
		}
		for _, th := range town {
			if th.Status == model.HexUnexplored {
				continue
			}
			if _, err := tx.Expeditions().UpsertHex(ctx, &model.ExpeditionHex{
				ExpeditionID: exp.ID,
				Q:            th.Q,
				R:            th.R,
				ActualQ:      th.Q,
				ActualR:      th.R,
				Terrain:      th.Terrain,
				IsAccurate:   true,
				FromTownMap:  true,
				ExploredAt:   at,
			}); err != nil {
				return fmt.Errorf("seed expedition map: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("expeditionId", exp.ID).Int64("leaderId", leaderID).Str("start", start.String()).Msg("Expedition created")
	s.broadcaster.BroadcastExpeditionEvent(exp.ID, EventExpeditionCreated, exp)
	return exp, nil
}

// Join enrolls a user in an active expedition. A user may be an active
// member of at most one active expedition at a time.
func (s *ExpeditionService) Join(ctx context.Context, expeditionID, userID int64) (*model.ExpeditionMember, error) {
	var member *model.ExpeditionMember
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		exp, err := tx.Expeditions().FindByID(ctx, expeditionID)
		if err != nil {
			return err
		}
		if exp == nil {
			return ErrExpeditionNotFound
		}
		user, err := tx.Users().Lock(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return ErrUserNotFound
		}
		if exp.Status != model.ExpeditionActive {
			return ErrExpeditionNotActive
		}
		existing, err := tx.Expeditions().FindMember(ctx, expeditionID, userID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Active() {
			return ErrAlreadyMember
		}
		active, err := tx.Expeditions().ActiveMembership(ctx, userID)
		if err != nil {
			return err
		}
		if active != nil {
			return ErrAlreadyInExpedition
		}

		member, err = tx.Expeditions().AddMember(ctx, expeditionID, userID, s.now())
		if errors.Is(err, repository.ErrDuplicate) {
			return ErrAlreadyMember
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("expeditionId", expeditionID).Int64("userId", userID).Msg("Member joined expedition")
	s.broadcaster.BroadcastExpeditionEvent(expeditionID, EventMemberJoined, member)
	return member, nil
}

// Leave removes a member from an expedition. With push, the hexes the party
// had explored by the moment of leaving are merged into the Town Map in the
// same transaction.
func (s *ExpeditionService) Leave(ctx context.Context, expeditionID, userID int64, push bool) (*model.ExpeditionMember, *model.MergeResult, error) {
	var (
		member *model.ExpeditionMember
		out    *mergeOutcome
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		exp, err := tx.Expeditions().Lock(ctx, expeditionID)
		if err != nil {
			return err
		}
		if exp == nil {
			return ErrExpeditionNotFound
		}
		member, err = tx.Expeditions().FindMember(ctx, expeditionID, userID)
		if err != nil {
			return err
		}
		if member == nil || !member.Active() {
			return ErrNotMember
		}
		if exp.LeaderID == userID {
			members, err := tx.Expeditions().ListMembers(ctx, expeditionID)
			if err != nil {
				return err
			}
			for _, m := range members {
				if m.UserID != userID && m.Active() {
					return ErrLeaderMustReassign
				}
			}
		}

		at := s.now()
		if err := tx.Expeditions().MarkLeft(ctx, member.ID, at); err != nil {
			return err
		}
		member.LeftAt = &at
		if !push {
			return nil
		}
		out, err = s.pushSnapshot(ctx, tx, member, at)
		if err != nil {
			return err
		}
		member.PushedToTownMap = true
		member.PushedAt = &at
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	log.Info().Int64("expeditionId", expeditionID).Int64("userId", userID).Bool("push", push).Msg("Member left expedition")
	s.broadcaster.BroadcastExpeditionEvent(expeditionID, EventMemberLeft, member)
	if out == nil {
		return member, nil, nil
	}
	publishMerge(ctx, s.tallies, s.townCache, s.broadcaster, out.conflicts)
	return member, mergeResult(out), nil
}

// PushToTownMap merges the map of a member who left without pushing, as it
// stood when they left.
func (s *ExpeditionService) PushToTownMap(ctx context.Context, expeditionID, userID int64) (*model.MergeResult, error) {
	var out *mergeOutcome
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		exp, err := tx.Expeditions().Lock(ctx, expeditionID)
		if err != nil {
			return err
		}
		if exp == nil {
			return ErrExpeditionNotFound
		}
		member, err := tx.Expeditions().FindMember(ctx, expeditionID, userID)
		if err != nil {
			return err
		}
		if member == nil {
			return ErrNotMember
		}
		if member.Active() {
			return ErrNotFormerMember
		}
		if member.PushedToTownMap {
			return ErrAlreadyPushed
		}
		out, err = s.pushSnapshot(ctx, tx, member, *member.LeftAt)
		return err
	})
	if err != nil {
		return nil, err
	}

	publishMerge(ctx, s.tallies, s.townCache, s.broadcaster, out.conflicts)
	return mergeResult(out), nil
}

// pushSnapshot merges the expedition hexes explored up to cutoff on behalf of
// member. Expedition hexes are kept one per believed coordinate, so a hex the
// party re-explored after cutoff is left to the final submission.
func (s *ExpeditionService) pushSnapshot(ctx context.Context, tx repository.Tx, member *model.ExpeditionMember, cutoff time.Time) (*mergeOutcome, error) {
	expeditionID, userID := member.ExpeditionID, member.UserID
	hexes, err := tx.Expeditions().ListHexes(ctx, expeditionID)
	if err != nil {
		return nil, err
	}
	var snapshot []model.ExpeditionHex
	for _, h := range hexes {
		if !h.ExploredAt.After(cutoff) {
			snapshot = append(snapshot, h)
		}
	}
	at := s.now()
	out, err := mergeHexes(ctx, tx, snapshot, mergeSource{
		expeditionID: expeditionID,
		submitterID:  userID,
		at:           at,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Expeditions().MarkPushed(ctx, member.ID, at); err != nil {
		return nil, err
	}
	log.Info().Int64("expeditionId", expeditionID).Int64("userId", userID).
		Int("added", out.added).Int("confirmed", out.confirmed).Int("conflicted", out.conflicted).
		Msg("Member map pushed to town map")
	return out, nil
}

func mergeResult(out *mergeOutcome) *model.MergeResult {
	return &model.MergeResult{
		HexesAdded:      out.added,
		HexesConfirmed:  out.confirmed,
		HexesConflicted: out.conflicted,
		Conflicts:       out.conflicts,
	}
}

// ReassignLeader hands leadership to another current member.
func (s *ExpeditionService) ReassignLeader(ctx context.Context, expeditionID, newLeaderID, requesterID int64) (*model.Expedition, error) {
	var exp *model.Expedition
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		exp, err = tx.Expeditions().Lock(ctx, expeditionID)
		if err != nil {
			return err
		}
		if exp == nil {
			return ErrExpeditionNotFound
		}
		if exp.LeaderID != requesterID {
			return ErrNotLeader
		}
		member, err := tx.Expeditions().FindMember(ctx, expeditionID, newLeaderID)
		if err != nil {
			return err
		}
		if member == nil || !member.Active() {
			return ErrNotMember
		}
		if err := tx.Expeditions().UpdateLeader(ctx, expeditionID, newLeaderID); err != nil {
			return err
		}
		exp.LeaderID = newLeaderID
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("expeditionId", expeditionID).Int64("leaderId", newLeaderID).Msg("Expedition leader changed")
	s.broadcaster.BroadcastExpeditionEvent(expeditionID, EventLeaderChanged, map[string]int64{"leader_id": newLeaderID})
	return exp, nil
}

// RecordExploration logs that the party explored the hex it believed was at
// believed while really standing at actual. Re-exploring a believed
// coordinate replaces the earlier record.
func (s *ExpeditionService) RecordExploration(ctx context.Context, expeditionID, userID int64, believed, actual hexmap.Coord, terrain hexmap.Terrain, notes string) (*model.ExpeditionHex, error) {
	if !terrain.Valid() {
		return nil, inputErr(hexmap.ErrInvalidTerrain)
	}

	var saved *model.ExpeditionHex
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		exp, err := tx.Expeditions().Lock(ctx, expeditionID)
		if err != nil {
			return err
		}
		if exp == nil {
			return ErrExpeditionNotFound
		}
		if exp.Status != model.ExpeditionActive {
			return ErrExpeditionNotActive
		}
		if exp.LeaderID != userID {
			return ErrNotLeader
		}
		saved, err = tx.Expeditions().UpsertHex(ctx, &model.ExpeditionHex{
			ExpeditionID: expeditionID,
			Q:            believed.Q,
			R:            believed.R,
			ActualQ:      actual.Q,
			ActualR:      actual.R,
			Terrain:      terrain,
			IsAccurate:   believed == actual,
			Notes:        notes,
			ExploredAt:   s.now(),
		})
		if err != nil {
			return err
		}
		return tx.Expeditions().UpdatePosition(ctx, expeditionID, actual)
	})
	if err != nil {
		return nil, err
	}

	s.broadcaster.BroadcastExpeditionEvent(expeditionID, EventHexExplored, saved)
	return saved, nil
}

// IsLost reports whether any of the party's most recent explorations was
// recorded somewhere other than where they believed they were.
func (s *ExpeditionService) IsLost(ctx context.Context, expeditionID int64) (bool, error) {
	if _, err := s.Get(ctx, expeditionID); err != nil {
		return false, err
	}
	recent, err := s.store.Expeditions().RecentExplorations(ctx, expeditionID, hexmap.LostWindow)
	if err != nil {
		return false, err
	}
	records := make([]hexmap.Exploration, len(recent))
	for i, h := range recent {
		records[i] = hexmap.Exploration{Accurate: h.IsAccurate, ExploredAt: h.ExploredAt}
	}
	return hexmap.IsLost(records), nil
}

// CorrectPosition lets the GM set where the party really is.
func (s *ExpeditionService) CorrectPosition(ctx context.Context, expeditionID int64, actual hexmap.Coord) (*model.Expedition, error) {
	exp, err := s.Get(ctx, expeditionID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Expeditions().UpdatePosition(ctx, expeditionID, actual); err != nil {
		return nil, err
	}
	exp.LastKnownQ, exp.LastKnownR = actual.Q, actual.R
	s.broadcaster.BroadcastExpeditionEvent(expeditionID, EventPositionCorrected, actual)
	return exp, nil
}

// Complete ends an active expedition at the leader's request.
func (s *ExpeditionService) Complete(ctx context.Context, expeditionID, requesterID int64) (*model.Expedition, error) {
	return s.complete(ctx, expeditionID, &requesterID)
}

// End completes an active expedition without the leader check.
func (s *ExpeditionService) End(ctx context.Context, expeditionID int64) (*model.Expedition, error) {
	return s.complete(ctx, expeditionID, nil)
}

func (s *ExpeditionService) complete(ctx context.Context, expeditionID int64, requesterID *int64) (*model.Expedition, error) {
	var exp *model.Expedition
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		exp, err = tx.Expeditions().Lock(ctx, expeditionID)
		if err != nil {
			return err
		}
		if exp == nil {
			return ErrExpeditionNotFound
		}
		if requesterID != nil && exp.LeaderID != *requesterID {
			return ErrNotLeader
		}
		if exp.Status != model.ExpeditionActive {
			return ErrExpeditionNotActive
		}
		at := s.now()
		if err := tx.Expeditions().UpdateStatus(ctx, expeditionID, model.ExpeditionCompleted, &at); err != nil {
			return err
		}
		exp.Status = model.ExpeditionCompleted
		exp.CompletedAt = &at
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("expeditionId", expeditionID).Msg("Expedition completed")
	s.broadcaster.BroadcastExpeditionEvent(expeditionID, EventExpeditionCompleted, exp)
	return exp, nil
}

// Archive moves a completed expedition out of the active listings.
func (s *ExpeditionService) Archive(ctx context.Context, expeditionID int64) (*model.Expedition, error) {
	var exp *model.Expedition
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		exp, err = tx.Expeditions().Lock(ctx, expeditionID)
		if err != nil {
			return err
		}
		if exp == nil {
			return ErrExpeditionNotFound
		}
		if exp.Status != model.ExpeditionCompleted {
			return ErrCannotArchive
		}
		if err := tx.Expeditions().UpdateStatus(ctx, expeditionID, model.ExpeditionArchived, exp.CompletedAt); err != nil {
			return err
		}
		exp.Status = model.ExpeditionArchived
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("expeditionId", expeditionID).Msg("Expedition archived")
	s.broadcaster.BroadcastExpeditionEvent(expeditionID, EventExpeditionArchived, exp)
	return exp, nil
}

// Get returns an expedition with its members.
func (s *ExpeditionService) Get(ctx context.Context, expeditionID int64) (*model.Expedition, error) {
	exp, err := s.store.Expeditions().FindByID(ctx, expeditionID)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, ErrExpeditionNotFound
	}
	members, err := s.store.Expeditions().ListMembers(ctx, expeditionID)
	if err != nil {
		return nil, err
	}
	exp.Members = members
	return exp, nil
}

var expeditionStatuses = map[string]bool{
	model.ExpeditionActive:    true,
	model.ExpeditionCompleted: true,
	model.ExpeditionArchived:  true,
	model.ExpeditionLost:      true,
	model.ExpeditionTPK:       true,
}

// List returns expeditions, optionally filtered by status.
func (s *ExpeditionService) List(ctx context.Context, status string) ([]model.Expedition, error) {
	if status != "" && !expeditionStatuses[status] {
		return nil, fmt.Errorf("unknown expedition status %q: %w", status, ErrInput)
	}
	return s.store.Expeditions().List(ctx, status)
}

// ListForUser returns every expedition the user has been a member of.
func (s *ExpeditionService) ListForUser(ctx context.Context, userID int64) ([]model.Expedition, error) {
	return s.store.Expeditions().ListByUser(ctx, userID)
}

// Members returns an expedition's members, including those who left.
func (s *ExpeditionService) Members(ctx context.Context, expeditionID int64) ([]model.ExpeditionMember, error) {
	exp, err := s.Get(ctx, expeditionID)
	if err != nil {
		return nil, err
	}
	return exp.Members, nil
}

// Hexes returns an expedition's private map.
func (s *ExpeditionService) Hexes(ctx context.Context, expeditionID int64) ([]model.ExpeditionHex, error) {
	if _, err := s.Get(ctx, expeditionID); err != nil {
		return nil, err
	}
	return s.store.Expeditions().ListHexes(ctx, expeditionID)
}

// ActiveForUser returns the active expedition the user is currently in.
func (s *ExpeditionService) ActiveForUser(ctx context.Context, userID int64) (*model.Expedition, error) {
	m, err := s.store.Expeditions().ActiveMembership(ctx, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrExpeditionNotFound
	}
	return s.Get(ctx, m.ExpeditionID)
}
