package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/internal/repository"
)

// SubmissionService merges completed expeditions into the Town Map.
type SubmissionService struct {
	store       repository.Store
	tallies     repository.VoteTallyCache
	townCache   repository.TownMapCache
	broadcaster Broadcaster
	now         func() time.Time
}

// NewSubmissionService creates a SubmissionService.
func NewSubmissionService(store repository.Store, tallies repository.VoteTallyCache, townCache repository.TownMapCache, broadcaster Broadcaster) *SubmissionService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &SubmissionService{store: store, tallies: tallies, townCache: townCache, broadcaster: broadcaster, now: time.Now}
}

// Submit merges the leader's map of a completed expedition into the Town Map.
// The whole merge is one transaction: it either fully applies or not at all.
func (s *SubmissionService) Submit(ctx context.Context, expeditionID, submitterID int64) (*model.Submission, error) {
	return s.submit(ctx, expeditionID, submitterID, true)
}

// SubmitOnBehalf lets an admin submit a completed expedition for its leader.
func (s *SubmissionService) SubmitOnBehalf(ctx context.Context, expeditionID, adminID int64) (*model.Submission, error) {
	return s.submit(ctx, expeditionID, adminID, false)
}

func (s *SubmissionService) submit(ctx context.Context, expeditionID, submitterID int64, leaderOnly bool) (*model.Submission, error) {
	var sub *model.Submission
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		exp, err := tx.Expeditions().Lock(ctx, expeditionID)
		if err != nil {
			return err
		}
		if exp == nil {
			return ErrExpeditionNotFound
		}
		if exp.Status != model.ExpeditionCompleted {
			return ErrExpeditionNotCompleted
		}
		if leaderOnly && exp.LeaderID != submitterID {
			return ErrNotLeader
		}
		prior, err := tx.Submissions().FindByExpedition(ctx, expeditionID)
		if err != nil {
			return err
		}
		if prior != nil {
			return ErrAlreadySubmitted
		}

		at := s.now()
		sub, err = tx.Submissions().Create(ctx, &model.Submission{
			ExpeditionID: expeditionID,
			SubmittedBy:  submitterID,
			Status:       model.SubmissionPending,
			SubmittedAt:  at,
		})
		if errors.Is(err, repository.ErrDuplicate) {
			return ErrAlreadySubmitted
		}
		if err != nil {
			return err
		}

		hexes, err := tx.Expeditions().ListHexes(ctx, expeditionID)
		if err != nil {
			return err
		}
		out, err := mergeHexes(ctx, tx, hexes, mergeSource{
			expeditionID: expeditionID,
			submitterID:  exp.LeaderID,
			submissionID: &sub.ID,
			at:           at,
		})
		if err != nil {
			return err
		}

		sub.HexesSubmitted = out.submitted
		sub.HexesAccepted = out.accepted()
		sub.HexesConflicted = out.conflicted
		sub.Status = model.SubmissionApproved
		if out.conflicted > 0 {
			sub.Status = model.SubmissionHasConflicts
		}
		sub.Conflicts = out.conflicts
		return tx.Submissions().Finish(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("expeditionId", expeditionID).
		Int("submitted", sub.HexesSubmitted).
		Int("accepted", sub.HexesAccepted).
		Int("conflicted", sub.HexesConflicted).
		Msg("Expedition submitted to town map")

	publishMerge(ctx, s.tallies, s.townCache, s.broadcaster, sub.Conflicts)
	s.broadcaster.BroadcastExpeditionEvent(expeditionID, EventSubmissionCreated, sub)
	return sub, nil
}

// publishMerge runs the post-commit side effects of any Town Map merge.
func publishMerge(ctx context.Context, tallies repository.VoteTallyCache, townCache repository.TownMapCache, b Broadcaster, conflicts []model.Conflict) {
	invalidateTownMap(ctx, townCache)
	for _, c := range conflicts {
		seedTally(ctx, tallies, &model.VoteTally{ConflictID: c.ID})
		b.BroadcastTownMapEvent(EventConflictCreated, c)
	}
	b.BroadcastTownMapEvent(EventTownMapUpdated, nil)
}

// Get returns an expedition's submission with the conflicts it raised.
func (s *SubmissionService) Get(ctx context.Context, expeditionID int64) (*model.Submission, error) {
	sub, err := s.store.Submissions().FindByExpedition(ctx, expeditionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubmissionNotFound
	}
	conflicts, err := s.store.Conflicts().ListBySubmission(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	sub.Conflicts = conflicts
	return sub, nil
}

// seedTally caches an empty or recomputed tally, logging cache failures.
func seedTally(ctx context.Context, tallies repository.VoteTallyCache, tally *model.VoteTally) {
	if tallies == nil {
		return
	}
	if err := tallies.SetTally(ctx, tally); err != nil {
		log.Warn().Err(err).Int64("conflictId", tally.ConflictID).Msg("Vote tally cache write failed")
	}
}
