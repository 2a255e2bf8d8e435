package service

import (
	"context"
	"time"

	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/internal/repository"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

// mergeSource identifies who is reporting hexes to the Town Map.
type mergeSource struct {
	expeditionID int64
	submitterID  int64
	submissionID *int64
	at           time.Time
}

// mergeOutcome counts what a merge did to the Town Map.
type mergeOutcome struct {
	submitted  int
	added      int
	confirmed  int
	conflicted int
	conflicts  []model.Conflict
}

func (o *mergeOutcome) accepted() int { return o.added + o.confirmed }

// mergeHexes classifies every explored expedition hex against the Town Map at
// its actual coordinate and applies the result. Seeded hexes are skipped. Must
// run inside tx; each coordinate is locked before it is read.
func mergeHexes(ctx context.Context, tx repository.Tx, hexes []model.ExpeditionHex, src mergeSource) (*mergeOutcome, error) {
	out := &mergeOutcome{}
	for _, eh := range hexes {
		if eh.FromTownMap {
			continue
		}
		out.submitted++
		if err := mergeHex(ctx, tx, eh, src, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func mergeHex(ctx context.Context, tx repository.Tx, eh model.ExpeditionHex, src mergeSource, out *mergeOutcome) error {
	c := eh.Actual()
	if err := tx.LockCoord(ctx, c); err != nil {
		return err
	}
	existing, err := tx.TownMap().FindByCoord(ctx, c)
	if err != nil {
		return err
	}

	var known *hexmap.Terrain
	if existing != nil && existing.Status != model.HexUnexplored {
		known = &existing.Terrain
	}
	expID := src.expeditionID

	switch hexmap.Classify(known, eh.Terrain) {
	case hexmap.OutcomeNew:
		th := existing
		if th == nil {
			th, err = tx.TownMap().Create(ctx, &model.TownMapHex{
				Q:                        c.Q,
				R:                        c.R,
				Terrain:                  eh.Terrain,
				Status:                   model.HexVerified,
				FirstDiscoveredAt:        src.at,
				LastVerifiedAt:           src.at,
				DiscoveredByExpeditionID: &expID,
			})
			if err != nil {
				return err
			}
		} else {
			th.Terrain = eh.Terrain
			th.Status = model.HexVerified
			th.LastVerifiedAt = src.at
			if err := tx.TownMap().Update(ctx, th); err != nil {
				return err
			}
		}
		if err := tx.TownMap().AppendHistory(ctx, &model.DiscoveryEntry{
			TownMapHexID:    th.ID,
			ExpeditionID:    &expID,
			ReportedTerrain: eh.Terrain,
			DiscoveredAt:    src.at,
		}); err != nil {
			return err
		}
		out.added++

	case hexmap.OutcomeConfirmed:
		existing.LastVerifiedAt = src.at
		if err := tx.TownMap().Update(ctx, existing); err != nil {
			return err
		}
		if err := tx.TownMap().AppendHistory(ctx, &model.DiscoveryEntry{
			TownMapHexID:    existing.ID,
			ExpeditionID:    &expID,
			ReportedTerrain: eh.Terrain,
			DiscoveredAt:    src.at,
			IsVerification:  true,
		}); err != nil {
			return err
		}
		out.confirmed++

	case hexmap.OutcomeConflict:
		existingSubmitter, err := discovererLeader(ctx, tx, existing)
		if err != nil {
			return err
		}
		conflict, err := tx.Conflicts().Create(ctx, &model.Conflict{
			Q:                   c.Q,
			R:                   c.R,
			SubmissionID:        src.submissionID,
			ExpeditionID:        src.expeditionID,
			NewSubmitterID:      src.submitterID,
			ExistingSubmitterID: existingSubmitter,
			NewTerrain:          eh.Terrain,
			ExistingTerrain:     existing.Terrain,
			Status:              model.ConflictUnresolved,
			CreatedAt:           src.at,
		})
		if err != nil {
			return err
		}
		existing.Status = model.HexDisputed
		if err := tx.TownMap().Update(ctx, existing); err != nil {
			return err
		}
		out.conflicted++
		out.conflicts = append(out.conflicts, *conflict)
	}

	// A no-op when the GM map has nothing at c.
	_, err = tx.Hexes().MarkPublic(ctx, c, &expID, src.at)
	return err
}

// discovererLeader returns the leader of the expedition that first put h on the Town Map.
func discovererLeader(ctx context.Context, tx repository.Tx, h *model.TownMapHex) (*int64, error) {
	if h.DiscoveredByExpeditionID == nil {
		return nil, nil
	}
	exp, err := tx.Expeditions().FindByID(ctx, *h.DiscoveredByExpeditionID)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, nil
	}
	leader := exp.LeaderID
	return &leader, nil
}
