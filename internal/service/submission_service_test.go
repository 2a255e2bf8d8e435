package service

import (
	"context"
	"errors"
	"testing"

	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

func TestSubmitAddsNewHexes(t *testing.T) {
	env := newTestEnv()
	exp := env.completedExpedition(t, 1,
		explore(at(1, 0), hexmap.Plains),
		explore(at(0, 1), hexmap.Plains),
		explore(at(7, 7), hexmap.Swamp),
	)

	sub, err := env.submissions.Submit(context.Background(), exp.ID, 1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Status != model.SubmissionApproved {
		t.Errorf("expected approved, got %s", sub.Status)
	}
	if sub.HexesSubmitted != 3 || sub.HexesAccepted != 3 || sub.HexesConflicted != 0 {
		t.Errorf("unexpected counts %+v", sub)
	}

	th := env.store.st.town[at(7, 7)]
	if th.Terrain != hexmap.Swamp || th.Status != model.HexVerified {
		t.Errorf("unexpected town hex %+v", th)
	}
	if th.DiscoveredByExpeditionID == nil || *th.DiscoveredByExpeditionID != exp.ID {
		t.Error("expected discovering expedition recorded")
	}
	history, _ := env.town.History(context.Background(), at(7, 7))
	if len(history) != 1 || history[0].IsVerification {
		t.Errorf("expected one discovery entry, got %+v", history)
	}

	// The GM hex under an accepted report becomes public; (7,7) has none.
	if !env.store.st.hexes[at(1, 0)].IsOnTownMap {
		t.Error("expected GM hex marked public")
	}
	if len(env.store.lockedCoords) != 3 {
		t.Errorf("expected a coordinate lock per hex, got %d", len(env.store.lockedCoords))
	}
	if env.broadcaster.count(EventSubmissionCreated) != 1 || env.broadcaster.count(EventTownMapUpdated) != 1 {
		t.Error("expected submission and town map events")
	}
}

func TestSubmitIdempotentConfirmation(t *testing.T) {
	env := newTestEnv()
	env.seedTownHex(at(1, 0), hexmap.Plains)
	env.seedTownHex(at(2, -1), hexmap.Forest)
	exp := env.completedExpedition(t, 1,
		explore(at(1, 0), hexmap.Plains),
		explore(at(2, -1), hexmap.Forest),
	)

	sub, err := env.submissions.Submit(context.Background(), exp.ID, 1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.HexesConflicted != 0 || sub.Status != model.SubmissionApproved {
		t.Errorf("expected approved with no conflicts, got %+v", sub)
	}
	if sub.HexesAccepted != 2 {
		t.Errorf("expected 2 accepted, got %d", sub.HexesAccepted)
	}
	if env.store.st.town[at(1, 0)].Terrain != hexmap.Plains || env.store.st.town[at(2, -1)].Terrain != hexmap.Forest {
		t.Error("confirmation must not change terrain")
	}
	history, _ := env.town.History(context.Background(), at(2, -1))
	if len(history) != 1 || !history[0].IsVerification {
		t.Errorf("expected one verification entry, got %+v", history)
	}
}

func TestSubmitCreatesConflict(t *testing.T) {
	env := newTestEnv()
	env.seedTownHex(at(2, -1), hexmap.Forest)
	exp := env.completedExpedition(t, 1, explore(at(2, -1), hexmap.Plains))

	sub, err := env.submissions.Submit(context.Background(), exp.ID, 1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Status != model.SubmissionHasConflicts || sub.HexesConflicted != 1 {
		t.Errorf("expected one conflict, got %+v", sub)
	}
	if len(env.store.st.conflicts) != 1 {
		t.Fatalf("expected exactly one conflict, got %d", len(env.store.st.conflicts))
	}
	c := sub.Conflicts[0]
	if c.NewTerrain != hexmap.Plains || c.ExistingTerrain != hexmap.Forest {
		t.Errorf("unexpected conflict terrain %s vs %s", c.NewTerrain, c.ExistingTerrain)
	}
	if c.Status != model.ConflictUnresolved || c.SubmissionID == nil || *c.SubmissionID != sub.ID {
		t.Errorf("unexpected conflict %+v", c)
	}

	th := env.store.st.town[at(2, -1)]
	if th.Status != model.HexDisputed || th.Terrain != hexmap.Forest {
		t.Errorf("expected disputed forest, got %s %s", th.Status, th.Terrain)
	}
	if tally, _ := env.tallies.GetTally(context.Background(), c.ID); tally == nil {
		t.Error("expected an empty tally cached for the new conflict")
	}
	if env.broadcaster.count(EventConflictCreated) != 1 {
		t.Error("expected conflict_created event")
	}
}

func TestSubmitUsesActualCoordinate(t *testing.T) {
	env := newTestEnv()
	env.seedTownHex(at(2, -1), hexmap.Forest)
	// The party thought it was at (1,0) but stood on (2,-1).
	exp := env.completedExpedition(t, 1, exploration{believed: at(1, 0), actual: at(2, -1), terrain: hexmap.Forest})

	sub, err := env.submissions.Submit(context.Background(), exp.ID, 1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.HexesAccepted != 1 || sub.HexesConflicted != 0 {
		t.Errorf("expected confirmation at the actual coordinate, got %+v", sub)
	}
	if _, ok := env.store.st.town[at(1, 0)]; ok {
		t.Error("believed coordinate must not be written")
	}
}

func TestSubmitExistingSubmitterIsDiscoverersLeader(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	first := env.completedExpedition(t, 1, explore(at(1, 0), hexmap.Plains))
	if _, err := env.submissions.Submit(ctx, first.ID, 1); err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	second := env.completedExpedition(t, 2, explore(at(1, 0), hexmap.Hills))

	sub, err := env.submissions.Submit(ctx, second.ID, 2)
	if err != nil {
		t.Fatalf("Submit second: %v", err)
	}
	c := sub.Conflicts[0]
	if c.ExistingSubmitterID == nil || *c.ExistingSubmitterID != 1 {
		t.Errorf("expected existing submitter 1, got %v", c.ExistingSubmitterID)
	}
	if c.NewSubmitterID != 2 {
		t.Errorf("expected new submitter 2, got %d", c.NewSubmitterID)
	}
}

func TestSubmitSkipsSeededHexes(t *testing.T) {
	env := newTestEnv()
	env.seedTownHex(at(1, 0), hexmap.Plains)
	exp := env.completedExpedition(t, 1)

	sub, err := env.submissions.Submit(context.Background(), exp.ID, 1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.HexesSubmitted != 0 {
		t.Errorf("seeded hexes are not submissions, got %d", sub.HexesSubmitted)
	}
	history, _ := env.town.History(context.Background(), at(1, 0))
	if len(history) != 0 {
		t.Error("seeded hexes must not add history")
	}
}

func TestNoDoubleSubmission(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedTownHex(at(2, -1), hexmap.Forest)
	exp := env.completedExpedition(t, 1, explore(at(2, -1), hexmap.Plains))

	if _, err := env.submissions.Submit(ctx, exp.ID, 1); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	_, err := env.submissions.Submit(ctx, exp.ID, 1)
	if err != ErrAlreadySubmitted {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
	if !errors.Is(err, ErrConstraint) {
		t.Error("expected a constraint violation")
	}
	if len(env.store.st.conflicts) != 1 || len(env.store.st.submissions) != 1 {
		t.Errorf("second submit must add nothing: %d conflicts, %d submissions",
			len(env.store.st.conflicts), len(env.store.st.submissions))
	}
}

func TestSubmitPreconditions(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	active := env.startExpedition(t, 1, explore(at(1, 0), hexmap.Plains))

	if _, err := env.submissions.Submit(ctx, 999, 1); err != ErrExpeditionNotFound {
		t.Errorf("expected ErrExpeditionNotFound, got %v", err)
	}
	if _, err := env.submissions.Submit(ctx, active.ID, 1); err != ErrExpeditionNotCompleted {
		t.Errorf("expected ErrExpeditionNotCompleted, got %v", err)
	}
	env.expeditions.Complete(ctx, active.ID, 1)
	if _, err := env.submissions.Submit(ctx, active.ID, 2); err != ErrNotLeader {
		t.Errorf("expected ErrNotLeader, got %v", err)
	}
	sub, err := env.submissions.SubmitOnBehalf(ctx, active.ID, 5)
	if err != nil {
		t.Fatalf("SubmitOnBehalf: %v", err)
	}
	if sub.SubmittedBy != 5 {
		t.Errorf("expected submitted by admin, got %d", sub.SubmittedBy)
	}
}

func TestSubmitRollsBackOnFailure(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedTownHex(at(2, -1), hexmap.Forest)
	exp := env.completedExpedition(t, 1,
		explore(at(1, 0), hexmap.Plains),
		explore(at(2, -1), hexmap.Plains),
	)

	boom := errors.New("disk full")
	env.store.failConflictCreate = boom
	if _, err := env.submissions.Submit(ctx, exp.ID, 1); err != boom {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if _, ok := env.store.st.town[at(1, 0)]; ok {
		t.Error("new hex must be rolled back")
	}
	if env.store.st.town[at(2, -1)].Status != model.HexVerified {
		t.Error("disputed status must be rolled back")
	}
	if len(env.store.st.submissions) != 0 {
		t.Error("submission must be rolled back")
	}

	env.store.failConflictCreate = nil
	if _, err := env.submissions.Submit(ctx, exp.ID, 1); err != nil {
		t.Fatalf("retry after rollback: %v", err)
	}
}

func TestGetSubmission(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedTownHex(at(2, -1), hexmap.Forest)
	exp := env.completedExpedition(t, 1, explore(at(2, -1), hexmap.Plains))

	if _, err := env.submissions.Get(ctx, exp.ID); err != ErrSubmissionNotFound {
		t.Errorf("expected ErrSubmissionNotFound, got %v", err)
	}
	env.submissions.Submit(ctx, exp.ID, 1)
	sub, err := env.submissions.Get(ctx, exp.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sub.HexesConflicted != 1 || len(sub.Conflicts) != 1 {
		t.Errorf("expected stored counts and conflicts, got %+v", sub)
	}
}
