package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

type exploration struct {
	believed hexmap.Coord
	actual   hexmap.Coord
	terrain  hexmap.Terrain
}

func explore(c hexmap.Coord, t hexmap.Terrain) exploration {
	return exploration{believed: c, actual: c, terrain: t}
}

func (e *testEnv) seedTownHex(c hexmap.Coord, t hexmap.Terrain) {
	e.store.st.town[c] = model.TownMapHex{ID: e.store.st.id(), Q: c.Q, R: c.R, Terrain: t, Status: model.HexVerified}
}

// startExpedition creates an expedition led by leaderID at the origin and records steps.
func (e *testEnv) startExpedition(t *testing.T, leaderID int64, steps ...exploration) *model.Expedition {
	t.Helper()
	ctx := context.Background()
	exp, err := e.expeditions.Create(ctx, "Into the Marsh", leaderID, at(0, 0))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, s := range steps {
		if _, err := e.expeditions.RecordExploration(ctx, exp.ID, leaderID, s.believed, s.actual, s.terrain, ""); err != nil {
			t.Fatalf("RecordExploration %s: %v", s.believed, err)
		}
	}
	return exp
}

// completedExpedition is startExpedition followed by Complete.
func (e *testEnv) completedExpedition(t *testing.T, leaderID int64, steps ...exploration) *model.Expedition {
	t.Helper()
	exp := e.startExpedition(t, leaderID, steps...)
	if _, err := e.expeditions.Complete(context.Background(), exp.ID, leaderID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	return exp
}

func TestCreateExpedition(t *testing.T) {
	env := newTestEnv()
	env.seedTownHex(at(1, 0), hexmap.Plains)
	env.store.st.town[at(3, 3)] = model.TownMapHex{ID: 99, Q: 3, R: 3, Terrain: hexmap.Unknown, Status: model.HexUnexplored}

	exp, err := env.expeditions.Create(context.Background(), "  Northern Survey ", 1, at(0, 0))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if exp.Name != "Northern Survey" {
		t.Errorf("expected trimmed name, got %q", exp.Name)
	}
	if exp.Status != model.ExpeditionActive {
		t.Errorf("expected active, got %s", exp.Status)
	}
	if exp.LastKnown() != at(0, 0) {
		t.Errorf("expected last known at start, got %s", exp.LastKnown())
	}
	if len(exp.Members) != 1 || exp.Members[0].UserID != 1 {
		t.Errorf("expected leader enrolled, got %+v", exp.Members)
	}

	hexes, _ := env.expeditions.Hexes(context.Background(), exp.ID)
	if len(hexes) != 1 {
		t.Fatalf("expected 1 seeded hex, got %d", len(hexes))
	}
	if !hexes[0].FromTownMap || !hexes[0].IsAccurate || hexes[0].Believed() != at(1, 0) {
		t.Errorf("unexpected seeded hex %+v", hexes[0])
	}
	if env.broadcaster.count(EventExpeditionCreated) != 1 {
		t.Error("expected expedition_created event")
	}
}

func TestCreateExpeditionErrors(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.expeditions.Create(ctx, "x", 42, at(0, 0)); err != ErrUserNotFound {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := env.expeditions.Create(ctx, "x", 1, at(9, 9)); err != ErrHexNotFound {
		t.Errorf("expected ErrHexNotFound, got %v", err)
	}
	if _, err := env.expeditions.Create(ctx, " ", 1, at(0, 0)); !errors.Is(err, ErrInput) {
		t.Errorf("expected input error, got %v", err)
	}
	env.startExpedition(t, 1)
	if _, err := env.expeditions.Create(ctx, "second", 1, at(0, 0)); err != ErrAlreadyInExpedition {
		t.Errorf("expected ErrAlreadyInExpedition, got %v", err)
	}
}

func TestOneActiveExpeditionPerUser(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	a := env.startExpedition(t, 1)
	b := env.startExpedition(t, 2)

	if _, err := env.expeditions.Join(ctx, a.ID, 3); err != nil {
		t.Fatalf("Join A: %v", err)
	}
	_, err := env.expeditions.Join(ctx, b.ID, 3)
	if err != ErrAlreadyInExpedition {
		t.Fatalf("expected ErrAlreadyInExpedition, got %v", err)
	}
	if !errors.Is(err, ErrConstraint) {
		t.Error("expected a constraint violation")
	}

	if _, _, err := env.expeditions.Leave(ctx, a.ID, 3, false); err != nil {
		t.Fatalf("Leave A: %v", err)
	}
	if _, err := env.expeditions.Join(ctx, b.ID, 3); err != nil {
		t.Fatalf("Join B after leaving A: %v", err)
	}
}

func TestJoinErrors(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	exp := env.startExpedition(t, 1)

	tests := []struct {
		name   string
		expID  int64
		userID int64
		want   error
	}{
		{"unknown expedition", 999, 2, ErrExpeditionNotFound},
		{"unknown user", exp.ID, 999, ErrUserNotFound},
		{"already member", exp.ID, 1, ErrAlreadyMember},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.expeditions.Join(ctx, tt.expID, tt.userID); err != tt.want {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	env.expeditions.Complete(ctx, exp.ID, 1)
	if _, err := env.expeditions.Join(ctx, exp.ID, 2); err != ErrExpeditionNotActive {
		t.Errorf("expected ErrExpeditionNotActive, got %v", err)
	}
}

func TestConcurrentJoinsAdmitOneExpedition(t *testing.T) {
	env := newTestEnv()
	a := env.startExpedition(t, 1)
	b := env.startExpedition(t, 2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []int64{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = env.expeditions.Join(context.Background(), id, 3)
		}(i, id)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if err != ErrAlreadyInExpedition {
			t.Errorf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly one join to succeed, got %d", ok)
	}
}

func TestLeaderCannotLeaveWithMembers(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	exp := env.startExpedition(t, 1)
	env.expeditions.Join(ctx, exp.ID, 2)

	if _, _, err := env.expeditions.Leave(ctx, exp.ID, 1, false); err != ErrLeaderMustReassign {
		t.Fatalf("expected ErrLeaderMustReassign, got %v", err)
	}
	if _, err := env.expeditions.ReassignLeader(ctx, exp.ID, 2, 1); err != nil {
		t.Fatalf("ReassignLeader: %v", err)
	}
	if _, _, err := env.expeditions.Leave(ctx, exp.ID, 1, false); err != nil {
		t.Fatalf("Leave after reassign: %v", err)
	}
	if _, _, err := env.expeditions.Leave(ctx, exp.ID, 1, false); err != ErrNotMember {
		t.Errorf("expected ErrNotMember on second leave, got %v", err)
	}
}

func TestReassignLeaderErrors(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	exp := env.startExpedition(t, 1)
	env.expeditions.Join(ctx, exp.ID, 2)

	if _, err := env.expeditions.ReassignLeader(ctx, exp.ID, 1, 2); err != ErrNotLeader {
		t.Errorf("expected ErrNotLeader, got %v", err)
	}
	if _, err := env.expeditions.ReassignLeader(ctx, exp.ID, 3, 1); err != ErrNotMember {
		t.Errorf("expected ErrNotMember, got %v", err)
	}
	got, err := env.expeditions.ReassignLeader(ctx, exp.ID, 2, 1)
	if err != nil {
		t.Fatalf("ReassignLeader: %v", err)
	}
	if got.LeaderID != 2 {
		t.Errorf("expected leader 2, got %d", got.LeaderID)
	}
	if env.broadcaster.count(EventLeaderChanged) != 1 {
		t.Error("expected leader_changed event")
	}
}

func TestRecordExploration(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	exp := env.startExpedition(t, 1)
	env.expeditions.Join(ctx, exp.ID, 2)

	if _, err := env.expeditions.RecordExploration(ctx, exp.ID, 2, at(1, 0), at(1, 0), hexmap.Plains, ""); err != ErrNotLeader {
		t.Errorf("expected ErrNotLeader for a non-leader, got %v", err)
	}
	if _, err := env.expeditions.RecordExploration(ctx, exp.ID, 1, at(1, 0), at(1, 0), "lava", ""); !errors.Is(err, ErrInput) {
		t.Errorf("expected input error for bad terrain, got %v", err)
	}

	h, err := env.expeditions.RecordExploration(ctx, exp.ID, 1, at(1, 0), at(1, -1), hexmap.Hills, "fog")
	if err != nil {
		t.Fatalf("RecordExploration: %v", err)
	}
	if h.IsAccurate {
		t.Error("expected inaccurate record when believed differs from actual")
	}
	got, _ := env.expeditions.Get(ctx, exp.ID)
	if got.LastKnown() != at(1, -1) {
		t.Errorf("expected last known at actual position, got %s", got.LastKnown())
	}

	// Re-exploring the same believed coordinate replaces the record.
	if _, err := env.expeditions.RecordExploration(ctx, exp.ID, 1, at(1, 0), at(1, 0), hexmap.Plains, ""); err != nil {
		t.Fatalf("RecordExploration: %v", err)
	}
	hexes, _ := env.expeditions.Hexes(ctx, exp.ID)
	if len(hexes) != 1 || hexes[0].Terrain != hexmap.Plains || !hexes[0].IsAccurate {
		t.Errorf("expected one replaced record, got %+v", hexes)
	}

	env.expeditions.Complete(ctx, exp.ID, 1)
	if _, err := env.expeditions.RecordExploration(ctx, exp.ID, 1, at(0, 1), at(0, 1), hexmap.Plains, ""); err != ErrExpeditionNotActive {
		t.Errorf("expected ErrExpeditionNotActive, got %v", err)
	}
}

func TestReexploringSeededHexClearsSeedFlag(t *testing.T) {
	env := newTestEnv()
	env.seedTownHex(at(1, 0), hexmap.Plains)
	exp := env.startExpedition(t, 1, explore(at(1, 0), hexmap.Forest))

	hexes, _ := env.expeditions.Hexes(context.Background(), exp.ID)
	if len(hexes) != 1 || hexes[0].FromTownMap || hexes[0].Terrain != hexmap.Forest {
		t.Errorf("expected explored record to replace the seed, got %+v", hexes)
	}
}

func TestLostDetectionWindow(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	steps := []exploration{
		explore(at(1, 0), hexmap.Plains),
		explore(at(2, 0), hexmap.Plains),
		explore(at(3, 0), hexmap.Plains),
		explore(at(4, 0), hexmap.Plains),
		{believed: at(5, 0), actual: at(5, -1), terrain: hexmap.Forest},
	}
	exp := env.startExpedition(t, 1, steps...)

	lost, err := env.expeditions.IsLost(ctx, exp.ID)
	if err != nil {
		t.Fatalf("IsLost: %v", err)
	}
	if !lost {
		t.Fatal("expected lost after an inaccurate exploration")
	}

	for q := 6; q <= 10; q++ {
		if _, err := env.expeditions.RecordExploration(ctx, exp.ID, 1, at(q, 0), at(q, 0), hexmap.Plains, ""); err != nil {
			t.Fatalf("RecordExploration: %v", err)
		}
	}
	lost, _ = env.expeditions.IsLost(ctx, exp.ID)
	if lost {
		t.Error("expected not lost once the last five explorations are accurate")
	}
}

func TestLostIgnoresSeededHexes(t *testing.T) {
	env := newTestEnv()
	env.seedTownHex(at(1, 0), hexmap.Plains)
	exp := env.startExpedition(t, 1)

	lost, err := env.expeditions.IsLost(context.Background(), exp.ID)
	if err != nil {
		t.Fatalf("IsLost: %v", err)
	}
	if lost {
		t.Error("a fresh expedition should not be lost")
	}
	if _, err := env.expeditions.IsLost(context.Background(), 999); err != ErrExpeditionNotFound {
		t.Errorf("expected ErrExpeditionNotFound, got %v", err)
	}
}

func TestCompleteAndArchive(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	exp := env.startExpedition(t, 1, explore(at(1, 0), hexmap.Plains))
	env.expeditions.Join(ctx, exp.ID, 2)

	if _, err := env.expeditions.Archive(ctx, exp.ID); err != ErrCannotArchive {
		t.Errorf("expected ErrCannotArchive while active, got %v", err)
	}
	if _, err := env.expeditions.Complete(ctx, exp.ID, 2); err != ErrNotLeader {
		t.Errorf("expected ErrNotLeader, got %v", err)
	}
	got, err := env.expeditions.Complete(ctx, exp.ID, 1)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Status != model.ExpeditionCompleted || got.CompletedAt == nil {
		t.Errorf("expected completed with timestamp, got %+v", got)
	}
	if len(env.store.st.town) != 0 {
		t.Error("completing must not touch the town map")
	}
	if _, err := env.expeditions.Complete(ctx, exp.ID, 1); err != ErrExpeditionNotActive {
		t.Errorf("expected ErrExpeditionNotActive, got %v", err)
	}

	archived, err := env.expeditions.Archive(ctx, exp.ID)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if archived.Status != model.ExpeditionArchived {
		t.Errorf("expected archived, got %s", archived.Status)
	}
}

func TestEndSkipsLeaderCheck(t *testing.T) {
	env := newTestEnv()
	exp := env.startExpedition(t, 1)
	got, err := env.expeditions.End(context.Background(), exp.ID)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if got.Status != model.ExpeditionCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
}

func TestLeaveWithPushMergesSnapshot(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedTownHex(at(2, -1), hexmap.Forest)
	exp := env.startExpedition(t, 1,
		explore(at(1, 0), hexmap.Plains),
		explore(at(2, -1), hexmap.Plains),
	)
	env.expeditions.Join(ctx, exp.ID, 2)

	member, result, err := env.expeditions.Leave(ctx, exp.ID, 2, true)
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if member.LeftAt == nil || !member.PushedToTownMap {
		t.Errorf("expected left and pushed member, got %+v", member)
	}
	if result.HexesAdded != 1 || result.HexesConflicted != 1 || result.HexesConfirmed != 0 {
		t.Errorf("unexpected merge result %+v", result)
	}
	if result.Conflicts[0].SubmissionID != nil {
		t.Error("leave-push conflicts carry no submission")
	}

	// Hexes explored after leaving stay out of a later push.
	env.expeditions.RecordExploration(ctx, exp.ID, 1, at(0, 1), at(0, 1), hexmap.Plains, "")
	if _, ok := env.store.st.town[at(0, 1)]; ok {
		t.Error("exploration after leaving must not reach the town map")
	}
	if _, err := env.expeditions.PushToTownMap(ctx, exp.ID, 2); err != ErrAlreadyPushed {
		t.Errorf("expected ErrAlreadyPushed, got %v", err)
	}

	// A later full submission is not blocked.
	env.expeditions.Complete(ctx, exp.ID, 1)
	if _, err := env.submissions.Submit(ctx, exp.ID, 1); err != nil {
		t.Fatalf("Submit after push: %v", err)
	}
}

func TestPushToTownMapAfterLeaving(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	exp := env.startExpedition(t, 1, explore(at(1, 0), hexmap.Plains))
	env.expeditions.Join(ctx, exp.ID, 2)

	if _, err := env.expeditions.PushToTownMap(ctx, exp.ID, 2); err != ErrNotFormerMember {
		t.Errorf("expected ErrNotFormerMember, got %v", err)
	}
	if _, err := env.expeditions.PushToTownMap(ctx, exp.ID, 3); err != ErrNotMember {
		t.Errorf("expected ErrNotMember, got %v", err)
	}

	env.expeditions.Leave(ctx, exp.ID, 2, false)
	env.expeditions.RecordExploration(ctx, exp.ID, 1, at(0, 1), at(0, 1), hexmap.Plains, "")

	result, err := env.expeditions.PushToTownMap(ctx, exp.ID, 2)
	if err != nil {
		t.Fatalf("PushToTownMap: %v", err)
	}
	if result.HexesAdded != 1 {
		t.Errorf("expected only the hex explored before leaving, got %+v", result)
	}
	if _, ok := env.store.st.town[at(0, 1)]; ok {
		t.Error("hex explored after leaving must not be pushed")
	}
	if env.townCache.invalidations == 0 {
		t.Error("expected town map cache invalidation")
	}
}

func TestLatePushLeavesReexploredHexToSubmission(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	exp := env.startExpedition(t, 1, explore(at(1, 0), hexmap.Plains))
	env.expeditions.Join(ctx, exp.ID, 2)
	env.expeditions.Leave(ctx, exp.ID, 2, false)

	// The party revisits the hex after the member left; the row now carries the new reading.
	if _, err := env.expeditions.RecordExploration(ctx, exp.ID, 1, at(1, 0), at(1, 0), hexmap.Forest, ""); err != nil {
		t.Fatalf("RecordExploration: %v", err)
	}
	result, err := env.expeditions.PushToTownMap(ctx, exp.ID, 2)
	if err != nil {
		t.Fatalf("PushToTownMap: %v", err)
	}
	if result.HexesAdded != 0 || result.HexesConflicted != 0 {
		t.Errorf("expected the re-explored hex to be skipped, got %+v", result)
	}
	if _, ok := env.store.st.town[at(1, 0)]; ok {
		t.Fatal("re-explored hex must not be pushed")
	}

	env.expeditions.Complete(ctx, exp.ID, 1)
	if _, err := env.submissions.Submit(ctx, exp.ID, 1); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := env.store.st.town[at(1, 0)].Terrain; got != hexmap.Forest {
		t.Errorf("expected the submission to carry the latest reading, got %s", got)
	}
}

func TestRejoinAfterLeaving(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	exp := env.startExpedition(t, 1, explore(at(1, 0), hexmap.Plains))

	first, err := env.expeditions.Join(ctx, exp.ID, 2)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, _, err := env.expeditions.Leave(ctx, exp.ID, 2, true); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	again, err := env.expeditions.Join(ctx, exp.ID, 2)
	if err != nil {
		t.Fatalf("re-join after leaving: %v", err)
	}
	if again.ID == first.ID || !again.Active() || again.PushedToTownMap {
		t.Errorf("expected a fresh membership, got %+v", again)
	}
	if _, err := env.expeditions.Join(ctx, exp.ID, 2); err != ErrAlreadyMember {
		t.Errorf("expected ErrAlreadyMember while a member again, got %v", err)
	}

	// The new stint can leave and push on its own.
	if _, _, err := env.expeditions.Leave(ctx, exp.ID, 2, false); err != nil {
		t.Fatalf("second Leave: %v", err)
	}
	if _, err := env.expeditions.PushToTownMap(ctx, exp.ID, 2); err != nil {
		t.Errorf("expected the second stint to push, got %v", err)
	}

	mine, _ := env.expeditions.ListForUser(ctx, 2)
	if len(mine) != 1 {
		t.Errorf("expected the expedition listed once, got %d", len(mine))
	}
}

func TestListExpeditions(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	a := env.startExpedition(t, 1)
	env.completedExpedition(t, 2)

	active, err := env.expeditions.List(ctx, model.ExpeditionActive)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(active) != 1 || active[0].ID != a.ID {
		t.Errorf("expected only the active expedition, got %+v", active)
	}
	all, _ := env.expeditions.List(ctx, "")
	if len(all) != 2 {
		t.Errorf("expected 2 expeditions, got %d", len(all))
	}
	if _, err := env.expeditions.List(ctx, "sunk"); !errors.Is(err, ErrInput) {
		t.Errorf("expected input error for unknown status, got %v", err)
	}

	mine, err := env.expeditions.ActiveForUser(ctx, 1)
	if err != nil || mine.ID != a.ID {
		t.Errorf("expected active expedition for user 1, got %v %v", mine, err)
	}
	if _, err := env.expeditions.ActiveForUser(ctx, 2); err != ErrExpeditionNotFound {
		t.Errorf("expected ErrExpeditionNotFound, got %v", err)
	}
	history, _ := env.expeditions.ListForUser(ctx, 2)
	if len(history) != 1 {
		t.Errorf("expected 1 expedition for user 2, got %d", len(history))
	}
}
