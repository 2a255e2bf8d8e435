package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/internal/repository"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

// memState is the whole in-memory database. It is cloned at the start of
// every transaction so a failed transaction can be rolled back.
type memState struct {
	nextID      int64
	users       map[int64]model.User
	hexes       map[hexmap.Coord]model.Hex
	town        map[hexmap.Coord]model.TownMapHex
	history     []model.DiscoveryEntry
	expeditions map[int64]model.Expedition
	members     []model.ExpeditionMember
	expHexes    []model.ExpeditionHex
	submissions map[int64]model.Submission
	conflicts   map[int64]model.Conflict
	votes       []model.ConflictVote
	pois        map[int64]model.PointOfInterest
}

func newMemState() *memState {
	return &memState{
		users:       make(map[int64]model.User),
		hexes:       make(map[hexmap.Coord]model.Hex),
		town:        make(map[hexmap.Coord]model.TownMapHex),
		expeditions: make(map[int64]model.Expedition),
		submissions: make(map[int64]model.Submission),
		conflicts:   make(map[int64]model.Conflict),
		pois:        make(map[int64]model.PointOfInterest),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		nextID:      s.nextID,
		users:       make(map[int64]model.User, len(s.users)),
		hexes:       make(map[hexmap.Coord]model.Hex, len(s.hexes)),
		town:        make(map[hexmap.Coord]model.TownMapHex, len(s.town)),
		history:     append([]model.DiscoveryEntry(nil), s.history...),
		expeditions: make(map[int64]model.Expedition, len(s.expeditions)),
		members:     append([]model.ExpeditionMember(nil), s.members...),
		expHexes:    append([]model.ExpeditionHex(nil), s.expHexes...),
		submissions: make(map[int64]model.Submission, len(s.submissions)),
		conflicts:   make(map[int64]model.Conflict, len(s.conflicts)),
		votes:       append([]model.ConflictVote(nil), s.votes...),
		pois:        make(map[int64]model.PointOfInterest, len(s.pois)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.hexes {
		c.hexes[k] = v
	}
	for k, v := range s.town {
		c.town[k] = v
	}
	for k, v := range s.expeditions {
		c.expeditions[k] = v
	}
	for k, v := range s.submissions {
		c.submissions[k] = v
	}
	for k, v := range s.conflicts {
		c.conflicts[k] = v
	}
	for k, v := range s.pois {
		c.pois[k] = v
	}
	return c
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

// memStore implements repository.Store and repository.Tx over memState.
// WithTx runs transactions one at a time.
type memStore struct {
	mu           sync.Mutex
	st           *memState
	lockedCoords []hexmap.Coord
	// failConflictCreate, when set, is returned by Conflicts().Create.
	failConflictCreate error
}

func newMemStore() *memStore {
	return &memStore{st: newMemState()}
}

func (m *memStore) Users() repository.UserRepository             { return memUsers{m} }
func (m *memStore) Hexes() repository.HexRepository              { return memHexes{m} }
func (m *memStore) TownMap() repository.TownMapRepository        { return memTown{m} }
func (m *memStore) Expeditions() repository.ExpeditionRepository { return memExpeditions{m} }
func (m *memStore) Submissions() repository.SubmissionRepository { return memSubmissions{m} }
func (m *memStore) Conflicts() repository.ConflictRepository     { return memConflicts{m} }
func (m *memStore) POIs() repository.POIRepository               { return memPOIs{m} }

func (m *memStore) WithTx(_ context.Context, fn func(tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.st.clone()
	if err := fn(m); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *memStore) LockCoord(_ context.Context, c hexmap.Coord) error {
	m.lockedCoords = append(m.lockedCoords, c)
	return nil
}

func (m *memStore) addUser(id int64, roles ...string) {
	m.st.users[id] = model.User{ID: id, Provider: "test", DisplayName: "user", Roles: roles}
	if id > m.st.nextID {
		m.st.nextID = id
	}
}

func (m *memStore) addHex(c hexmap.Coord, t hexmap.Terrain) {
	m.st.hexes[c] = model.Hex{ID: m.st.id(), Q: c.Q, R: c.R, Terrain: t, IsManuallySet: true, IsExploredByGM: true}
}

// --- users ---

type memUsers struct{ m *memStore }

func (r memUsers) FindByID(_ context.Context, id int64) (*model.User, error) {
	u, ok := r.m.st.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r memUsers) Lock(ctx context.Context, id int64) (*model.User, error) {
	return r.FindByID(ctx, id)
}

func (r memUsers) FindByProviderID(_ context.Context, provider, providerID string) (*model.User, error) {
	for _, u := range r.m.st.users {
		if u.Provider == provider && u.ProviderID == providerID {
			return &u, nil
		}
	}
	return nil, nil
}

func (r memUsers) Upsert(ctx context.Context, provider, providerID, displayName string, roles []string) (*model.User, error) {
	if u, _ := r.FindByProviderID(ctx, provider, providerID); u != nil {
		u.DisplayName = displayName
		r.m.st.users[u.ID] = *u
		return u, nil
	}
	u := model.User{ID: r.m.st.id(), Provider: provider, ProviderID: providerID, DisplayName: displayName, Roles: roles}
	r.m.st.users[u.ID] = u
	return &u, nil
}

// --- GM map ---

type memHexes struct{ m *memStore }

func (r memHexes) FindByCoord(_ context.Context, c hexmap.Coord) (*model.Hex, error) {
	h, ok := r.m.st.hexes[c]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (r memHexes) FindMany(_ context.Context, coords []hexmap.Coord) ([]model.Hex, error) {
	var found []model.Hex
	for _, c := range coords {
		if h, ok := r.m.st.hexes[c]; ok {
			found = append(found, h)
		}
	}
	return found, nil
}

func (r memHexes) Create(_ context.Context, h *model.Hex) (*model.Hex, error) {
	c := h.Coord()
	if _, ok := r.m.st.hexes[c]; ok {
		return nil, repository.ErrDuplicate
	}
	cp := *h
	cp.ID = r.m.st.id()
	r.m.st.hexes[c] = cp
	return &cp, nil
}

func (r memHexes) Update(_ context.Context, c hexmap.Coord, terrain hexmap.Terrain, notes string) (*model.Hex, error) {
	h, ok := r.m.st.hexes[c]
	if !ok {
		return nil, nil
	}
	h.Terrain = terrain
	h.GMNotes = notes
	h.IsManuallySet = true
	r.m.st.hexes[c] = h
	return &h, nil
}

func (r memHexes) Delete(_ context.Context, c hexmap.Coord) (bool, error) {
	if _, ok := r.m.st.hexes[c]; !ok {
		return false, nil
	}
	delete(r.m.st.hexes, c)
	return true, nil
}

func (r memHexes) MarkPublic(_ context.Context, c hexmap.Coord, expeditionID *int64, at time.Time) (bool, error) {
	h, ok := r.m.st.hexes[c]
	if !ok {
		return false, nil
	}
	h.IsOnTownMap = true
	if h.DiscoveredByExpeditionID == nil {
		h.DiscoveredByExpeditionID = expeditionID
	}
	if h.DiscoveredAt == nil {
		h.DiscoveredAt = &at
	}
	r.m.st.hexes[c] = h
	return true, nil
}

func (r memHexes) ListAll(_ context.Context) ([]model.Hex, error) {
	return r.list(func(model.Hex) bool { return true }), nil
}

func (r memHexes) ListPublic(_ context.Context) ([]model.Hex, error) {
	return r.list(func(h model.Hex) bool { return h.IsOnTownMap }), nil
}

func (r memHexes) list(keep func(model.Hex) bool) []model.Hex {
	var result []model.Hex
	for _, h := range r.m.st.hexes {
		if keep(h) {
			result = append(result, h)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Q != result[j].Q {
			return result[i].Q < result[j].Q
		}
		return result[i].R < result[j].R
	})
	return result
}

// --- Town Map ---

type memTown struct{ m *memStore }

func (r memTown) FindByCoord(_ context.Context, c hexmap.Coord) (*model.TownMapHex, error) {
	h, ok := r.m.st.town[c]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (r memTown) List(_ context.Context) ([]model.TownMapHex, error) {
	return r.list(""), nil
}

func (r memTown) ListByStatus(_ context.Context, status string) ([]model.TownMapHex, error) {
	return r.list(status), nil
}

func (r memTown) list(status string) []model.TownMapHex {
	var result []model.TownMapHex
	for _, h := range r.m.st.town {
		if status == "" || h.Status == status {
			result = append(result, h)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Q != result[j].Q {
			return result[i].Q < result[j].Q
		}
		return result[i].R < result[j].R
	})
	return result
}

func (r memTown) Create(_ context.Context, h *model.TownMapHex) (*model.TownMapHex, error) {
	c := h.Coord()
	if _, ok := r.m.st.town[c]; ok {
		return nil, repository.ErrDuplicate
	}
	cp := *h
	cp.ID = r.m.st.id()
	r.m.st.town[c] = cp
	return &cp, nil
}

func (r memTown) Update(_ context.Context, h *model.TownMapHex) error {
	for c, existing := range r.m.st.town {
		if existing.ID == h.ID {
			existing.Terrain = h.Terrain
			existing.Status = h.Status
			existing.LastVerifiedAt = h.LastVerifiedAt
			r.m.st.town[c] = existing
		}
	}
	return nil
}

func (r memTown) AppendHistory(_ context.Context, e *model.DiscoveryEntry) error {
	e.ID = r.m.st.id()
	r.m.st.history = append(r.m.st.history, *e)
	return nil
}

func (r memTown) History(_ context.Context, townMapHexID int64) ([]model.DiscoveryEntry, error) {
	var result []model.DiscoveryEntry
	for _, e := range r.m.st.history {
		if e.TownMapHexID == townMapHexID {
			result = append(result, e)
		}
	}
	return result, nil
}

// --- expeditions ---

type memExpeditions struct{ m *memStore }

func (r memExpeditions) Create(_ context.Context, e *model.Expedition) (*model.Expedition, error) {
	cp := *e
	cp.ID = r.m.st.id()
	cp.Members = nil
	r.m.st.expeditions[cp.ID] = cp
	return &cp, nil
}

func (r memExpeditions) FindByID(_ context.Context, id int64) (*model.Expedition, error) {
	e, ok := r.m.st.expeditions[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r memExpeditions) Lock(ctx context.Context, id int64) (*model.Expedition, error) {
	return r.FindByID(ctx, id)
}

func (r memExpeditions) List(_ context.Context, status string) ([]model.Expedition, error) {
	var result []model.Expedition
	for _, e := range r.m.st.expeditions {
		if status == "" || e.Status == status {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r memExpeditions) ListByUser(_ context.Context, userID int64) ([]model.Expedition, error) {
	var result []model.Expedition
	seen := make(map[int64]bool)
	for _, m := range r.m.st.members {
		if m.UserID == userID && !seen[m.ExpeditionID] {
			seen[m.ExpeditionID] = true
			result = append(result, r.m.st.expeditions[m.ExpeditionID])
		}
	}
	return result, nil
}

func (r memExpeditions) UpdateStatus(_ context.Context, id int64, status string, completedAt *time.Time) error {
	e := r.m.st.expeditions[id]
	e.Status = status
	e.CompletedAt = completedAt
	r.m.st.expeditions[id] = e
	return nil
}

func (r memExpeditions) UpdateLeader(_ context.Context, id, leaderID int64) error {
	e := r.m.st.expeditions[id]
	e.LeaderID = leaderID
	r.m.st.expeditions[id] = e
	return nil
}

func (r memExpeditions) UpdatePosition(_ context.Context, id int64, c hexmap.Coord) error {
	e := r.m.st.expeditions[id]
	e.LastKnownQ, e.LastKnownR = c.Q, c.R
	r.m.st.expeditions[id] = e
	return nil
}

func (r memExpeditions) AddMember(_ context.Context, expeditionID, userID int64, at time.Time) (*model.ExpeditionMember, error) {
	for _, m := range r.m.st.members {
		if m.ExpeditionID == expeditionID && m.UserID == userID && m.Active() {
			return nil, repository.ErrDuplicate
		}
	}
	m := model.ExpeditionMember{ID: r.m.st.id(), ExpeditionID: expeditionID, UserID: userID, JoinedAt: at}
	r.m.st.members = append(r.m.st.members, m)
	return &m, nil
}

func (r memExpeditions) FindMember(_ context.Context, expeditionID, userID int64) (*model.ExpeditionMember, error) {
	var latest *model.ExpeditionMember
	for _, m := range r.m.st.members {
		if m.ExpeditionID == expeditionID && m.UserID == userID {
			latest = &m
		}
	}
	return latest, nil
}

func (r memExpeditions) ListMembers(_ context.Context, expeditionID int64) ([]model.ExpeditionMember, error) {
	var result []model.ExpeditionMember
	for _, m := range r.m.st.members {
		if m.ExpeditionID == expeditionID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (r memExpeditions) ActiveMembership(_ context.Context, userID int64) (*model.ExpeditionMember, error) {
	for _, m := range r.m.st.members {
		if m.UserID == userID && m.Active() && r.m.st.expeditions[m.ExpeditionID].Status == model.ExpeditionActive {
			return &m, nil
		}
	}
	return nil, nil
}

func (r memExpeditions) MarkLeft(_ context.Context, memberID int64, at time.Time) error {
	r.updateMember(memberID, func(m *model.ExpeditionMember) { m.LeftAt = &at })
	return nil
}

func (r memExpeditions) MarkPushed(_ context.Context, memberID int64, at time.Time) error {
	r.updateMember(memberID, func(m *model.ExpeditionMember) {
		m.PushedToTownMap = true
		m.PushedAt = &at
	})
	return nil
}

func (r memExpeditions) updateMember(memberID int64, fn func(*model.ExpeditionMember)) {
	for i := range r.m.st.members {
		if r.m.st.members[i].ID == memberID {
			fn(&r.m.st.members[i])
		}
	}
}

func (r memExpeditions) UpsertHex(_ context.Context, h *model.ExpeditionHex) (*model.ExpeditionHex, error) {
	for i, existing := range r.m.st.expHexes {
		if existing.ExpeditionID == h.ExpeditionID && existing.Q == h.Q && existing.R == h.R {
			cp := *h
			cp.ID = existing.ID
			r.m.st.expHexes[i] = cp
			return &cp, nil
		}
	}
	cp := *h
	cp.ID = r.m.st.id()
	r.m.st.expHexes = append(r.m.st.expHexes, cp)
	return &cp, nil
}

func (r memExpeditions) ListHexes(_ context.Context, expeditionID int64) ([]model.ExpeditionHex, error) {
	var result []model.ExpeditionHex
	for _, h := range r.m.st.expHexes {
		if h.ExpeditionID == expeditionID {
			result = append(result, h)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].ExploredAt.Before(result[j].ExploredAt) })
	return result, nil
}

func (r memExpeditions) RecentExplorations(ctx context.Context, expeditionID int64, limit int) ([]model.ExpeditionHex, error) {
	all, _ := r.ListHexes(ctx, expeditionID)
	var result []model.ExpeditionHex
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		if !all[i].FromTownMap {
			result = append(result, all[i])
		}
	}
	return result, nil
}

// --- submissions ---

type memSubmissions struct{ m *memStore }

func (r memSubmissions) Create(_ context.Context, s *model.Submission) (*model.Submission, error) {
	if _, ok := r.m.st.submissions[s.ExpeditionID]; ok {
		return nil, repository.ErrDuplicate
	}
	cp := *s
	cp.ID = r.m.st.id()
	r.m.st.submissions[cp.ExpeditionID] = cp
	return &cp, nil
}

func (r memSubmissions) Finish(_ context.Context, s *model.Submission) error {
	cp := *s
	cp.Conflicts = nil
	r.m.st.submissions[cp.ExpeditionID] = cp
	return nil
}

func (r memSubmissions) FindByExpedition(_ context.Context, expeditionID int64) (*model.Submission, error) {
	s, ok := r.m.st.submissions[expeditionID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// --- conflicts ---

type memConflicts struct{ m *memStore }

func (r memConflicts) Create(_ context.Context, c *model.Conflict) (*model.Conflict, error) {
	if r.m.failConflictCreate != nil {
		return nil, r.m.failConflictCreate
	}
	cp := *c
	cp.ID = r.m.st.id()
	r.m.st.conflicts[cp.ID] = cp
	return &cp, nil
}

func (r memConflicts) FindByID(_ context.Context, id int64) (*model.Conflict, error) {
	c, ok := r.m.st.conflicts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r memConflicts) Lock(ctx context.Context, id int64) (*model.Conflict, error) {
	return r.FindByID(ctx, id)
}

func (r memConflicts) ListOpen(_ context.Context) ([]model.Conflict, error) {
	return r.list(func(c model.Conflict) bool { return c.Status != model.ConflictResolved }), nil
}

func (r memConflicts) ListBySubmission(_ context.Context, submissionID int64) ([]model.Conflict, error) {
	return r.list(func(c model.Conflict) bool { return c.SubmissionID != nil && *c.SubmissionID == submissionID }), nil
}

func (r memConflicts) list(keep func(model.Conflict) bool) []model.Conflict {
	var result []model.Conflict
	for _, c := range r.m.st.conflicts {
		if keep(c) {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (r memConflicts) UpdateStatus(_ context.Context, id int64, status string) error {
	c := r.m.st.conflicts[id]
	c.Status = status
	r.m.st.conflicts[id] = c
	return nil
}

func (r memConflicts) Resolve(_ context.Context, c *model.Conflict) error {
	cp := *c
	cp.Votes = nil
	r.m.st.conflicts[cp.ID] = cp
	return nil
}

func (r memConflicts) AddVote(_ context.Context, v *model.ConflictVote) (*model.ConflictVote, error) {
	for _, existing := range r.m.st.votes {
		if existing.ConflictID == v.ConflictID && existing.PlayerID == v.PlayerID {
			return nil, repository.ErrDuplicate
		}
	}
	cp := *v
	cp.ID = r.m.st.id()
	r.m.st.votes = append(r.m.st.votes, cp)
	return &cp, nil
}

func (r memConflicts) ListVotes(_ context.Context, conflictID int64) ([]model.ConflictVote, error) {
	var result []model.ConflictVote
	for _, v := range r.m.st.votes {
		if v.ConflictID == conflictID {
			result = append(result, v)
		}
	}
	return result, nil
}

func (r memConflicts) CountVotes(_ context.Context, conflictID int64) (*model.VoteTally, error) {
	t := &model.VoteTally{ConflictID: conflictID}
	for _, v := range r.m.st.votes {
		if v.ConflictID != conflictID {
			continue
		}
		if v.VoteForNew {
			t.VotesForNew++
		} else {
			t.VotesForExisting++
		}
	}
	return t, nil
}

// --- points of interest ---

type memPOIs struct{ m *memStore }

func (r memPOIs) Create(_ context.Context, p *model.PointOfInterest) (*model.PointOfInterest, error) {
	cp := *p
	cp.ID = r.m.st.id()
	r.m.st.pois[cp.ID] = cp
	return &cp, nil
}

func (r memPOIs) FindByID(_ context.Context, id int64) (*model.PointOfInterest, error) {
	p, ok := r.m.st.pois[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r memPOIs) List(_ context.Context) ([]model.PointOfInterest, error) {
	var result []model.PointOfInterest
	for _, p := range r.m.st.pois {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r memPOIs) ListKnown(ctx context.Context) ([]model.PointOfInterest, error) {
	all, _ := r.List(ctx)
	var result []model.PointOfInterest
	for _, p := range all {
		if p.PlayerKnownQ != nil && p.PlayerKnownR != nil {
			result = append(result, p)
		}
	}
	return result, nil
}

func (r memPOIs) Verify(_ context.Context, id int64) error {
	p := r.m.st.pois[id]
	q, rr := p.TrueQ, p.TrueR
	p.PlayerKnownQ, p.PlayerKnownR = &q, &rr
	p.IsLocationVerified = true
	r.m.st.pois[id] = p
	return nil
}

// --- caches ---

type mockTallyCache struct {
	tallies map[int64]model.VoteTally
	ttls    map[int64]time.Duration
	// beforeSet runs once at the start of the next SetTally.
	beforeSet func()
}

func newMockTallyCache() *mockTallyCache {
	return &mockTallyCache{tallies: make(map[int64]model.VoteTally), ttls: make(map[int64]time.Duration)}
}

func (c *mockTallyCache) GetTally(_ context.Context, conflictID int64) (*model.VoteTally, error) {
	t, ok := c.tallies[conflictID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (c *mockTallyCache) SetTally(_ context.Context, tally *model.VoteTally) error {
	if hook := c.beforeSet; hook != nil {
		c.beforeSet = nil
		hook()
	}
	if cur, ok := c.tallies[tally.ConflictID]; ok &&
		cur.VotesForNew+cur.VotesForExisting > tally.VotesForNew+tally.VotesForExisting {
		return nil
	}
	c.tallies[tally.ConflictID] = *tally
	return nil
}

func (c *mockTallyCache) ExpireTally(_ context.Context, conflictID int64, ttl time.Duration) error {
	c.ttls[conflictID] = ttl
	return nil
}

type mockTownCache struct {
	snapshot      []model.TownMapHex
	cached        bool
	version       int64
	invalidations int
	// beforeSet runs once at the start of the next SetTownMap.
	beforeSet func()
}

func (c *mockTownCache) GetTownMap(_ context.Context) ([]model.TownMapHex, error) {
	if !c.cached {
		return nil, nil
	}
	return c.snapshot, nil
}

func (c *mockTownCache) TownMapVersion(_ context.Context) (int64, error) {
	return c.version, nil
}

func (c *mockTownCache) SetTownMap(_ context.Context, version int64, hexes []model.TownMapHex) error {
	if hook := c.beforeSet; hook != nil {
		c.beforeSet = nil
		hook()
	}
	if version != c.version {
		return nil
	}
	c.snapshot = hexes
	c.cached = true
	return nil
}

func (c *mockTownCache) InvalidateTownMap(_ context.Context) error {
	c.snapshot = nil
	c.cached = false
	c.version++
	c.invalidations++
	return nil
}

// --- broadcaster ---

type recordedEvent struct {
	expeditionID int64
	eventType    string
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *recordingBroadcaster) BroadcastExpeditionEvent(expeditionID int64, eventType string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{expeditionID: expeditionID, eventType: eventType})
}

func (b *recordingBroadcaster) BroadcastTownMapEvent(eventType string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{eventType: eventType})
}

func (b *recordingBroadcaster) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.eventType == eventType {
			n++
		}
	}
	return n
}

// testClock returns a clock that advances one minute on every reading.
func testClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Minute)
		return t
	}
}

func at(q, r int) hexmap.Coord {
	return hexmap.Coord{Q: q, R: r}
}

// testEnv wires every service to one in-memory store.
type testEnv struct {
	store       *memStore
	tallies     *mockTallyCache
	townCache   *mockTownCache
	broadcaster *recordingBroadcaster

	hexes       *HexMapService
	town        *TownMapService
	expeditions *ExpeditionService
	submissions *SubmissionService
	conflicts   *ConflictService
	pois        *POIService
}

// newTestEnv creates users 1 to 5 (user 5 is a GM) and a 7-hex GM map of
// plains around the origin, with forest at (2,-1).
func newTestEnv() *testEnv {
	store := newMemStore()
	for id := int64(1); id <= 4; id++ {
		store.addUser(id, model.RolePlayer)
	}
	store.addUser(5, model.RoleGM)
	store.addHex(at(0, 0), hexmap.Plains)
	for _, c := range at(0, 0).Neighbors() {
		store.addHex(c, hexmap.Plains)
	}
	store.addHex(at(2, -1), hexmap.Forest)

	env := &testEnv{
		store:       store,
		tallies:     newMockTallyCache(),
		townCache:   &mockTownCache{},
		broadcaster: &recordingBroadcaster{},
	}
	clock := testClock()
	env.hexes = NewHexMapService(store.Hexes(), 0)
	env.hexes.now = clock
	env.town = NewTownMapService(store.TownMap(), env.townCache)
	env.expeditions = NewExpeditionService(store, env.tallies, env.townCache, env.broadcaster)
	env.expeditions.now = clock
	env.submissions = NewSubmissionService(store, env.tallies, env.townCache, env.broadcaster)
	env.submissions.now = clock
	env.conflicts = NewConflictService(store, env.tallies, env.townCache, env.broadcaster)
	env.conflicts.now = clock
	env.pois = NewPOIService(store.POIs())
	return env
}
