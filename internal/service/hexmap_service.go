package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/internal/repository"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

// MaxBorderDistance bounds a single GenerateBorder call.
const MaxBorderDistance = 25

// HexMapService manages the GM map: the authoritative terrain of the world.
type HexMapService struct {
	hexRepo     repository.HexRepository
	defaultSeed int64
	now         func() time.Time
}

// NewHexMapService creates a HexMapService. A zero defaultSeed means
// generation seeds from the clock when the caller gives no seed.
func NewHexMapService(hexRepo repository.HexRepository, defaultSeed int64) *HexMapService {
	return &HexMapService{hexRepo: hexRepo, defaultSeed: defaultSeed, now: time.Now}
}

// Get returns the GM hex at c.
func (s *HexMapService) Get(ctx context.Context, c hexmap.Coord) (*model.Hex, error) {
	h, err := s.hexRepo.FindByCoord(ctx, c)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrHexNotFound
	}
	return h, nil
}

// Create places a hand-authored hex on the GM map.
func (s *HexMapService) Create(ctx context.Context, c hexmap.Coord, terrain hexmap.Terrain, notes string) (*model.Hex, error) {
	if !terrain.Valid() {
		return nil, inputErr(hexmap.ErrInvalidTerrain)
	}
	existing, err := s.hexRepo.FindByCoord(ctx, c)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrHexExists
	}

	h, err := s.hexRepo.Create(ctx, &model.Hex{
		Q:              c.Q,
		R:              c.R,
		Terrain:        terrain,
		IsManuallySet:  true,
		GMNotes:        notes,
		IsExploredByGM: true,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, ErrHexExists
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("coord", c.String()).Str("terrain", string(terrain)).Msg("GM hex created")
	return h, nil
}

// Update changes a hex's terrain and notes, marking it manually set.
func (s *HexMapService) Update(ctx context.Context, c hexmap.Coord, terrain hexmap.Terrain, notes string) (*model.Hex, error) {
	if !terrain.Valid() {
		return nil, inputErr(hexmap.ErrInvalidTerrain)
	}
	h, err := s.hexRepo.Update(ctx, c, terrain, notes)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrHexNotFound
	}
	return h, nil
}

// Delete removes a hex from the GM map.
func (s *HexMapService) Delete(ctx context.Context, c hexmap.Coord) error {
	ok, err := s.hexRepo.Delete(ctx, c)
	if err != nil {
		return err
	}
	if !ok {
		return ErrHexNotFound
	}
	log.Info().Str("coord", c.String()).Msg("GM hex deleted")
	return nil
}

// MarkPublic flags a GM hex as shown on the Town Map. Idempotent.
func (s *HexMapService) MarkPublic(ctx context.Context, c hexmap.Coord) (*model.Hex, error) {
	ok, err := s.hexRepo.MarkPublic(ctx, c, nil, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHexNotFound
	}
	return s.Get(ctx, c)
}

// ListGM returns every hex on the GM map.
func (s *HexMapService) ListGM(ctx context.Context) ([]model.Hex, error) {
	return s.hexRepo.ListAll(ctx)
}

// ListPublic returns GM hexes flagged as public.
func (s *HexMapService) ListPublic(ctx context.Context) ([]model.Hex, error) {
	return s.hexRepo.ListPublic(ctx)
}

// Neighbors returns the existing hexes adjacent to c, in direction order.
func (s *HexMapService) Neighbors(ctx context.Context, c hexmap.Coord) ([]model.Hex, error) {
	around := c.Neighbors()
	found, err := s.hexRepo.FindMany(ctx, around[:])
	if err != nil {
		return nil, err
	}
	byCoord := make(map[hexmap.Coord]model.Hex, len(found))
	for _, h := range found {
		byCoord[h.Coord()] = h
	}
	result := []model.Hex{}
	for _, n := range around {
		if h, ok := byCoord[n]; ok {
			result = append(result, h)
		}
	}
	return result, nil
}

// Distance returns the hex distance between two coordinates.
func (s *HexMapService) Distance(a, b hexmap.Coord) int {
	return hexmap.Distance(a, b)
}

// GenerateBorder fills every empty coordinate within distance of center with
// generated terrain. Coordinates are visited in HexesInRange order and each
// new hex is visible to the ones generated after it. Existing hexes are never
// touched. Returns the created hexes.
func (s *HexMapService) GenerateBorder(ctx context.Context, center hexmap.Coord, distance int, seed int64) ([]model.Hex, error) {
	if distance > MaxBorderDistance {
		return nil, ErrBorderTooLarge
	}
	targets, err := hexmap.HexesInRange(center, distance)
	if err != nil {
		return nil, inputErr(err)
	}
	// Neighbors of the outermost ring sit one step further out.
	window, _ := hexmap.HexesInRange(center, distance+1)
	known, err := s.knownTerrain(ctx, window)
	if err != nil {
		return nil, err
	}

	gen := hexmap.NewGenerator(s.seed(seed))
	created := []model.Hex{}
	for _, c := range targets {
		if _, ok := known[c]; ok {
			continue
		}
		terrain := gen.Generate(c, known)
		h, err := s.hexRepo.Create(ctx, &model.Hex{Q: c.Q, R: c.R, Terrain: terrain})
		if errors.Is(err, repository.ErrDuplicate) {
			// Someone else placed it meanwhile; keep theirs.
			existing, ferr := s.hexRepo.FindByCoord(ctx, c)
			if ferr != nil {
				return nil, ferr
			}
			if existing != nil {
				known[c] = existing.Terrain
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		known[c] = terrain
		created = append(created, *h)
	}

	log.Info().Str("center", center.String()).Int("distance", distance).Int("created", len(created)).Msg("Generated border hexes")
	return created, nil
}

// GenerateHex synthesizes a single hex from its existing neighbors.
func (s *HexMapService) GenerateHex(ctx context.Context, c hexmap.Coord, seed int64) (*model.Hex, error) {
	window, _ := hexmap.HexesInRange(c, 1)
	known, err := s.knownTerrain(ctx, window)
	if err != nil {
		return nil, err
	}
	if _, ok := known[c]; ok {
		return nil, ErrHexExists
	}

	terrain := hexmap.NewGenerator(s.seed(seed)).Generate(c, known)
	h, err := s.hexRepo.Create(ctx, &model.Hex{Q: c.Q, R: c.R, Terrain: terrain})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, ErrHexExists
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *HexMapService) knownTerrain(ctx context.Context, coords []hexmap.Coord) (map[hexmap.Coord]hexmap.Terrain, error) {
	found, err := s.hexRepo.FindMany(ctx, coords)
	if err != nil {
		return nil, err
	}
	known := make(map[hexmap.Coord]hexmap.Terrain, len(coords))
	for _, h := range found {
		known[h.Coord()] = h.Terrain
	}
	return known, nil
}

func (s *HexMapService) seed(requested int64) int64 {
	if requested != 0 {
		return requested
	}
	if s.defaultSeed != 0 {
		return s.defaultSeed
	}
	return s.now().UnixNano()
}
