package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/internal/repository"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

// POIService manages GM-placed points of interest.
type POIService struct {
	poiRepo repository.POIRepository
}

// NewPOIService creates a POIService.
func NewPOIService(poiRepo repository.POIRepository) *POIService {
	return &POIService{poiRepo: poiRepo}
}

// Create places a point of interest at its true coordinate. playerKnown is
// where players believe it is, if they know of it at all.
func (s *POIService) Create(ctx context.Context, name, description string, trueCoord hexmap.Coord, playerKnown *hexmap.Coord, creatorID int64) (*model.PointOfInterest, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	p := &model.PointOfInterest{
		Name:               name,
		Description:        description,
		TrueQ:              trueCoord.Q,
		TrueR:              trueCoord.R,
		IsLocationVerified: playerKnown != nil && *playerKnown == trueCoord,
		CreatedBy:          creatorID,
	}
	if playerKnown != nil {
		q, r := playerKnown.Q, playerKnown.R
		p.PlayerKnownQ, p.PlayerKnownR = &q, &r
	}
	created, err := s.poiRepo.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	log.Info().Int64("poiId", created.ID).Str("name", name).Msg("Point of interest created")
	return created, nil
}

// ListAll returns every point of interest with its true coordinate.
func (s *POIService) ListAll(ctx context.Context) ([]model.PointOfInterest, error) {
	pois, err := s.poiRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	if pois == nil {
		pois = []model.PointOfInterest{}
	}
	return pois, nil
}

// ListKnown returns the player view of the points of interest players know
// a location for.
func (s *POIService) ListKnown(ctx context.Context) ([]model.KnownPOI, error) {
	pois, err := s.poiRepo.ListKnown(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]model.KnownPOI, 0, len(pois))
	for _, p := range pois {
		result = append(result, model.KnownPOI{
			ID:                 p.ID,
			Name:               p.Name,
			Description:        p.Description,
			Q:                  *p.PlayerKnownQ,
			R:                  *p.PlayerKnownR,
			IsLocationVerified: p.IsLocationVerified,
		})
	}
	return result, nil
}

// VerifyLocation snaps the player-known location to the true one.
func (s *POIService) VerifyLocation(ctx context.Context, id int64) (*model.PointOfInterest, error) {
	p, err := s.poiRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPOINotFound
	}
	if err := s.poiRepo.Verify(ctx, id); err != nil {
		return nil, err
	}
	q, r := p.TrueQ, p.TrueR
	p.PlayerKnownQ, p.PlayerKnownR = &q, &r
	p.IsLocationVerified = true
	return p, nil
}
