package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/internal/repository"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

// TownMapService answers read queries against the community Town Map.
type TownMapService struct {
	townRepo repository.TownMapRepository
	cache    repository.TownMapCache
}

// NewTownMapService creates a TownMapService.
func NewTownMapService(townRepo repository.TownMapRepository, cache repository.TownMapCache) *TownMapService {
	return &TownMapService{townRepo: townRepo, cache: cache}
}

// GetTownMap returns every Town Map hex, served from the snapshot cache when warm.
func (s *TownMapService) GetTownMap(ctx context.Context) ([]model.TownMapHex, error) {
	var version int64
	cacheable := false
	if s.cache != nil {
		cached, err := s.cache.GetTownMap(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Town map cache read failed")
		} else if cached != nil {
			return cached, nil
		}
		// Read before loading so an invalidation during the load wins.
		if version, err = s.cache.TownMapVersion(ctx); err != nil {
			log.Warn().Err(err).Msg("Town map cache version read failed")
		} else {
			cacheable = true
		}
	}

	hexes, err := s.townRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	if hexes == nil {
		hexes = []model.TownMapHex{}
	}
	if cacheable {
		if err := s.cache.SetTownMap(ctx, version, hexes); err != nil {
			log.Warn().Err(err).Msg("Town map cache write failed")
		}
	}
	return hexes, nil
}

// GetTownHex returns the Town Map hex at c.
func (s *TownMapService) GetTownHex(ctx context.Context, c hexmap.Coord) (*model.TownMapHex, error) {
	h, err := s.townRepo.FindByCoord(ctx, c)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrTownHexNotFound
	}
	return h, nil
}

// History returns the discovery log of the Town Map hex at c, oldest first.
func (s *TownMapService) History(ctx context.Context, c hexmap.Coord) ([]model.DiscoveryEntry, error) {
	h, err := s.GetTownHex(ctx, c)
	if err != nil {
		return nil, err
	}
	entries, err := s.townRepo.History(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.DiscoveryEntry{}
	}
	return entries, nil
}

// ListDisputed returns Town Map hexes with an open conflict.
func (s *TownMapService) ListDisputed(ctx context.Context) ([]model.TownMapHex, error) {
	hexes, err := s.townRepo.ListByStatus(ctx, model.HexDisputed)
	if err != nil {
		return nil, err
	}
	if hexes == nil {
		hexes = []model.TownMapHex{}
	}
	return hexes, nil
}

// invalidateTownMap drops the cached snapshot after a committed Town Map write.
func invalidateTownMap(ctx context.Context, cache repository.TownMapCache) {
	if cache == nil {
		return
	}
	if err := cache.InvalidateTownMap(ctx); err != nil {
		log.Warn().Err(err).Msg("Town map cache invalidation failed")
	}
}
