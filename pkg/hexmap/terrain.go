package hexmap

import (
	"fmt"
	"strings"
)

// Terrain is the closed set of terrain tags a hex can carry.
type Terrain string

const (
	Plains    Terrain = "plains"
	Forest    Terrain = "forest"
	Mountain  Terrain = "mountain"
	Hills     Terrain = "hills"
	Swamp     Terrain = "swamp"
	Desert    Terrain = "desert"
	Water     Terrain = "water"
	DeepWater Terrain = "deep_water"
	Tundra    Terrain = "tundra"
	Jungle    Terrain = "jungle"
	Unknown   Terrain = "unknown"
)

// ErrInvalidTerrain is returned when a terrain name is not recognised.
var ErrInvalidTerrain = fmt.Errorf("unknown terrain type: %w", ErrInvalidInput)

// Terrains lists every generatable terrain in enumeration order.
// The generator walks weight tables in this order.
var Terrains = []Terrain{
	Plains, Forest, Mountain, Hills, Swamp, Desert, Water, DeepWater, Tundra, Jungle,
}

// Valid reports whether t is a member of the enumeration, Unknown included.
func (t Terrain) Valid() bool {
	if t == Unknown {
		return true
	}
	return terrainIndex(t) >= 0
}

// ParseTerrain validates a user-supplied terrain name. Matching is
// case-insensitive and ignores underscores, spaces and hyphens.
func ParseTerrain(s string) (Terrain, error) {
	key := normalizeTerrain(s)
	if key == normalizeTerrain(string(Unknown)) {
		return Unknown, nil
	}
	for _, t := range Terrains {
		if key == normalizeTerrain(string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%q: %w", s, ErrInvalidTerrain)
}

func normalizeTerrain(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", " ", "", "-", "").Replace(s)
}

func terrainIndex(t Terrain) int {
	for i, tt := range Terrains {
		if tt == t {
			return i
		}
	}
	return -1
}
