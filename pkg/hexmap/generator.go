package hexmap

import "math/rand"

// Weights is a weight per terrain, indexed like Terrains.
type Weights [10]int

// Total returns the sum of all weights.
func (w Weights) Total() int {
	total := 0
	for _, v := range w {
		total += v
	}
	return total
}

// baseWeights apply when a hex has no materialised neighbors.
// Jungle gets the same floor as the other rare terrains.
var baseWeights = Weights{
	30, // plains
	25, // forest
	10, // mountain
	20, // hills
	5,  // swamp
	5,  // desert
	3,  // water
	1,  // deep water
	1,  // tundra
	1,  // jungle
}

// neighborBaseWeights is the flatter starting table used once any neighbor exists.
var neighborBaseWeights = Weights{
	10, // plains
	10, // forest
	10, // mountain
	10, // hills
	5,  // swamp
	5,  // desert
	5,  // water
	2,  // deep water
	2,  // tundra
	2,  // jungle
}

const sameTerrainBonus = 40

type affinity struct {
	terrain Terrain
	bonus   int
}

// affinities lists the extra weight a neighbor of the key terrain lends to others.
var affinities = map[Terrain][]affinity{
	Forest:    {{Plains, 15}, {Hills, 10}, {Swamp, 5}},
	Mountain:  {{Hills, 20}, {Tundra, 10}},
	Hills:     {{Plains, 10}, {Forest, 10}, {Mountain, 15}},
	Swamp:     {{Water, 15}, {Forest, 10}},
	Water:     {{DeepWater, 20}, {Swamp, 10}, {Plains, 5}},
	DeepWater: {{Water, 25}},
	Desert:    {{Plains, 10}, {Hills, 5}},
	Tundra:    {{Mountain, 15}, {Hills, 10}},
	Jungle:    {{Forest, 15}, {Swamp, 10}},
}

// WeightsFor returns the weight table for a hex whose materialised neighbors
// carry the given terrain. Unknown neighbors contribute nothing.
func WeightsFor(neighbors []Terrain) Weights {
	if len(neighbors) == 0 {
		return baseWeights
	}
	w := neighborBaseWeights
	for _, n := range neighbors {
		if i := terrainIndex(n); i >= 0 {
			w[i] += sameTerrainBonus
		}
		for _, a := range affinities[n] {
			w[terrainIndex(a.terrain)] += a.bonus
		}
	}
	return w
}

// Generator picks terrain by weighted random draw. It is deterministic for a
// given seed and sequence of calls. Not safe for concurrent use.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a generator seeded with seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Pick chooses a terrain for a hex given its materialised neighbors' terrain.
func (g *Generator) Pick(neighbors []Terrain) Terrain {
	return g.pick(WeightsFor(neighbors))
}

// Generate picks terrain for c using whichever of its neighbors exist in known.
func (g *Generator) Generate(c Coord, known map[Coord]Terrain) Terrain {
	var neighbors []Terrain
	for _, n := range c.Neighbors() {
		if t, ok := known[n]; ok {
			neighbors = append(neighbors, t)
		}
	}
	return g.Pick(neighbors)
}

func (g *Generator) pick(w Weights) Terrain {
	return selectTerrain(w, g.rng.Intn(w.Total()))
}

// selectTerrain walks w in Terrains order and returns the first terrain whose
// cumulative weight exceeds draw. Mountain precedes Hills, so a seed does not
// reproduce maps from generators that order Hills first.
func selectTerrain(w Weights, draw int) Terrain {
	cumulative := 0
	for i, v := range w {
		cumulative += v
		if draw < cumulative {
			return Terrains[i]
		}
	}
	return Plains
}
