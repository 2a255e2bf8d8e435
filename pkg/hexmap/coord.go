package hexmap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidInput is wrapped by every input validation error in this package.
var ErrInvalidInput = errors.New("invalid input")

var (
	ErrInvalidDirection = fmt.Errorf("direction must be in 0..5: %w", ErrInvalidInput)
	ErrNegativeRange    = fmt.Errorf("range must not be negative: %w", ErrInvalidInput)
	ErrRangeTooLarge    = fmt.Errorf("range must not exceed %d: %w", MaxRange, ErrInvalidInput)
	ErrInvalidCube      = fmt.Errorf("cube coordinates must sum to zero: %w", ErrInvalidInput)
	ErrInvalidCoord     = fmt.Errorf("coordinate must be formatted as q,r: %w", ErrInvalidInput)
)

// MaxRange bounds the radius accepted by HexesInRange and Ring.
const MaxRange = 1000

// Coord is an axial hex coordinate. The third cube axis is derived as S = -Q-R.
type Coord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// Cube is a cube hex coordinate. X+Y+Z is always zero for a valid hex.
type Cube struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Direction indexes into Directions.
const (
	East = iota
	NorthEast
	NorthWest
	West
	SouthWest
	SouthEast
)

// Directions are the six axial unit vectors, indexed by direction 0..5.
var Directions = [6]Coord{
	{Q: 1, R: 0},  // E
	{Q: 1, R: -1}, // NE
	{Q: 0, R: -1}, // NW
	{Q: -1, R: 0}, // W
	{Q: -1, R: 1}, // SW
	{Q: 0, R: 1},  // SE
}

// S returns the derived third cube coordinate.
func (c Coord) S() int {
	return -c.Q - c.R
}

// Add returns the component-wise sum of two coordinates.
func (c Coord) Add(o Coord) Coord {
	return Coord{Q: c.Q + o.Q, R: c.R + o.R}
}

func (c Coord) scale(k int) Coord {
	return Coord{Q: c.Q * k, R: c.R * k}
}

// String formats the coordinate as "q,r".
func (c Coord) String() string {
	return strconv.Itoa(c.Q) + "," + strconv.Itoa(c.R)
}

// ParseCoord parses a coordinate formatted as "q,r".
func ParseCoord(s string) (Coord, error) {
	qs, rs, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return Coord{}, ErrInvalidCoord
	}
	q, err := strconv.Atoi(strings.TrimSpace(qs))
	if err != nil {
		return Coord{}, ErrInvalidCoord
	}
	r, err := strconv.Atoi(strings.TrimSpace(rs))
	if err != nil {
		return Coord{}, ErrInvalidCoord
	}
	return Coord{Q: q, R: r}, nil
}

// Cube converts an axial coordinate to cube form.
func (c Coord) Cube() Cube {
	return Cube{X: c.Q, Y: c.S(), Z: c.R}
}

// CubeToAxial converts a cube coordinate back to axial form, dropping Y.
func CubeToAxial(c Cube) (Coord, error) {
	if c.X+c.Y+c.Z != 0 {
		return Coord{}, ErrInvalidCube
	}
	return Coord{Q: c.X, R: c.Z}, nil
}

// Distance returns the number of hex steps between a and b.
func Distance(a, b Coord) int {
	dq := a.Q - b.Q
	dr := a.R - b.R
	return (abs(dq) + abs(dq+dr) + abs(dr)) / 2
}

// Neighbor returns the hex adjacent to c in the given direction.
func Neighbor(c Coord, dir int) (Coord, error) {
	if dir < 0 || dir >= len(Directions) {
		return Coord{}, ErrInvalidDirection
	}
	return c.Add(Directions[dir]), nil
}

// Neighbors returns all six adjacent hexes in direction order.
func (c Coord) Neighbors() [6]Coord {
	var out [6]Coord
	for i, d := range Directions {
		out[i] = c.Add(d)
	}
	return out
}

// HexesInRange returns every hex within radius of center, center included.
// Order is q offset ascending, then r offset ascending.
func HexesInRange(center Coord, radius int) ([]Coord, error) {
	if err := checkRange(radius); err != nil {
		return nil, err
	}
	out := make([]Coord, 0, 3*radius*radius+3*radius+1)
	for dq := -radius; dq <= radius; dq++ {
		lo := max(-radius, -dq-radius)
		hi := min(radius, -dq+radius)
		for dr := lo; dr <= hi; dr++ {
			out = append(out, Coord{Q: center.Q + dq, R: center.R + dr})
		}
	}
	return out, nil
}

// Ring returns the hexes at exactly radius steps from center, walking the
// six edges counter-clockwise from the south-west corner.
func Ring(center Coord, radius int) ([]Coord, error) {
	if err := checkRange(radius); err != nil {
		return nil, err
	}
	if radius == 0 {
		return []Coord{center}, nil
	}
	out := make([]Coord, 0, 6*radius)
	h := center.Add(Directions[SouthWest].scale(radius))
	for dir := 0; dir < 6; dir++ {
		for step := 0; step < radius; step++ {
			out = append(out, h)
			h = h.Add(Directions[dir])
		}
	}
	return out, nil
}

func checkRange(radius int) error {
	switch {
	case radius < 0:
		return ErrNegativeRange
	case radius > MaxRange:
		return ErrRangeTooLarge
	}
	return nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
