package board

import (
	"fmt"
	"strings"
)

// Direction is a move direction. Ordinals are part of the agent interface:
// an agent scoring directions returns its scores in this order.
type Direction int

const (
	Left Direction = iota
	Right
	Up
	Down
)

// NumDirections is the number of move directions.
const NumDirections = 4

// AllDirections lists every direction in ordinal order.
var AllDirections = [NumDirections]Direction{Left, Right, Up, Down}

func (d Direction) Valid() bool {
	return d >= Left && d <= Down
}

// Opposite returns the direction pointing the other way.
func (d Direction) Opposite() Direction {
	switch d {
	case Left:
		return Right
	case Right:
		return Left
	case Up:
		return Down
	case Down:
		return Up
	}
	return d
}

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	case Up:
		return "up"
	case Down:
		return "down"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// ParseDirection accepts a direction name (case-insensitive) or its ordinal.
func ParseDirection(raw string) (Direction, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "left", "l", "0":
		return Left, nil
	case "right", "r", "1":
		return Right, nil
	case "up", "u", "2":
		return Up, nil
	case "down", "d", "3":
		return Down, nil
	}
	return 0, fmt.Errorf("unknown direction: %q", raw)
}

// ParseDirections parses a comma-separated direction list.
func ParseDirections(raw string) ([]Direction, error) {
	parts := strings.Split(raw, ",")
	out := make([]Direction, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		d, err := ParseDirection(part)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// IsPermutation reports whether order names each direction exactly once.
func IsPermutation(order []Direction) bool {
	if len(order) != NumDirections {
		return false
	}
	var seen [NumDirections]bool
	for _, d := range order {
		if !d.Valid() || seen[d] {
			return false
		}
		seen[d] = true
	}
	return true
}
