package game

import (
	"fmt"
	"strings"
)

// Direction is a slide direction. The numeric values are part of the
// external contract with the game engine: 0=Up, 1=Right, 2=Down, 3=Left.
type Direction int

const (
	Up Direction = iota
	Right
	Down
	Left
)

// DefaultDirection is returned when no move changes the board.
const DefaultDirection = Up

// Directions is the enumeration order used for iteration and tie-breaking.
var Directions = [4]Direction{Up, Right, Down, Left}

func (d Direction) Valid() bool { return d >= Up && d <= Left }

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Right:
		return "right"
	case Down:
		return "down"
	case Left:
		return "left"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection accepts the names produced by String, case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "u":
		return Up, nil
	case "right", "r":
		return Right, nil
	case "down", "d":
		return Down, nil
	case "left", "l":
		return Left, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}
