package enums

import "fmt"

// MatrixPosition names the slot a node occupies under its parent in the
// binary matrix. The same values name a parent's legs.
type MatrixPosition string

const (
	MatrixPositionLeft  MatrixPosition = "left"
	MatrixPositionRight MatrixPosition = "right"
)

var validMatrixPositions = []MatrixPosition{
	MatrixPositionLeft,
	MatrixPositionRight,
}

// String implements fmt.Stringer.
func (p MatrixPosition) String() string {
	return string(p)
}

// IsValid reports whether the position is left or right.
func (p MatrixPosition) IsValid() bool {
	for _, candidate := range validMatrixPositions {
		if candidate == p {
			return true
		}
	}
	return false
}

// Opposite returns the sibling slot.
func (p MatrixPosition) Opposite() MatrixPosition {
	if p == MatrixPositionLeft {
		return MatrixPositionRight
	}
	return MatrixPositionLeft
}

// ParseMatrixPosition converts raw input into a MatrixPosition.
func ParseMatrixPosition(value string) (MatrixPosition, error) {
	for _, candidate := range validMatrixPositions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid matrix position %q", value)
}
