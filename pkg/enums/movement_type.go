package enums

import "fmt"

// MovementType maps to the movement_type column on inventory_movements.
type MovementType string

const (
	MovementTypeInitial    MovementType = "initial"
	MovementTypeRetain     MovementType = "retain"
	MovementTypeRelease    MovementType = "release"
	MovementTypeAdjustment MovementType = "adjustment"
)

var validMovementTypes = []MovementType{
	MovementTypeInitial,
	MovementTypeRetain,
	MovementTypeRelease,
	MovementTypeAdjustment,
}

// IsValid reports whether the value matches a known movement type.
func (m MovementType) IsValid() bool {
	for _, candidate := range validMovementTypes {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseMovementType converts raw input into MovementType.
func ParseMovementType(value string) (MovementType, error) {
	for _, candidate := range validMovementTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid movement type %q", value)
}
