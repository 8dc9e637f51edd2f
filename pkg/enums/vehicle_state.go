package enums

import "fmt"

// VehicleState is derived from the sale/cancellation columns of a vehicle.
type VehicleState string

const (
	VehicleStateForSale   VehicleState = "for_sale"
	VehicleStateSold      VehicleState = "sold"
	VehicleStateCancelled VehicleState = "cancelled"
	VehicleStateUnsold    VehicleState = "unsold"
)

var validVehicleStates = []VehicleState{
	VehicleStateForSale,
	VehicleStateSold,
	VehicleStateCancelled,
	VehicleStateUnsold,
}

// IsValid reports whether the value matches a known vehicle state.
func (s VehicleState) IsValid() bool {
	for _, candidate := range validVehicleStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// Sellable reports whether a vehicle in this state may be sold.
func (s VehicleState) Sellable() bool {
	return s == VehicleStateForSale || s == VehicleStateUnsold || s == VehicleStateCancelled
}

// ParseVehicleState converts raw input into VehicleState.
func ParseVehicleState(value string) (VehicleState, error) {
	for _, candidate := range validVehicleStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid vehicle state %q", value)
}
