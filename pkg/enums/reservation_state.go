package enums

import (
	"fmt"
	"strings"
)

// ReservationState maps to the state column on reservations.
type ReservationState string

const (
	ReservationStatePending   ReservationState = "pending"
	ReservationStateApproved  ReservationState = "approved"
	ReservationStateRejected  ReservationState = "rejected"
	ReservationStateCancelled ReservationState = "cancelled"
	ReservationStateExpired   ReservationState = "expired"
)

var validReservationStates = []ReservationState{
	ReservationStatePending,
	ReservationStateApproved,
	ReservationStateRejected,
	ReservationStateCancelled,
	ReservationStateExpired,
}

var reservationTransitions = map[ReservationState][]ReservationState{
	ReservationStatePending: {
		ReservationStateApproved,
		ReservationStateRejected,
		ReservationStateCancelled,
		ReservationStateExpired,
	},
	ReservationStateApproved: {
		ReservationStateCancelled,
		ReservationStateExpired,
	},
}

// IsValid reports whether the value matches a known reservation state.
func (s ReservationState) IsValid() bool {
	for _, candidate := range validReservationStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s ReservationState) IsTerminal() bool {
	return len(reservationTransitions[s]) == 0
}

// HoldsStock reports whether reservations in this state keep their items retained.
func (s ReservationState) HoldsStock() bool {
	return s == ReservationStatePending || s == ReservationStateApproved
}

// CanTransitionTo reports whether s -> next is a legal transition.
func (s ReservationState) CanTransitionTo(next ReservationState) bool {
	for _, candidate := range reservationTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// SourcesFor lists the states from which target may be entered.
func SourcesFor(target ReservationState) []ReservationState {
	var out []ReservationState
	for _, from := range validReservationStates {
		if from.CanTransitionTo(target) {
			out = append(out, from)
		}
	}
	return out
}

// ParseReservationState converts raw input into ReservationState.
func ParseReservationState(value string) (ReservationState, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validReservationStates {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reservation state %q", value)
}
