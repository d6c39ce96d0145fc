package booking

import (
	"fmt"
	"time"
)

// State is the single source of truth for where a booking flow is.
type State string

const (
	StateAwaitingDetails      State = "awaiting_details"
	StateValidatingDetails    State = "validating_details"
	StateCreatingBooking      State = "creating_booking"
	StateCreatingPaymentOrder State = "creating_payment_order"
	StateAwaitingPayment      State = "awaiting_payment"
	StateVerifyingPayment     State = "verifying_payment"
	StateConfirmed            State = "confirmed"
	StateFailed               State = "failed"
	StateCancelled            State = "cancelled"
)

// Step is the modal page a state is shown on.
type Step int

const (
	StepDetails Step = iota + 1
	StepPayment
	StepConfirmation
)

var transitions = map[State][]State{
	StateAwaitingDetails:      {StateValidatingDetails},
	StateValidatingDetails:    {StateAwaitingDetails, StateCreatingBooking},
	StateCreatingBooking:      {StateCreatingPaymentOrder, StateAwaitingDetails},
	StateCreatingPaymentOrder: {StateAwaitingPayment, StateAwaitingDetails},
	StateAwaitingPayment:      {StateVerifyingPayment, StateCancelled, StateFailed},
	StateVerifyingPayment:     {StateConfirmed, StateFailed},
	StateFailed:               {StateAwaitingPayment, StateAwaitingDetails},
	StateCancelled:            {StateAwaitingPayment},
	StateConfirmed:            nil,
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Step returns the page the state belongs to.
func (s State) Step() Step {
	switch s {
	case StateAwaitingPayment, StateVerifyingPayment, StateFailed, StateCancelled:
		return StepPayment
	case StateConfirmed:
		return StepConfirmation
	default:
		return StepDetails
	}
}

// Busy reports whether a network or widget operation is in flight.
func (s State) Busy() bool {
	switch s {
	case StateValidatingDetails, StateCreatingBooking, StateCreatingPaymentOrder, StateVerifyingPayment:
		return true
	}
	return false
}

func (s State) Terminal() bool { return s == StateConfirmed }

func (s Step) String() string {
	switch s {
	case StepDetails:
		return "details"
	case StepPayment:
		return "payment"
	case StepConfirmation:
		return "confirmation"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Transition is one recorded state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}
