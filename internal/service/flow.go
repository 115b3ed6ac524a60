package service

import (
	"agri-auth/internal/autherr"
)

// FlowState tracks where a phone number is in the login/signup flow. The
// stored state is the single source of truth; handlers never infer progress
// from request shape.
type FlowState string

const (
	FlowStart            FlowState = "start"
	FlowOTPPending       FlowState = "otp_pending"
	FlowVerifiedExisting FlowState = "verified_existing"
	FlowVerifiedNew      FlowState = "verified_new"
	FlowSignupPending    FlowState = "signup_pending"
	FlowComplete         FlowState = "complete"
)

// flowTransitions enumerates every legal edge. Resending an OTP loops on
// otp_pending; everything else moves forward only.
var flowTransitions = map[FlowState][]FlowState{
	FlowStart:            {FlowOTPPending},
	FlowOTPPending:       {FlowOTPPending, FlowVerifiedExisting, FlowVerifiedNew},
	FlowVerifiedExisting: {FlowComplete},
	FlowVerifiedNew:      {FlowSignupPending},
	FlowSignupPending:    {FlowComplete, FlowOTPPending},
	FlowComplete:         {FlowOTPPending},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to FlowState) bool {
	for _, next := range flowTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Advance validates a transition and returns the new state, or an error that
// names the violated step.
func Advance(from, to FlowState) (FlowState, error) {
	if !CanTransition(from, to) {
		return from, autherr.New(autherr.CodeInvalidSession,
			"operation not allowed from state "+string(from))
	}
	return to, nil
}
