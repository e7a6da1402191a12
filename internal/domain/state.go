// Package domain contains core domain types for the onboarding engine.
package domain

import (
	"fmt"
	"strings"
)

// Phase enumerates the coarse dialogue phases.
type Phase string

const (
	// PhaseStart is the initial phase before any slot has been asked.
	PhaseStart Phase = "start"
	// PhaseCollecting means the engine is waiting for a value for one slot.
	PhaseCollecting Phase = "collecting"
	// PhaseReviewing means all required slots are filled and the engine is
	// waiting for the user to confirm or restart.
	PhaseReviewing Phase = "reviewing"
	// PhaseCompleted is terminal; further input is acknowledged but ignored.
	PhaseCompleted Phase = "completed"
	// PhaseAbandoned is an absorbing phase entered only by session expiry.
	PhaseAbandoned Phase = "abandoned"
)

// DialogueState is the current position in the onboarding dialogue.
// For PhaseCollecting, Slot names the field being collected; it is empty
// for every other phase.
type DialogueState struct {
	Phase Phase  `json:"phase"`
	Slot  string `json:"slot,omitempty"`
}

// Collecting returns the state for collecting the named slot.
func Collecting(slot string) DialogueState {
	return DialogueState{Phase: PhaseCollecting, Slot: slot}
}

// Tag renders the state as a stable wire/storage tag, e.g. "collecting:email".
func (s DialogueState) Tag() string {
	if s.Phase == PhaseCollecting && s.Slot != "" {
		return string(s.Phase) + ":" + s.Slot
	}
	return string(s.Phase)
}

// ParseState parses a tag produced by Tag.
func ParseState(tag string) (DialogueState, error) {
	switch {
	case tag == string(PhaseStart), tag == string(PhaseReviewing),
		tag == string(PhaseCompleted), tag == string(PhaseAbandoned):
		return DialogueState{Phase: Phase(tag)}, nil
	case strings.HasPrefix(tag, string(PhaseCollecting)+":"):
		slot := strings.TrimPrefix(tag, string(PhaseCollecting)+":")
		if slot == "" {
			return DialogueState{}, fmt.Errorf("state tag %q has empty slot", tag)
		}
		return Collecting(slot), nil
	default:
		return DialogueState{}, fmt.Errorf("unknown state tag %q", tag)
	}
}

// Terminal reports whether no further transitions are possible.
func (s DialogueState) Terminal() bool {
	return s.Phase == PhaseCompleted || s.Phase == PhaseAbandoned
}
