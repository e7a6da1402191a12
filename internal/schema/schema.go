// Package schema defines the ordered slot schema for the onboarding flow:
// which fields are collected, how raw extracted values are validated, and
// which slot comes next given what has been collected so far.
package schema

import (
	"fmt"
	"sort"
	"time"
)

// Rejection is returned by validators for user-recoverable input problems.
// It carries the re-prompt text shown to the user and is never treated as
// a fault by callers.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return r.Reason
}

// Definition describes one slot to collect.
type Definition struct {
	// Key is the stable identifier used in collected maps and state tags.
	Key string
	// Prompt is the base prompt template asking for this slot.
	Prompt string
	// Hint describes the expected value shape for the extraction prompt.
	Hint string
	// Required slots gate completion; only non-required slots may be
	// skipped after repeated unclear answers.
	Required bool
	// Order fixes the nominal collection sequence.
	Order int
	// Validate normalizes a raw extracted value or rejects it. Validators
	// are pure: no I/O, no hidden state, same input same result.
	Validate func(raw string) (string, error)
	// Applies reports whether this slot is part of the flow given the
	// values collected so far. Nil means always applicable.
	Applies func(collected map[string]string) bool
}

// applicable reports whether the slot should be asked for this session.
func (d Definition) applicable(collected map[string]string) bool {
	return d.Applies == nil || d.Applies(collected)
}

// Schema is the immutable ordered slot sequence. It is built once at
// startup and shared read-only across all sessions.
type Schema struct {
	slots []Definition
	byKey map[string]Definition
}

// New builds a schema from definitions, ordered by Definition.Order.
func New(defs []Definition) (*Schema, error) {
	slots := make([]Definition, len(defs))
	copy(slots, defs)
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Order < slots[j].Order })

	byKey := make(map[string]Definition, len(slots))
	for _, d := range slots {
		if d.Key == "" {
			return nil, fmt.Errorf("slot with order %d has empty key", d.Order)
		}
		if d.Validate == nil {
			return nil, fmt.Errorf("slot %q has no validator", d.Key)
		}
		if _, dup := byKey[d.Key]; dup {
			return nil, fmt.Errorf("duplicate slot key %q", d.Key)
		}
		byKey[d.Key] = d
	}
	return &Schema{slots: slots, byKey: byKey}, nil
}

// Slots returns the ordered slot definitions.
func (s *Schema) Slots() []Definition {
	out := make([]Definition, len(s.slots))
	copy(out, s.slots)
	return out
}

// Get looks up a slot by key.
func (s *Schema) Get(key string) (Definition, bool) {
	d, ok := s.byKey[key]
	return d, ok
}

// Validate runs the named slot's validator against a raw value.
func (s *Schema) Validate(key, raw string) (string, error) {
	d, ok := s.byKey[key]
	if !ok {
		return "", fmt.Errorf("unknown slot %q", key)
	}
	return d.Validate(raw)
}

// NextUnfilled returns the first applicable slot, in order, that has not
// been filled or skipped. ok is false when nothing remains to collect.
func (s *Schema) NextUnfilled(collected map[string]string, skipped map[string]bool) (Definition, bool) {
	for _, d := range s.slots {
		if !d.applicable(collected) {
			continue
		}
		if _, filled := collected[d.Key]; filled {
			continue
		}
		if skipped[d.Key] {
			continue
		}
		return d, true
	}
	return Definition{}, false
}

// Progress returns the percentage of applicable required slots filled,
// rounded down. An empty schema reports 100.
func (s *Schema) Progress(collected map[string]string) int {
	total, filled := 0, 0
	for _, d := range s.slots {
		if !d.Required || !d.applicable(collected) {
			continue
		}
		total++
		if _, ok := collected[d.Key]; ok {
			filled++
		}
	}
	if total == 0 {
		return 100
	}
	return 100 * filled / total
}

// Default returns the insurance onboarding schema. The vehicle-year upper
// bound is captured here once so validators stay deterministic for the
// process lifetime.
func Default() *Schema {
	s, err := New(defaultSlots(time.Now().Year() + 1))
	if err != nil {
		panic("schema: invalid default slot set: " + err.Error())
	}
	return s
}
