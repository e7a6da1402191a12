package domain

import (
	"maps"
	"slices"
	"time"
)

// Message roles, matching the persisted history rows.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a session's append-only history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the mutable per-conversation record. It is mutated only by the
// conversation engine, under the session manager's single-writer guarantee.
type Session struct {
	ID            string            `json:"id"`
	State         DialogueState     `json:"state"`
	Collected     map[string]string `json:"collected"`
	Skipped       map[string]bool   `json:"skipped,omitempty"`
	UnclearCounts map[string]int    `json:"unclear_counts,omitempty"`
	Progress      int               `json:"progress"`
	History       []Message         `json:"-"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewSession returns a fresh session in the start phase.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:            id,
		State:         DialogueState{Phase: PhaseStart},
		Collected:     make(map[string]string),
		Skipped:       make(map[string]bool),
		UnclearCounts: make(map[string]int),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// AppendMessage appends to the history and returns the stored message.
// History is append-only; nothing ever removes or reorders entries.
func (s *Session) AppendMessage(role, content string, now time.Time) Message {
	m := Message{Role: role, Content: content, Timestamp: now}
	s.History = append(s.History, m)
	return m
}

// Clone returns a deep copy. The session manager advances a clone and swaps
// it in only after the turn has been persisted, so a failed save never
// leaves a half-mutated live session.
func (s *Session) Clone() *Session {
	c := *s
	c.Collected = maps.Clone(s.Collected)
	c.Skipped = maps.Clone(s.Skipped)
	c.UnclearCounts = maps.Clone(s.UnclearCounts)
	c.History = slices.Clone(s.History)
	if c.Collected == nil {
		c.Collected = make(map[string]string)
	}
	if c.Skipped == nil {
		c.Skipped = make(map[string]bool)
	}
	if c.UnclearCounts == nil {
		c.UnclearCounts = make(map[string]int)
	}
	return &c
}
