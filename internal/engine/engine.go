// Package engine implements the per-session conversation state machine:
// which slot is being collected, how extraction outcomes move the dialogue
// forward, and what the assistant says next. All transition logic is a
// pure function of the current state and the extraction outcome; the
// model capability never decides progression.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bindiq/onboard/internal/domain"
	"github.com/bindiq/onboard/internal/extract"
	"github.com/bindiq/onboard/internal/observability"
	"github.com/bindiq/onboard/internal/schema"
)

// Fixed reply templates. Most replies are conversationally rephrased by
// the responder; these few stay fixed because they must be predictable.
const (
	greetingPrompt  = "Hello! I'll help you with your insurance onboarding."
	completedReply  = "Thank you! Your onboarding is complete."
	alreadyDone     = "Your onboarding is already complete. Thank you!"
	transientReply  = "Sorry, I'm having trouble on my end right now. Please send that again in a moment."
	expiredReply    = "This session has expired. Please reconnect without a session token to start over."
	restartReply    = "No problem, let's start over."
	skipReply       = "No problem, we can skip that for now."
	keepTryingReply = "I'm still having trouble understanding that one. Let's give it one more go, or say \"restart\" to start over."
	confirmPrompt   = "Is everything correct? (Yes or No)"
)

// confirmationSlot is the boolean-intent pseudo-slot used while reviewing.
var confirmationSlot = schema.Definition{
	Key:      "confirmation",
	Prompt:   confirmPrompt,
	Hint:     "a yes or no answer confirming the summary",
	Required: true,
	Validate: schema.ValidateYesNo,
}

// Extractor produces a structured outcome for one slot from free text.
type Extractor interface {
	Extract(ctx context.Context, slot schema.Definition, history []domain.Message, userText string) extract.Outcome
}

// Responder phrases a base reply conversationally. Implementations must
// not fail; on trouble they return the base text unchanged.
type Responder interface {
	PhraseReply(ctx context.Context, stateTag, basePrompt, userName string) string
}

// Config holds engine policy knobs.
type Config struct {
	// UnclearEscalation is the number of consecutive Unclear outcomes
	// for one slot before the engine falls back to skip/keep-trying.
	UnclearEscalation int
}

// Result reports what one turn did.
type Result struct {
	// Reply is the assistant text for this turn (already appended to the
	// session history).
	Reply string
	// StateTag is the dialogue state after the turn.
	StateTag string
	// Progress is the recomputed progress percentage.
	Progress int
	// FilledSlot names the slot committed this turn, if any.
	FilledSlot string
	// Rejected is true when a matched value failed validation.
	Rejected bool
	// ModelUnavailable is true when the turn was lost to a capability
	// outage; the session manager logs and alerts on it.
	ModelUnavailable bool
	// Restarted is true when the user restarted the flow.
	Restarted bool
	// Completed is true when this turn reached the terminal state.
	Completed bool
}

// Engine drives one session's dialogue. It holds no per-session state and
// is safe to share across sessions; serialization per session is the
// session manager's job.
type Engine struct {
	schema     *schema.Schema
	extractor  Extractor
	responder  Responder
	escalation int
	logger     *slog.Logger
	now        func() time.Time
}

// New builds an engine over a shared read-only schema.
func New(s *schema.Schema, ex Extractor, r Responder, cfg Config, logger *slog.Logger) *Engine {
	esc := cfg.UnclearEscalation
	if esc <= 0 {
		esc = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		schema:     s,
		extractor:  ex,
		responder:  r,
		escalation: esc,
		logger:     logger,
		now:        time.Now,
	}
}

// Greet opens a fresh session: it moves from Start to collecting the first
// slot and produces the greeting turn. Valid only in the start phase.
func (e *Engine) Greet(ctx context.Context, sess *domain.Session) (*Result, error) {
	if sess.State.Phase != domain.PhaseStart {
		return nil, fmt.Errorf("greet called in phase %q", sess.State.Phase)
	}
	first, ok := e.schema.NextUnfilled(sess.Collected, sess.Skipped)
	if !ok {
		return nil, errors.New("schema has no slots to collect")
	}
	sess.State = domain.Collecting(first.Key)
	reply := e.responder.PhraseReply(ctx, sess.State.Tag(), greetingPrompt+" "+first.Prompt, "")
	return e.finishTurn(sess, reply, Result{}), nil
}

// Advance processes one user turn. The user message is appended to history
// before extraction runs and the assistant reply is appended after it is
// finalized, so history always alternates user-then-assistant per turn.
// Validation is always attempted before any transition is committed.
func (e *Engine) Advance(ctx context.Context, sess *domain.Session, userText string) (*Result, error) {
	sess.AppendMessage(domain.RoleUser, userText, e.now())

	// Terminal states: acknowledge and change nothing. Idempotent.
	if sess.State.Phase == domain.PhaseCompleted {
		observability.RecordTurn("already_completed")
		return e.finishTurn(sess, alreadyDone, Result{Completed: true}), nil
	}
	if sess.State.Phase == domain.PhaseAbandoned {
		observability.RecordTurn("abandoned")
		return e.finishTurn(sess, expiredReply, Result{}), nil
	}

	// Explicit restart works from any live state.
	if strings.EqualFold(strings.TrimSpace(userText), "restart") {
		return e.restart(ctx, sess)
	}

	if sess.State.Phase == domain.PhaseReviewing {
		return e.advanceReview(ctx, sess, userText)
	}
	return e.advanceCollecting(ctx, sess, userText)
}

// advanceCollecting handles the Start and CollectingField phases.
func (e *Engine) advanceCollecting(ctx context.Context, sess *domain.Session, userText string) (*Result, error) {
	slot, err := e.targetSlot(sess)
	if err != nil {
		return nil, err
	}
	if slot.Key == "" {
		// Everything already collected; move straight to review.
		sess.State = domain.DialogueState{Phase: domain.PhaseReviewing}
		observability.RecordTurn("review_entered")
		return e.finishTurn(sess, e.reviewSummary(sess), Result{}), nil
	}
	sess.State = domain.Collecting(slot.Key)

	outcome := e.extractor.Extract(ctx, slot, sess.History, userText)
	switch outcome.Kind {
	case extract.ModelUnavailable:
		return e.modelUnavailableTurn(sess)

	case extract.Unclear:
		return e.unclearTurn(ctx, sess, slot)

	case extract.Matched:
		return e.matchedTurn(ctx, sess, slot, outcome.Raw)

	default:
		return nil, fmt.Errorf("unknown extraction outcome %q", outcome.Kind)
	}
}

// matchedTurn validates a candidate value and, on success, commits it and
// moves to the next slot or into review.
func (e *Engine) matchedTurn(ctx context.Context, sess *domain.Session, slot schema.Definition, raw string) (*Result, error) {
	// A matched answer breaks any streak of unclear ones.
	delete(sess.UnclearCounts, slot.Key)

	value, err := e.schema.Validate(slot.Key, raw)
	if err != nil {
		var rej *schema.Rejection
		if !errors.As(err, &rej) {
			return nil, fmt.Errorf("validate slot %q: %w", slot.Key, err)
		}
		observability.RecordTurn("rejected")
		observability.RecordValidationRejection(slot.Key)
		reply := e.responder.PhraseReply(ctx, sess.State.Tag(), rej.Reason, e.userName(sess))
		return e.finishTurn(sess, reply, Result{Rejected: true}), nil
	}

	sess.Collected[slot.Key] = value
	observability.RecordTurn("filled")
	res := Result{FilledSlot: slot.Key}

	next, ok := e.schema.NextUnfilled(sess.Collected, sess.Skipped)
	if !ok {
		sess.State = domain.DialogueState{Phase: domain.PhaseReviewing}
		return e.finishTurn(sess, e.reviewSummary(sess), res), nil
	}
	sess.State = domain.Collecting(next.Key)
	reply := e.responder.PhraseReply(ctx, sess.State.Tag(), next.Prompt, e.userName(sess))
	return e.finishTurn(sess, reply, res), nil
}

// unclearTurn re-prompts for the same slot, escalating after a bounded
// number of consecutive unclear answers. Only non-required slots may be
// skipped.
func (e *Engine) unclearTurn(ctx context.Context, sess *domain.Session, slot schema.Definition) (*Result, error) {
	sess.UnclearCounts[slot.Key]++
	observability.RecordTurn("unclear")

	if sess.UnclearCounts[slot.Key] < e.escalation {
		reply := e.responder.PhraseReply(ctx, sess.State.Tag(),
			"Sorry, I didn't catch that. "+slot.Prompt, e.userName(sess))
		return e.finishTurn(sess, reply, Result{}), nil
	}

	if !slot.Required {
		sess.Skipped[slot.Key] = true
		delete(sess.UnclearCounts, slot.Key)
		e.logger.Info("skipping optional slot after repeated unclear answers",
			"session_id", sess.ID, "slot", slot.Key)

		next, ok := e.schema.NextUnfilled(sess.Collected, sess.Skipped)
		if !ok {
			sess.State = domain.DialogueState{Phase: domain.PhaseReviewing}
			return e.finishTurn(sess, skipReply+" "+e.reviewSummary(sess), Result{}), nil
		}
		sess.State = domain.Collecting(next.Key)
		reply := e.responder.PhraseReply(ctx, sess.State.Tag(), skipReply+" "+next.Prompt, e.userName(sess))
		return e.finishTurn(sess, reply, Result{}), nil
	}

	// Required slot: keep asking, but reset the streak so the fallback
	// is not repeated on every turn.
	sess.UnclearCounts[slot.Key] = 0
	reply := e.responder.PhraseReply(ctx, sess.State.Tag(),
		keepTryingReply+" "+slot.Prompt, e.userName(sess))
	return e.finishTurn(sess, reply, Result{}), nil
}

// advanceReview classifies the user's confirmation answer. Yes completes
// the flow; no restarts it from the first slot with collected values
// cleared.
func (e *Engine) advanceReview(ctx context.Context, sess *domain.Session, userText string) (*Result, error) {
	outcome := e.extractor.Extract(ctx, confirmationSlot, sess.History, userText)
	switch outcome.Kind {
	case extract.ModelUnavailable:
		return e.modelUnavailableTurn(sess)

	case extract.Unclear:
		sess.UnclearCounts[confirmationSlot.Key]++
		observability.RecordTurn("unclear")
		if sess.UnclearCounts[confirmationSlot.Key] >= e.escalation {
			sess.UnclearCounts[confirmationSlot.Key] = 0
			return e.finishTurn(sess, keepTryingReply+" "+e.reviewSummary(sess), Result{}), nil
		}
		return e.finishTurn(sess, "Sorry, I didn't catch that. "+confirmPrompt, Result{}), nil

	case extract.Matched:
		delete(sess.UnclearCounts, confirmationSlot.Key)
		answer, err := confirmationSlot.Validate(outcome.Raw)
		if err != nil {
			observability.RecordTurn("rejected")
			return e.finishTurn(sess, "Sorry, I didn't catch that. "+confirmPrompt, Result{Rejected: true}), nil
		}
		if answer == "yes" {
			sess.State = domain.DialogueState{Phase: domain.PhaseCompleted}
			observability.RecordTurn("completed")
			reply := e.responder.PhraseReply(ctx, sess.State.Tag(), completedReply, e.userName(sess))
			return e.finishTurn(sess, reply, Result{Completed: true}), nil
		}
		return e.restart(ctx, sess)

	default:
		return nil, fmt.Errorf("unknown extraction outcome %q", outcome.Kind)
	}
}

// restart clears collected values and returns to the first slot. The
// history is kept; it is the append-only audit log.
func (e *Engine) restart(ctx context.Context, sess *domain.Session) (*Result, error) {
	sess.Collected = make(map[string]string)
	sess.Skipped = make(map[string]bool)
	sess.UnclearCounts = make(map[string]int)

	first, ok := e.schema.NextUnfilled(sess.Collected, sess.Skipped)
	if !ok {
		return nil, errors.New("schema has no slots to collect")
	}
	sess.State = domain.Collecting(first.Key)
	observability.RecordTurn("restarted")
	reply := e.responder.PhraseReply(ctx, sess.State.Tag(), restartReply+" "+first.Prompt, "")
	return e.finishTurn(sess, reply, Result{Restarted: true}), nil
}

// modelUnavailableTurn leaves all state untouched and tells the user to
// try again. Distinct from a clarifying re-prompt; no unclear counter is
// incremented.
func (e *Engine) modelUnavailableTurn(sess *domain.Session) (*Result, error) {
	observability.RecordTurn("model_unavailable")
	observability.RecordModelUnavailable()
	return e.finishTurn(sess, transientReply, Result{ModelUnavailable: true}), nil
}

// targetSlot resolves the slot this turn should fill.
func (e *Engine) targetSlot(sess *domain.Session) (schema.Definition, error) {
	if sess.State.Phase == domain.PhaseCollecting {
		slot, ok := e.schema.Get(sess.State.Slot)
		if !ok {
			return schema.Definition{}, fmt.Errorf("state references unknown slot %q", sess.State.Slot)
		}
		if _, filled := sess.Collected[slot.Key]; !filled {
			return slot, nil
		}
		// Slot already validated; never ask again. Fall through to the
		// next unfilled one.
	}
	slot, ok := e.schema.NextUnfilled(sess.Collected, sess.Skipped)
	if !ok {
		return schema.Definition{}, nil
	}
	return slot, nil
}

// reviewSummary renders the collected values for confirmation. The data
// lines stay verbatim; phrasing the summary through the model could
// distort the values being confirmed.
func (e *Engine) reviewSummary(sess *domain.Session) string {
	var b strings.Builder
	b.WriteString("Here's what I have:\n")
	for _, d := range e.schema.Slots() {
		if v, ok := sess.Collected[d.Key]; ok {
			fmt.Fprintf(&b, "- %s: %s\n", labelFor(d.Key), v)
		}
	}
	b.WriteString(confirmPrompt)
	return b.String()
}

// finishTurn appends the assistant reply, recomputes progress, and stamps
// the session.
func (e *Engine) finishTurn(sess *domain.Session, reply string, res Result) *Result {
	now := e.now()
	sess.AppendMessage(domain.RoleAssistant, reply, now)
	sess.Progress = e.schema.Progress(sess.Collected)
	if sess.State.Phase == domain.PhaseCompleted {
		sess.Progress = 100
	}
	sess.UpdatedAt = now

	res.Reply = reply
	res.StateTag = sess.State.Tag()
	res.Progress = sess.Progress
	return &res
}

func (e *Engine) userName(sess *domain.Session) string {
	return sess.Collected[schema.SlotFullName]
}

// labelFor turns a slot key into a human label for the review summary.
func labelFor(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
