// Package session binds transport connections to persisted conversation
// state and serializes all mutation per session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bindiq/onboard/internal/domain"
	"github.com/bindiq/onboard/internal/engine"
	"github.com/bindiq/onboard/internal/observability"
	"github.com/bindiq/onboard/internal/store"
)

// ErrSessionClosed is returned when dispatching to a session whose live
// handle has been released or expired.
var ErrSessionClosed = errors.New("session closed")

// ErrInboxFull is returned when a session's turn queue is at capacity.
// The session itself stays healthy; the caller should ask the user to
// slow down and retry after the backlog drains.
var ErrInboxFull = errors.New("session inbox full")

// turnTimeout bounds one advance call including model retries and the
// persistence writes. A turn never hangs indefinitely.
const turnTimeout = 90 * time.Second

// inboxSize bounds how many unprocessed messages one session may queue.
const inboxSize = 32

// Advancer is the conversation engine surface the manager drives.
type Advancer interface {
	Greet(ctx context.Context, sess *domain.Session) (*engine.Result, error)
	Advance(ctx context.Context, sess *domain.Session, userText string) (*engine.Result, error)
}

// Sender delivers outbound protocol events for one turn. A nil Sender is
// valid: the turn still runs and persists, its output is just dropped
// (disconnect mid-extraction must not lose the user's answer).
type Sender interface {
	SendBotMessage(content, stateTag string) error
	SendStateUpdate(stateTag string, progress int) error
	SendNotice(content string) error
}

// turnKind discriminates mailbox entries.
type turnKind int

const (
	turnGreet turnKind = iota
	turnMessage
)

type turn struct {
	kind turnKind
	text string
	send Sender
}

// liveSession is the in-memory handle for one session with at least one
// connected transport. Its worker goroutine is the session's single
// writer; the inbox preserves arrival order.
type liveSession struct {
	id    string
	state *domain.Session
	inbox chan turn
	// done is closed when the worker has drained the inbox; released is
	// closed once the handle has also been removed from the live table,
	// after its final persist. A reconnect arriving in between waits on
	// released so it can never rehydrate a snapshot older than a turn
	// that is still committing.
	done       chan struct{}
	released   chan struct{}
	closed     bool
	refs       int
	lastActive time.Time
}

// Manager owns the live session table. At most one worker mutates a given
// session ID at any time; independent sessions proceed fully in parallel.
type Manager struct {
	repo   store.Repository
	eng    Advancer
	audit  *ConversationLogger
	logger *slog.Logger

	mu   sync.Mutex
	live map[string]*liveSession
	wg   sync.WaitGroup
}

// NewManager creates a session manager. audit may be nil.
func NewManager(repo store.Repository, eng Advancer, audit *ConversationLogger, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:   repo,
		eng:    eng,
		audit:  audit,
		logger: logger,
		live:   make(map[string]*liveSession),
	}
}

// Connect resolves a client token to a session, rehydrating from the
// store or creating a fresh one, and acquires a live handle for the
// connection. A token that does not resolve is treated as absent, never
// as a fatal error.
func (m *Manager) Connect(ctx context.Context, token string) (sessionID string, created bool, err error) {
	m.mu.Lock()

	// An already-live session just gains another connection. A handle
	// that is draining still owns the session's writes, so wait for it
	// to be released before rehydrating; loading the store now could
	// observe a snapshot older than a turn that is still committing and
	// fork a second writer for the same session.
	for token != "" {
		ls, ok := m.live[token]
		if !ok {
			break
		}
		if !ls.closed {
			ls.refs++
			m.mu.Unlock()
			return ls.id, false, nil
		}
		m.mu.Unlock()
		select {
		case <-ls.released:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
		m.mu.Lock()
	}
	defer m.mu.Unlock()

	var sess *domain.Session
	if token != "" {
		sess, err = m.repo.LoadSession(ctx, token)
		switch {
		case err == nil:
			observability.RecordSession("resumed")
		case errors.Is(err, store.ErrSessionNotFound):
			m.logger.Info("session token did not resolve, starting fresh", "token", token)
			sess = nil
		default:
			return "", false, fmt.Errorf("load session: %w", err)
		}
	}
	if sess == nil {
		now := time.Now().UTC()
		sess = domain.NewSession(uuid.NewString(), now)
		if err := m.repo.SaveSession(ctx, sess); err != nil {
			return "", false, fmt.Errorf("save new session: %w", err)
		}
		created = true
		observability.RecordSession("created")
	}

	ls := &liveSession{
		id:         sess.ID,
		state:      sess,
		inbox:      make(chan turn, inboxSize),
		done:       make(chan struct{}),
		released:   make(chan struct{}),
		refs:       1,
		lastActive: time.Now(),
	}
	m.live[sess.ID] = ls
	observability.SessionOpened()
	m.wg.Add(1)
	go m.runSession(ls)

	m.logger.Info("session connected",
		"session_id", sess.ID, "created", created, "state", sess.State.Tag())
	return sess.ID, created, nil
}

// Snapshot returns a copy of the live session state, for the rehydration
// state_update sent on reconnect.
func (m *Manager) Snapshot(sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.live[sessionID]
	if !ok {
		return nil, ErrSessionClosed
	}
	return ls.state.Clone(), nil
}

// Greet enqueues the opening turn for a fresh session.
func (m *Manager) Greet(sessionID string, send Sender) error {
	return m.enqueue(sessionID, turn{kind: turnGreet, send: send})
}

// Dispatch enqueues one user message. Messages are processed strictly in
// arrival order per session.
func (m *Manager) Dispatch(sessionID, text string, send Sender) error {
	return m.enqueue(sessionID, turn{kind: turnMessage, text: text, send: send})
}

func (m *Manager) enqueue(sessionID string, t turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.live[sessionID]
	if !ok || ls.closed {
		return ErrSessionClosed
	}
	ls.lastActive = time.Now()
	select {
	case ls.inbox <- t:
		return nil
	default:
		return fmt.Errorf("session %s: %w", sessionID, ErrInboxFull)
	}
}

// Disconnect releases one connection's hold on a session. When the last
// connection goes, the inbox is closed and queued turns still run to
// completion and persist; the handle stays in the live table until the
// worker has drained, so a reconnect in that window waits instead of
// rehydrating a stale snapshot.
func (m *Manager) Disconnect(sessionID string) {
	m.mu.Lock()
	ls, ok := m.live[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	ls.refs--
	if ls.refs > 0 || ls.closed {
		m.mu.Unlock()
		return
	}
	ls.closed = true
	close(ls.inbox)
	m.mu.Unlock()

	go func() {
		<-ls.done
		m.release(ls)
		m.logger.Info("session released", "session_id", sessionID)
	}()
}

// release removes a drained handle from the live table. Whichever path
// removes the entry is the one that closes released.
func (m *Manager) release(ls *liveSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.live[ls.id]; ok && cur == ls {
		delete(m.live, ls.id)
		close(ls.released)
	}
}

// AbandonIdle marks live sessions idle longer than ttl as abandoned,
// persists that, and tears down their handles.
func (m *Manager) AbandonIdle(ctx context.Context, ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	var expired []*liveSession
	for _, ls := range m.live {
		if ls.lastActive.Before(cutoff) && !ls.closed {
			ls.closed = true
			close(ls.inbox)
			expired = append(expired, ls)
		}
	}
	m.mu.Unlock()

	for _, ls := range expired {
		// Wait for the worker to drain queued turns before touching state.
		<-ls.done
		ls.state.State = domain.DialogueState{Phase: domain.PhaseAbandoned}
		ls.state.UpdatedAt = time.Now()
		if err := m.repo.SaveSession(ctx, ls.state); err != nil {
			m.logger.Error("failed to persist abandoned session",
				"session_id", ls.id, "error", err)
		}
		m.release(ls)
		m.logger.Info("session abandoned after idle timeout", "session_id", ls.id)
	}
	return len(expired)
}

// Close drains all live sessions and waits for their workers.
func (m *Manager) Close() {
	m.mu.Lock()
	drained := make([]*liveSession, 0, len(m.live))
	for id, ls := range m.live {
		if !ls.closed {
			ls.closed = true
			close(ls.inbox)
		}
		delete(m.live, id)
		drained = append(drained, ls)
	}
	m.mu.Unlock()
	m.wg.Wait()
	for _, ls := range drained {
		close(ls.released)
	}
	m.audit.Close()
}

// runSession is the per-session worker: it applies turns one at a time in
// arrival order until the inbox is closed and drained.
func (m *Manager) runSession(ls *liveSession) {
	defer m.wg.Done()
	defer observability.SessionClosed()
	defer close(ls.done)
	for t := range ls.inbox {
		m.processTurn(ls, t)
	}
}

// processTurn runs one turn against a clone of the session and commits
// the clone only after persistence succeeds, so every turn is
// all-or-nothing. The context is detached from any connection: a
// disconnect mid-turn never cancels validation or persistence.
func (m *Manager) processTurn(ls *liveSession, t turn) {
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	work := ls.state.Clone()
	prevLen := len(work.History)

	var (
		res *engine.Result
		err error
	)
	switch t.kind {
	case turnGreet:
		res, err = m.eng.Greet(ctx, work)
	case turnMessage:
		res, err = m.eng.Advance(ctx, work, t.text)
	}
	if err != nil {
		m.logger.Error("turn failed", "session_id", ls.id, "error", err)
		m.sendNotice(t.send, "Sorry, something went wrong on my end. Please try again.")
		return
	}

	if err := m.persistTurn(ctx, work, prevLen); err != nil {
		m.logger.Error("failed to persist turn", "session_id", ls.id, "error", err)
		m.sendNotice(t.send, "Sorry, I couldn't save that. Please send it again in a moment.")
		return
	}
	ls.state = work

	if res.ModelUnavailable {
		m.logger.Error("model capability unavailable", "session_id", ls.id, "state", res.StateTag)
	}
	m.auditTurn(ls.id, work, prevLen, res.StateTag)

	if t.send != nil {
		if err := t.send.SendBotMessage(res.Reply, res.StateTag); err != nil {
			m.logger.Debug("reply not delivered", "session_id", ls.id, "error", err)
			return
		}
		if err := t.send.SendStateUpdate(res.StateTag, res.Progress); err != nil {
			m.logger.Debug("state update not delivered", "session_id", ls.id, "error", err)
		}
	}
}

// persistTurn appends the turn's new history entries and saves the
// session snapshot.
func (m *Manager) persistTurn(ctx context.Context, sess *domain.Session, prevLen int) error {
	for _, msg := range sess.History[prevLen:] {
		if err := m.repo.AppendMessage(ctx, sess.ID, msg); err != nil {
			return fmt.Errorf("append message: %w", err)
		}
	}
	if err := m.repo.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (m *Manager) auditTurn(sessionID string, sess *domain.Session, prevLen int, stateTag string) {
	if m.audit == nil {
		return
	}
	for _, msg := range sess.History[prevLen:] {
		m.audit.Log(LogEvent{
			SessionID: sessionID,
			Role:      msg.Role,
			Content:   msg.Content,
			StateTag:  stateTag,
			Timestamp: msg.Timestamp,
		})
	}
}

func (m *Manager) sendNotice(send Sender, content string) {
	if send == nil {
		return
	}
	if err := send.SendNotice(content); err != nil {
		m.logger.Debug("notice not delivered", "error", err)
	}
}
