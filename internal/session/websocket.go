package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/bindiq/onboard/internal/domain"
)

// Inbound and outbound message types of the wire protocol.
const (
	typeUserMessage    = "user_message"
	typeUserAudio      = "user_audio"
	typeBotMessage     = "bot_message"
	typeStateUpdate    = "state_update"
	typeSessionCreated = "session_created"
)

// wsInbound is the client-to-engine frame shape.
type wsInbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// wsOutbound is the engine-to-client frame shape.
type wsOutbound struct {
	Type    string         `json:"type"`
	Content string         `json:"content,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// WebSocketHandler handles WebSocket-based chat sessions.
type WebSocketHandler struct {
	mgr           *Manager
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(mgr *Manager, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		mgr:           mgr,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsSender serializes writes to one connection. The coder/websocket
// connection allows a single concurrent writer; the session worker and
// the read loop both send through this.
type wsSender struct {
	conn *websocket.Conn
	mu   sync.Mutex
	ctx  context.Context
}

func (s *wsSender) send(msg wsOutbound) error {
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

// SendBotMessage delivers an assistant reply with the current state tag.
func (s *wsSender) SendBotMessage(content, stateTag string) error {
	return s.send(wsOutbound{
		Type:    typeBotMessage,
		Content: content,
		Data:    map[string]any{"state": stateTag},
	})
}

// SendStateUpdate delivers the current state and progress for UI
// rendering.
func (s *wsSender) SendStateUpdate(stateTag string, progress int) error {
	return s.send(wsOutbound{
		Type: typeStateUpdate,
		Data: map[string]any{"current_state": stateTag, "progress": progress},
	})
}

// SendNotice delivers an out-of-band assistant notice.
func (s *wsSender) SendNotice(content string) error {
	return s.send(wsOutbound{Type: typeBotMessage, Content: content})
}

// ServeHTTP upgrades the connection and runs the session read loop.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("session")
	slog.Info("WebSocket connection request", "has_token", token != "", "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sessionID, created, err := h.mgr.Connect(ctx, token)
	if err != nil {
		slog.Error("Failed to resolve session", "error", err)
		return
	}
	defer h.mgr.Disconnect(sessionID)

	sender := &wsSender{conn: ws, ctx: ctx}

	if created {
		if err := sender.send(wsOutbound{Type: typeSessionCreated, Content: sessionID}); err != nil {
			slog.Debug("Failed to send session token", "session_id", sessionID, "error", err)
			return
		}
	}

	if err := h.openSession(sessionID, created, sender); err != nil {
		slog.Warn("Failed to open session", "session_id", sessionID, "error", err)
		return
	}

	h.readLoop(ctx, ws, sessionID, sender)
	slog.Info("Chat session ended", "session_id", sessionID)
}

// openSession emits the opening traffic: the greeting turn for a new
// session, or a state_update snapshot on rehydration.
func (h *WebSocketHandler) openSession(sessionID string, created bool, sender *wsSender) error {
	snap, err := h.mgr.Snapshot(sessionID)
	if err != nil {
		return err
	}
	if created || snap.State.Phase == domain.PhaseStart {
		return h.mgr.Greet(sessionID, sender)
	}
	return sender.SendStateUpdate(snap.State.Tag(), snap.Progress)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID string, sender *wsSender) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "session_id", sessionID, "error", err)
			}
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed frame: drop it and keep the session alive.
			slog.Warn("Dropping malformed frame", "session_id", sessionID, "error", err)
			continue
		}

		switch msg.Type {
		case typeUserMessage:
			text := strings.TrimSpace(msg.Content)
			if text == "" {
				continue
			}
			if err := h.mgr.Dispatch(sessionID, text, sender); err != nil {
				if errors.Is(err, ErrInboxFull) {
					// Backlog pressure, not a dead session: tell the user
					// to slow down and keep reading.
					slog.Warn("Session inbox full", "session_id", sessionID)
					if sendErr := sender.SendNotice("I'm getting your messages faster than I can answer. Please wait for my reply before sending more."); sendErr != nil {
						slog.Debug("Failed to send backpressure notice", "error", sendErr)
					}
					continue
				}
				slog.Warn("Failed to dispatch message", "session_id", sessionID, "error", err)
				if sendErr := sender.SendNotice("This session is no longer active. Please reconnect."); sendErr != nil {
					slog.Debug("Failed to send session notice", "error", sendErr)
				}
				return
			}
		case typeUserAudio:
			// Audio is resolved to text by an external capability before
			// it reaches this engine; raw audio frames are not accepted.
			slog.Info("Dropping unsupported audio frame", "session_id", sessionID)
			if err := sender.SendNotice("Audio input isn't supported here. Please type your answer."); err != nil {
				slog.Debug("Failed to send audio notice", "error", err)
			}
		default:
			slog.Warn("Dropping frame with unknown type",
				"session_id", sessionID, "type", msg.Type)
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
