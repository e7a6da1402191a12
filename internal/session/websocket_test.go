package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/bindiq/onboard/internal/store"
)

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		allowed string
		isDev   bool
		origin  string
		want    bool
	}{
		{"dev allows everything", "https://app.example.com", true, "https://evil.example.com", true},
		{"matching origin", "https://app.example.com", false, "https://app.example.com", true},
		{"mismatched origin", "https://app.example.com", false, "https://evil.example.com", false},
		{"no origin header", "https://app.example.com", false, "", true},
		{"wildcard", "*", false, "https://anywhere.example.com", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewWebSocketHandler(nil, tc.allowed, tc.isDev)
			r := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			if got := h.checkOrigin(r); got != tc.want {
				t.Fatalf("checkOrigin = %v, want %v", got, tc.want)
			}
		})
	}
}

// readFrame reads and decodes one outbound frame.
func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) wsOutbound {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var out wsOutbound
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return out
}

func writeFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, msg wsInbound) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestWebSocketConversation(t *testing.T) {
	t.Parallel()

	repo := store.NewMemory()
	mgr := NewManager(repo, &echoEngine{}, nil, nil)
	defer mgr.Close()

	h := NewWebSocketHandler(mgr, "", true)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	created := readFrame(t, ctx, conn)
	if created.Type != typeSessionCreated || created.Content == "" {
		t.Fatalf("first frame = %+v, want session_created with a token", created)
	}

	greeting := readFrame(t, ctx, conn)
	if greeting.Type != typeBotMessage || greeting.Content != "hello" {
		t.Fatalf("greeting frame = %+v", greeting)
	}
	update := readFrame(t, ctx, conn)
	if update.Type != typeStateUpdate {
		t.Fatalf("expected state_update after greeting, got %+v", update)
	}

	// A malformed frame is dropped; the session stays alive.
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}

	writeFrame(t, ctx, conn, wsInbound{Type: typeUserMessage, Content: "hi there"})
	reply := readFrame(t, ctx, conn)
	if reply.Type != typeBotMessage || reply.Content != "echo: hi there" {
		t.Fatalf("reply frame = %+v", reply)
	}
	update = readFrame(t, ctx, conn)
	if update.Type != typeStateUpdate || update.Data["current_state"] != "collecting:name" {
		t.Fatalf("state update frame = %+v", update)
	}

	// Audio frames are declined with a notice.
	writeFrame(t, ctx, conn, wsInbound{Type: typeUserAudio, Content: "base64..."})
	notice := readFrame(t, ctx, conn)
	if notice.Type != typeBotMessage || notice.Content == "" {
		t.Fatalf("audio notice frame = %+v", notice)
	}
}

func TestWebSocketResumeSendsStateUpdate(t *testing.T) {
	t.Parallel()

	repo := store.NewMemory()
	mgr := NewManager(repo, &echoEngine{}, nil, nil)
	defer mgr.Close()

	h := NewWebSocketHandler(mgr, "", true)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// First connection creates the session and advances past start.
	conn, _, err := websocket.Dial(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	created := readFrame(t, ctx, conn)
	token := created.Content
	readFrame(t, ctx, conn) // greeting
	readFrame(t, ctx, conn) // state update
	conn.Close(websocket.StatusNormalClosure, "bye")

	// Reconnecting with the token rehydrates instead of re-greeting.
	conn2, _, err := websocket.Dial(ctx, srv.URL+"/?session="+token, nil)
	if err != nil {
		t.Fatalf("second dial failed: %v", err)
	}
	defer conn2.Close(websocket.StatusNormalClosure, "done")

	first := readFrame(t, ctx, conn2)
	if first.Type != typeStateUpdate {
		t.Fatalf("resume frame = %+v, want state_update", first)
	}
	if first.Data["current_state"] != "collecting:name" {
		t.Fatalf("resumed state = %v, want collecting:name", first.Data["current_state"])
	}
}
