package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bindiq/onboard/internal/domain"
	"github.com/bindiq/onboard/internal/store"
)

func newTestRouter(repo store.Repository) *chi.Mux {
	r := chi.NewRouter()
	NewHandler(repo).RegisterRoutes(r)
	return r
}

func TestJSON(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"foo": "bar"})

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	Error(w, http.StatusNotFound, "nope")

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "nope" {
		t.Errorf("error = %q", got["error"])
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	r := newTestRouter(store.NewMemory())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["status"] != "healthy" || got["service"] != "onboard" {
		t.Fatalf("body = %v", got)
	}
}

// downStore reports an unreachable backend.
type downStore struct {
	store.Repository
}

func (downStore) Ping(context.Context) error { return errors.New("backend down") }

func TestHandleHealthStoreDown(t *testing.T) {
	t.Parallel()

	r := newTestRouter(downStore{store.NewMemory()})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestHandleTranscript(t *testing.T) {
	t.Parallel()

	repo := store.NewMemory()
	ctx := context.Background()
	now := time.Now()

	sess := domain.NewSession("sess-1", now)
	sess.State = domain.Collecting("email")
	sess.Progress = 25
	if err := repo.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	history := []domain.Message{
		{Role: domain.RoleAssistant, Content: "What's your full name?", Timestamp: now},
		{Role: domain.RoleUser, Content: "Jane Doe", Timestamp: now},
	}
	for _, m := range history {
		if err := repo.AppendMessage(ctx, "sess-1", m); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	r := newTestRouter(repo)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/sess-1/transcript", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got transcriptResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.SessionID != "sess-1" || got.State != "collecting:email" || got.Progress != 25 {
		t.Fatalf("transcript header = %+v", got)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(got.Messages))
	}
	if got.Messages[1].Role != domain.RoleUser || got.Messages[1].Content != "Jane Doe" {
		t.Fatalf("messages = %+v", got.Messages)
	}
}

func TestHandleTranscriptNotFound(t *testing.T) {
	t.Parallel()

	r := newTestRouter(store.NewMemory())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/missing/transcript", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
