// Package llm wraps the external language-model capability: slot-value
// extraction from free text and conversational phrasing of prompt
// templates. The model is never trusted with dialogue progression; it
// only proposes values and wording.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/bindiq/onboard/internal/domain"
)

// ErrUnavailable wraps any transport or API failure from the model
// capability so callers can treat it uniformly as a transient outage.
var ErrUnavailable = errors.New("model capability unavailable")

// CompletionService is the subset of the OpenAI client the engine needs.
// Declared here so tests can substitute a fake.
type CompletionService interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config holds model client configuration.
type Config struct {
	APIKey         string
	Model          string
	RequestTimeout time.Duration
}

// Client talks to an OpenAI-compatible completion API.
type Client struct {
	svc     CompletionService
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient builds a client backed by the real OpenAI API.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	return NewClientWithService(openai.NewClient(cfg.APIKey), cfg, logger), nil
}

// NewClientWithService builds a client over an existing completion service.
// Useful for tests.
func NewClientWithService(svc CompletionService, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{svc: svc, model: model, timeout: timeout, logger: logger}
}

// Candidate is the model's structured guess for one slot.
type Candidate struct {
	// Value is the extracted raw value, empty when nothing was found.
	Value string
	// Confident is false when the model could not commit to a value.
	Confident bool
}

// extractionPayload is the strict JSON shape the extraction prompt demands.
type extractionPayload struct {
	Value     *string `json:"value"`
	Confident bool    `json:"confident"`
}

const extractionSystemPrompt = "You extract one structured field from a user's " +
	"message in an insurance onboarding chat. Respond with strict JSON only: " +
	`{"value": string or null, "confident": boolean}. ` +
	"Set value to null and confident to false when the message does not " +
	"clearly contain the requested field. Never invent a value."

// ExtractSlot asks the model for a candidate value for the named slot.
// Any API failure is returned wrapped in ErrUnavailable; retry policy
// belongs to the caller.
func (c *Client) ExtractSlot(ctx context.Context, slotKey, hint, userText string, history []domain.Message) (Candidate, error) {
	user := fmt.Sprintf("Field: %s\nExpected: %s\n%sUser message: %q",
		slotKey, hint, renderRecentHistory(history), userText)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.svc.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		MaxTokens:   100,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return Candidate{}, fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	return parseCandidate(resp.Choices[0].Message.Content)
}

// parseCandidate decodes the extraction payload. A malformed payload is an
// availability problem, not an unclear answer: the capability violated its
// contract.
func parseCandidate(content string) (Candidate, error) {
	var payload extractionPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &payload); err != nil {
		return Candidate{}, fmt.Errorf("%w: malformed extraction payload: %v", ErrUnavailable, err)
	}
	if payload.Value == nil || strings.TrimSpace(*payload.Value) == "" {
		return Candidate{Confident: false}, nil
	}
	return Candidate{Value: strings.TrimSpace(*payload.Value), Confident: payload.Confident}, nil
}

const phrasingSystemPrompt = "You are a friendly insurance-onboarding assistant. " +
	"Keep replies warm, at most three short sentences, and ask ONLY for the " +
	"field in the current step."

// PhraseReply rewrites a base prompt conversationally. On any model
// failure it falls back to the base prompt unchanged; phrasing is
// best-effort and never fails a turn.
func (c *Client) PhraseReply(ctx context.Context, stateTag, basePrompt, userName string) string {
	name := userName
	if name == "" {
		name = "Not provided"
	}
	user := fmt.Sprintf("Current state: %s\nBase message: %s\nUser name: %s\n\n"+
		"Rewrite the base message conversationally. Use the user's name sparingly.",
		stateTag, basePrompt, name)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.svc.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.7,
		MaxTokens:   150,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: phrasingSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil || len(resp.Choices) == 0 {
		c.logger.Debug("reply phrasing failed, using base prompt", "state", stateTag, "error", err)
		return basePrompt
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return basePrompt
	}
	return out
}

// renderRecentHistory flattens the last few turns for extraction context.
func renderRecentHistory(history []domain.Message) string {
	const window = 6
	if len(history) == 0 {
		return ""
	}
	start := len(history) - window
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, m := range history[start:] {
		fmt.Fprintf(&b, "  %s: %s\n", m.Role, m.Content)
	}
	return b.String()
}
