// Package extract turns free-form user text into a candidate value for a
// single slot via the model capability, and classifies the result for the
// conversation engine.
package extract

import (
	"context"
	"log/slog"
	"time"

	"github.com/bindiq/onboard/internal/domain"
	"github.com/bindiq/onboard/internal/llm"
	"github.com/bindiq/onboard/internal/observability"
	"github.com/bindiq/onboard/internal/schema"
)

// Kind classifies an extraction outcome.
type Kind string

const (
	// Matched means the model produced a plausible raw value. It still
	// has to pass the slot validator before anything is committed.
	Matched Kind = "matched"
	// Unclear means the model could not confidently extract a value.
	// Not a fault; the engine re-prompts.
	Unclear Kind = "unclear"
	// ModelUnavailable means the capability failed or timed out after
	// the bounded retries.
	ModelUnavailable Kind = "model_unavailable"
)

// Outcome is the result of one extraction attempt.
type Outcome struct {
	Kind Kind
	// Raw is the candidate value, set only for Matched.
	Raw string
}

// ModelClient is the slice of the llm client the extractor needs.
type ModelClient interface {
	ExtractSlot(ctx context.Context, slotKey, hint, userText string, history []domain.Message) (llm.Candidate, error)
}

// Extractor runs slot extraction with bounded retry on capability failure.
type Extractor struct {
	client     ModelClient
	maxRetries int
	logger     *slog.Logger
}

// New builds an extractor. maxRetries bounds re-attempts after a model
// failure (the first call plus maxRetries retries); Unclear outcomes are
// never retried.
func New(client ModelClient, maxRetries int, logger *slog.Logger) *Extractor {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{client: client, maxRetries: maxRetries, logger: logger}
}

// Extract asks the model for a value for the target slot.
func (e *Extractor) Extract(ctx context.Context, slot schema.Definition, history []domain.Message, userText string) Outcome {
	start := time.Now()
	out := e.extract(ctx, slot, history, userText)
	observability.ObserveExtraction(string(out.Kind), time.Since(start))
	return out
}

func (e *Extractor) extract(ctx context.Context, slot schema.Definition, history []domain.Message, userText string) Outcome {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		cand, err := e.client.ExtractSlot(ctx, slot.Key, slot.Hint, userText, history)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			e.logger.Warn("slot extraction failed",
				"slot", slot.Key, "attempt", attempt+1, "error", err)
			continue
		}
		if !cand.Confident || cand.Value == "" {
			return Outcome{Kind: Unclear}
		}
		return Outcome{Kind: Matched, Raw: cand.Value}
	}
	e.logger.Error("slot extraction exhausted retries",
		"slot", slot.Key, "retries", e.maxRetries, "error", lastErr)
	return Outcome{Kind: ModelUnavailable}
}
