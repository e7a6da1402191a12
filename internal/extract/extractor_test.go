package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/bindiq/onboard/internal/domain"
	"github.com/bindiq/onboard/internal/llm"
	"github.com/bindiq/onboard/internal/schema"
)

// scriptedClient replays canned results, one per call.
type scriptedClient struct {
	results []func() (llm.Candidate, error)
	calls   int
}

func (s *scriptedClient) ExtractSlot(_ context.Context, _, _, _ string, _ []domain.Message) (llm.Candidate, error) {
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i]()
}

func matched(value string) func() (llm.Candidate, error) {
	return func() (llm.Candidate, error) { return llm.Candidate{Value: value, Confident: true}, nil }
}

func unclear() func() (llm.Candidate, error) {
	return func() (llm.Candidate, error) { return llm.Candidate{Confident: false}, nil }
}

func failing() func() (llm.Candidate, error) {
	return func() (llm.Candidate, error) { return llm.Candidate{}, llm.ErrUnavailable }
}

var testSlot = schema.Definition{Key: "zip_code", Hint: "a 5-digit US zip code"}

func TestExtractMatched(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{results: []func() (llm.Candidate, error){matched("94110")}}
	e := New(client, 2, nil)

	out := e.Extract(context.Background(), testSlot, nil, "it's 94110")
	if out.Kind != Matched || out.Raw != "94110" {
		t.Fatalf("outcome = %+v, want matched 94110", out)
	}
	if client.calls != 1 {
		t.Fatalf("calls = %d, want 1", client.calls)
	}
}

func TestExtractUnclearIsNotRetried(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{results: []func() (llm.Candidate, error){unclear(), matched("94110")}}
	e := New(client, 2, nil)

	out := e.Extract(context.Background(), testSlot, nil, "ummm")
	if out.Kind != Unclear {
		t.Fatalf("outcome = %+v, want unclear", out)
	}
	if client.calls != 1 {
		t.Fatalf("unclear must not be retried, got %d calls", client.calls)
	}
}

func TestExtractRetriesFailuresThenSucceeds(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{results: []func() (llm.Candidate, error){failing(), failing(), matched("94110")}}
	e := New(client, 2, nil)

	out := e.Extract(context.Background(), testSlot, nil, "94110")
	if out.Kind != Matched || out.Raw != "94110" {
		t.Fatalf("outcome = %+v, want matched after retries", out)
	}
	if client.calls != 3 {
		t.Fatalf("calls = %d, want 3", client.calls)
	}
}

func TestExtractExhaustsRetries(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{results: []func() (llm.Candidate, error){failing()}}
	e := New(client, 2, nil)

	out := e.Extract(context.Background(), testSlot, nil, "94110")
	if out.Kind != ModelUnavailable {
		t.Fatalf("outcome = %+v, want model_unavailable", out)
	}
	if client.calls != 3 {
		t.Fatalf("calls = %d, want first attempt plus 2 retries", client.calls)
	}
}

func TestExtractStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	client := &scriptedClient{results: []func() (llm.Candidate, error){
		func() (llm.Candidate, error) {
			cancel()
			return llm.Candidate{}, errors.New("context canceled")
		},
	}}
	e := New(client, 5, nil)

	out := e.Extract(ctx, testSlot, nil, "94110")
	if out.Kind != ModelUnavailable {
		t.Fatalf("outcome = %+v, want model_unavailable", out)
	}
	if client.calls != 1 {
		t.Fatalf("calls = %d, cancelled context must stop retries", client.calls)
	}
}

func TestExtractEmptyConfidentValueIsUnclear(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{results: []func() (llm.Candidate, error){
		func() (llm.Candidate, error) { return llm.Candidate{Value: "", Confident: true}, nil },
	}}
	e := New(client, 0, nil)

	out := e.Extract(context.Background(), testSlot, nil, "hello")
	if out.Kind != Unclear {
		t.Fatalf("outcome = %+v, want unclear for empty value", out)
	}
}
