package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"studyflow/internal/models"
)

// generationStage is one step of a staged generation run with the progress
// percentage reported when it finishes.
type generationStage struct {
	name    string
	percent int
}

var deckStages = []generationStage{
	{"reading source material", 15},
	{"drafting cards", 45},
	{"refining wording", 75},
	{"finalizing deck", 95},
}

var testStages = []generationStage{
	{"reading source material", 15},
	{"drafting questions", 40},
	{"writing distractors", 70},
	{"assembling test", 95},
}

// GenerateHandler runs flashcard and test generation jobs, reporting
// increasing progress per stage. The percentages are a worker-side estimate
// of real stage boundaries, not fabricated client-side ticks.
type GenerateHandler struct {
	// stepDelay simulates model latency per stage; tests shrink it.
	stepDelay time.Duration
}

// NewGenerateHandler builds a handler with production pacing.
func NewGenerateHandler() *GenerateHandler {
	return &GenerateHandler{stepDelay: 2 * time.Second}
}

// HandleFlashcards produces a deck and returns its id in the payload.
func (h *GenerateHandler) HandleFlashcards(ctx context.Context, job models.Job, rep *Reporter) (map[string]any, error) {
	if err := h.runStages(ctx, job, rep, deckStages); err != nil {
		return nil, err
	}
	return map[string]any{"deck_id": uuid.New().String()}, nil
}

// HandleTest produces a generated test and returns its id in the payload.
func (h *GenerateHandler) HandleTest(ctx context.Context, job models.Job, rep *Reporter) (map[string]any, error) {
	if err := h.runStages(ctx, job, rep, testStages); err != nil {
		return nil, err
	}
	return map[string]any{"test_id": uuid.New().String()}, nil
}

func (h *GenerateHandler) runStages(ctx context.Context, job models.Job, rep *Reporter, stages []generationStage) error {
	if _, ok := job.Payload["document_id"].(string); !ok {
		return errors.New("document_id is required")
	}
	// Payload escape hatch for exercising the failure path end to end.
	if fail, ok := job.Payload["should_fail"].(bool); ok && fail {
		return errors.New("simulated generation failure requested by payload.should_fail")
	}

	for _, stage := range stages {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.stepDelay):
		}
		log.Printf("job %s: %s (%d%%)", job.ID, stage.name, stage.percent)
		rep.Progress(ctx, stage.percent)
	}
	return nil
}

// ChatHandler streams a chat turn as ordered content fragments.
type ChatHandler struct {
	stepDelay time.Duration
	// reply produces the full response for a prompt; swapped in tests.
	reply func(prompt string) string
}

// NewChatHandler builds a handler with production pacing.
func NewChatHandler() *ChatHandler {
	return &ChatHandler{
		stepDelay: 150 * time.Millisecond,
		reply:     cannedReply,
	}
}

// Handle streams the reply word by word, then hands back the turn id.
func (h *ChatHandler) Handle(ctx context.Context, job models.Job, rep *Reporter) (map[string]any, error) {
	prompt, ok := job.Payload["prompt"].(string)
	if !ok || strings.TrimSpace(prompt) == "" {
		return nil, errors.New("prompt is required")
	}

	words := strings.Fields(h.reply(prompt))
	for i, w := range words {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(h.stepDelay):
		}
		fragment := w
		if i < len(words)-1 {
			fragment += " "
		}
		rep.Content(ctx, fragment)
	}
	return map[string]any{"turn_id": uuid.New().String()}, nil
}

func cannedReply(prompt string) string {
	return fmt.Sprintf("Here is a short explanation for %q. Review the related cards to reinforce it.", prompt)
}
