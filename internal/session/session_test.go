package session

import (
	"path/filepath"
	"testing"

	"studyflow/internal/localstore"
	"studyflow/internal/progress"
)

func newProgressStore(t *testing.T) *progress.Store {
	t.Helper()
	kv, err := localstore.Open(filepath.Join(t.TempDir(), "studyflow.db"))
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return progress.NewStore(kv)
}

func TestNavigationBoundaries(t *testing.T) {
	s := NewTestSession("inst-1", 3, nil)

	s.GoToPrevious()
	if s.CurrentIndex() != 0 {
		t.Fatalf("goToPrevious at 0 must be a no-op, got %d", s.CurrentIndex())
	}

	s.GoToNext()
	s.GoToNext()
	if s.CurrentIndex() != 2 {
		t.Fatalf("expected index 2, got %d", s.CurrentIndex())
	}
	s.GoToNext()
	if s.CurrentIndex() != 2 {
		t.Fatalf("goToNext at last item must be a no-op, got %d", s.CurrentIndex())
	}

	s.GoToQuestion(1)
	if s.CurrentIndex() != 1 {
		t.Fatalf("expected index 1, got %d", s.CurrentIndex())
	}
	s.GoToQuestion(99)
	s.GoToQuestion(-1)
	if s.CurrentIndex() != 1 {
		t.Fatalf("out-of-range jump must be a no-op, got %d", s.CurrentIndex())
	}
}

func TestSetAnswerUpsertsWithoutAdvancing(t *testing.T) {
	s := NewTestSession("inst-1", 2, nil)

	s.SetAnswer("first", nil)
	if s.CurrentIndex() != 0 {
		t.Fatalf("setAnswer must not advance, got index %d", s.CurrentIndex())
	}
	if !s.IsCurrentItemAnswered() {
		t.Fatal("current item should be answered")
	}

	s.SetAnswer("second", map[string]any{"correct": false})
	a, ok := s.Answer(0)
	if !ok || a.Value != "second" {
		t.Fatalf("expected last write to win, got %+v", a)
	}
}

func TestCompletionAndPercentage(t *testing.T) {
	s := NewTestSession("inst-1", 3, nil)
	if s.ProgressPercentage() != 0 || s.AllItemsAnswered() {
		t.Fatal("fresh session must report no progress")
	}

	s.SetAnswer("a", nil)
	if got := s.ProgressPercentage(); got != 33 {
		t.Fatalf("expected 33%%, got %d", got)
	}
	s.GoToNext()
	s.SetAnswer("b", nil)
	s.GoToNext()
	s.SetAnswer("c", nil)
	if !s.AllItemsAnswered() || s.ProgressPercentage() != 100 {
		t.Fatalf("expected complete, got %d%% all=%v", s.ProgressPercentage(), s.AllItemsAnswered())
	}

	empty := NewTestSession("inst-2", 0, nil)
	if empty.ProgressPercentage() != 0 {
		t.Fatal("empty test must report 0, not divide by zero")
	}
	if empty.AllItemsAnswered() {
		t.Fatal("empty test is never complete")
	}
}

func TestCheckpointReflectsAnswerAndResumeRestores(t *testing.T) {
	store := newProgressStore(t)

	s := NewTestSession("inst-1", 3, store)
	s.SetAnswer("a", nil)
	s.GoToNext()
	s.SetAnswer([]any{"b", "c"}, nil)

	// The checkpoint written after SetAnswer must already contain it.
	cp, ok, err := store.LoadProgress("inst-1")
	if err != nil || !ok {
		t.Fatalf("load checkpoint: ok=%v err=%v", ok, err)
	}
	if cp.CurrentItemIndex != 1 || len(cp.Answers) != 2 {
		t.Fatalf("checkpoint stale: index=%d answers=%d", cp.CurrentItemIndex, len(cp.Answers))
	}

	resumed, err := Resume("inst-1", 3, store)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.CurrentIndex() != 1 {
		t.Fatalf("resume index = %d", resumed.CurrentIndex())
	}
	if a, ok := resumed.Answer(0); !ok || a.Value != "a" {
		t.Fatalf("resume lost answer 0: %+v", a)
	}
	if !resumed.IsCurrentItemAnswered() {
		t.Fatal("resume lost answer 1")
	}
}

func TestCompleteClearsCheckpoint(t *testing.T) {
	store := newProgressStore(t)
	s := NewTestSession("inst-1", 1, store)
	s.SetAnswer(true, nil)
	if err := s.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, ok, _ := store.LoadProgress("inst-1"); ok {
		t.Fatal("checkpoint survived completion")
	}
}

func TestResumeWithoutCheckpointStartsFresh(t *testing.T) {
	store := newProgressStore(t)
	s, err := Resume("never-saved", 5, store)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if s.CurrentIndex() != 0 || s.IsCurrentItemAnswered() {
		t.Fatal("expected a fresh session")
	}
}

func TestFlashcardPractice(t *testing.T) {
	cards := []Card{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	f := NewFlashcardSession(cards)
	if !f.IsActive() || f.IsComplete() {
		t.Fatal("fresh session must be active and incomplete")
	}

	f.MarkCompleted() // card 1
	f.Advance()       // skip card 2
	f.MarkCompleted() // card 3
	if f.CompletedCount() != 2 || f.IsComplete() {
		t.Fatalf("expected 2 completed, got %d complete=%v", f.CompletedCount(), f.IsComplete())
	}

	// Wrapped back around to the skipped card.
	f.Advance() // from card 1 to card 2
	cur, ok := f.Current()
	if !ok || cur.ID != "2" {
		t.Fatalf("expected wrap to card 2, got %+v", cur)
	}
	f.MarkCompleted()
	if !f.IsComplete() {
		t.Fatal("expected session complete")
	}
	// Re-completing a learned card must not inflate the count.
	f.MarkCompleted()
	if f.CompletedCount() != len(cards) {
		t.Fatalf("completed count exceeded total: %d", f.CompletedCount())
	}

	f.Reset()
	if f.IsActive() || f.IsComplete() || f.CompletedCount() != 0 {
		t.Fatal("reset must discard the run")
	}
}

func TestEmptyDeckNeverCompletes(t *testing.T) {
	f := NewFlashcardSession(nil)
	if f.IsActive() || f.IsComplete() {
		t.Fatal("empty deck must be inactive and incomplete")
	}
	f.Advance()
	f.MarkCompleted()
	if f.CompletedCount() != 0 {
		t.Fatal("empty deck accrued completions")
	}
}

var _ Checkpointer = (*progress.Store)(nil)

func TestAnswerListOrder(t *testing.T) {
	store := newProgressStore(t)
	s := NewTestSession("inst-1", 3, store)
	s.GoToQuestion(2)
	s.SetAnswer("late", nil)
	s.GoToQuestion(0)
	s.SetAnswer("early", nil)

	cp, ok, _ := store.LoadProgress("inst-1")
	if !ok || len(cp.Answers) != 2 {
		t.Fatalf("checkpoint missing answers: %+v", cp)
	}
	if cp.Answers[0].ItemIndex != 0 || cp.Answers[1].ItemIndex != 2 {
		t.Fatalf("answers not in item order: %+v", cp.Answers)
	}
}
