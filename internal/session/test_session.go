package session

import (
	"fmt"
	"log"
	"math"
	"time"

	"studyflow/internal/models"
)

// Checkpointer is the slice of the progress store the controller needs.
type Checkpointer interface {
	SaveProgress(instanceID string, currentItemIndex int, answers []models.Answer) error
	LoadProgress(instanceID string) (models.Checkpoint, bool, error)
	ClearProgress(instanceID string) error
}

// TestSession drives navigation and answer capture for one test attempt.
// There is one logical writer: all mutation goes through this controller,
// which checkpoints into the progress store after each mutating call so a
// checkpoint always reflects the mutation that motivated it.
type TestSession struct {
	instanceID string
	total      int
	current    int
	answers    map[int]models.Answer
	store      Checkpointer
	now        func() time.Time
}

// NewTestSession starts a fresh attempt with totalItems questions.
// store may be nil for a non-persisted attempt.
func NewTestSession(instanceID string, totalItems int, store Checkpointer) *TestSession {
	return &TestSession{
		instanceID: instanceID,
		total:      totalItems,
		answers:    make(map[int]models.Answer),
		store:      store,
		now:        time.Now,
	}
}

// Resume rebuilds a session from a saved checkpoint. With no usable
// checkpoint (absent or expired) it returns a fresh session.
func Resume(instanceID string, totalItems int, store Checkpointer) (*TestSession, error) {
	s := NewTestSession(instanceID, totalItems, store)
	if store == nil {
		return s, nil
	}
	cp, ok, err := store.LoadProgress(instanceID)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", instanceID, err)
	}
	if !ok {
		return s, nil
	}
	if cp.CurrentItemIndex >= 0 && cp.CurrentItemIndex < totalItems {
		s.current = cp.CurrentItemIndex
	}
	for _, a := range cp.Answers {
		if a.ItemIndex >= 0 && a.ItemIndex < totalItems {
			s.answers[a.ItemIndex] = a
		}
	}
	return s, nil
}

// CurrentIndex returns the index of the question being shown.
func (s *TestSession) CurrentIndex() int { return s.current }

// GoToNext advances one question. No-op at the last question.
func (s *TestSession) GoToNext() {
	if s.current+1 >= s.total {
		return
	}
	s.current++
	s.checkpoint()
}

// GoToPrevious steps back one question. No-op at the first question.
func (s *TestSession) GoToPrevious() {
	if s.current == 0 {
		return
	}
	s.current--
	s.checkpoint()
}

// GoToQuestion jumps to question i. No-op when i is out of range.
func (s *TestSession) GoToQuestion(i int) {
	if i < 0 || i >= s.total {
		return
	}
	s.current = i
	s.checkpoint()
}

// SetAnswer upserts the answer for the current question only; it does not
// advance the index. The checkpoint write happens after the mutation.
func (s *TestSession) SetAnswer(value any, feedback any) {
	s.answers[s.current] = models.Answer{
		ItemIndex:  s.current,
		Value:      value,
		Feedback:   feedback,
		AnsweredAt: s.now(),
	}
	s.checkpoint()
}

// Answer returns the recorded answer for question i, if any.
func (s *TestSession) Answer(i int) (models.Answer, bool) {
	a, ok := s.answers[i]
	return a, ok
}

// IsCurrentItemAnswered reports whether the shown question has an answer.
func (s *TestSession) IsCurrentItemAnswered() bool {
	_, ok := s.answers[s.current]
	return ok
}

// AllItemsAnswered reports whether every question has an answer.
func (s *TestSession) AllItemsAnswered() bool {
	if s.total == 0 {
		return false
	}
	return len(s.answers) == s.total
}

// ProgressPercentage is round(answered / total * 100), 0 for an empty test.
func (s *TestSession) ProgressPercentage() int {
	if s.total == 0 {
		return 0
	}
	return int(math.Round(float64(len(s.answers)) / float64(s.total) * 100))
}

// Complete finishes the attempt and deletes its checkpoint.
func (s *TestSession) Complete() error {
	if s.store == nil {
		return nil
	}
	return s.store.ClearProgress(s.instanceID)
}

func (s *TestSession) checkpoint() {
	if s.store == nil {
		return
	}
	// A failed checkpoint degrades resume, not the active session.
	if err := s.store.SaveProgress(s.instanceID, s.current, s.answerList()); err != nil {
		log.Printf("checkpoint %s failed: %v", s.instanceID, err)
	}
}

// answerList flattens the answer map in item order. At most one answer per
// index; the last write for an index wins.
func (s *TestSession) answerList() []models.Answer {
	out := make([]models.Answer, 0, len(s.answers))
	for i := 0; i < s.total; i++ {
		if a, ok := s.answers[i]; ok {
			out = append(out, a)
		}
	}
	return out
}
