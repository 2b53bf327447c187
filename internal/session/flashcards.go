package session

// Card is one flashcard in a practice run.
type Card struct {
	ID    string
	Front string
	Back  string
}

// FlashcardSession is an in-memory practice run. Unlike a test attempt it is
// never persisted: a reload starts practice over.
type FlashcardSession struct {
	cards     []Card
	current   int
	completed int
	active    bool
	done      map[int]bool
}

// NewFlashcardSession starts practice over the given cards.
func NewFlashcardSession(cards []Card) *FlashcardSession {
	return &FlashcardSession{
		cards:  cards,
		active: len(cards) > 0,
		done:   make(map[int]bool),
	}
}

// Current returns the card being shown.
func (f *FlashcardSession) Current() (Card, bool) {
	if !f.active || f.current >= len(f.cards) {
		return Card{}, false
	}
	return f.cards[f.current], true
}

// Advance moves to the next card, wrapping past the end so unfinished cards
// come around again.
func (f *FlashcardSession) Advance() {
	if !f.active || len(f.cards) == 0 {
		return
	}
	f.current = (f.current + 1) % len(f.cards)
}

// MarkCompleted records the shown card as learned and advances. Completing
// the same card twice does not inflate the count.
func (f *FlashcardSession) MarkCompleted() {
	if !f.active || f.current >= len(f.cards) {
		return
	}
	if !f.done[f.current] {
		f.done[f.current] = true
		f.completed++
	}
	f.Advance()
}

// CompletedCount reports how many distinct cards are learned.
func (f *FlashcardSession) CompletedCount() int { return f.completed }

// IsActive reports whether a practice run is in progress.
func (f *FlashcardSession) IsActive() bool { return f.active }

// IsComplete is true iff every card is learned and the deck is non-empty.
func (f *FlashcardSession) IsComplete() bool {
	return len(f.cards) > 0 && f.completed == len(f.cards)
}

// Reset discards the run entirely.
func (f *FlashcardSession) Reset() {
	f.cards = nil
	f.current = 0
	f.completed = 0
	f.active = false
	f.done = make(map[int]bool)
}
