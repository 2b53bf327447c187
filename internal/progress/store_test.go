package progress

import (
	"path/filepath"
	"testing"
	"time"

	"studyflow/internal/localstore"
	"studyflow/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	kv, err := localstore.Open(filepath.Join(t.TempDir(), "studyflow.db"))
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return NewStore(kv)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	st := newTestStore(t)
	t0 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	answers := []models.Answer{
		{ItemIndex: 0, Value: "a", AnsweredAt: t0},
		{ItemIndex: 1, Value: []any{"b", "c"}, AnsweredAt: t0.Add(time.Minute)},
		{ItemIndex: 2, Value: true, Feedback: map[string]any{"correct": true}, AnsweredAt: t0.Add(2 * time.Minute)},
	}

	if err := st.SaveProgress("inst-1", 3, answers); err != nil {
		t.Fatalf("save: %v", err)
	}
	cp, ok, err := st.LoadProgress("inst-1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if cp.CurrentItemIndex != 3 {
		t.Fatalf("expected index 3, got %d", cp.CurrentItemIndex)
	}
	if len(cp.Answers) != 3 {
		t.Fatalf("expected 3 answers, got %d", len(cp.Answers))
	}
	if cp.Answers[0].Value != "a" {
		t.Fatalf("answer 0 value lost: %v", cp.Answers[0].Value)
	}
	if vals, ok := cp.Answers[1].Value.([]any); !ok || len(vals) != 2 || vals[0] != "b" {
		t.Fatalf("answer 1 value lost: %v", cp.Answers[1].Value)
	}
	if cp.Answers[2].Value != true {
		t.Fatalf("answer 2 value lost: %v", cp.Answers[2].Value)
	}
}

func TestSaveOverwritesWholesale(t *testing.T) {
	st := newTestStore(t)
	if err := st.SaveProgress("inst-1", 2, []models.Answer{{ItemIndex: 0, Value: "a"}, {ItemIndex: 1, Value: "b"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Second save carries the full current answer set; it is not merged.
	if err := st.SaveProgress("inst-1", 1, []models.Answer{{ItemIndex: 0, Value: "z"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	cp, ok, _ := st.LoadProgress("inst-1")
	if !ok || len(cp.Answers) != 1 || cp.Answers[0].Value != "z" {
		t.Fatalf("expected wholesale overwrite, got %+v", cp)
	}
}

func TestExpiryOnLoad(t *testing.T) {
	st := newTestStore(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return base }
	if err := st.SaveProgress("inst-1", 2, []models.Answer{{ItemIndex: 0, Value: "a", AnsweredAt: base}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	// 6 days later the checkpoint still loads.
	st.now = func() time.Time { return base.Add(6 * 24 * time.Hour) }
	if _, ok, err := st.LoadProgress("inst-1"); err != nil || !ok {
		t.Fatalf("expected checkpoint at 6 days, ok=%v err=%v", ok, err)
	}

	// 8 days later it is absent and deleted as a side effect.
	st.now = func() time.Time { return base.Add(8 * 24 * time.Hour) }
	if _, ok, err := st.LoadProgress("inst-1"); err != nil || ok {
		t.Fatalf("expected expired checkpoint to be absent, ok=%v err=%v", ok, err)
	}
	// Even with the clock rolled back, the entry is gone.
	st.now = func() time.Time { return base }
	if _, ok, _ := st.LoadProgress("inst-1"); ok {
		t.Fatal("expired checkpoint was not deleted")
	}
}

func TestCleanupOldProgress(t *testing.T) {
	st := newTestStore(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	st.now = func() time.Time { return base.Add(-8 * 24 * time.Hour) }
	if err := st.SaveProgress("stale", 0, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	st.now = func() time.Time { return base }
	if err := st.SaveProgress("fresh", 0, nil); err != nil {
		t.Fatalf("save: %v", err)
	}

	n, err := st.CleanupOldProgress()
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 removal, got %d", n)
	}
	if _, ok, _ := st.LoadProgress("stale"); ok {
		t.Fatal("stale checkpoint survived cleanup")
	}
	if _, ok, _ := st.LoadProgress("fresh"); !ok {
		t.Fatal("fresh checkpoint removed by cleanup")
	}
}

func TestClearProgressAndClearAll(t *testing.T) {
	st := newTestStore(t)
	_ = st.SaveProgress("a", 0, nil)
	_ = st.SaveProgress("b", 0, nil)

	if err := st.ClearProgress("a"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := st.LoadProgress("a"); ok {
		t.Fatal("cleared checkpoint still present")
	}
	if _, ok, _ := st.LoadProgress("b"); !ok {
		t.Fatal("unrelated checkpoint removed")
	}

	if err := st.ClearAllProgress(); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if _, ok, _ := st.LoadProgress("b"); ok {
		t.Fatal("checkpoint survived clear all")
	}
}

func TestCorruptNamespaceIsWipedWholesale(t *testing.T) {
	kv, err := localstore.Open(filepath.Join(t.TempDir(), "studyflow.db"))
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	defer kv.Close()
	if err := kv.Set(StorageKey, "{not json"); err != nil {
		t.Fatalf("seed corrupt value: %v", err)
	}

	st := NewStore(kv)
	if _, ok, err := st.LoadProgress("inst-1"); err != nil || ok {
		t.Fatalf("corrupt store must read as empty, ok=%v err=%v", ok, err)
	}
	if _, present, _ := kv.Get(StorageKey); present {
		t.Fatal("corrupt namespace was not removed")
	}

	// Missing nested state object counts as corrupt too.
	if err := kv.Set(StorageKey, `{"version":1}`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok, _ := st.LoadProgress("inst-1"); ok {
		t.Fatal("document without state object must read as empty")
	}
	if _, present, _ := kv.Get(StorageKey); present {
		t.Fatal("structurally invalid namespace was not removed")
	}
}
