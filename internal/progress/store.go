package progress

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"studyflow/internal/models"
	"studyflow/internal/telemetry"
)

// StorageKey is the fixed namespace key for session checkpoints in the
// local store.
const StorageKey = "test-progress-storage"

// Retention is how long a checkpoint stays loadable. Older checkpoints are
// treated as absent and purged as a side effect of reading them.
const Retention = 7 * 24 * time.Hour

// KV is the durable key-value storage the progress store sits on.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// envelope is the serialized form of the whole namespace: one JSON document
// with a nested state object. A document that fails this structural shape is
// treated as corrupt and the namespace is wiped, never partially repaired.
type envelope struct {
	State   json.RawMessage `json:"state"`
	Version int             `json:"version"`
}

type stateDoc struct {
	Progress map[string]models.Checkpoint `json:"progress"`
}

// Store persists resumable test-session checkpoints, keyed by instance id.
// Writes are last-write-wins per instance; the store assumes a single local
// writer and does not arbitrate between independent processes sharing the
// same file.
type Store struct {
	kv  KV
	now func() time.Time
}

// NewStore builds a progress store over kv.
func NewStore(kv KV) *Store {
	return &Store{kv: kv, now: time.Now}
}

// SaveProgress upserts the checkpoint for instanceID, replacing the prior
// answer set wholesale and stamping lastUpdated with the current time.
func (s *Store) SaveProgress(instanceID string, currentItemIndex int, answers []models.Answer) error {
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Progress[instanceID] = models.Checkpoint{
		InstanceID:       instanceID,
		CurrentItemIndex: currentItemIndex,
		Answers:          answers,
		LastUpdated:      s.now(),
	}
	if err := s.save(doc); err != nil {
		return err
	}
	telemetry.CheckpointsSaved.Inc()
	return nil
}

// LoadProgress returns the checkpoint for instanceID. A checkpoint older
// than the retention window is deleted as a side effect and reported absent.
func (s *Store) LoadProgress(instanceID string) (models.Checkpoint, bool, error) {
	doc, err := s.load()
	if err != nil {
		return models.Checkpoint{}, false, err
	}
	cp, ok := doc.Progress[instanceID]
	if !ok {
		return models.Checkpoint{}, false, nil
	}
	if s.now().Sub(cp.LastUpdated) > Retention {
		delete(doc.Progress, instanceID)
		if err := s.save(doc); err != nil {
			return models.Checkpoint{}, false, err
		}
		telemetry.CheckpointsExpired.Inc()
		return models.Checkpoint{}, false, nil
	}
	return cp, true, nil
}

// ClearProgress deletes the checkpoint for instanceID unconditionally.
func (s *Store) ClearProgress(instanceID string) error {
	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Progress[instanceID]; !ok {
		return nil
	}
	delete(doc.Progress, instanceID)
	return s.save(doc)
}

// ClearAllProgress deletes every checkpoint. Explicit user action only.
func (s *Store) ClearAllProgress() error {
	return s.kv.Remove(StorageKey)
}

// CleanupOldProgress sweeps every checkpoint past the retention window.
// It runs once at process start and on the sweeper schedule; expiry is also
// enforced lazily on every load.
func (s *Store) CleanupOldProgress() (int, error) {
	doc, err := s.load()
	if err != nil {
		return 0, err
	}
	removed := 0
	cutoff := s.now().Add(-Retention)
	for id, cp := range doc.Progress {
		if cp.LastUpdated.Before(cutoff) {
			delete(doc.Progress, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.save(doc); err != nil {
		return 0, err
	}
	telemetry.CheckpointsExpired.Add(float64(removed))
	return removed, nil
}

// StartSweeper schedules CleanupOldProgress on a fixed interval. The caller
// owns stopping the returned scheduler.
func (s *Store) StartSweeper(every time.Duration) *gocron.Scheduler {
	sched := gocron.NewScheduler(time.UTC)
	_, _ = sched.Every(every).Do(func() {
		if n, err := s.CleanupOldProgress(); err != nil {
			log.Printf("progress sweep failed: %v", err)
		} else if n > 0 {
			log.Printf("progress sweep removed %d expired checkpoints", n)
		}
	})
	sched.StartAsync()
	return sched
}

// load reads and validates the namespace document. A document failing the
// structural check is wiped wholesale: a corrupt store is equivalent to no
// store, never a source of partial state.
func (s *Store) load() (stateDoc, error) {
	empty := stateDoc{Progress: make(map[string]models.Checkpoint)}
	raw, ok, err := s.kv.Get(StorageKey)
	if err != nil {
		return empty, err
	}
	if !ok {
		return empty, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || len(env.State) == 0 {
		log.Printf("progress store corrupt, clearing %s: %v", StorageKey, err)
		if rmErr := s.kv.Remove(StorageKey); rmErr != nil {
			return empty, rmErr
		}
		return empty, nil
	}
	var doc stateDoc
	if err := json.Unmarshal(env.State, &doc); err != nil {
		log.Printf("progress store corrupt, clearing %s: %v", StorageKey, err)
		if rmErr := s.kv.Remove(StorageKey); rmErr != nil {
			return empty, rmErr
		}
		return empty, nil
	}
	if doc.Progress == nil {
		doc.Progress = make(map[string]models.Checkpoint)
	}
	return doc, nil
}

func (s *Store) save(doc stateDoc) error {
	state, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal progress state: %w", err)
	}
	raw, err := json.Marshal(envelope{State: state, Version: 1})
	if err != nil {
		return fmt.Errorf("marshal progress envelope: %w", err)
	}
	return s.kv.Set(StorageKey, string(raw))
}
