package authstate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// StorageKey is the fixed namespace key for persisted auth state.
const StorageKey = "auth-storage"

// ValidationTimeout bounds how long a session validation may wait before the
// session is treated as logged out. Hanging indefinitely is never an option.
const ValidationTimeout = 15 * time.Second

// KV is the durable key-value storage the auth store sits on.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// State is the persisted auth session: a bearer token and an opaque user
// object, both optional.
type State struct {
	Token string         `json:"token,omitempty"`
	User  map[string]any `json:"user,omitempty"`
}

// Store persists auth state in the local store under StorageKey.
type Store struct {
	kv KV
}

// NewStore builds an auth store over kv.
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// Load reads and validates persisted auth state. The serialized form must be
// a JSON object with a nested state object whose token is a string and whose
// user is an object, when present. Any structural failure wipes the whole
// namespace: a corrupt store reads as no store, never as partial state.
func (s *Store) Load() (State, bool, error) {
	raw, ok, err := s.kv.Get(StorageKey)
	if err != nil {
		return State{}, false, err
	}
	if !ok {
		return State{}, false, nil
	}

	st, valid := decode(raw)
	if !valid {
		log.Printf("auth store corrupt, clearing %s", StorageKey)
		if err := s.kv.Remove(StorageKey); err != nil {
			return State{}, false, err
		}
		return State{}, false, nil
	}
	return st, true, nil
}

// Save persists the auth state, replacing whatever was stored.
func (s *Store) Save(st State) error {
	state, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal auth state: %w", err)
	}
	raw, err := json.Marshal(map[string]any{"state": json.RawMessage(state), "version": 1})
	if err != nil {
		return fmt.Errorf("marshal auth envelope: %w", err)
	}
	return s.kv.Set(StorageKey, string(raw))
}

// Clear removes the persisted session. Used on logout.
func (s *Store) Clear() error {
	return s.kv.Remove(StorageKey)
}

// Validator checks a persisted token against the backend.
type Validator func(ctx context.Context, token string) (bool, error)

// ValidateSession loads the persisted session and confirms it with v under a
// hard timeout. A timeout, validation error, or rejection all resolve to
// logged out, clearing the persisted session.
func (s *Store) ValidateSession(ctx context.Context, v Validator) (State, bool) {
	st, ok, err := s.Load()
	if err != nil || !ok || st.Token == "" {
		return State{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, ValidationTimeout)
	defer cancel()
	valid, err := v(ctx, st.Token)
	if err != nil || !valid {
		if err != nil {
			log.Printf("session validation failed, treating as logged out: %v", err)
		}
		_ = s.Clear()
		return State{}, false
	}
	return st, true
}

// decode enforces the typed structural checks on the serialized form.
func decode(raw string) (State, bool) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &outer); err != nil {
		return State{}, false
	}
	stateRaw, ok := outer["state"]
	if !ok {
		return State{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(stateRaw, &fields); err != nil {
		return State{}, false
	}

	var st State
	if tok, ok := fields["token"]; ok && string(tok) != "null" {
		if err := json.Unmarshal(tok, &st.Token); err != nil {
			return State{}, false
		}
	}
	if user, ok := fields["user"]; ok && string(user) != "null" {
		if err := json.Unmarshal(user, &st.User); err != nil {
			return State{}, false
		}
	}
	return st, true
}
