package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Well-known keys shared by the MFA gates and the challenge handlers.
const (
	KeyIntendedURL    = "url.intended"
	KeyChallenge      = "mfa.challenge"
	KeyIntendedAction = "mfa.intended_action"
	KeyPendingPurpose = "mfa.pending_purpose"
)

// Session is a handle on one visitor's server-side state. It is passed
// explicitly to everything that reads or writes session data.
type Session struct {
	ID    string
	store Store
}

// New binds a session id to a store.
func New(id string, store Store) *Session {
	return &Session{ID: id, store: store}
}

// Get returns the value for key and whether it was present.
func (s *Session) Get(ctx context.Context, key string) (string, bool, error) {
	return s.store.Get(ctx, s.ID, key)
}

func (s *Session) Put(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, s.ID, key, value)
}

func (s *Session) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.store.Get(ctx, s.ID, key)
	return ok, err
}

func (s *Session) Forget(ctx context.Context, keys ...string) error {
	return s.store.Delete(ctx, s.ID, keys...)
}

// Pull returns the value for key and removes it.
func (s *Session) Pull(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := s.store.Get(ctx, s.ID, key)
	if err != nil || !ok {
		return value, ok, err
	}
	if err := s.store.Delete(ctx, s.ID, key); err != nil {
		return "", false, err
	}
	return value, true, nil
}

// KeysWithPrefix lists the keys currently set that start with prefix.
func (s *Session) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.store.Keys(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	matched := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}
	return matched, nil
}

// PutJSON stores v encoded as JSON.
func (s *Session) PutJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode session value %s: %w", key, err)
	}
	return s.Put(ctx, key, string(raw))
}

// GetJSON decodes the JSON value under key into v. Reports false when absent.
func (s *Session) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode session value %s: %w", key, err)
	}
	return true, nil
}

// Destroy drops every value held by the session.
func (s *Session) Destroy(ctx context.Context) error {
	return s.store.Destroy(ctx, s.ID)
}

type contextKey string

const sessionContextKey contextKey = "session"

// WithSession returns a copy of ctx carrying sess.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// FromContext extracts the session placed by Manager.Middleware, or nil.
func FromContext(ctx context.Context) *Session {
	sess, ok := ctx.Value(sessionContextKey).(*Session)
	if !ok {
		return nil
	}
	return sess
}
