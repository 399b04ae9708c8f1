package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/MegaGrindStone/emofelix-web/internal/models"
)

// Backend holds serialized values by key. Take must be atomic: of two concurrent Takes on the
// same key at most one observes the value.
type Backend interface {
	Put(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	Take(ctx context.Context, key string) (string, error)
}

// Store is a Backend scoped to the chat of one relation in one browser session. Values are JSON
// encoded, so numbers, booleans and nested text survive a write/consume cycle unchanged.
type Store struct {
	backend Backend
	scope   string
}

// Handoff is everything the setup screen leaves for the chat screen.
type Handoff struct {
	// Preferences is nil when the chat screen was opened without going through setup.
	Preferences    *models.CallPreferences
	Greeting       string
	DirectResponse string
}

// Session handoff keys.
const (
	KeyCallPreferences = "callPreferences"
	KeyInitialGreeting = "initialAIGreeting"
	KeyDirectResponse  = "directMessageResponse"
)

// ErrAbsent is returned when a key was never written or has already been consumed.
var ErrAbsent = errors.New("handoff: value absent")

// NewStore scopes backend to the chat of relationID in sessionID. Setup for one relation is
// never seen by the chat of another.
func NewStore(backend Backend, sessionID string, relationID int64) Store {
	return Store{backend: backend, scope: sessionID + ":" + strconv.FormatInt(relationID, 10)}
}

func (s Store) key(key string) string {
	return s.scope + ":" + key
}

// Write serializes value under key, replacing any earlier value.
func (s Store) Write(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.backend.Put(ctx, s.key(key), string(b)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Read decodes the last value written under key into dst without consuming it.
func (s Store) Read(ctx context.Context, key string, dst any) error {
	v, err := s.backend.Get(ctx, s.key(key))
	if err != nil {
		return err
	}
	return decode(key, v, dst)
}

// Consume is Read followed by deletion. Only the first caller receives the value; later calls
// return ErrAbsent.
func (s Store) Consume(ctx context.Context, key string, dst any) error {
	v, err := s.backend.Take(ctx, s.key(key))
	if err != nil {
		return err
	}
	return decode(key, v, dst)
}

// Clear consumes keys and drops their values.
func (s Store) Clear(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := s.backend.Take(ctx, s.key(key)); err != nil && !errors.Is(err, ErrAbsent) {
			return fmt.Errorf("failed to clear %s: %w", key, err)
		}
	}
	return nil
}

func decode(key, v string, dst any) error {
	if err := json.Unmarshal([]byte(v), dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// SendPreferences leaves the call preferences for the chat screen.
func (s Store) SendPreferences(ctx context.Context, p models.CallPreferences) error {
	return s.Write(ctx, KeyCallPreferences, p)
}

// SendGreeting leaves a pre-generated greeting for the chat screen.
func (s Store) SendGreeting(ctx context.Context, greeting string) error {
	return s.Write(ctx, KeyInitialGreeting, greeting)
}

// SendDirectResponse leaves the pre-generated reply to the user's typed-ahead message.
func (s Store) SendDirectResponse(ctx context.Context, response string) error {
	return s.Write(ctx, KeyDirectResponse, response)
}

// Receive consumes all handoff keys. Missing keys leave their fields at the zero value; only
// backend failures are returned.
func (s Store) Receive(ctx context.Context) (Handoff, error) {
	var h Handoff

	var prefs models.CallPreferences
	switch err := s.Consume(ctx, KeyCallPreferences, &prefs); {
	case err == nil:
		h.Preferences = &prefs
	case !errors.Is(err, ErrAbsent):
		return Handoff{}, err
	}

	if err := s.Consume(ctx, KeyInitialGreeting, &h.Greeting); err != nil && !errors.Is(err, ErrAbsent) {
		return Handoff{}, err
	}
	if err := s.Consume(ctx, KeyDirectResponse, &h.DirectResponse); err != nil && !errors.Is(err, ErrAbsent) {
		return Handoff{}, err
	}

	return h, nil
}
