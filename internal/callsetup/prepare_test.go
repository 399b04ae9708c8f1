package callsetup_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MegaGrindStone/emofelix-web/internal/callsetup"
	"github.com/MegaGrindStone/emofelix-web/internal/handoff"
	"github.com/MegaGrindStone/emofelix-web/internal/models"
	"github.com/MegaGrindStone/emofelix-web/internal/services"
)

type mockCompleter struct {
	reply    string
	err      error
	messages []models.Turn
}

type mockLookup struct {
	relation    models.Relation
	relationErr error
	nickname    string
	nicknameErr error
}

func (m *mockCompleter) Complete(_ context.Context, messages []models.Turn) (string, error) {
	m.messages = messages
	return m.reply, m.err
}

func (m mockLookup) Relation(_ context.Context, id int64) (models.Relation, error) {
	if m.relationErr != nil {
		return models.Relation{}, m.relationErr
	}
	rel := m.relation
	rel.ID = id
	return rel, nil
}

func (m mockLookup) Nickname(context.Context, int64) (string, error) {
	return m.nickname, m.nicknameErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore() handoff.Store {
	return handoff.NewStore(handoff.NewMemory(time.Hour), "tab-1", 3)
}

func TestPrepareGreeting(t *testing.T) {
	completer := &mockCompleter{reply: "Hi sweetie, how was your day?"}
	lookup := mockLookup{relation: models.Relation{Name: "Mom", RelationType: "Mother"}, nickname: "Sweetie"}
	store := newStore()
	prefs := callsetup.Defaults()
	prefs.Topic = "Daily Check-in"
	prefs.AdditionalDetails = "long day"

	res, err := callsetup.NewPreparer(completer, discardLogger()).
		Prepare(context.Background(), store, lookup, 3, prefs)
	if err != nil {
		t.Fatal(err)
	}

	if res.Route != "/chat/3?callType=chat&directMessage=false" {
		t.Errorf("Route = %q", res.Route)
	}

	if len(completer.messages) != 2 {
		t.Fatalf("completion messages = %+v", completer.messages)
	}
	sys := completer.messages[0].Content
	for _, want := range []string{"Mother", "Sweetie", "Daily Check-in", "long day"} {
		if !strings.Contains(sys, want) {
			t.Errorf("system message %q does not contain %q", sys, want)
		}
	}
	if completer.messages[1].Content != services.GreetingInstruction {
		t.Errorf("current message = %q", completer.messages[1].Content)
	}

	h, err := store.Receive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h.Preferences == nil || *h.Preferences != prefs {
		t.Errorf("preferences = %+v, want %+v", h.Preferences, prefs)
	}
	if h.Greeting != "Hi sweetie, how was your day?" || h.DirectResponse != "" {
		t.Errorf("handoff = %+v", h)
	}
}

func TestPrepareDirectMessage(t *testing.T) {
	completer := &mockCompleter{reply: "Oh no, what happened?"}
	lookup := mockLookup{relation: models.Relation{RelationType: "Father"}, nicknameErr: services.ErrNotFound}
	store := newStore()
	prefs := callsetup.Defaults()
	prefs.AdditionalDetails = "I lost my job"
	prefs.SendAsFirstMessage = true

	res, err := callsetup.NewPreparer(completer, discardLogger()).
		Prepare(context.Background(), store, lookup, 5, prefs)
	if err != nil {
		t.Fatal(err)
	}

	if res.Route != "/chat/5?callType=chat&directMessage=true" {
		t.Errorf("Route = %q", res.Route)
	}
	last := completer.messages[len(completer.messages)-1]
	if last != (models.Turn{Role: models.RoleUser, Content: "I lost my job"}) {
		t.Errorf("current message = %+v", last)
	}
	if strings.Contains(completer.messages[0].Content, "Call them") {
		t.Errorf("failed nickname lookup should leave the nickname empty: %q", completer.messages[0].Content)
	}

	h, err := store.Receive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h.DirectResponse != "Oh no, what happened?" || h.Greeting != "" {
		t.Errorf("handoff = %+v", h)
	}
}

func TestPrepareCompletionFailure(t *testing.T) {
	completer := &mockCompleter{err: &services.ServerError{StatusCode: 500, Message: "boom"}}
	store := newStore()

	res, err := callsetup.NewPreparer(completer, discardLogger()).
		Prepare(context.Background(), store, mockLookup{}, 1, callsetup.Defaults())
	if err != nil {
		t.Fatalf("Prepare() error = %v, want nil", err)
	}
	if res.Route == "" {
		t.Error("Route is empty")
	}

	h, err := store.Receive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h.Preferences == nil {
		t.Error("preferences should still be handed off")
	}
	if h.Greeting != "" {
		t.Errorf("Greeting = %q, want empty", h.Greeting)
	}
}

func TestPrepareFailureDropsEarlierGreeting(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	lookup := mockLookup{relation: models.Relation{Name: "Mom", RelationType: "Mother"}}

	joyful := callsetup.Defaults()
	joyful.Mood = models.MoodHappy
	completer := &mockCompleter{reply: "So glad you're joyful!"}
	if _, err := callsetup.NewPreparer(completer, discardLogger()).Prepare(ctx, store, lookup, 3, joyful); err != nil {
		t.Fatal(err)
	}

	sad := callsetup.Defaults()
	sad.Mood = models.MoodSad
	completer = &mockCompleter{err: &services.ConnectivityError{Err: errors.New("connection refused")}}
	if _, err := callsetup.NewPreparer(completer, discardLogger()).Prepare(ctx, store, lookup, 3, sad); err != nil {
		t.Fatal(err)
	}

	h, err := store.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if h.Preferences == nil || h.Preferences.Mood != models.MoodSad {
		t.Errorf("Preferences = %+v, want the second setup", h.Preferences)
	}
	if h.Greeting != "" {
		t.Errorf("Greeting = %q, want empty", h.Greeting)
	}
}

func TestPrepareErrors(t *testing.T) {
	invalid := callsetup.Defaults()
	invalid.Topic = "Astrology"
	voice := callsetup.Defaults()
	voice.CallType = models.CallTypeVoice

	tests := []struct {
		name          string
		prefs         models.CallPreferences
		lookup        mockLookup
		wantErr       error
		wantPrefsSent bool
	}{
		{
			name:    "invalid preferences",
			prefs:   invalid,
			wantErr: callsetup.ErrInvalidPreferences,
		},
		{
			name:    "unknown relation",
			prefs:   callsetup.Defaults(),
			lookup:  mockLookup{relationErr: services.ErrNotFound},
			wantErr: callsetup.ErrRelationUnavailable,
		},
		{
			name:          "voice call",
			prefs:         voice,
			wantErr:       callsetup.ErrCallTypeLocked,
			wantPrefsSent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &mockCompleter{reply: "unused"}
			store := newStore()

			_, err := callsetup.NewPreparer(completer, discardLogger()).
				Prepare(context.Background(), store, tt.lookup, 1, tt.prefs)
			if err == nil {
				t.Fatal("Prepare() error = nil")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Prepare() error = %v, want %v", err, tt.wantErr)
			}
			if completer.messages != nil {
				t.Error("no completion should be requested")
			}

			h, err := store.Receive(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if (h.Preferences != nil) != tt.wantPrefsSent {
				t.Errorf("preferences handed off = %v, want %v", h.Preferences != nil, tt.wantPrefsSent)
			}
		})
	}
}

func TestFromValues(t *testing.T) {
	tests := []struct {
		name    string
		values  url.Values
		want    models.CallPreferences
		wantErr bool
	}{
		{
			name:   "defaults",
			values: url.Values{},
			want:   callsetup.Defaults(),
		},
		{
			name: "full form",
			values: url.Values{
				"mood":               {"4"},
				"language":           {"Spanish"},
				"topic":              {"Dreams & Goals"},
				"call_type":          {"Chat"},
				"additional_details": {"  I got the scholarship  "},
			},
			want: models.CallPreferences{
				Mood:               models.MoodJoyful,
				Language:           "Spanish",
				Topic:              "Dreams & Goals",
				CallType:           models.CallTypeChat,
				AdditionalDetails:  "I got the scholarship",
				SendAsFirstMessage: true,
			},
		},
		{name: "mood not a number", values: url.Values{"mood": {"happy"}}, wantErr: true},
		{name: "mood out of range", values: url.Values{"mood": {"9"}}, wantErr: true},
		{name: "unknown call type", values: url.Values{"call_type": {"hologram"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := callsetup.FromValues(tt.values)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FromValues() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, callsetup.ErrInvalidPreferences) {
				t.Errorf("FromValues() error = %v, want ErrInvalidPreferences", err)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("FromValues() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
