// Package callsetup turns the choices made on the call setup screen into a chat session: the
// preferences and any pre-generated first reply are left in the session handoff, and the chat
// route is returned for the caller to navigate to.
package callsetup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/MegaGrindStone/emofelix-web/internal/handoff"
	"github.com/MegaGrindStone/emofelix-web/internal/models"
	"github.com/MegaGrindStone/emofelix-web/internal/services"
)

// Completer generates a single response for a built context.
type Completer interface {
	Complete(ctx context.Context, messages []models.Turn) (string, error)
}

// Lookup resolves the relation being called and its nickname for the user.
type Lookup interface {
	services.NicknameLookup
	Relation(ctx context.Context, relationID int64) (models.Relation, error)
}

// Preparer runs call setup.
type Preparer struct {
	completer Completer
	logger    *slog.Logger
}

// Result is what the chat screen needs after setup.
type Result struct {
	Relation models.Relation
	Route    string
}

const defaultRelationType = "friend"

var (
	// ErrCallTypeLocked is returned for voice and video calls, which cannot start a session yet.
	ErrCallTypeLocked = errors.New("callsetup: call type is locked")
	// ErrInvalidPreferences wraps every validation failure.
	ErrInvalidPreferences = errors.New("callsetup: invalid call preferences")
	// ErrRelationUnavailable is returned when the relation being called cannot be looked up.
	ErrRelationUnavailable = errors.New("callsetup: relation unavailable")
)

// NewPreparer creates a Preparer that pre-generates greetings and direct replies with completer.
func NewPreparer(completer Completer, logger *slog.Logger) Preparer {
	return Preparer{
		completer: completer,
		logger:    logger.With(slog.String("module", "callsetup")),
	}
}

// Defaults are the preferences the setup screen starts with.
func Defaults() models.CallPreferences {
	return models.CallPreferences{
		Mood:     models.DefaultMood,
		Language: models.DefaultLanguage,
		Topic:    models.DefaultTopic,
		CallType: models.CallTypeChat,
	}
}

// FromValues reads preferences from the setup form. Missing fields keep their defaults; the
// typed-ahead details are sent as the first message whenever they are not blank.
func FromValues(v url.Values) (models.CallPreferences, error) {
	p := Defaults()

	if s := v.Get("mood"); s != "" {
		m, err := strconv.Atoi(s)
		if err != nil {
			return models.CallPreferences{}, fmt.Errorf("%w: mood %q: %w", ErrInvalidPreferences, s, err)
		}
		p.Mood = models.Mood(m)
	}
	if s := v.Get("language"); s != "" {
		p.Language = s
	}
	if s := v.Get("topic"); s != "" {
		p.Topic = s
	}
	if s := v.Get("call_type"); s != "" {
		c, err := models.ParseCallType(s)
		if err != nil {
			return models.CallPreferences{}, fmt.Errorf("%w: %w", ErrInvalidPreferences, err)
		}
		p.CallType = c
	}
	p.AdditionalDetails = strings.TrimSpace(v.Get("additional_details"))
	p.SendAsFirstMessage = p.AdditionalDetails != ""

	if err := p.Validate(); err != nil {
		return models.CallPreferences{}, fmt.Errorf("%w: %w", ErrInvalidPreferences, err)
	}
	return p, nil
}

// Prepare validates prefs, leaves them in store and pre-generates the first assistant message.
// Voice and video preferences are still written before ErrCallTypeLocked is returned, so a
// later chat opened without setup sees them. Responses left by an earlier setup are dropped
// first, so a generation failure leaves no greeting behind; the chat screen then falls back
// on its own.
func (p Preparer) Prepare(
	ctx context.Context,
	store handoff.Store,
	lookup Lookup,
	relationID int64,
	prefs models.CallPreferences,
) (Result, error) {
	if err := prefs.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidPreferences, err)
	}

	rel, err := lookup.Relation(ctx, relationID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: relation %d: %w", ErrRelationUnavailable, relationID, err)
	}

	if err := store.Clear(ctx, handoff.KeyInitialGreeting, handoff.KeyDirectResponse); err != nil {
		return Result{}, err
	}
	if err := store.SendPreferences(ctx, prefs); err != nil {
		return Result{}, err
	}

	if prefs.CallType.Locked() {
		return Result{Relation: rel}, fmt.Errorf("%s call: %w", prefs.CallType, ErrCallTypeLocked)
	}

	relationType := rel.RelationType
	if relationType == "" {
		relationType = defaultRelationType
	}
	cc := services.ConversationContext{
		RelationType: relationType,
		Topic:        prefs.Topic,
		Nickname:     services.ResolveNickname(ctx, lookup, "", rel.ID, p.logger),
		Mood:         prefs.Mood.String(),
	}

	if prefs.SendAsFirstMessage {
		reply, err := p.completer.Complete(ctx, cc.Messages(nil, prefs.AdditionalDetails))
		if err != nil {
			p.logger.Error("Failed to generate direct response",
				slog.Int64("relationID", rel.ID),
				slog.String(errLoggerKey, err.Error()))
		} else if err := store.SendDirectResponse(ctx, reply); err != nil {
			return Result{}, err
		}
	} else {
		cc.AdditionalDetails = prefs.AdditionalDetails
		greeting, err := p.completer.Complete(ctx, cc.Messages(nil, services.GreetingInstruction))
		if err != nil {
			p.logger.Error("Failed to generate greeting",
				slog.Int64("relationID", rel.ID),
				slog.String(errLoggerKey, err.Error()))
		} else if err := store.SendGreeting(ctx, greeting); err != nil {
			return Result{}, err
		}
	}

	return Result{Relation: rel, Route: ChatRoute(rel.ID, prefs.SendAsFirstMessage)}, nil
}

// ChatRoute is the chat screen location for a relation.
func ChatRoute(relationID int64, directMessage bool) string {
	q := url.Values{}
	q.Set("callType", string(models.CallTypeChat))
	q.Set("directMessage", strconv.FormatBool(directMessage))
	return fmt.Sprintf("/chat/%d?%s", relationID, q.Encode())
}

const errLoggerKey = "err"
