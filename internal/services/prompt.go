package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/emofelix-web/internal/models"
)

// ConversationContext is what the system message is built from. It is rebuilt for every
// request so a changed nickname or topic is never served from an older prompt.
type ConversationContext struct {
	RelationType      string
	Topic             string
	Nickname          string
	Mood              string
	AdditionalDetails string
}

// NicknameLookup fetches how a character addresses the user.
type NicknameLookup interface {
	Nickname(ctx context.Context, characterID int64) (string, error)
}

// GreetingInstruction asks the model to open the conversation.
const GreetingInstruction = "Start the conversation with a warm, supportive greeting tailored to the provided " +
	"context and ask a gentle opening question."

// BuildContext returns the system message followed by history and, when non-empty, the
// current message as the final user turn.
func BuildContext(relationType, topic, nickname string, history []models.Turn, currentMessage string) []models.Turn {
	cc := ConversationContext{
		RelationType: relationType,
		Topic:        topic,
		Nickname:     nickname,
	}
	return cc.Messages(history, currentMessage)
}

// SystemPrompt renders the persona instructions.
func (c ConversationContext) SystemPrompt() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are role-playing as the user's %s.", c.RelationType)
	if c.Nickname != "" {
		fmt.Fprintf(&sb, " Call them %s.", c.Nickname)
	}
	sb.WriteString(" Speak lovingly and supportively, matching the emotional tone requested.")
	if c.Mood != "" {
		fmt.Fprintf(&sb, " User mood: %s.", c.Mood)
	}
	fmt.Fprintf(&sb, " Topic: %s.", c.Topic)
	if c.Nickname != "" {
		fmt.Fprintf(&sb, " Nickname of user: %s.", c.Nickname)
	}
	if c.AdditionalDetails != "" {
		fmt.Fprintf(&sb, " Additional context: %s.", c.AdditionalDetails)
	}
	if c.Nickname != "" {
		sb.WriteString(" Do NOT break character; refer to the user by their nickname naturally.")
	} else {
		sb.WriteString(" Do NOT break character; address the user warmly and naturally.")
	}
	sb.WriteString(" Talk naturally like a human. Don't get too formal or use long sentences like AI chatbots." +
		" Don't be poetic or flowery. Keep it short and simple." +
		" Don't be extra energized or excited, just be normal and calm. Don't beat about the bush.")

	return sb.String()
}

// Messages builds the ordered turn list for this context.
func (c ConversationContext) Messages(history []models.Turn, currentMessage string) []models.Turn {
	msgs := make([]models.Turn, 0, len(history)+2)
	msgs = append(msgs, models.Turn{Role: models.RoleSystem, Content: c.SystemPrompt()})

	for _, turn := range history {
		if turn.Content == "" {
			continue
		}
		role := models.RoleUser
		if turn.Role == models.RoleAssistant {
			role = models.RoleAssistant
		}
		msgs = append(msgs, models.Turn{Role: role, Content: turn.Content})
	}

	if strings.TrimSpace(currentMessage) != "" {
		msgs = append(msgs, models.Turn{Role: models.RoleUser, Content: currentMessage})
	}

	return msgs
}

// ResolveNickname returns nickname when set. Otherwise it asks lookup for the character's
// nickname, degrading to an empty nickname on any failure so the conversation can go on.
func ResolveNickname(
	ctx context.Context,
	lookup NicknameLookup,
	nickname string,
	characterID int64,
	logger *slog.Logger,
) string {
	if nickname != "" || characterID == 0 || lookup == nil {
		return nickname
	}

	n, err := lookup.Nickname(ctx, characterID)
	if err != nil {
		logger.Warn("Nickname lookup failed, continuing without nickname",
			slog.Int64("characterID", characterID),
			slog.String(errLoggerKey, err.Error()))
		return ""
	}
	return n
}

// BuildContextFor is BuildContext for a character whose nickname may still need a lookup.
func BuildContextFor(
	ctx context.Context,
	lookup NicknameLookup,
	characterID int64,
	cc ConversationContext,
	history []models.Turn,
	currentMessage string,
	logger *slog.Logger,
) []models.Turn {
	cc.Nickname = ResolveNickname(ctx, lookup, cc.Nickname, characterID, logger)
	return cc.Messages(history, currentMessage)
}
