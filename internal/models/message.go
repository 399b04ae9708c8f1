package models

import "time"

// Message is one turn of the visible conversation. Content only changes while the assistant
// message it belongs to is streaming; after the response settles the message is never mutated.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`

	// IsTyping marks the synthetic placeholder shown between a user submit and the first
	// streamed token. At most one exists, and it is always the last message.
	IsTyping bool `json:"isTyping,omitempty"`
	// IsError marks a fallback message that stands in for a failed response.
	IsError bool `json:"isError,omitempty"`
}

// Sender identifies who authored a transcript message.
type Sender string

// Role tags a turn sent to the completion endpoint.
type Role string

// Turn is a role-tagged conversation entry as the completion endpoint expects it.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

const (
	// SenderUser is the person chatting.
	SenderUser Sender = "user"
	// SenderAssistant is the AI companion.
	SenderAssistant Sender = "assistant"

	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// History converts a transcript into completion turns. Typing placeholders, error fallbacks and
// empty messages are not part of the conversation the model should see.
func History(messages []Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, msg := range messages {
		if msg.IsTyping || msg.IsError || msg.Content == "" {
			continue
		}
		role := RoleUser
		if msg.Sender == SenderAssistant {
			role = RoleAssistant
		}
		turns = append(turns, Turn{Role: role, Content: msg.Content})
	}
	return turns
}
