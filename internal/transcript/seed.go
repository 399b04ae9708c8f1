package transcript

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/emofelix-web/internal/handoff"
	"github.com/MegaGrindStone/emofelix-web/internal/models"
	"github.com/MegaGrindStone/emofelix-web/internal/services"
)

// DefaultGreeting opens a chat that was started without going through call setup.
const DefaultGreeting = "Hello! I'm so happy to see you today. How are you feeling?"

const errLoggerKey = "err"

var moodGreetings = map[models.Mood]string{
	models.MoodSad:     "Hi, I'm right here with you. It sounds like today has been heavy. Do you want to talk about it?",
	models.MoodNeutral: "Hey, it's good to see you. How has your day been so far?",
	models.MoodOkay:    "Hello! I'm glad you're here. What's on your mind today?",
	models.MoodHappy:   "Hi! You seem to be in a good mood today. What's been going well?",
	models.MoodJoyful:  "Hello! I can feel your good energy from here. Tell me everything!",
}

// MoodGreeting is the greeting used when setup left preferences but no generated greeting.
func MoodGreeting(mood models.Mood) string {
	if g, ok := moodGreetings[mood]; ok {
		return g
	}
	return DefaultGreeting
}

// Seed populates an empty transcript from what call setup left behind. It never makes a
// request: a direct reply to the typed-ahead message was already generated during setup.
// Seeding a transcript twice is a no-op.
func (c *Controller) Seed(h handoff.Handoff) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seeded || c.closed {
		return
	}
	c.seeded = true
	c.prefs = h.Preferences

	if h.Preferences != nil && h.Preferences.SendAsFirstMessage {
		c.append(models.Message{
			ID:        c.newID(),
			Content:   h.Preferences.AdditionalDetails,
			Sender:    models.SenderUser,
			Timestamp: c.now(),
		}, true)

		reply := models.Message{
			ID:        c.newID(),
			Content:   h.DirectResponse,
			Sender:    models.SenderAssistant,
			Timestamp: c.now(),
		}
		if strings.TrimSpace(reply.Content) == "" {
			c.logger.Warn("Direct response missing from handoff")
			reply.Content = Fallback
			reply.IsError = true
		}
		c.append(reply, true)
		return
	}

	greeting := DefaultGreeting
	switch {
	case strings.TrimSpace(h.Greeting) != "":
		greeting = h.Greeting
	case h.Preferences != nil:
		greeting = MoodGreeting(h.Preferences.Mood)
	}
	c.append(models.Message{
		ID:        c.newID(),
		Content:   greeting,
		Sender:    models.SenderAssistant,
		Timestamp: c.now(),
	}, true)
}

// logFailure logs the details the user never sees.
func logFailure(logger *slog.Logger, err error) {
	var (
		se *services.ServerError
		ce *services.ConnectivityError
		me *services.MalformedResponseError
	)
	switch {
	case errors.As(err, &se):
		logger.Error("Chat stream rejected",
			slog.Int("status", se.StatusCode),
			slog.String("message", se.Message))
	case errors.As(err, &ce):
		logger.Error("Chat stream unreachable", slog.String(errLoggerKey, ce.Err.Error()))
	case errors.As(err, &me):
		logger.Error("Chat stream malformed", slog.String(errLoggerKey, me.Error()))
	default:
		logger.Error("Chat stream failed", slog.String(errLoggerKey, err.Error()))
	}
}
