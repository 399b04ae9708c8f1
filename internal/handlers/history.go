package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/emofelix-web/internal/models"
	"github.com/MegaGrindStone/emofelix-web/internal/services"
	"github.com/go-chi/chi/v5"
)

type conversationResponse struct {
	models.Conversation
	Messages []message `json:"messages"`
}

// HandleHistory lists the archived conversations of the authenticated user, newest first.
func (m Main) HandleHistory(w http.ResponseWriter, r *http.Request) {
	profile, ok := m.profile(w, r)
	if !ok {
		return
	}

	convs, err := m.archive.Conversations(r.Context(), profile.ID)
	if err != nil {
		m.logger.Error("Failed to get conversations",
			slog.Int64("userID", profile.ID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, internalError, http.StatusInternalServerError)
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}

	writeJSON(w, http.StatusOK, convs, m.logger)
}

// HandleConversation returns one archived conversation with its messages. Conversations of
// other users are reported as not found.
func (m Main) HandleConversation(w http.ResponseWriter, r *http.Request) {
	profile, ok := m.profile(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "conversationID")
	conv, err := m.archive.Conversation(r.Context(), id)
	if errors.Is(err, services.ErrNotFound) || err == nil && conv.UserID != profile.ID {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		m.logger.Error("Failed to get conversation",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, internalError, http.StatusInternalServerError)
		return
	}

	msgs, err := m.archive.Messages(r.Context(), id)
	if err != nil {
		m.logger.Error("Failed to get messages",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, internalError, http.StatusInternalServerError)
		return
	}

	res := conversationResponse{Conversation: conv, Messages: make([]message, len(msgs))}
	for i, msg := range msgs {
		res.Messages[i] = m.render(msg)
	}
	writeJSON(w, http.StatusOK, res, m.logger)
}

func (m Main) profile(w http.ResponseWriter, r *http.Request) (models.Profile, bool) {
	profile, err := m.backend(tokenFrom(r.Context())).Profile(r.Context())
	switch {
	case err == nil:
		return profile, true
	case errors.Is(err, services.ErrUnauthenticated):
		http.Error(w, "Authentication required", http.StatusUnauthorized)
	default:
		m.logger.Error("Failed to get profile", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Failed to get profile", http.StatusBadGateway)
	}
	return models.Profile{}, false
}
