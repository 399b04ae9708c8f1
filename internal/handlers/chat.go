package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/MegaGrindStone/emofelix-web/internal/handoff"
	"github.com/MegaGrindStone/emofelix-web/internal/models"
	"github.com/MegaGrindStone/emofelix-web/internal/services"
	"github.com/MegaGrindStone/emofelix-web/internal/transcript"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

type message struct {
	models.Message
	HTML string `json:"html"`
}

type chatResponse struct {
	ConversationID string          `json:"conversationId"`
	Relation       models.Relation `json:"relation"`
	CallType       models.CallType `json:"callType"`
	DirectMessage  bool            `json:"directMessage"`
	State          string          `json:"state"`
	Messages       []message       `json:"messages"`
}

type update struct {
	Kind    string  `json:"kind"`
	State   string  `json:"state"`
	Final   bool    `json:"final"`
	Message message `json:"message"`
}

var messagesSSEType = sse.Type("message")

var updateKinds = map[transcript.UpdateKind]string{
	transcript.UpdateAdded:   "added",
	transcript.UpdateChanged: "changed",
	transcript.UpdateRemoved: "removed",
}

// HandleMount opens the chat screen of a relation. The first mount in a session consumes what
// call setup left in the handoff and seeds the transcript; later mounts return the transcript
// as it is. A relation that cannot be looked up sends the user back to the relation list.
func (m Main) HandleMount(w http.ResponseWriter, r *http.Request) {
	relationID, err := strconv.ParseInt(chi.URLParam(r, "relationID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid relation id", http.StatusBadRequest)
		return
	}

	sessionID := sessionFrom(r.Context())
	backend := m.backend(tokenFrom(r.Context()))

	cs, err := m.chats.mount(chatKey(sessionID, relationID), func() (*chatSession, error) {
		return m.newChat(r.Context(), backend, sessionID, relationID, r.URL.Query())
	})
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	case errors.Is(err, errRelationUnavailable):
		m.logger.Warn("Relation unavailable, redirecting",
			slog.Int64("relationID", relationID),
			slog.String(errLoggerKey, err.Error()))
		http.Redirect(w, r, lovedOnesPath, http.StatusSeeOther)
		return
	case err != nil:
		m.logger.Error("Failed to mount chat",
			slog.Int64("relationID", relationID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, internalError, http.StatusInternalServerError)
		return
	}

	m.writeChat(w, http.StatusOK, cs)
}

var errRelationUnavailable = errors.New("relation unavailable")

func (m Main) newChat(
	ctx context.Context,
	backend Backend,
	sessionID string,
	relationID int64,
	query url.Values,
) (*chatSession, error) {
	rel, err := backend.Relation(ctx, relationID)
	if err != nil {
		if errors.Is(err, services.ErrUnauthenticated) {
			return nil, err
		}
		return nil, errors.Join(errRelationUnavailable, err)
	}

	profile, err := backend.Profile(ctx)
	if err != nil {
		return nil, err
	}

	h, err := handoff.NewStore(m.handoff, sessionID, relationID).Receive(ctx)
	if err != nil {
		return nil, err
	}

	convID, err := m.archive.AddConversation(ctx, models.Conversation{
		ID:           uuid.NewString(),
		UserID:       profile.ID,
		RelationID:   rel.ID,
		RelationName: rel.Name,
		Title:        rel.Name,
		StartedAt:    time.Now(),
	})
	if err != nil {
		return nil, err
	}

	cs := &chatSession{
		conversationID: convID,
		relation:       rel,
		callType:       models.CallTypeChat,
	}
	if ct, err := models.ParseCallType(query.Get("callType")); err == nil {
		cs.callType = ct
	}
	cs.directMessage, _ = strconv.ParseBool(query.Get("directMessage"))

	topic := chatTopic(sessionID, strconv.FormatInt(relationID, 10))

	cs.controller = transcript.New(backend, transcript.Config{
		UserID:           profile.ID,
		RelationID:       rel.ID,
		RelationType:     rel.RelationType,
		MaxResponseBytes: m.stream.MaxResponseBytes,
		Timeout:          m.stream.Timeout,
		EndSentinel:      m.stream.EndSentinel,
	}, m.logger, transcript.WithObserver(func(u transcript.Update) {
		m.publish(topic, u)
		m.archiveUpdate(convID, u)
	}))
	cs.controller.Seed(h)

	m.logger.Info("Chat mounted",
		slog.Int64("relationID", rel.ID),
		slog.String("conversationID", convID),
		slog.Bool("preferences", h.Preferences != nil))

	return cs, nil
}

// HandleSubmit sends a user message. The response streams to the page over SSE, read with the
// credential of this request rather than the one the chat was mounted with.
func (m Main) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	relationID, err := strconv.ParseInt(chi.URLParam(r, "relationID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid relation id", http.StatusBadRequest)
		return
	}

	cs, ok := m.chats.get(chatKey(sessionFrom(r.Context()), relationID))
	if !ok {
		http.Error(w, "Chat is not open", http.StatusNotFound)
		return
	}

	token := tokenFrom(r.Context())
	if token == "" {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	_, err = cs.controller.SendVia(m.backend(token), r.FormValue("message"))
	switch {
	case errors.Is(err, transcript.ErrEmptyMessage):
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	case errors.Is(err, transcript.ErrBusy):
		http.Error(w, "A response is still in progress", http.StatusConflict)
		return
	case errors.Is(err, transcript.ErrClosed):
		http.Error(w, "Chat is not open", http.StatusNotFound)
		return
	case err != nil:
		m.logger.Error("Failed to send message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, internalError, http.StatusInternalServerError)
		return
	}

	m.writeChat(w, http.StatusAccepted, cs)
}

// HandleLeave unmounts the chat screen. An in-flight response stops being read; everything
// already shown stays archived.
func (m Main) HandleLeave(w http.ResponseWriter, r *http.Request) {
	relationID, err := strconv.ParseInt(chi.URLParam(r, "relationID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid relation id", http.StatusBadRequest)
		return
	}

	key := chatKey(sessionFrom(r.Context()), relationID)
	if !m.chats.unmount(key) {
		http.Error(w, "Chat is not open", http.StatusNotFound)
		return
	}
	// Unconsumed slots of the in-process backend, e.g. left by a locked call type.
	if f, ok := m.handoff.(interface{ Forget(scope string) }); ok {
		f.Forget(key)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m Main) writeChat(w http.ResponseWriter, status int, cs *chatSession) {
	msgs := cs.controller.Messages()
	res := chatResponse{
		ConversationID: cs.conversationID,
		Relation:       cs.relation,
		CallType:       cs.callType,
		DirectMessage:  cs.directMessage,
		State:          cs.controller.State().String(),
		Messages:       make([]message, len(msgs)),
	}
	for i, msg := range msgs {
		res.Messages[i] = m.render(msg)
	}

	writeJSON(w, status, res, m.logger)
}

func (m Main) render(msg models.Message) message {
	html, err := models.RenderMarkdown(msg.Content)
	if err != nil {
		m.logger.Error("Failed to render content",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
	}
	return message{Message: msg, HTML: html}
}

func (m Main) publish(topic string, u transcript.Update) {
	data, err := json.Marshal(update{
		Kind:    updateKinds[u.Kind],
		State:   u.State.String(),
		Final:   u.Final,
		Message: m.render(u.Message),
	})
	if err != nil {
		m.logger.Error("Failed to marshal update", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{Type: messagesSSEType}
	msg.AppendData(string(data))
	if err := m.sseSrv.Publish(&msg, topic); err != nil {
		m.logger.Error("Failed to publish update",
			slog.String("messageID", u.Message.ID),
			slog.String(errLoggerKey, err.Error()))
	}
}

// archiveUpdate stores a message once its content is final. Placeholders and fallbacks are
// not part of the conversation.
func (m Main) archiveUpdate(conversationID string, u transcript.Update) {
	if !u.Final || u.Kind == transcript.UpdateRemoved || u.Message.IsTyping || u.Message.IsError {
		return
	}
	if err := m.archive.AddMessage(context.Background(), conversationID, u.Message); err != nil {
		m.logger.Error("Failed to archive message",
			slog.String("conversationID", conversationID),
			slog.String(errLoggerKey, err.Error()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to write response", slog.String(errLoggerKey, err.Error()))
	}
}
