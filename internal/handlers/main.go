package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/emofelix-web/internal/callsetup"
	"github.com/MegaGrindStone/emofelix-web/internal/handoff"
	"github.com/MegaGrindStone/emofelix-web/internal/models"
	"github.com/MegaGrindStone/emofelix-web/internal/transcript"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// Backend is the Emofelix API as seen by one authenticated user.
type Backend interface {
	callsetup.Lookup
	transcript.Streamer
	Profile(ctx context.Context) (models.Profile, error)
}

// BackendFactory returns a Backend that authenticates with token. It is called per request so
// credentials never outlive the request that carried them.
type BackendFactory func(token string) Backend

// Preparer runs call setup for one session.
type Preparer interface {
	Prepare(
		ctx context.Context,
		store handoff.Store,
		lookup callsetup.Lookup,
		relationID int64,
		prefs models.CallPreferences,
	) (callsetup.Result, error)
}

// Archive stores settled conversations for the history screens.
type Archive interface {
	Conversations(ctx context.Context, userID int64) ([]models.Conversation, error)
	Conversation(ctx context.Context, id string) (models.Conversation, error)
	AddConversation(ctx context.Context, conv models.Conversation) (string, error)

	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
	AddMessage(ctx context.Context, conversationID string, message models.Message) error
}

// StreamConfig bounds every chat stream.
type StreamConfig struct {
	MaxResponseBytes int64
	Timeout          time.Duration
	EndSentinel      string
}

// Main serves the call setup, chat and history screens. Every mounted chat screen owns a
// transcript controller whose updates are pushed to the page over server-sent events.
type Main struct {
	sseSrv *sse.Server

	backend  BackendFactory
	preparer Preparer
	handoff  handoff.Backend
	archive  Archive
	stream   StreamConfig

	chats *chatRegistry

	logger *slog.Logger
}

type contextKey string

const (
	sessionCookie = "emofelix_session"
	lovedOnesPath = "/loved-ones"

	// Causes of internal failures are logged, never sent to the client.
	internalError = "Something went wrong, please try again"

	sessionKey contextKey = "session"
	tokenKey   contextKey = "token"

	errLoggerKey = "err"
)

// NewMain creates a Main. The SSE server subscribes each client to the transcript of the chat
// screen named by the relation_id query parameter within its own session.
func NewMain(
	backend BackendFactory,
	preparer Preparer,
	handoffBackend handoff.Backend,
	archive Archive,
	streamCfg StreamConfig,
	logger *slog.Logger,
) Main {
	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic}

				relationID := s.Req.URL.Query().Get("relation_id")
				if c, err := s.Req.Cookie(sessionCookie); err == nil && relationID != "" {
					topics = append(topics, chatTopic(c.Value, relationID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		backend:  backend,
		preparer: preparer,
		handoff:  handoffBackend,
		archive:  archive,
		stream:   streamCfg,
		chats:    newChatRegistry(),
		logger:   logger.With(slog.String("module", "main")),
	}
}

func chatTopic(sessionID, relationID string) string {
	return fmt.Sprintf("chat-%s-%s", sessionID, relationID)
}

// Routes mounts every handler on a chi router.
func (m Main) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(m.session)

	r.Post("/setup/{relationID}", m.HandleSetup)

	r.Get("/chat/{relationID}", m.HandleMount)
	r.Post("/chat/{relationID}/messages", m.HandleSubmit)
	r.Delete("/chat/{relationID}", m.HandleLeave)

	r.Get("/sse/chat", m.HandleSSE)

	r.Get("/history", m.HandleHistory)
	r.Get("/history/{conversationID}", m.HandleConversation)

	return r
}

// session makes sure every request belongs to a browser session and carries the caller's
// token, if any, in its context.
func (m Main) session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := ""
		if c, err := r.Cookie(sessionCookie); err == nil {
			if _, err := uuid.Parse(c.Value); err == nil {
				sessionID = c.Value
			}
		}
		if sessionID == "" {
			sessionID = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    sessionID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
			// Later handlers, the SSE subscription included, read the cookie from the request.
			r.AddCookie(&http.Cookie{Name: sessionCookie, Value: sessionID})
		}

		token := ""
		if scheme, t, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && scheme == "Token" {
			token = t
		}
		// EventSource cannot set headers.
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		ctx := context.WithValue(r.Context(), sessionKey, sessionID)
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(ctx context.Context) string {
	s, _ := ctx.Value(sessionKey).(string)
	return s
}

func tokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

// HandleSSE streams transcript updates of the chat screen the client subscribed to.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown unmounts every chat screen, then broadcasts a close message to all connected clients
// and waits up to 5 seconds for connections to terminate. After the timeout, any remaining
// connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.chats.closeAll()

	e := &sse.Message{Type: sse.Type("closeChat")}
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

type chatSession struct {
	controller     *transcript.Controller
	conversationID string
	relation       models.Relation
	callType       models.CallType
	directMessage  bool
}

// chatRegistry holds the mounted chat screens, keyed by session and relation.
type chatRegistry struct {
	mu    sync.Mutex
	chats map[string]*chatSession
}

func newChatRegistry() *chatRegistry {
	return &chatRegistry{chats: make(map[string]*chatSession)}
}

// chatKey matches the handoff scope of the same chat, so it also names its slots.
func chatKey(sessionID string, relationID int64) string {
	return fmt.Sprintf("%s:%d", sessionID, relationID)
}

func (c *chatRegistry) get(key string) (*chatSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs, ok := c.chats[key]
	return cs, ok
}

// mount returns the chat mounted under key, creating it with create when there is none. The
// registry stays locked during create so a concurrent mount never consumes the handoff twice.
func (c *chatRegistry) mount(key string, create func() (*chatSession, error)) (*chatSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cs, ok := c.chats[key]; ok {
		return cs, nil
	}
	cs, err := create()
	if err != nil {
		return nil, err
	}
	c.chats[key] = cs
	return cs, nil
}

func (c *chatRegistry) unmount(key string) bool {
	c.mu.Lock()
	cs, ok := c.chats[key]
	delete(c.chats, key)
	c.mu.Unlock()

	if ok {
		cs.controller.Close()
	}
	return ok
}

func (c *chatRegistry) closeAll() {
	c.mu.Lock()
	chats := c.chats
	c.chats = make(map[string]*chatSession)
	c.mu.Unlock()

	for _, cs := range chats {
		cs.controller.Close()
	}
}
