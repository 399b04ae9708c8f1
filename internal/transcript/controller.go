// Package transcript owns the visible conversation with one relation: the ordered messages, the
// typing placeholder, and the lifecycle of the single in-flight streaming response.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/emofelix-web/internal/models"
	"github.com/MegaGrindStone/emofelix-web/internal/services"
	"github.com/MegaGrindStone/emofelix-web/internal/stream"
	"github.com/google/uuid"
)

// Streamer opens the chat stream for one request.
type Streamer interface {
	StreamChat(ctx context.Context, req services.StreamRequest) (io.ReadCloser, error)
}

// State is where the controller is in the lifecycle of the current response.
type State int

// UpdateKind says what happened to the message carried by an Update.
type UpdateKind int

// Update describes one change to the transcript. Observers receive updates in the order they
// were applied.
type Update struct {
	Kind    UpdateKind
	Message models.Message
	State   State
	// Final is set once the message content will never change again.
	Final bool
}

// Config is the per-conversation context sent with every request.
type Config struct {
	UserID       int64
	RelationID   int64
	RelationType string
	Nickname     string

	MaxResponseBytes int64
	// Timeout bounds a whole response, first byte to end of stream. Zero disables it.
	Timeout     time.Duration
	EndSentinel string
}

// Controller is the transcript of one mounted chat screen. At most one response is in flight;
// Send rejects new messages until it settles or fails.
type Controller struct {
	mu       sync.Mutex
	messages []models.Message
	state    State
	seeded   bool
	closed   bool
	prefs    *models.CallPreferences

	base   context.Context
	cancel context.CancelFunc
	done   chan struct{}

	streamer Streamer
	cfg      Config

	onChange func(Update)
	newID    func() string
	now      func() time.Time

	logger *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

const (
	StateIdle State = iota
	StateAwaitingFirstByte
	StateStreaming
	StateSettled
	StateErrored
)

const (
	UpdateAdded UpdateKind = iota
	UpdateChanged
	UpdateRemoved
)

const defaultRelationType = "friend"

// Fallback replaces a response that could not be obtained.
const Fallback = "I'm sorry, I'm having trouble connecting right now. Please try again."

var (
	// ErrBusy is returned by Send while a response is in flight.
	ErrBusy = errors.New("transcript: a response is already in flight")
	// ErrClosed is returned after the chat screen was unmounted.
	ErrClosed = errors.New("transcript: closed")
	// ErrEmptyMessage is returned for a blank submission.
	ErrEmptyMessage = errors.New("transcript: empty message")
)

// WithObserver registers fn to receive every Update. fn runs while the controller is locked, so
// it must not call back into the controller.
func WithObserver(fn func(Update)) Option {
	return func(c *Controller) {
		c.onChange = fn
	}
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithIDs replaces the message ID generator.
func WithIDs(newID func() string) Option {
	return func(c *Controller) {
		c.newID = newID
	}
}

// New creates a Controller in the Idle state with an empty transcript.
func New(streamer Streamer, cfg Config, logger *slog.Logger, opts ...Option) *Controller {
	if cfg.RelationType == "" {
		cfg.RelationType = defaultRelationType
	}
	base, cancel := context.WithCancel(context.Background())

	c := &Controller{
		base:     base,
		cancel:   cancel,
		streamer: streamer,
		cfg:      cfg,
		onChange: func(Update) {},
		newID:    uuid.NewString,
		now:      time.Now,
		logger: logger.With(
			slog.String("module", "transcript"),
			slog.Int64("relationID", cfg.RelationID)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Messages returns a snapshot of the transcript.
func (c *Controller) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.messages)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Busy reports whether a response is in flight.
func (c *Controller) Busy() bool {
	return c.State().busy()
}

// Send appends text as a user message followed by the typing placeholder and starts streaming
// the response. The returned channel is closed once the response settled, failed or was
// cancelled.
func (c *Controller) Send(text string) (<-chan struct{}, error) {
	return c.SendVia(c.streamer, text)
}

// SendVia is Send streaming through streamer instead of the one the controller was created
// with, e.g. a client carrying the credential of the current request.
func (c *Controller) SendVia(streamer Streamer, text string) (<-chan struct{}, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.state.busy() {
		return nil, ErrBusy
	}

	req := c.request(text)

	user := models.Message{
		ID:        c.newID(),
		Content:   text,
		Sender:    models.SenderUser,
		Timestamp: c.now(),
	}
	c.append(user, true)

	placeholder := models.Message{
		ID:        c.newID(),
		Sender:    models.SenderAssistant,
		Timestamp: c.now(),
		IsTyping:  true,
	}
	c.state = StateAwaitingFirstByte
	c.append(placeholder, false)

	ctx, cancel := c.base, context.CancelFunc(func() {})
	if c.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
	}

	done := make(chan struct{})
	c.done = done
	go c.run(ctx, cancel, streamer, req, placeholder.ID, done)

	return done, nil
}

// Submit is Send followed by waiting for the response to finish or ctx to end.
func (c *Controller) Submit(ctx context.Context, text string) error {
	done, err := c.Send(text)
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close unmounts the controller: the in-flight stream, if any, stops being read and its
// connection is released. Messages already applied stay as they are.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	done := c.done
	c.mu.Unlock()

	c.cancel()
	if done != nil {
		<-done
	}
}

// request builds the stream payload from the transcript before text is appended.
func (c *Controller) request(text string) services.StreamRequest {
	req := services.StreamRequest{
		UserID:       c.cfg.UserID,
		Message:      text,
		RelationType: c.cfg.RelationType,
		RelationID:   c.cfg.RelationID,
		Nickname:     c.cfg.Nickname,
		History:      models.History(c.messages),
	}
	if c.prefs != nil {
		req.Mood = c.prefs.Mood.String()
		req.Topic = c.prefs.Topic
		if !c.prefs.SendAsFirstMessage {
			req.AdditionalDetails = c.prefs.AdditionalDetails
		}
	}
	return req
}

func (c *Controller) run(
	ctx context.Context,
	cancel context.CancelFunc,
	streamer Streamer,
	req services.StreamRequest,
	placeholderID string,
	done chan struct{},
) {
	defer close(done)
	defer cancel()

	body, err := streamer.StreamChat(ctx, req)
	if err != nil {
		c.fail(placeholderID, "", err)
		return
	}
	defer body.Close()

	// A plain reader does not observe ctx, so closing the body is what unblocks it.
	stop := context.AfterFunc(ctx, func() {
		_ = body.Close()
	})
	defer stop()

	dec := stream.NewDecoder(body,
		stream.WithMaxBytes(c.cfg.MaxResponseBytes),
		stream.WithEndSentinel(c.cfg.EndSentinel))

	var assistantID string
	for ev := range stream.Events(ctx, dec) {
		switch ev.Kind {
		case stream.EventToken:
			assistantID = c.token(placeholderID, assistantID, ev.Token.Accumulated)
		case stream.EventDone:
			c.settle(placeholderID, assistantID)
			return
		case stream.EventError:
			c.fail(placeholderID, assistantID, ev.Err)
			return
		}
	}

	// The event channel only closes early when ctx ended.
	c.fail(placeholderID, assistantID, fmt.Errorf("stream interrupted: %w", ctx.Err()))
}

func (c *Controller) token(placeholderID, assistantID, accumulated string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return assistantID
	}

	if assistantID == "" {
		c.remove(placeholderID)
		msg := models.Message{
			ID:        c.newID(),
			Content:   accumulated,
			Sender:    models.SenderAssistant,
			Timestamp: c.now(),
		}
		c.state = StateStreaming
		c.append(msg, false)
		return msg.ID
	}

	i := c.index(assistantID)
	if i < 0 {
		return assistantID
	}
	c.messages[i].Content = accumulated
	c.emit(UpdateChanged, c.messages[i], false)
	return assistantID
}

func (c *Controller) settle(placeholderID, assistantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateSettled
	if assistantID == "" {
		c.logger.Warn("Stream ended without any token")
		c.remove(placeholderID)
		return
	}
	if i := c.index(assistantID); i >= 0 {
		c.emit(UpdateChanged, c.messages[i], true)
	}
}

// fail freezes whatever was already streamed and, unless the controller was closed, appends
// the error fallback.
func (c *Controller) fail(placeholderID, assistantID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(placeholderID)
	if assistantID != "" {
		if i := c.index(assistantID); i >= 0 {
			c.emit(UpdateChanged, c.messages[i], true)
		}
	}

	if c.closed {
		c.state = StateIdle
		c.logger.Debug("Stream cancelled", slog.String(errLoggerKey, err.Error()))
		return
	}

	logFailure(c.logger, err)

	c.state = StateErrored
	c.append(models.Message{
		ID:        c.newID(),
		Content:   Fallback,
		Sender:    models.SenderAssistant,
		Timestamp: c.now(),
		IsError:   true,
	}, true)
}

func (c *Controller) append(msg models.Message, final bool) {
	c.messages = append(c.messages, msg)
	c.emit(UpdateAdded, msg, final)
}

func (c *Controller) remove(id string) {
	i := c.index(id)
	if i < 0 {
		return
	}
	msg := c.messages[i]
	c.messages = slices.Delete(c.messages, i, i+1)
	c.emit(UpdateRemoved, msg, true)
}

func (c *Controller) index(id string) int {
	return slices.IndexFunc(c.messages, func(m models.Message) bool {
		return m.ID == id
	})
}

func (c *Controller) emit(kind UpdateKind, msg models.Message, final bool) {
	c.onChange(Update{Kind: kind, Message: msg, State: c.state, Final: final})
}

func (s State) busy() bool {
	return s == StateAwaitingFirstByte || s == StateStreaming
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFirstByte:
		return "awaiting-first-byte"
	case StateStreaming:
		return "streaming"
	case StateSettled:
		return "settled"
	case StateErrored:
		return "errored"
	}
	return fmt.Sprintf("State(%d)", int(s))
}
