package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/emofelix-web/internal/models"
)

// Backend talks to the Emofelix API. It is a plain value: WithToken returns a copy bound to
// one user's credential, so no request ever sees another user's token.
type Backend struct {
	baseURL    string
	streamPath string
	token      string

	lookupTimeout time.Duration

	client *http.Client

	logger *slog.Logger
}

// StreamRequest is the body of the chat stream endpoint. Only user_id, message and
// relation_type are always sent.
type StreamRequest struct {
	UserID            int64         `json:"user_id"`
	Message           string        `json:"message"`
	RelationType      string        `json:"relation_type"`
	RelationID        int64         `json:"relation_id,omitempty"`
	Mood              string        `json:"mood,omitempty"`
	Topic             string        `json:"topic,omitempty"`
	AdditionalDetails string        `json:"additional_details,omitempty"`
	Nickname          string        `json:"nickname,omitempty"`
	History           []models.Turn `json:"history,omitempty"`
}

type nicknameResponse struct {
	Nickname *string `json:"nickname"`
}

const (
	defaultStreamPath    = "/api/chat/gemini/stream/"
	defaultLookupTimeout = 10 * time.Second
	errorBodyLimit       = 4 << 10
)

// NewBackend creates a Backend rooted at baseURL. Every endpoint, the chat stream included, is
// derived from it. The client must not carry a Timeout, since it also serves long-lived
// streams; lookups get their own deadline.
func NewBackend(baseURL, streamPath string, client *http.Client, logger *slog.Logger) Backend {
	if streamPath == "" {
		streamPath = defaultStreamPath
	}
	if client == nil {
		client = &http.Client{}
	}
	return Backend{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		streamPath:    "/" + strings.TrimPrefix(streamPath, "/"),
		lookupTimeout: defaultLookupTimeout,
		client:        client,
		logger:        logger.With(slog.String("module", "backend")),
	}
}

// WithToken returns a copy of b that authenticates as the owner of token.
func (b Backend) WithToken(token string) Backend {
	b.token = token
	return b
}

// StreamURL is the chat stream endpoint.
func (b Backend) StreamURL() string {
	return b.baseURL + b.streamPath
}

// Nickname fetches how the character addresses the user. The nickname may be empty.
func (b Backend) Nickname(ctx context.Context, characterID int64) (string, error) {
	var res nicknameResponse
	if err := b.getJSON(ctx, fmt.Sprintf("/api/characters/%d/nickname/", characterID), &res); err != nil {
		return "", err
	}
	if res.Nickname == nil {
		return "", &MalformedResponseError{Reason: "missing nickname field"}
	}
	return *res.Nickname, nil
}

// Relation fetches one of the user's relations.
func (b Backend) Relation(ctx context.Context, relationID int64) (models.Relation, error) {
	var rel models.Relation
	if err := b.getJSON(ctx, fmt.Sprintf("/api/relations/%d/", relationID), &rel); err != nil {
		return models.Relation{}, err
	}
	if rel.ID == 0 {
		return models.Relation{}, &MalformedResponseError{Reason: "relation without id"}
	}
	return rel, nil
}

// Profile fetches the authenticated user.
func (b Backend) Profile(ctx context.Context) (models.Profile, error) {
	var p models.Profile
	if err := b.getJSON(ctx, "/api/profile/", &p); err != nil {
		return models.Profile{}, err
	}
	if p.ID == 0 {
		return models.Profile{}, &MalformedResponseError{Reason: "profile without id"}
	}
	return p, nil
}

// StreamChat opens the chat stream and returns its body for incremental reading. The caller
// must close it; cancelling ctx releases the connection.
func (b Backend) StreamChat(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	jsonBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.StreamURL(), bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	b.authorize(httpReq)

	b.logger.Debug("Opening chat stream",
		slog.Int64("userID", req.UserID),
		slog.String("relationType", req.RelationType))

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, &ConnectivityError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, serverError(resp)
	}

	return resp.Body, nil
}

func (b Backend) authorize(req *http.Request) {
	if b.token != "" {
		req.Header.Set("Authorization", "Token "+b.token)
	}
}

func (b Backend) getJSON(ctx context.Context, path string, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, b.lookupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return &ConnectivityError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("GET %s: %w", path, ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("GET %s: %w", path, ErrUnauthenticated)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return serverError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &MalformedResponseError{Reason: "cannot decode " + path, Err: err}
	}
	return nil
}

func serverError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))

	var errBody struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errBody) == nil {
		if errBody.Error != "" {
			msg = errBody.Error
		} else if errBody.Detail != "" {
			msg = errBody.Detail
		}
	}
	if msg == "" {
		msg = resp.Status
	}

	return &ServerError{StatusCode: resp.StatusCode, Message: msg}
}
