package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/MegaGrindStone/emofelix-web/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama is a single-shot completer backed by an Ollama server.
type Ollama struct {
	params CompletionParams

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates an Ollama completer for the server at host. An empty host falls back to
// OLLAMA_HOST and then to the local default.
func NewOllama(host string, params CompletionParams, httpClient *http.Client, logger *slog.Logger) (Ollama, error) {
	logger = logger.With(slog.String("module", "ollama"))
	if host == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return Ollama{}, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return Ollama{params: params, client: client, logger: logger}, nil
	}

	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return Ollama{
		params: params,
		client: api.NewClient(u, httpClient),
		logger: logger,
	}, nil
}

// Complete sends messages with streaming disabled and returns the generated text. Failures are
// *ServerError, *MalformedResponseError or *ConnectivityError.
func (o Ollama) Complete(ctx context.Context, messages []models.Turn) (string, error) {
	msgs := make([]api.Message, len(messages))
	for i, msg := range messages {
		msgs[i] = api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	options := map[string]any{"temperature": o.params.Temperature}
	if o.params.MaxTokens > 0 {
		options["num_predict"] = o.params.MaxTokens
	}

	f := false
	req := api.ChatRequest{
		Model:    o.params.Model,
		Messages: msgs,
		Stream:   &f,
		Options:  options,
	}

	var content string
	err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
		content += res.Message.Content
		return nil
	})
	if err != nil {
		err = classifyOllamaError(err)
		o.logger.Error("Completion request failed", slog.String(errLoggerKey, err.Error()))
		return "", err
	}

	if content == "" {
		return "", &MalformedResponseError{Reason: "empty message content"}
	}

	return content, nil
}

func classifyOllamaError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		msg := statusErr.ErrorMessage
		if msg == "" {
			msg = statusErr.Status
		}
		return &ServerError{StatusCode: statusErr.StatusCode, Message: msg}
	}

	if isConnectivity(err) {
		return &ConnectivityError{Err: err}
	}

	return &MalformedResponseError{Reason: "cannot decode completion", Err: err}
}
