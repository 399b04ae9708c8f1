package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/emofelix-web/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// CompletionParams are the generation settings sent with every single-shot request.
type CompletionParams struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// OpenAI is a single-shot completer for any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	params CompletionParams

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates an OpenAI completer. endpoint is the full chat completions URL; token is
// sent as a Bearer credential.
func NewOpenAI(endpoint, token string, params CompletionParams, httpClient *http.Client, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(token)
	cfg.BaseURL = strings.TrimSuffix(strings.TrimSuffix(endpoint, "/"), "/chat/completions")
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}

	return OpenAI{
		params: params,
		client: goopenai.NewClientWithConfig(cfg),
		logger: logger.With(slog.String("module", "openai")),
	}
}

// Complete sends messages and returns the generated text. Failures are *ServerError,
// *MalformedResponseError or *ConnectivityError.
func (o OpenAI) Complete(ctx context.Context, messages []models.Turn) (string, error) {
	msgs := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		msgs[i] = goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	temperature := o.params.Temperature
	if temperature == 0 {
		// The request omits a zero temperature, which servers read as their default.
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := o.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       o.params.Model,
		Messages:    msgs,
		MaxTokens:   o.params.MaxTokens,
		Temperature: temperature,
	})
	if err != nil {
		err = classifyOpenAIError(err)
		o.logger.Error("Completion request failed", slog.String(errLoggerKey, err.Error()))
		return "", err
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &MalformedResponseError{Reason: "no message content in choices"}
	}

	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &ServerError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &ServerError{StatusCode: reqErr.HTTPStatusCode, Message: msg}
	}

	// Non-JSON error bodies come back as a formatted error carrying only the status code.
	var code int
	if _, scanErr := fmt.Sscanf(err.Error(), "error, status code: %d", &code); scanErr == nil {
		return &ServerError{StatusCode: code, Message: err.Error()}
	}

	if isConnectivity(err) {
		return &ConnectivityError{Err: err}
	}

	return &MalformedResponseError{Reason: "cannot decode completion", Err: err}
}
