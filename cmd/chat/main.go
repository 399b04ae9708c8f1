// Package main provides a terminal client for Emofelix. It runs call setup for a relation and
// then chats with it line by line, printing responses as they stream in.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/MegaGrindStone/emofelix-web/internal/callsetup"
	"github.com/MegaGrindStone/emofelix-web/internal/handoff"
	"github.com/MegaGrindStone/emofelix-web/internal/models"
	"github.com/MegaGrindStone/emofelix-web/internal/services"
	"github.com/MegaGrindStone/emofelix-web/internal/transcript"
	"github.com/caarlos0/env/v11"
	charmlog "github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// clientConfig is read from the environment, the same EMOFELIX_* variables the server honours.
type clientConfig struct {
	BaseURL     string        `env:"API_BASE_URL" envDefault:"http://127.0.0.1:8000"`
	StreamPath  string        `env:"API_STREAM_PATH" envDefault:"/api/chat/gemini/stream/"`
	Token       string        `env:"TOKEN"`
	Provider    string        `env:"AI_PROVIDER" envDefault:"external_api"`
	AIURL       string        `env:"AI_URL"`
	AIToken     string        `env:"AI_TOKEN"`
	AIHost      string        `env:"AI_HOST"`
	Model       string        `env:"AI_MODEL" envDefault:"mistral:instruct"`
	MaxTokens   int           `env:"AI_MAX_TOKENS" envDefault:"1000"`
	Temperature float32       `env:"AI_TEMPERATURE" envDefault:"0.7"`
	MaxBytes    int64         `env:"STREAM_MAX_RESPONSE_BYTES" envDefault:"1048576"`
	Timeout     time.Duration `env:"STREAM_TIMEOUT" envDefault:"2m"`
	EndSentinel string        `env:"STREAM_END_SENTINEL" envDefault:"[END]"`
}

var (
	relationID int64
	mood       int
	language   string
	topic      string
	details    string
	token      string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "emofelix-chat",
	Short: "Chat with an Emofelix relation from the terminal",
	Long: `Runs call setup for a relation with the given preferences, then opens a chat.
Type a message and press enter to send it; /quit ends the chat.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	defaults := callsetup.Defaults()

	flags := rootCmd.Flags()
	flags.Int64VarP(&relationID, "relation", "r", 0, "Relation id to call")
	flags.IntVar(&mood, "mood", int(defaults.Mood), "Mood from 0 (Sad) to 4 (Joyful)")
	flags.StringVar(&language, "language", defaults.Language, "Conversation language")
	flags.StringVar(&topic, "topic", defaults.Topic, "Conversation topic")
	flags.StringVar(&details, "details", "", "Something to tell right away; sent as the first message")
	flags.StringVar(&token, "token", "", "API token (defaults to EMOFELIX_TOKEN)")
	flags.StringVar(&logLevel, "log-level", "warn", "Log level (debug|info|warn|error)")

	_ = rootCmd.MarkFlagRequired("relation")
}

func runChat(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error loading .env: %w", err)
	}
	var cfg clientConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "EMOFELIX_"}); err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}
	if token != "" {
		cfg.Token = token
	}

	level, err := charmlog.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(charmlog.NewWithOptions(os.Stderr, charmlog.Options{Level: level}))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	httpClient := &http.Client{}
	backend := services.NewBackend(cfg.BaseURL, cfg.StreamPath, httpClient, logger).WithToken(cfg.Token)

	completer, err := newCompleter(cfg, httpClient, logger)
	if err != nil {
		return err
	}

	prefs := models.CallPreferences{
		Mood:               models.Mood(mood),
		Language:           language,
		Topic:              topic,
		AdditionalDetails:  strings.TrimSpace(details),
		CallType:           models.CallTypeChat,
		SendAsFirstMessage: strings.TrimSpace(details) != "",
	}

	store := handoff.NewStore(handoff.NewMemory(time.Hour), uuid.NewString(), relationID)
	res, err := callsetup.NewPreparer(completer, logger).Prepare(ctx, store, backend, relationID, prefs)
	if err != nil {
		return err
	}

	profile, err := backend.Profile(ctx)
	if err != nil {
		return err
	}
	h, err := store.Receive(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	p := newPrinter(out, res.Relation.Name)

	c := transcript.New(backend, transcript.Config{
		UserID:           profile.ID,
		RelationID:       res.Relation.ID,
		RelationType:     res.Relation.RelationType,
		MaxResponseBytes: cfg.MaxBytes,
		Timeout:          cfg.Timeout,
		EndSentinel:      cfg.EndSentinel,
	}, logger, transcript.WithObserver(p.print))
	defer c.Close()

	fmt.Fprintf(out, "Chatting with %s (%s). Type /quit to leave.\n", res.Relation.Name, res.Relation.RelationType)
	c.Seed(h)

	return chatLoop(ctx, cmd.InOrStdin(), out, c)
}

func chatLoop(ctx context.Context, in io.Reader, out io.Writer, c *transcript.Controller) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/quit":
			return nil
		}

		if err := c.Submit(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func newCompleter(cfg clientConfig, client *http.Client, logger *slog.Logger) (callsetup.Completer, error) {
	params := services.CompletionParams{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
	switch cfg.Provider {
	case "external_api":
		if cfg.AIURL == "" {
			return nil, fmt.Errorf("EMOFELIX_AI_URL is required for the external_api provider")
		}
		return services.NewOpenAI(cfg.AIURL, cfg.AIToken, params, client, logger), nil
	case "ollama":
		return services.NewOllama(cfg.AIHost, params, client, logger)
	}
	return nil, fmt.Errorf("unknown ai provider: %s", cfg.Provider)
}
