package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/MegaGrindStone/emofelix-web/internal/callsetup"
	"github.com/MegaGrindStone/emofelix-web/internal/handoff"
	"github.com/MegaGrindStone/emofelix-web/internal/services"
	"github.com/caarlos0/env/v11"
	charmlog "github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

type config struct {
	Port    string        `yaml:"port" env:"PORT"`
	Log     logConfig     `yaml:"log" envPrefix:"LOG_"`
	API     apiConfig     `yaml:"api" envPrefix:"API_"`
	AI      aiConfig      `yaml:"ai" envPrefix:"AI_"`
	Stream  streamConfig  `yaml:"stream" envPrefix:"STREAM_"`
	Handoff handoffConfig `yaml:"handoff" envPrefix:"HANDOFF_"`
	Store   storeConfig   `yaml:"store" envPrefix:"STORE_"`
}

type logConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

type apiConfig struct {
	BaseURL    string `yaml:"baseURL" env:"BASE_URL"`
	StreamPath string `yaml:"streamPath" env:"STREAM_PATH"`
}

// aiConfig selects the single-shot completer used by call setup.
type aiConfig struct {
	Provider    string  `yaml:"provider" env:"PROVIDER"`
	URL         string  `yaml:"url" env:"URL"`
	Token       string  `yaml:"token" env:"TOKEN"`
	Host        string  `yaml:"host" env:"HOST"`
	Model       string  `yaml:"model" env:"MODEL"`
	MaxTokens   int     `yaml:"maxTokens" env:"MAX_TOKENS"`
	Temperature float32 `yaml:"temperature" env:"TEMPERATURE"`
}

// baseAIConfig contains the fields shared by every provider.
type baseAIConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"maxTokens"`
	Temperature float32 `yaml:"temperature"`
}

type externalAPIConfig struct {
	baseAIConfig `yaml:",inline"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
}

type ollamaConfig struct {
	baseAIConfig `yaml:",inline"`
	Host         string `yaml:"host"`
}

type streamConfig struct {
	MaxResponseBytes int64         `yaml:"maxResponseBytes" env:"MAX_RESPONSE_BYTES"`
	Timeout          time.Duration `yaml:"timeout" env:"TIMEOUT"`
	EndSentinel      string        `yaml:"endSentinel" env:"END_SENTINEL"`
}

type handoffConfig struct {
	Backend   string        `yaml:"backend" env:"BACKEND"`
	RedisAddr string        `yaml:"redisAddr" env:"REDIS_ADDR"`
	TTL       time.Duration `yaml:"ttl" env:"TTL"`
}

type storeConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

const (
	providerExternalAPI = "external_api"
	providerOllama      = "ollama"

	envPrefix = "EMOFELIX_"
)

func defaultConfig(cfgDir string) config {
	return config{
		Port: "8080",
		Log:  logConfig{Level: "info", Format: "text"},
		API: apiConfig{
			BaseURL:    "http://127.0.0.1:8000",
			StreamPath: "/api/chat/gemini/stream/",
		},
		AI: aiConfig{
			Provider:    providerExternalAPI,
			Model:       "mistral:instruct",
			MaxTokens:   1000,
			Temperature: 0.7,
		},
		Stream: streamConfig{
			MaxResponseBytes: 1 << 20,
			Timeout:          2 * time.Minute,
			EndSentinel:      "[END]",
		},
		Handoff: handoffConfig{Backend: "memory", TTL: 30 * time.Minute},
		Store:   storeConfig{Path: filepath.Join(cfgDir, "store.db")},
	}
}

// loadConfig reads the config file at path, if it exists, then applies a .env file from the
// working directory and EMOFELIX_* environment overrides.
func loadConfig(path string, defaults config) (config, error) {
	cfg := defaults

	cfgFile, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	default:
		defer cfgFile.Close()
		if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config{}, fmt.Errorf("error loading .env: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return config{}, fmt.Errorf("error parsing environment: %w", err)
	}

	return cfg, cfg.validate()
}

// UnmarshalYAML only accepts the fields of the selected provider.
func (a *aiConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return err
	}

	provider, ok := raw["provider"].(string)
	if !ok {
		return fmt.Errorf("ai provider is required")
	}

	aiRawYAML, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	base := baseAIConfig{Provider: provider, Model: a.Model, MaxTokens: a.MaxTokens, Temperature: a.Temperature}

	switch provider {
	case providerExternalAPI:
		c := externalAPIConfig{baseAIConfig: base, URL: a.URL, Token: a.Token}
		if err := decodeKnown(aiRawYAML, &c); err != nil {
			return err
		}
		base = c.baseAIConfig
		a.URL, a.Token = c.URL, c.Token
	case providerOllama:
		c := ollamaConfig{baseAIConfig: base, Host: a.Host}
		if err := decodeKnown(aiRawYAML, &c); err != nil {
			return err
		}
		base = c.baseAIConfig
		a.Host = c.Host
	default:
		return fmt.Errorf("unknown ai provider: %s", provider)
	}

	a.Provider, a.Model, a.MaxTokens, a.Temperature = base.Provider, base.Model, base.MaxTokens, base.Temperature
	return nil
}

func decodeKnown(b []byte, dst any) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid ai config: %w", err)
	}
	return nil
}

func (c config) validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.baseURL is required"))
	}
	if c.AI.Model == "" {
		errs = append(errs, errors.New("ai.model is required"))
	}
	if c.AI.MaxTokens <= 0 {
		errs = append(errs, errors.New("ai.maxTokens must be positive"))
	}
	switch c.AI.Provider {
	case providerExternalAPI:
		if c.AI.URL == "" {
			errs = append(errs, errors.New("ai.url is required for the external_api provider"))
		}
	case providerOllama:
	default:
		errs = append(errs, fmt.Errorf("unknown ai provider: %s", c.AI.Provider))
	}
	switch c.Handoff.Backend {
	case "memory":
	case "redis":
		if c.Handoff.RedisAddr == "" {
			errs = append(errs, errors.New("handoff.redisAddr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown handoff backend: %s", c.Handoff.Backend))
	}
	return errors.Join(errs...)
}

func (a aiConfig) params() services.CompletionParams {
	return services.CompletionParams{
		Model:       a.Model,
		MaxTokens:   a.MaxTokens,
		Temperature: a.Temperature,
	}
}

func (a aiConfig) completer(client *http.Client, logger *slog.Logger) (callsetup.Completer, error) {
	switch a.Provider {
	case providerExternalAPI:
		return services.NewOpenAI(a.URL, a.Token, a.params(), client, logger), nil
	case providerOllama:
		host := a.Host
		if host == "" {
			host = os.Getenv("OLLAMA_HOST")
		}
		return services.NewOllama(host, a.params(), client, logger)
	}
	return nil, fmt.Errorf("unknown ai provider: %s", a.Provider)
}

// backend returns the handoff backend and a close function for it.
func (h handoffConfig) backend() (handoff.Backend, func() error) {
	if h.Backend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: h.RedisAddr})
		return handoff.NewRedis(client, "emofelix:handoff:", h.TTL), client.Close
	}
	return handoff.NewMemory(h.TTL), func() error { return nil }
}

func (l logConfig) handler(w io.Writer) *charmlog.Logger {
	logger := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})

	level, err := charmlog.ParseLevel(l.Level)
	if err != nil {
		level = charmlog.InfoLevel
	}
	logger.SetLevel(level)

	switch l.Format {
	case "json":
		logger.SetFormatter(charmlog.JSONFormatter)
	case "logfmt":
		logger.SetFormatter(charmlog.LogfmtFormatter)
	default:
		logger.SetFormatter(charmlog.TextFormatter)
	}
	return logger
}
