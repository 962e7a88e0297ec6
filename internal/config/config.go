package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// defaultSystemPrompt is the fixed instruction describing the host
// persona. Overridable via CHAT_SYSTEM_PROMPT.
const defaultSystemPrompt = "You are a friendly virtual host in a small 3D chat world. " +
	"Keep replies short, warm, and conversational."

// Config aggregates all service configuration.
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Chat     ChatConfig
	Presence PresenceConfig
}

// Load reads configuration from environment variables. The completion
// provider key is required: the server refuses to start without it.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	presence, err := loadPresenceConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Chat: chat, Presence: presence}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow ":8080" or "127.0.0.1:8080" verbatim.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the completion/transcription provider.
type AIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	TranscribeModel string
	Temperature     *float64
	MaxTokens       int
}

// NewChatModel creates the completion model from this configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	maxTokens := c.MaxTokens

	cfg := &openai.ChatModelConfig{
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		Model:       c.Model,
		MaxTokens:   &maxTokens,
		Temperature: temperature,
	}

	return openai.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return AIConfig{}, fmt.Errorf("OPENAI_API_KEY is required; see README for setup")
	}

	temperature, err := parseOptionalFloatEnv("OPENAI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens := 256
	if override, err := parseOptionalIntEnv("OPENAI_MAX_TOKENS"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		maxTokens = *override
	}

	return AIConfig{
		APIKey:          apiKey,
		BaseURL:         getEnvOrDefault("OPENAI_BASE_URL", ""),
		Model:           getEnvOrDefault("OPENAI_MODEL", "gpt-3.5-turbo"),
		TranscribeModel: getEnvOrDefault("TRANSCRIBE_MODEL", "whisper-1"),
		Temperature:     temperature,
		MaxTokens:       maxTokens,
	}, nil
}

// ChatConfig tunes the completion relay and turn store.
type ChatConfig struct {
	SystemPrompt string
	HistoryLimit int
	Timeout      time.Duration
	// DataDir selects the durable turn store; empty keeps turns in
	// memory.
	DataDir string
}

func loadChatConfig() (ChatConfig, error) {
	timeout := 10 * time.Second
	if override, err := parseOptionalIntEnv("CHAT_TIMEOUT"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return ChatConfig{}, fmt.Errorf("CHAT_TIMEOUT must be at least 1 second")
		}
		timeout = time.Duration(*override) * time.Second
	}

	historyLimit := 12
	if override, err := parseOptionalIntEnv("CHAT_HISTORY_LIMIT"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 1 {
			historyLimit = 1
		} else {
			historyLimit = *override
		}
	}

	return ChatConfig{
		SystemPrompt: getEnvOrDefault("CHAT_SYSTEM_PROMPT", defaultSystemPrompt),
		HistoryLimit: historyLimit,
		Timeout:      timeout,
		DataDir:      strings.TrimSpace(os.Getenv("CHAT_DATA_DIR")),
	}, nil
}

// PresenceConfig tunes the staleness sweep.
type PresenceConfig struct {
	Tick       time.Duration
	StaleAfter time.Duration
}

func loadPresenceConfig() (PresenceConfig, error) {
	tick := time.Second
	if override, err := parseOptionalIntEnv("PRESENCE_TICK"); err != nil {
		return PresenceConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return PresenceConfig{}, fmt.Errorf("PRESENCE_TICK must be at least 1 second")
		}
		tick = time.Duration(*override) * time.Second
	}

	staleAfter := 10 * time.Second
	if override, err := parseOptionalIntEnv("PRESENCE_STALE_AFTER"); err != nil {
		return PresenceConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return PresenceConfig{}, fmt.Errorf("PRESENCE_STALE_AFTER must be at least 1 second")
		}
		staleAfter = time.Duration(*override) * time.Second
	}

	if staleAfter <= tick {
		return PresenceConfig{}, fmt.Errorf("PRESENCE_STALE_AFTER (%s) must exceed PRESENCE_TICK (%s)", staleAfter, tick)
	}

	return PresenceConfig{Tick: tick, StaleAfter: staleAfter}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
