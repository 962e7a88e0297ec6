package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL",
		"OPENAI_TEMPERATURE", "OPENAI_MAX_TOKENS", "TRANSCRIBE_MODEL",
		"CHAT_TIMEOUT", "CHAT_HISTORY_LIMIT", "CHAT_SYSTEM_PROMPT",
		"CHAT_DATA_DIR", "PRESENCE_TICK", "PRESENCE_STALE_AFTER",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("expected an error without OPENAI_API_KEY")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.AI.Model != "gpt-3.5-turbo" {
		t.Errorf("unexpected model %q", cfg.AI.Model)
	}
	if cfg.AI.TranscribeModel != "whisper-1" {
		t.Errorf("unexpected transcribe model %q", cfg.AI.TranscribeModel)
	}
	if cfg.AI.MaxTokens != 256 {
		t.Errorf("unexpected max tokens %d", cfg.AI.MaxTokens)
	}
	if cfg.AI.Temperature != nil {
		t.Errorf("temperature should stay unset, got %v", *cfg.AI.Temperature)
	}
	if cfg.Chat.HistoryLimit != 12 {
		t.Errorf("unexpected history limit %d", cfg.Chat.HistoryLimit)
	}
	if cfg.Chat.Timeout != 10*time.Second {
		t.Errorf("unexpected timeout %v", cfg.Chat.Timeout)
	}
	if cfg.Chat.SystemPrompt == "" {
		t.Error("system prompt must default to a non-empty value")
	}
	if cfg.Presence.Tick != time.Second || cfg.Presence.StaleAfter != 10*time.Second {
		t.Errorf("unexpected presence config %+v", cfg.Presence)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PORT", "9001")
	t.Setenv("OPENAI_MODEL", "gpt-4o-mini")
	t.Setenv("OPENAI_TEMPERATURE", "0.4")
	t.Setenv("CHAT_TIMEOUT", "30")
	t.Setenv("CHAT_HISTORY_LIMIT", "4")
	t.Setenv("PRESENCE_TICK", "2")
	t.Setenv("PRESENCE_STALE_AFTER", "20")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":9001" {
		t.Errorf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.AI.Model != "gpt-4o-mini" {
		t.Errorf("unexpected model %q", cfg.AI.Model)
	}
	if cfg.AI.Temperature == nil || *cfg.AI.Temperature != 0.4 {
		t.Errorf("temperature override lost: %v", cfg.AI.Temperature)
	}
	if cfg.Chat.Timeout != 30*time.Second {
		t.Errorf("unexpected timeout %v", cfg.Chat.Timeout)
	}
	if cfg.Chat.HistoryLimit != 4 {
		t.Errorf("unexpected history limit %d", cfg.Chat.HistoryLimit)
	}
	if cfg.Presence.Tick != 2*time.Second || cfg.Presence.StaleAfter != 20*time.Second {
		t.Errorf("unexpected presence config %+v", cfg.Presence)
	}
}

func TestLoadRejectsStaleAfterAtOrBelowTick(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PRESENCE_TICK", "5")
	t.Setenv("PRESENCE_STALE_AFTER", "5")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error when the stale window does not exceed the sweep tick")
	}
}

func TestLoadRejectsBadNumericValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CHAT_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a non-numeric CHAT_TIMEOUT")
	}
}

func TestLoadAcceptsFullAddr(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PORT", "127.0.0.1:9001")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9001" {
		t.Errorf("unexpected addr %q", cfg.Server.Addr)
	}
}
