package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.Mode != "followup" || cfg.Queue.Cap != 20 || cfg.Queue.Drop != "old" {
		t.Errorf("queue defaults = %+v", cfg.Queue)
	}
	if cfg.Typing.Mode != "instant" {
		t.Errorf("typing default = %q", cfg.Typing.Mode)
	}
	if cfg.Gateway.MaxConcurrentRuns != 1 {
		t.Errorf("MaxConcurrentRuns = %d, want sequential default 1", cfg.Gateway.MaxConcurrentRuns)
	}
	if cfg.Fallback.BackoffBaseHours != 1 || cfg.Fallback.BackoffMaxHours != 8 {
		t.Errorf("fallback defaults = %+v", cfg.Fallback)
	}
}

func TestLoad_JSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		// queue policy for busy channels
		queue: {
			mode: "collect",
			cap: 5,
			channels: {
				telegram: { mode: "steer" },
			},
		},
		gateway: { reply_threading: "first" },
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.Mode != "collect" || cfg.Queue.Cap != 5 {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Gateway.ReplyThreading != "first" {
		t.Errorf("ReplyThreading = %q", cfg.Gateway.ReplyThreading)
	}

	got := cfg.ResolveQueue("telegram")
	if got.Mode != "steer" {
		t.Errorf("telegram queue mode = %q, want steer", got.Mode)
	}
	if got.Cap != 5 {
		t.Errorf("telegram queue cap = %d, want inherited 5", got.Cap)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OPENCLAW_ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("OPENCLAW_QUEUE_MODE", "interrupt")
	t.Setenv("OPENCLAW_FALLBACK_MODELS", "claude-haiku-3,openai/gpt-4o-mini")
	t.Setenv("OPENCLAW_HEARTBEAT_ENABLED", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-test" {
		t.Error("API key env override not applied")
	}
	if cfg.Queue.Mode != "interrupt" {
		t.Errorf("Queue.Mode = %q", cfg.Queue.Mode)
	}
	if len(cfg.Agents.Defaults.FallbackModels) != 2 {
		t.Errorf("FallbackModels = %v", cfg.Agents.Defaults.FallbackModels)
	}
	if !cfg.Heartbeat.Enabled {
		t.Error("heartbeat env override not applied")
	}
}

func TestResolveAgent_Overrides(t *testing.T) {
	cfg := Default()
	cfg.Agents.List = map[string]AgentSpec{
		"ops": {Model: "claude-opus-4", Workspace: "~/ops"},
	}

	got := cfg.ResolveAgent("ops")
	if got.Model != "claude-opus-4" || got.Workspace != "~/ops" {
		t.Errorf("resolved = %+v", got)
	}
	if got.Provider != "anthropic" {
		t.Errorf("Provider = %q, want inherited default", got.Provider)
	}

	fallback := cfg.ResolveAgent("unknown")
	if fallback.Model != cfg.Agents.Defaults.Model {
		t.Error("unknown agent did not inherit defaults")
	}
}

func TestResolveDefaultAgentID(t *testing.T) {
	cfg := Default()
	if got := cfg.ResolveDefaultAgentID(); got != DefaultAgentID {
		t.Errorf("ResolveDefaultAgentID = %q, want %q", got, DefaultAgentID)
	}

	cfg.Agents.List = map[string]AgentSpec{
		"ops": {Default: true},
	}
	if got := cfg.ResolveDefaultAgentID(); got != "ops" {
		t.Errorf("ResolveDefaultAgentID = %q, want ops", got)
	}
}

func TestResolveTyping_ChannelOverride(t *testing.T) {
	cfg := Default()
	cfg.Typing.Channels = map[string]string{"discord": "never"}

	if got := cfg.ResolveTyping("discord"); got != "never" {
		t.Errorf("discord typing = %q", got)
	}
	if got := cfg.ResolveTyping("telegram"); got != "instant" {
		t.Errorf("telegram typing = %q", got)
	}
}

func TestHeartbeatInterval(t *testing.T) {
	cfg := Default()
	if got := cfg.HeartbeatInterval(); got != 30*time.Minute {
		t.Errorf("default interval = %v", got)
	}

	cfg.Heartbeat.Interval = "5m"
	if got := cfg.HeartbeatInterval(); got != 5*time.Minute {
		t.Errorf("interval = %v, want 5m", got)
	}

	cfg.Heartbeat.Interval = "garbage"
	if got := cfg.HeartbeatInterval(); got != 30*time.Minute {
		t.Errorf("bad interval = %v, want 30m fallback", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		in   string
		want string
	}{
		{"~/.openclaw/sessions", home + "/.openclaw/sessions"},
		{"~", home},
		{"/abs/path", "/abs/path"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeAgentID(t *testing.T) {
	if got := NormalizeAgentID("  Ops-Bot "); got != "ops-bot" {
		t.Errorf("NormalizeAgentID = %q", got)
	}
}

func TestProviderKeysNeverSerialized(t *testing.T) {
	cfg := Default()
	cfg.Providers.Anthropic.APIKey = "sk-secret"

	// field is json:"-" so any marshal of the config must not leak it
	data, err := json.Marshal(cfg.Providers)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-secret") {
		t.Error("API key leaked into serialized config")
	}
}
