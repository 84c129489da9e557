package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:    "~/.openclaw/workspace",
				Provider:     "anthropic",
				Model:        "claude-sonnet-4-5",
				VerboseLevel: "off",
				TimeoutSec:   600,
			},
		},
		Queue: QueueConfig{
			Mode:       "followup",
			Cap:        20,
			Drop:       "old",
			DebounceMs: 1000,
		},
		Typing: TypingConfig{
			Mode: "instant",
		},
		Fallback: FallbackConfig{
			BackoffBaseHours:   1,
			BackoffMaxHours:    8,
			FailureWindowHours: 24,
			LedgerPath:         "~/.openclaw/cooldowns.json",
		},
		Heartbeat: HeartbeatConfig{
			Interval:    "30m",
			Prompt:      "Read HEARTBEAT.md if it exists. Reply HEARTBEAT_OK if nothing needs attention.",
			MaxAckChars: 300,
		},
		Gateway: GatewayConfig{
			MaxConcurrentRuns: 1,
			MaxMessageChars:   32000,
			OutboundPerSec:    1,
			OutboundBurst:     5,
			ReplyThreading:    "off",
			DedupeTTLMin:      20,
			InboundDebounceMs: 800,
		},
		Sessions: SessionsConfig{
			Storage: "~/.openclaw/sessions",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("OPENCLAW_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("OPENCLAW_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("OPENCLAW_PROVIDER", &c.Agents.Defaults.Provider)
	envStr("OPENCLAW_MODEL", &c.Agents.Defaults.Model)
	envStr("OPENCLAW_WORKSPACE", &c.Agents.Defaults.Workspace)
	envStr("OPENCLAW_SESSIONS_STORAGE", &c.Sessions.Storage)
	envStr("OPENCLAW_QUEUE_MODE", &c.Queue.Mode)
	envStr("OPENCLAW_TYPING_MODE", &c.Typing.Mode)
	envStr("OPENCLAW_REPLY_THREADING", &c.Gateway.ReplyThreading)
	envStr("OPENCLAW_COOLDOWN_LEDGER", &c.Fallback.LedgerPath)
	envStr("OPENCLAW_HEARTBEAT_CRON", &c.Heartbeat.Cron)
	envStr("OPENCLAW_HEARTBEAT_INTERVAL", &c.Heartbeat.Interval)

	if v := os.Getenv("OPENCLAW_FALLBACK_MODELS"); v != "" {
		c.Agents.Defaults.FallbackModels = strings.Split(v, ",")
	}
	if v := os.Getenv("OPENCLAW_MAX_CONCURRENT_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Gateway.MaxConcurrentRuns = n
		}
	}
	if v := os.Getenv("OPENCLAW_HEARTBEAT_ENABLED"); v != "" {
		c.Heartbeat.Enabled = v == "true" || v == "1"
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
