package config

import (
	"strings"
	"sync"
	"time"
)

// DefaultAgentID is the agent used when inbound messages carry no agent id.
const DefaultAgentID = "default"

// Config is the root configuration for the run engine.
type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Providers ProvidersConfig `json:"providers,omitempty"`
	Queue     QueueConfig     `json:"queue,omitempty"`
	Typing    TypingConfig    `json:"typing,omitempty"`
	Fallback  FallbackConfig  `json:"fallback,omitempty"`
	Heartbeat HeartbeatConfig `json:"heartbeat,omitempty"`
	Gateway   GatewayConfig   `json:"gateway"`
	Sessions  SessionsConfig  `json:"sessions"`
	mu        sync.RWMutex
}

// AgentsConfig holds agent defaults plus per-agent overrides.
type AgentsConfig struct {
	Defaults AgentDefaults        `json:"defaults"`
	List     map[string]AgentSpec `json:"list,omitempty"`
}

// AgentDefaults is the effective run configuration when no per-agent
// override applies.
type AgentDefaults struct {
	Workspace    string `json:"workspace,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	ThinkLevel   string `json:"think_level,omitempty"`
	VerboseLevel string `json:"verbose_level,omitempty"` // "on" or "off"
	TimeoutSec   int    `json:"timeout_sec,omitempty"`

	// FallbackModels are tried in order after the primary. Each entry is
	// "provider/model", or a bare model on the primary provider.
	FallbackModels []string `json:"fallback_models,omitempty"`
}

// AgentSpec overrides selected defaults for one agent.
type AgentSpec struct {
	Default        bool     `json:"default,omitempty"`
	DisplayName    string   `json:"display_name,omitempty"`
	Provider       string   `json:"provider,omitempty"`
	Model          string   `json:"model,omitempty"`
	Workspace      string   `json:"workspace,omitempty"`
	FallbackModels []string `json:"fallback_models,omitempty"`
}

// ProvidersConfig holds model-provider credentials. API keys come from env
// only and are never persisted.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic,omitempty"`
	OpenAI    ProviderConfig `json:"openai,omitempty"`
}

// ProviderConfig configures one provider endpoint.
type ProviderConfig struct {
	APIKey  string `json:"-"` // env only
	BaseURL string `json:"base_url,omitempty"`
}

// QueueConfig controls admission of messages arriving while a run is
// active. Channel overrides win field by field; zero values inherit.
type QueueConfig struct {
	Mode       string                 `json:"mode,omitempty"`        // steer|followup|collect|steer-backlog|steer+backlog|queue|interrupt
	Cap        int                    `json:"cap,omitempty"`         // max backlog entries per conversation
	Drop       string                 `json:"drop,omitempty"`        // old|new|summarize
	DebounceMs int                    `json:"debounce_ms,omitempty"` // collect-mode quiet window
	Channels   map[string]QueueConfig `json:"channels,omitempty"`
}

// QueueSettings is a fully resolved queue policy for one conversation.
type QueueSettings struct {
	Mode       string
	Cap        int
	Drop       string
	DebounceMs int
}

// TypingConfig selects the typing-indicator mode, with per-channel overrides.
type TypingConfig struct {
	Mode     string            `json:"mode,omitempty"` // never|instant|thinking|message
	Channels map[string]string `json:"channels,omitempty"`
}

// FallbackConfig tunes the auth-profile cooldown ledger.
type FallbackConfig struct {
	BackoffBaseHours   float64 `json:"backoff_base_hours,omitempty"`
	BackoffMaxHours    float64 `json:"backoff_max_hours,omitempty"`
	FailureWindowHours float64 `json:"failure_window_hours,omitempty"`
	LedgerPath         string  `json:"ledger_path,omitempty"`
}

// HeartbeatConfig drives periodic synthetic runs.
type HeartbeatConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Interval    string `json:"interval,omitempty"` // duration string, e.g. "30m"
	Cron        string `json:"cron,omitempty"`     // cron expression; wins over interval
	Prompt      string `json:"prompt,omitempty"`
	MaxAckChars int    `json:"max_ack_chars,omitempty"`

	// Delivery target for heartbeat alerts that survive ack stripping.
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

// GatewayConfig bounds the dispatcher.
type GatewayConfig struct {
	MaxConcurrentRuns int     `json:"max_concurrent_runs,omitempty"`
	MaxMessageChars   int     `json:"max_message_chars,omitempty"`
	OutboundPerSec    float64 `json:"outbound_per_sec,omitempty"`
	OutboundBurst     int     `json:"outbound_burst,omitempty"`
	ReplyThreading    string  `json:"reply_threading,omitempty"` // off|first|all
	DedupeTTLMin      int     `json:"dedupe_ttl_min,omitempty"`
	InboundDebounceMs int     `json:"inbound_debounce_ms,omitempty"` // pre-admission merge window
}

// SessionsConfig locates session state on disk.
type SessionsConfig struct {
	Storage string `json:"storage,omitempty"` // directory holding sessions.json and transcripts/
}

// ResolveAgent returns the effective run defaults for an agent ID,
// merging defaults with per-agent overrides.
func (c *Config) ResolveAgent(agentID string) AgentDefaults {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := c.Agents.Defaults
	if spec, ok := c.Agents.List[agentID]; ok {
		if spec.Provider != "" {
			d.Provider = spec.Provider
		}
		if spec.Model != "" {
			d.Model = spec.Model
		}
		if spec.Workspace != "" {
			d.Workspace = spec.Workspace
		}
		if len(spec.FallbackModels) > 0 {
			d.FallbackModels = spec.FallbackModels
		}
	}
	return d
}

// ResolveDefaultAgentID returns the ID of the agent marked as default,
// or "default" if none is explicitly marked.
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, spec := range c.Agents.List {
		if spec.Default {
			return id
		}
	}
	return DefaultAgentID
}

// ResolveQueue returns the fully specified queue policy for a channel.
// The result never has zero fields.
func (c *Config) ResolveQueue(channel string) QueueSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := QueueSettings{
		Mode:       c.Queue.Mode,
		Cap:        c.Queue.Cap,
		Drop:       c.Queue.Drop,
		DebounceMs: c.Queue.DebounceMs,
	}
	if over, ok := c.Queue.Channels[channel]; ok {
		if over.Mode != "" {
			s.Mode = over.Mode
		}
		if over.Cap > 0 {
			s.Cap = over.Cap
		}
		if over.Drop != "" {
			s.Drop = over.Drop
		}
		if over.DebounceMs > 0 {
			s.DebounceMs = over.DebounceMs
		}
	}
	return s
}

// ResolveTyping returns the typing mode for a channel.
func (c *Config) ResolveTyping(channel string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if m, ok := c.Typing.Channels[channel]; ok && m != "" {
		return m
	}
	return c.Typing.Mode
}

// ResolveDisplayName returns the display name for an agent.
func (c *Config) ResolveDisplayName(agentID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if spec, ok := c.Agents.List[agentID]; ok && spec.DisplayName != "" {
		return spec.DisplayName
	}
	return "OpenClaw"
}

// HeartbeatInterval parses the heartbeat interval, falling back to 30m.
func (c *Config) HeartbeatInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Heartbeat.Interval != "" {
		if d, err := time.ParseDuration(c.Heartbeat.Interval); err == nil && d > 0 {
			return d
		}
	}
	return 30 * time.Minute
}

// SessionsDir returns the expanded session storage directory.
func (c *Config) SessionsDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Sessions.Storage)
}

// NormalizeAgentID lowercases and trims an agent identifier.
func NormalizeAgentID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
