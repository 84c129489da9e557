// Package gateway connects the message bus to the run engine: dedupe,
// debounce, admission, concurrency limits, and outbound delivery pacing.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/yiliangbetter/openclaw/internal/agent"
	"github.com/yiliangbetter/openclaw/internal/bus"
	"github.com/yiliangbetter/openclaw/internal/config"
	"github.com/yiliangbetter/openclaw/internal/fallback"
	"github.com/yiliangbetter/openclaw/internal/queue"
	"github.com/yiliangbetter/openclaw/internal/sessions"
	"github.com/yiliangbetter/openclaw/internal/typing"
	"github.com/yiliangbetter/openclaw/pkg/protocol"
)

// TypingFactory returns the typing surface for a conversation, or nil when
// the channel has none.
type TypingFactory func(channel, chatID string) typing.Controller

// Dispatcher owns the inbound consumer loop and run launching. One
// dispatcher serves the whole gateway.
type Dispatcher struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	store    *sessions.Store
	registry *queue.Registry
	orch     *agent.Orchestrator

	sem     *semaphore.Weighted
	limiter *rate.Limiter
	dedupe  *bus.DedupeCache

	typingFor TypingFactory

	ctxMu sync.RWMutex
	ctx   context.Context

	wg sync.WaitGroup
}

// NewDispatcher wires the dispatcher, queue registry, and orchestrator
// together around the given executor.
func NewDispatcher(cfg *config.Config, msgBus *bus.MessageBus, store *sessions.Store, executor agent.Executor, coord *fallback.Coordinator) *Dispatcher {
	// strictly sequential unless raised in config
	maxRuns := cfg.Gateway.MaxConcurrentRuns
	if maxRuns <= 0 {
		maxRuns = 1
	}
	perSec := cfg.Gateway.OutboundPerSec
	if perSec <= 0 {
		perSec = 1
	}
	burst := cfg.Gateway.OutboundBurst
	if burst <= 0 {
		burst = 5
	}
	ttl := time.Duration(cfg.Gateway.DedupeTTLMin) * time.Minute
	if ttl <= 0 {
		ttl = 20 * time.Minute
	}

	d := &Dispatcher{
		cfg:     cfg,
		bus:     msgBus,
		store:   store,
		ctx:     context.Background(),
		sem:     semaphore.NewWeighted(int64(maxRuns)),
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
		dedupe:  bus.NewDedupeCache(ttl, 5000),
	}
	d.registry = queue.NewRegistry(func(key string, req queue.Request, adm queue.Admission) {
		go d.startRun(key, req, adm)
	})
	d.orch = agent.NewOrchestrator(executor, store, d.registry, coord)
	d.orch.SetNextHook(func(key string, req queue.Request, adm queue.Admission) {
		d.startRun(key, req, adm)
	})
	return d
}

// SetTypingFactory registers the transport typing hook. Optional.
func (d *Dispatcher) SetTypingFactory(fn TypingFactory) {
	d.typingFor = fn
}

// Registry exposes the queue registry (status surfaces, tests).
func (d *Dispatcher) Registry() *queue.Registry { return d.registry }

// context returns the lifecycle context, Background until Run is called.
func (d *Dispatcher) context() context.Context {
	d.ctxMu.RLock()
	defer d.ctxMu.RUnlock()
	return d.ctx
}

// Run consumes inbound messages until ctx is done, then waits for active
// runs to finish.
func (d *Dispatcher) Run(ctx context.Context) {
	d.ctxMu.Lock()
	d.ctx = ctx
	d.ctxMu.Unlock()
	slog.Info("gateway: dispatcher started",
		"max_runs", d.cfg.Gateway.MaxConcurrentRuns,
		"queue_mode", d.cfg.Queue.Mode)

	debounce := time.Duration(d.cfg.Gateway.InboundDebounceMs) * time.Millisecond
	debouncer := bus.NewInboundDebouncer(debounce, d.admit)
	defer debouncer.Stop()

	for {
		msg, ok := d.bus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("gateway: dispatcher stopping")
			break
		}

		if msgID := msg.Metadata["message_id"]; msgID != "" {
			key := fmt.Sprintf("%s|%s|%s|%s", msg.Channel, msg.SenderID, msg.ChatID, msgID)
			if d.dedupe.IsDuplicate(key) {
				slog.Debug("gateway: duplicate inbound skipped", "key", key)
				continue
			}
		}

		if d.handleCommand(msg) {
			continue
		}

		if max := d.cfg.Gateway.MaxMessageChars; max > 0 && len(msg.Content) > max {
			msg.Content = msg.Content[:max]
		}

		debouncer.Push(msg)
	}

	d.wg.Wait()
}

// handleCommand intercepts control commands before admission.
func (d *Dispatcher) handleCommand(msg bus.InboundMessage) bool {
	switch strings.TrimSpace(msg.Content) {
	case "/stop":
		key := d.conversationKey(msg)
		if d.registry.Stop(key) {
			slog.Info("gateway: run stopped by command", "key", key)
			d.bus.PublishEvent(bus.Event{
				Name: protocol.EventAgent,
				Type: protocol.AgentEventRunInterrupted,
				Key:  key,
			})
		}
		return true
	default:
		return false
	}
}

// admit routes one (possibly merged) inbound message through the queue.
func (d *Dispatcher) admit(msg bus.InboundMessage) {
	key := d.conversationKey(msg)
	qs := d.cfg.ResolveQueue(msg.Channel)
	settings := queue.Settings{
		Mode:     queue.Mode(qs.Mode),
		Cap:      qs.Cap,
		Drop:     queue.DropPolicy(qs.Drop),
		Debounce: time.Duration(qs.DebounceMs) * time.Millisecond,
	}
	req := queue.Request{Msg: msg, EnqueuedAt: time.Now()}

	adm := d.registry.Admit(key, req, settings)
	slog.Info("gateway: inbound admitted",
		"key", key,
		"channel", msg.Channel,
		"decision", adm.Decision.String(),
		"gen", adm.Gen)

	switch adm.Decision {
	case queue.StartNow:
		go d.startRun(key, req, adm)
	case queue.Interrupted:
		d.bus.PublishEvent(bus.Event{
			Name: protocol.EventAgent,
			Type: protocol.AgentEventRunInterrupted,
			Key:  key,
		})
		go d.startRun(key, req, adm)
	case queue.Dropped:
		slog.Warn("gateway: message dropped at queue cap", "key", key)
	}
}

// conversationKey builds the canonical session key, honoring forum topics.
func (d *Dispatcher) conversationKey(msg bus.InboundMessage) string {
	agentID := config.NormalizeAgentID(msg.AgentID)
	if agentID == "" {
		agentID = d.cfg.ResolveDefaultAgentID()
	}
	peerKind := sessions.PeerKind(msg.PeerKind)
	if peerKind == "" {
		peerKind = sessions.PeerDirect
	}
	if msg.Metadata["is_forum"] == "true" && peerKind == sessions.PeerGroup {
		var topicID int
		fmt.Sscanf(msg.Metadata["message_thread_id"], "%d", &topicID)
		if topicID > 0 {
			return sessions.BuildGroupTopicSessionKey(agentID, msg.Channel, msg.ChatID, topicID)
		}
	}
	return sessions.BuildSessionKey(agentID, msg.Channel, peerKind, msg.ChatID)
}

// startRun acquires a concurrency slot and drives one orchestrated turn.
// Blocks until the turn completes.
func (d *Dispatcher) startRun(key string, req queue.Request, adm queue.Admission) {
	d.wg.Add(1)
	defer d.wg.Done()

	runCtx := d.context()
	if err := d.sem.Acquire(runCtx, 1); err != nil {
		// shutdown: abandon the claimed slot, backlog included
		d.registry.Release(key, adm.Gen)
		return
	}
	defer d.sem.Release(1)

	msg := req.Msg
	agentID, _ := sessions.ParseSessionKey(key)
	defaults := d.cfg.ResolveAgent(agentID)
	heartbeat := sessions.IsHeartbeatSession(key) || msg.Metadata["heartbeat"] == "true"

	candidates := []fallback.Candidate{{Provider: defaults.Provider, Model: defaults.Model}}
	for _, fm := range defaults.FallbackModels {
		if fm = strings.TrimSpace(fm); fm != "" {
			candidates = append(candidates, fallback.ParseCandidate(fm, defaults.Provider))
		}
	}

	var ctrl typing.Controller
	if d.typingFor != nil {
		ctrl = d.typingFor(msg.Channel, msg.ChatID)
	}
	mode := typing.ParseMode(d.cfg.ResolveTyping(msg.Channel))

	outMeta := make(map[string]string)
	for _, k := range []string{"message_thread_id", "local_key"} {
		if v := msg.Metadata[k]; v != "" {
			outMeta[k] = v
		}
	}

	var timeout time.Duration
	if defaults.TimeoutSec > 0 {
		timeout = time.Duration(defaults.TimeoutSec) * time.Second
	}

	d.bus.PublishEvent(bus.Event{
		Name: protocol.EventAgent,
		Type: protocol.AgentEventRunStarted,
		Key:  key,
		Data: map[string]string{"channel": msg.Channel},
	})

	d.orch.Run(runCtx, agent.RunOptions{
		Key:         key,
		Req:         req,
		Adm:         adm,
		Candidates:  candidates,
		Workspace:   config.ExpandHome(defaults.Workspace),
		ThinkLevel:  defaults.ThinkLevel,
		Timeout:     timeout,
		Heartbeat:   heartbeat,
		MaxAckChars: d.cfg.Heartbeat.MaxAckChars,
		Typing:      typing.NewSignaler(ctrl, mode, heartbeat),
		Threading:   agent.ParseThreadingMode(d.cfg.Gateway.ReplyThreading),
		ReplyToID:   msg.Metadata["message_id"],
		Deliver:     d.deliverer(msg.Channel, msg.ChatID, outMeta),
	})

	d.bus.PublishEvent(bus.Event{
		Name: protocol.EventAgent,
		Type: protocol.AgentEventRunCompleted,
		Key:  key,
	})
}

// deliverer publishes payloads for one conversation, paced by the outbound
// rate limiter.
func (d *Dispatcher) deliverer(channel, chatID string, meta map[string]string) agent.Deliverer {
	return func(p agent.ReplyPayload) error {
		if err := d.limiter.Wait(d.context()); err != nil {
			return err
		}

		out := bus.OutboundMessage{
			Channel: channel,
			ChatID:  chatID,
			Content: p.Text,
		}
		if len(meta) > 0 || p.ReplyToID != "" || p.AudioAsVoice {
			out.Metadata = make(map[string]string, len(meta)+2)
			for k, v := range meta {
				out.Metadata[k] = v
			}
			if p.ReplyToID != "" {
				out.Metadata["reply_to_message_id"] = p.ReplyToID
			}
			if p.AudioAsVoice {
				out.Metadata["audio_as_voice"] = "true"
			}
		}
		if p.MediaURL != "" {
			out.Media = append(out.Media, bus.MediaAttachment{URL: p.MediaURL})
		}
		for _, u := range p.MediaURLs {
			out.Media = append(out.Media, bus.MediaAttachment{URL: u})
		}

		d.bus.PublishOutbound(out)
		return nil
	}
}

// TriggerHeartbeat admits one synthetic heartbeat run for the default
// agent. Skipped while a heartbeat run is still active.
func (d *Dispatcher) TriggerHeartbeat(prompt string) {
	agentID := d.cfg.ResolveDefaultAgentID()
	key := sessions.BuildHeartbeatSessionKey(agentID)

	if d.registry.Active(key) {
		slog.Debug("gateway: heartbeat skipped, previous run active", "key", key)
		return
	}

	channel := d.cfg.Heartbeat.Channel
	if channel == "" {
		channel = "heartbeat"
	}
	msg := bus.InboundMessage{
		Channel:  channel,
		ChatID:   d.cfg.Heartbeat.To,
		Content:  prompt,
		AgentID:  agentID,
		Metadata: map[string]string{"heartbeat": "true"},
	}
	req := queue.Request{Msg: msg, EnqueuedAt: time.Now()}

	adm := d.registry.Admit(key, req, queue.Settings{Mode: queue.ModeFollowup})
	if adm.Decision == queue.StartNow {
		d.bus.PublishEvent(bus.Event{Name: protocol.EventHeartbeat, Key: key})
		go d.startRun(key, req, adm)
	}
}
