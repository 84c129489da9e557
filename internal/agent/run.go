package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yiliangbetter/openclaw/internal/fallback"
	"github.com/yiliangbetter/openclaw/internal/queue"
	"github.com/yiliangbetter/openclaw/internal/sessions"
	"github.com/yiliangbetter/openclaw/internal/typing"
)

// Executor is the model runtime boundary: it owns the transcript, tool loop,
// and provider calls. The orchestrator never touches conversation history.
type Executor interface {
	// Execute runs one agent turn. Hooks fire from the executor's goroutine
	// as output streams.
	Execute(ctx context.Context, req ExecRequest) (*ExecResult, error)

	// Inject pushes text into a live run (steer mode). Returns false when
	// the run cannot accept input, in which case the caller buffers it.
	Inject(sessionID, text string) bool
}

// ExecRequest describes one agent turn for the executor.
type ExecRequest struct {
	SessionID  string
	Prompt     string
	Media      []string
	Provider   string
	Model      string
	Workspace  string
	ThinkLevel string
	Heartbeat  bool
	Hooks      ExecHooks
}

// ExecHooks stream run output back to the orchestrator. All fields optional.
type ExecHooks struct {
	OnTextDelta      func(text string)
	OnReasoningDelta func(text string)
	OnToolStart      func(name string)
	OnBlockReply     func(p ReplyPayload)
}

// ExecResult is the completed turn.
type ExecResult struct {
	// Payloads is the final reply set. Blocks already streamed via
	// OnBlockReply may appear here again; the orchestrator dedups.
	Payloads []ReplyPayload

	// SentTexts were already delivered by the agent's own messaging tool
	// and must not be echoed again.
	SentTexts []string

	Usage           *sessions.Usage
	CompactionCount int
	StopReason      string
}

// Deliverer sends one payload to the conversation's channel.
type Deliverer func(p ReplyPayload) error

// RunOptions parameterizes one orchestrated turn.
type RunOptions struct {
	Key string
	Req queue.Request
	Adm queue.Admission

	// Candidates is the fallback ladder, primary first.
	Candidates []fallback.Candidate

	Workspace  string
	ThinkLevel string
	Timeout    time.Duration

	Heartbeat   bool
	MaxAckChars int

	Typing    *typing.Signaler
	Threading ThreadingMode
	ReplyToID string

	Deliver Deliverer
}

// Orchestrator drives single agent turns: streaming, delivery, session
// updates, and guaranteed queue release on every exit path.
type Orchestrator struct {
	executor Executor
	sessions *sessions.Store
	registry *queue.Registry
	coord    *fallback.Coordinator

	// onNext launches the run drained from the backlog when a turn
	// completes. Set once at wiring time.
	onNext func(key string, req queue.Request, adm queue.Admission)
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(executor Executor, store *sessions.Store, registry *queue.Registry, coord *fallback.Coordinator) *Orchestrator {
	return &Orchestrator{
		executor: executor,
		sessions: store,
		registry: registry,
		coord:    coord,
	}
}

// SetNextHook registers the drained-backlog launcher. Must be called before
// the first run.
func (o *Orchestrator) SetNextHook(fn func(key string, req queue.Request, adm queue.Admission)) {
	o.onNext = fn
}

// Run executes one agent turn for an admitted request. It blocks until the
// turn and all its deliveries finish. Cleanup (typing stop, queue release,
// backlog drain) happens on every exit path, including panics in hooks
// bubbling up as errors from the executor.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) {
	key := opts.Key
	gen := opts.Adm.Gen
	runID := uuid.NewString()[:8]

	sess := o.sessions.GetOrCreate(key)

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	o.registry.Bind(key, gen, cancel)

	sig := opts.Typing
	if sig == nil {
		sig = typing.NewSignaler(nil, typing.ModeNever, opts.Heartbeat)
	}

	var (
		mu        sync.Mutex
		delivered = make(map[string]bool)
		pending   []ReplyPayload
		sending   bool
		inflight  sync.WaitGroup
		injectOne sync.Once
	)
	thr := newThreader(opts.Threading, opts.ReplyToID)

	// deliver pushes one payload through sanitize → suppress → dedup →
	// thread → transport. The dedup key is taken before the threader stamps
	// ReplyToID, so a streamed block and its re-emitted final copy collapse
	// to one delivery. A single drainer goroutine sends the queue in order;
	// the run does not complete until it is empty.
	deliver := func(p ReplyPayload) {
		if opts.Heartbeat {
			text, skip := HeartbeatAck(p.Text, opts.MaxAckChars)
			if skip && p.MediaURL == "" && len(p.MediaURLs) == 0 {
				return
			}
			p.Text = text
		} else {
			p.Text = SanitizeReplyText(p.Text)
			if IsSilentReply(p.Text) && p.MediaURL == "" && len(p.MediaURLs) == 0 {
				return
			}
		}
		if !p.Renderable() {
			return
		}

		mu.Lock()
		k := p.DedupKey()
		if delivered[k] {
			mu.Unlock()
			return
		}
		delivered[k] = true
		p = thr.apply(p)
		mu.Unlock()

		// a superseded run must not keep talking
		if !o.registry.IsCurrent(key, gen) {
			return
		}

		mu.Lock()
		pending = append(pending, p)
		if sending {
			mu.Unlock()
			return
		}
		sending = true
		mu.Unlock()

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			for {
				mu.Lock()
				if len(pending) == 0 {
					sending = false
					mu.Unlock()
					return
				}
				next := pending[0]
				pending = pending[1:]
				mu.Unlock()

				if err := opts.Deliver(next); err != nil {
					slog.Warn("run: payload delivery failed",
						"run_id", runID, "key", key, "error", err)
					continue
				}
				sig.BlockDelivered()
			}
		}()
	}

	defer func() {
		cancel()
		o.registry.ClearInjector(key, gen)
		inflight.Wait()
		sig.RunCompleted()
		if next, adm, ok := o.registry.Complete(key, gen); ok {
			if o.onNext != nil {
				go o.onNext(key, next, adm)
			} else {
				slog.Error("run: drained backlog entry with no launcher", "key", key)
			}
		}
	}()

	registerInjector := func() {
		injectOne.Do(func() {
			sessionID := sess.SessionID
			o.registry.SetInjector(key, gen, func(text string) bool {
				return o.executor.Inject(sessionID, text)
			})
		})
	}

	hooks := ExecHooks{
		OnTextDelta: func(text string) {
			registerInjector()
			sig.TextDelta(text)
		},
		OnReasoningDelta: func(text string) {
			registerInjector()
			sig.ReasoningDelta()
		},
		OnToolStart: func(name string) {
			sig.ToolStarted()
		},
		OnBlockReply: func(p ReplyPayload) {
			registerInjector()
			deliver(p)
		},
	}

	slog.Info("run: started",
		"run_id", runID,
		"key", key,
		"gen", gen,
		"heartbeat", opts.Heartbeat,
		"queue_decision", opts.Adm.Decision.String(),
	)
	sig.RunStarted()

	var result *ExecResult
	winner, err := o.coord.Run(runCtx, opts.Candidates, func(ctx context.Context, cand fallback.Candidate) error {
		res, execErr := o.executor.Execute(ctx, ExecRequest{
			SessionID:  sess.SessionID,
			Prompt:     opts.Req.Msg.Content,
			Media:      opts.Req.Msg.Media,
			Provider:   cand.Provider,
			Model:      cand.Model,
			Workspace:  opts.Workspace,
			ThinkLevel: opts.ThinkLevel,
			Heartbeat:  opts.Heartbeat,
			Hooks:      hooks,
		})
		if execErr != nil {
			return execErr
		}
		result = res
		return nil
	})

	if err != nil {
		o.finishFailed(key, gen, runID, sess, err, opts, deliver)
		return
	}

	o.finishCompleted(key, runID, sess, winner, result, opts, deliver)
}

// finishFailed maps a run failure to a user-facing payload, handling
// interruption and session corruption. Timeouts take the same path as any
// other provider failure.
func (o *Orchestrator) finishFailed(key string, gen uint64, runID string, sess sessions.Session, err error, opts RunOptions, deliver func(ReplyPayload)) {
	// cancelled runs exit silently: either an interrupt superseded this
	// run and the replacement owns the conversation now, or the gateway
	// is shutting down
	if errors.Is(err, context.Canceled) {
		slog.Info("run: cancelled", "run_id", runID, "key", key,
			"superseded", !o.registry.IsCurrent(key, gen))
		return
	}

	if IsSessionCorruption(err) {
		slog.Error("run: session corrupted, resetting", "run_id", runID, "key", key, "error", err)
		o.resetCorrupted(key, sess)
		if !opts.Heartbeat {
			deliver(ReplyPayload{Text: CorruptionApology})
		}
		return
	}

	slog.Error("run: failed", "run_id", runID, "key", key, "error", err)
	if !opts.Heartbeat {
		deliver(ReplyPayload{Text: FormatUserError(err)})
	}
}

// resetCorrupted drops the transcript artifact and the store entry so the
// next message starts a clean session.
func (o *Orchestrator) resetCorrupted(key string, sess sessions.Session) {
	if path := o.sessions.TranscriptPath(sess.SessionID); path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("run: transcript removal failed", "path", path, "error", err)
		}
	}
	if err := o.sessions.Delete(key); err != nil {
		slog.Warn("run: session delete failed", "key", key, "error", err)
	}
}

// finishCompleted reconciles final payloads against streamed blocks and
// messaging-tool sends, updates session metadata, and emits the compaction
// notice when verbose.
func (o *Orchestrator) finishCompleted(key, runID string, sess sessions.Session, winner fallback.Candidate, result *ExecResult, opts RunOptions, deliver func(ReplyPayload)) {
	if result == nil {
		result = &ExecResult{}
	}

	if err := o.sessions.RecordUsage(key, winner.Provider, winner.Model, result.Usage); err != nil {
		slog.Warn("run: session usage update failed", "key", key, "error", err)
	}

	verbose := sess.VerboseLevel == "on"
	if result.CompactionCount > sess.CompactionCount {
		if err := o.sessions.Update(key, func(e *sessions.Session) {
			e.CompactionCount = result.CompactionCount
		}); err != nil {
			slog.Warn("run: compaction count update failed", "key", key, "error", err)
		}
		if verbose && !opts.Heartbeat {
			deliver(ReplyPayload{Text: "Context was automatically compacted to stay within the model's window."})
		}
	}

	for _, p := range result.Payloads {
		if sentByMessagingTool(p, result.SentTexts) {
			continue
		}
		deliver(p)
	}

	var usageTokens int64
	if result.Usage != nil {
		usageTokens = result.Usage.TotalTokens
	}
	slog.Info("run: completed",
		"run_id", runID,
		"key", key,
		"model", winner.String(),
		"payloads", len(result.Payloads),
		"total_tokens", usageTokens,
	)
}

// sentByMessagingTool reports whether a text-only payload duplicates
// something the agent already pushed through its messaging tool.
func sentByMessagingTool(p ReplyPayload, sent []string) bool {
	if p.MediaURL != "" || len(p.MediaURLs) > 0 {
		return false
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return false
	}
	for _, s := range sent {
		if strings.TrimSpace(s) == text {
			return true
		}
	}
	return false
}
