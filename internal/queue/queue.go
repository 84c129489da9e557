// Package queue serializes agent runs per conversation. Exactly one run may
// be active for a conversation key; messages arriving while a run is active
// are steered into it, buffered, or replace it, depending on the queue mode.
package queue

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yiliangbetter/openclaw/internal/bus"
)

// Mode selects what happens to a message that arrives mid-run.
type Mode string

const (
	ModeSteer            Mode = "steer"         // inject into the live run, else buffer
	ModeFollowup         Mode = "followup"      // buffer, run after the active run
	ModeCollect          Mode = "collect"       // debounce-merge, run as one turn
	ModeSteerBacklog     Mode = "steer-backlog" // inject, else buffer
	ModeSteerPlusBacklog Mode = "steer+backlog" // accepted alias of steer-backlog
	ModeQueue            Mode = "queue"         // accepted alias of followup
	ModeInterrupt        Mode = "interrupt"     // cancel the active run, start fresh
)

// DropPolicy selects the victim when the backlog is at cap.
type DropPolicy string

const (
	DropOld       DropPolicy = "old"       // evict the oldest entry
	DropNew       DropPolicy = "new"       // reject the incoming message
	DropSummarize DropPolicy = "summarize" // merge everything into one entry
)

// Settings is the resolved queue policy for one conversation.
type Settings struct {
	Mode     Mode
	Cap      int
	Drop     DropPolicy
	Debounce time.Duration
}

const (
	defaultCap      = 20
	defaultDebounce = time.Second

	// queuedMarker prefixes a summarize-merged prompt so the agent knows it
	// is reading several collapsed messages.
	queuedMarker = "(queued messages)"
)

func (s Settings) normalized() Settings {
	switch s.Mode {
	case ModeSteer, ModeFollowup, ModeCollect, ModeSteerBacklog,
		ModeSteerPlusBacklog, ModeQueue, ModeInterrupt:
	default:
		s.Mode = ModeFollowup
	}
	if s.Cap <= 0 {
		s.Cap = defaultCap
	}
	switch s.Drop {
	case DropOld, DropNew, DropSummarize:
	default:
		s.Drop = DropOld
	}
	if s.Debounce <= 0 {
		s.Debounce = defaultDebounce
	}
	return s
}

// Request is one unit of queued work: the (possibly merged) inbound message
// that will become a run prompt.
type Request struct {
	Msg        bus.InboundMessage
	EnqueuedAt time.Time
}

// Decision is the admission outcome.
type Decision int

const (
	StartNow Decision = iota // caller must start a run immediately
	Injected                 // steered into the live run
	Enqueued                 // buffered for later
	Dropped                  // rejected by the drop policy
	Interrupted              // active run cancelled; caller starts fresh
)

func (d Decision) String() string {
	switch d {
	case StartNow:
		return "start"
	case Injected:
		return "injected"
	case Enqueued:
		return "enqueued"
	case Dropped:
		return "dropped"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Admission pairs a decision with the run generation it refers to. The
// generation fences stale runs: after an interrupt, callbacks and cleanup
// from the superseded run no longer match and are ignored.
type Admission struct {
	Decision Decision
	Gen      uint64
}

// StartFunc launches a run for a request admitted outside Admit (a collect
// buffer that fired while the conversation was idle).
type StartFunc func(key string, req Request, adm Admission)

type convState struct {
	active   bool
	gen      uint64
	cancel   context.CancelFunc
	injector func(text string) bool
	backlog  []Request
	settings Settings
	collect  *collectBuffer
}

type collectBuffer struct {
	timer *time.Timer
	parts []string
	base  Request
}

// Registry is the per-conversation admission gate. One registry serves the
// whole process; entries are pruned when a conversation goes idle.
type Registry struct {
	mu      sync.Mutex
	states  map[string]*convState
	onStart StartFunc
}

// NewRegistry creates a registry. onStart may be nil if collect mode is
// never configured.
func NewRegistry(onStart StartFunc) *Registry {
	return &Registry{
		states:  make(map[string]*convState),
		onStart: onStart,
	}
}

// Admit decides what to do with a message for key. A StartNow or Interrupted
// decision atomically claims the active slot; the caller must start the run.
func (r *Registry) Admit(key string, req Request, settings Settings) Admission {
	settings = settings.normalized()
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now()
	}

	r.mu.Lock()
	st, ok := r.states[key]
	if !ok {
		st = &convState{}
		r.states[key] = st
	}
	st.settings = settings

	if !st.active {
		st.active = true
		st.gen++
		adm := Admission{StartNow, st.gen}
		r.mu.Unlock()
		return adm
	}

	switch settings.Mode {
	case ModeInterrupt:
		cancel := st.cancel
		st.cancel = nil
		st.injector = nil
		st.backlog = nil
		if st.collect != nil {
			st.collect.timer.Stop()
			st.collect = nil
		}
		st.gen++
		adm := Admission{Interrupted, st.gen}
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return adm

	case ModeSteer, ModeSteerBacklog, ModeSteerPlusBacklog:
		if inj := st.injector; inj != nil {
			gen := st.gen
			r.mu.Unlock()
			if inj(req.Msg.Content) {
				return Admission{Injected, gen}
			}
			// injection refused; fall back to buffering
			r.mu.Lock()
			st, ok = r.states[key]
			if !ok {
				st = &convState{settings: settings}
				r.states[key] = st
			}
			if !st.active {
				st.active = true
				st.gen++
				adm := Admission{StartNow, st.gen}
				r.mu.Unlock()
				return adm
			}
		}
		adm := Admission{r.appendBounded(st, req), st.gen}
		r.mu.Unlock()
		return adm

	case ModeCollect:
		r.collectLocked(key, st, req)
		adm := Admission{Enqueued, st.gen}
		r.mu.Unlock()
		return adm

	default: // followup, queue
		adm := Admission{r.appendBounded(st, req), st.gen}
		r.mu.Unlock()
		return adm
	}
}

// appendBounded buffers req, applying the drop policy at cap. Caller holds mu.
func (r *Registry) appendBounded(st *convState, req Request) Decision {
	if len(st.backlog) < st.settings.Cap {
		st.backlog = append(st.backlog, req)
		return Enqueued
	}
	switch st.settings.Drop {
	case DropNew:
		return Dropped
	case DropSummarize:
		parts := make([]string, 0, len(st.backlog)+1)
		for _, q := range st.backlog {
			parts = append(parts, strings.TrimPrefix(q.Msg.Content, queuedMarker+"\n"))
		}
		parts = append(parts, req.Msg.Content)
		merged := req
		merged.Msg.Content = queuedMarker + "\n" + mergeParts(parts)
		merged.EnqueuedAt = st.backlog[0].EnqueuedAt
		st.backlog = []Request{merged}
		return Enqueued
	default: // old
		st.backlog = append(st.backlog[1:], req)
		return Enqueued
	}
}

// collectLocked merges req into the collect buffer and restarts the quiet
// window. Caller holds mu.
func (r *Registry) collectLocked(key string, st *convState, req Request) {
	if st.collect != nil {
		st.collect.parts = append(st.collect.parts, req.Msg.Content)
		st.collect.base = req
		st.collect.timer.Reset(st.settings.Debounce)
		return
	}
	cb := &collectBuffer{parts: []string{req.Msg.Content}, base: req}
	cb.timer = time.AfterFunc(st.settings.Debounce, func() {
		r.flushCollect(key, cb)
	})
	st.collect = cb
}

// flushCollect fires when a collect buffer's quiet window elapses. If a run
// is still active the merged request joins the backlog; otherwise it starts
// immediately via onStart.
func (r *Registry) flushCollect(key string, cb *collectBuffer) {
	r.mu.Lock()
	st, ok := r.states[key]
	if !ok || st.collect != cb {
		r.mu.Unlock()
		return
	}
	st.collect = nil

	merged := cb.base
	merged.Msg.Content = mergeParts(cb.parts)

	if st.active {
		d := r.appendBounded(st, merged)
		r.mu.Unlock()
		if d == Dropped {
			slog.Warn("queue: collect buffer dropped at cap", "key", key)
		}
		return
	}

	st.active = true
	st.gen++
	adm := Admission{StartNow, st.gen}
	onStart := r.onStart
	r.mu.Unlock()

	if onStart != nil {
		onStart(key, merged, adm)
	} else {
		slog.Warn("queue: collect flush with no start hook", "key", key)
	}
}

// Bind attaches the run's cancel function so a later interrupt can stop it.
// Ignored if gen is stale.
func (r *Registry) Bind(key string, gen uint64, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[key]; ok && st.gen == gen && st.active {
		st.cancel = cancel
	}
}

// SetInjector registers the live run's steer side-channel. fn must return
// whether the injection was accepted. Ignored if gen is stale.
func (r *Registry) SetInjector(key string, gen uint64, fn func(text string) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[key]; ok && st.gen == gen && st.active {
		st.injector = fn
	}
}

// ClearInjector removes the steer side-channel once the run stops streaming.
func (r *Registry) ClearInjector(key string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[key]; ok && st.gen == gen {
		st.injector = nil
	}
}

// IsCurrent reports whether gen is still the live generation for key.
// Superseded runs use this to mute their remaining callbacks.
func (r *Registry) IsCurrent(key string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[key]
	return ok && st.gen == gen
}

// Complete releases the active slot for a finished run and drains the next
// backlog entry, if any, atomically claiming the slot for it. A stale gen
// (the run was interrupted) is a no-op. When the conversation goes fully
// idle its state is pruned.
func (r *Registry) Complete(key string, gen uint64) (Request, Admission, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[key]
	if !ok || st.gen != gen {
		return Request{}, Admission{}, false
	}
	st.cancel = nil
	st.injector = nil

	if len(st.backlog) > 0 {
		next := st.backlog[0]
		st.backlog = st.backlog[1:]
		st.gen++
		return next, Admission{StartNow, st.gen}, true
	}

	st.active = false
	if st.collect == nil {
		delete(r.states, key)
	}
	return Request{}, Admission{}, false
}

// Release abandons the active slot for a run that will never execute (the
// gateway shut down before a concurrency slot was acquired), discarding the
// backlog and collect buffer with it. A stale gen is a no-op.
func (r *Registry) Release(key string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[key]
	if !ok || st.gen != gen {
		return
	}
	if st.collect != nil {
		st.collect.timer.Stop()
	}
	delete(r.states, key)
}

// Stop cancels the active run for key (if any), discards its backlog and
// collect buffer, and releases the conversation. The stopped run's cleanup
// sees a stale generation and exits quietly. Returns whether a run was
// active.
func (r *Registry) Stop(key string) bool {
	r.mu.Lock()
	st, ok := r.states[key]
	if !ok {
		r.mu.Unlock()
		return false
	}
	active := st.active
	cancel := st.cancel
	if st.collect != nil {
		st.collect.timer.Stop()
	}
	delete(r.states, key)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return active
}

// Active reports whether a run is active for key.
func (r *Registry) Active(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[key]
	return ok && st.active
}

// Backlog returns the buffered entry count for key.
func (r *Registry) Backlog(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[key]; ok {
		return len(st.backlog)
	}
	return 0
}

func mergeParts(parts []string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}
