// Package typing drives channel typing indicators from run lifecycle events.
package typing

import "sync"

// Mode selects when the typing indicator starts.
type Mode string

const (
	ModeNever    Mode = "never"    // no signals at all
	ModeInstant  Mode = "instant"  // start as soon as the run starts
	ModeThinking Mode = "thinking" // start on the first reasoning delta
	ModeMessage  Mode = "message"  // start on the first non-empty text
)

// ParseMode maps a config string to a Mode, defaulting to instant.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeNever, ModeInstant, ModeThinking, ModeMessage:
		return Mode(s)
	default:
		return ModeInstant
	}
}

// Controller is the channel-side typing surface. Implementations own the
// transport-specific refresh cadence and TTL.
type Controller interface {
	StartTyping()
	RefreshTyping()
	StopTyping()
}

// Signaler translates run events into typing signals for one run.
// Heartbeat runs force never regardless of the configured mode.
type Signaler struct {
	mu      sync.Mutex
	ctrl    Controller
	mode    Mode
	off     bool
	started bool
}

// NewSignaler creates a signaler for a single run. ctrl may be nil for
// channels without a typing surface.
func NewSignaler(ctrl Controller, mode Mode, heartbeat bool) *Signaler {
	return &Signaler{
		ctrl: ctrl,
		mode: mode,
		off:  ctrl == nil || mode == ModeNever || heartbeat,
	}
}

// RunStarted signals the beginning of the run.
func (s *Signaler) RunStarted() {
	if s.off {
		return
	}
	if s.mode == ModeInstant {
		s.start()
	}
}

// ReasoningDelta signals a streamed reasoning fragment. In thinking mode the
// first one starts the indicator; afterwards it only refreshes.
func (s *Signaler) ReasoningDelta() {
	if s.off {
		return
	}
	if s.mode == ModeThinking {
		s.start()
		return
	}
	s.refreshIfStarted()
}

// TextDelta signals a streamed text fragment. In message mode the first
// non-empty one starts the indicator.
func (s *Signaler) TextDelta(text string) {
	if s.off {
		return
	}
	if s.mode == ModeMessage && text != "" {
		s.start()
		return
	}
	s.refreshIfStarted()
}

// BlockDelivered signals a completed reply block. Counts as text for
// message mode.
func (s *Signaler) BlockDelivered() {
	if s.off {
		return
	}
	if s.mode == ModeMessage {
		s.start()
		return
	}
	s.refreshIfStarted()
}

// ToolStarted starts or refreshes the indicator. A long first tool call
// must show typing even before any streamed output.
func (s *Signaler) ToolStarted() {
	if s.off {
		return
	}
	s.start()
}

// RunCompleted stops the indicator. Safe to call on every exit path.
func (s *Signaler) RunCompleted() {
	if s.off {
		return
	}
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if started {
		s.ctrl.StopTyping()
	}
}

func (s *Signaler) start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.ctrl.RefreshTyping()
		return
	}
	s.started = true
	s.mu.Unlock()
	s.ctrl.StartTyping()
}

func (s *Signaler) refreshIfStarted() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		s.ctrl.RefreshTyping()
	}
}
