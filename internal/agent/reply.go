package agent

import (
	"strings"
)

// ReplyPayload is one deliverable unit of agent output: a text block and/or
// media, optionally threaded onto the triggering message.
type ReplyPayload struct {
	Text         string
	MediaURL     string
	MediaURLs    []string
	ReplyToID    string
	AudioAsVoice bool
}

// HeartbeatToken is the reserved ack a heartbeat prompt asks the agent to
// reply with when nothing needs attention.
const HeartbeatToken = "HEARTBEAT_OK"

// DefaultMaxAckChars bounds the text kept around a stripped heartbeat token.
const DefaultMaxAckChars = 300

// StripHeartbeatToken removes the ack token from the edges of text.
// Idempotent: output never contains a leading or trailing token, so a second
// pass is a no-op. Interior occurrences are left alone (quoting the token is
// legitimate content).
func StripHeartbeatToken(text string) string {
	trimmed := strings.TrimSpace(text)
	for {
		next := trimmed
		next = strings.TrimSpace(strings.TrimPrefix(next, HeartbeatToken))
		next = strings.TrimSpace(strings.TrimSuffix(next, HeartbeatToken))
		if next == trimmed {
			return trimmed
		}
		trimmed = next
	}
}

// HeartbeatAck collapses a heartbeat reply for delivery. When the token was
// present, any leftover text within maxAckChars is treated as ack chatter
// and suppressed with it; longer leftovers are a real alert and survive.
// Returns (text, suppress).
func HeartbeatAck(text string, maxAckChars int) (string, bool) {
	if maxAckChars <= 0 {
		maxAckChars = DefaultMaxAckChars
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", true
	}
	if !strings.Contains(trimmed, HeartbeatToken) {
		return trimmed, false
	}
	stripped := StripHeartbeatToken(trimmed)
	if stripped == trimmed {
		// token only in the interior: legitimate content
		return trimmed, false
	}
	if stripped == "" || len(stripped) <= maxAckChars {
		return "", true
	}
	return stripped, false
}

// Renderable reports whether the payload still carries anything worth
// sending after sanitization.
func (p ReplyPayload) Renderable() bool {
	if strings.TrimSpace(p.Text) != "" {
		return true
	}
	if p.MediaURL != "" {
		return true
	}
	return len(p.MediaURLs) > 0
}

// DedupKey identifies a payload for streamed-vs-final reconciliation:
// a block already delivered during streaming must not be re-sent from the
// final payload list.
func (p ReplyPayload) DedupKey() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Text))
	b.WriteString("\x1f")
	b.WriteString(p.MediaURL)
	for _, u := range p.MediaURLs {
		b.WriteString("\x1f")
		b.WriteString(u)
	}
	b.WriteString("\x1f")
	b.WriteString(p.ReplyToID)
	return b.String()
}

// ThreadingMode controls which payloads get a reply-to reference.
type ThreadingMode string

const (
	ThreadOff   ThreadingMode = "off"   // never thread
	ThreadFirst ThreadingMode = "first" // only the first delivered payload
	ThreadAll   ThreadingMode = "all"   // every payload
)

// ParseThreadingMode maps a config string to a ThreadingMode, defaulting
// to off.
func ParseThreadingMode(s string) ThreadingMode {
	switch ThreadingMode(s) {
	case ThreadFirst, ThreadAll:
		return ThreadingMode(s)
	default:
		return ThreadOff
	}
}

// threader stamps ReplyToID per the threading mode across one run.
// Not safe for concurrent use; the orchestrator serializes deliveries.
type threader struct {
	mode      ThreadingMode
	replyToID string
	used      bool
}

func newThreader(mode ThreadingMode, replyToID string) *threader {
	return &threader{mode: mode, replyToID: replyToID}
}

func (t *threader) apply(p ReplyPayload) ReplyPayload {
	switch t.mode {
	case ThreadAll:
		p.ReplyToID = t.replyToID
	case ThreadFirst:
		if !t.used {
			p.ReplyToID = t.replyToID
		} else {
			p.ReplyToID = ""
		}
	default:
		p.ReplyToID = ""
	}
	t.used = true
	return p
}
