package bus

import (
	"strings"
	"sync"
	"time"
)

// InboundDebouncer merges rapid consecutive messages from the same
// conversation before they reach admission. Each new message restarts the
// quiet window; when it elapses the merged message is flushed.
//
// Messages with media, or from distinct senders, flush the pending entry
// immediately instead of merging across authors.
type InboundDebouncer struct {
	mu      sync.Mutex
	window  time.Duration
	flush   func(InboundMessage)
	pending map[string]*debounceEntry
	stopped bool
}

type debounceEntry struct {
	msg   InboundMessage
	timer *time.Timer
}

// NewInboundDebouncer creates a debouncer flushing merged messages to fn.
func NewInboundDebouncer(window time.Duration, fn func(InboundMessage)) *InboundDebouncer {
	return &InboundDebouncer{
		window:  window,
		flush:   fn,
		pending: make(map[string]*debounceEntry),
	}
}

// Push adds a message. It flushes synchronously when debouncing does not
// apply (zero window, media attachments), otherwise schedules the merge.
func (d *InboundDebouncer) Push(msg InboundMessage) {
	if d.window <= 0 || len(msg.Media) > 0 {
		d.flushPendingFor(msg)
		d.flush(msg)
		return
	}

	key := msg.Channel + "|" + msg.ChatID + "|" + msg.SenderID

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.flush(msg)
		return
	}
	if e, ok := d.pending[key]; ok {
		e.msg.Content = mergeContent(e.msg.Content, msg.Content)
		// keep newest metadata so reply-to targets the latest message
		e.msg.Metadata = msg.Metadata
		e.timer.Reset(d.window)
		d.mu.Unlock()
		return
	}
	e := &debounceEntry{msg: msg}
	e.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		cur, ok := d.pending[key]
		if !ok || cur != e {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()
		d.flush(cur.msg)
	})
	d.pending[key] = e
	d.mu.Unlock()
}

// flushPendingFor flushes any pending entry for the same conversation so a
// media message does not overtake text queued before it.
func (d *InboundDebouncer) flushPendingFor(msg InboundMessage) {
	key := msg.Channel + "|" + msg.ChatID + "|" + msg.SenderID

	d.mu.Lock()
	e, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
		e.timer.Stop()
	}
	d.mu.Unlock()

	if ok {
		d.flush(e.msg)
	}
}

// Stop flushes everything pending and rejects further merging.
func (d *InboundDebouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	entries := make([]*debounceEntry, 0, len(d.pending))
	for k, e := range d.pending {
		e.timer.Stop()
		entries = append(entries, e)
		delete(d.pending, k)
	}
	d.mu.Unlock()

	for _, e := range entries {
		d.flush(e.msg)
	}
}

func mergeContent(a, b string) string {
	a = strings.TrimRight(a, "\n")
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "\n" + b
}
