package bus

import (
	"context"
	"log/slog"
)

// MessageBus routes messages between channel transports and the run engine
// over buffered channels. Publish never blocks: when a queue is full the
// message is dropped with a warning, since a stalled transport must not
// wedge the whole gateway.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	events   chan Event
}

const defaultQueueSize = 256

// NewMessageBus creates a bus with the given queue size per direction.
// size <= 0 uses the default.
func NewMessageBus(size int) *MessageBus {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, size),
		outbound: make(chan OutboundMessage, size),
		events:   make(chan Event, size),
	}
}

// PublishInbound enqueues a message from a channel transport.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("bus: inbound queue full, dropping message",
			"channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

// ConsumeInbound blocks until a message arrives or ctx is done.
// Returns ok=false on shutdown.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues a message for delivery to a channel.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("bus: outbound queue full, dropping message",
			"channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

// SubscribeOutbound blocks until an outbound message is available or ctx is
// done. Returns ok=false on shutdown.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// PublishEvent enqueues an engine lifecycle event. Dropped silently when no
// subscriber keeps up; events are advisory, not load-bearing.
func (b *MessageBus) PublishEvent(ev Event) {
	select {
	case b.events <- ev:
	default:
	}
}

// SubscribeEvents blocks until an event is available or ctx is done.
// Returns ok=false on shutdown.
func (b *MessageBus) SubscribeEvents(ctx context.Context) (Event, bool) {
	select {
	case ev := <-b.events:
		return ev, true
	case <-ctx.Done():
		return Event{}, false
	}
}
