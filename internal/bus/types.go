package bus

import "context"

// InboundMessage represents a message received from a channel transport.
// Transports push these onto the bus; the gateway dispatcher consumes them.
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []string          `json:"media,omitempty"`
	PeerKind string            `json:"peer_kind,omitempty"` // "direct" or "group" (used for session key)
	AgentID  string            `json:"agent_id,omitempty"`  // target agent (for multi-agent routing)
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []MediaAttachment `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"` // channel-specific metadata
}

// MediaAttachment represents a media file to be sent with a message.
type MediaAttachment struct {
	URL         string `json:"url"`                    // file path or URL
	ContentType string `json:"content_type,omitempty"` // MIME type (e.g. "image/jpeg")
	Caption     string `json:"caption,omitempty"`
}

// Event is an engine lifecycle notification. Name and Type use the
// pkg/protocol constants; Key identifies the conversation when relevant.
type Event struct {
	Name string            `json:"name"`
	Type string            `json:"type,omitempty"`
	Key  string            `json:"key,omitempty"`
	Data map[string]string `json:"data,omitempty"`
}

// MessageRouter abstracts inbound/outbound message routing between channel
// transports and the run engine.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
