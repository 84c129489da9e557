package protocol

// Engine event names published on the internal bus.
const (
	EventAgent     = "agent"
	EventChat      = "chat"
	EventHealth    = "health"
	EventHeartbeat = "heartbeat"
	EventShutdown  = "shutdown"
)

// Agent event subtypes (in payload.type)
const (
	AgentEventRunStarted     = "run.started"
	AgentEventRunCompleted   = "run.completed"
	AgentEventRunFailed      = "run.failed"
	AgentEventRunRetrying    = "run.retrying"
	AgentEventRunInterrupted = "run.interrupted"
	AgentEventToolCall       = "tool.call"
	AgentEventToolResult     = "tool.result"
	AgentEventCompaction     = "compaction"
)

// Chat event subtypes (in payload.type)
const (
	ChatEventChunk    = "chunk"
	ChatEventMessage  = "message"
	ChatEventThinking = "thinking"
)
