package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yiliangbetter/openclaw/internal/agent"
	"github.com/yiliangbetter/openclaw/internal/sessions"
)

// Executor implements agent.Executor on top of the provider registry, with
// conversation history persisted as a JSONL transcript per session.
type Executor struct {
	registry      *Registry
	transcriptDir string
	maxTokens     int

	// one writer per transcript at a time
	mu sync.Mutex
}

// NewExecutor creates a transcript-backed executor. transcriptDir may be ""
// to keep history in memory of the provider call only (stateless turns).
func NewExecutor(registry *Registry, transcriptDir string) *Executor {
	if transcriptDir != "" {
		os.MkdirAll(transcriptDir, 0755)
	}
	return &Executor{
		registry:      registry,
		transcriptDir: transcriptDir,
		maxTokens:     defaultMaxTokens,
	}
}

type transcriptLine struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Execute runs one chat turn: replay transcript, stream the model call,
// append the exchange. The transcript is only extended after a successful
// call, so failed turns leave history intact.
func (e *Executor) Execute(ctx context.Context, req agent.ExecRequest) (*agent.ExecResult, error) {
	provider, err := e.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	history, err := e.loadTranscript(req.SessionID)
	if err != nil {
		return nil, err
	}

	prompt := req.Prompt
	for _, m := range req.Media {
		prompt += "\n[media] " + m
	}

	messages := append(history, Message{Role: "user", Content: prompt})

	resp, err := provider.ChatStream(ctx, ChatRequest{
		Messages:  messages,
		Model:     req.Model,
		MaxTokens: e.maxTokens,
		Thinking:  req.ThinkLevel != "" && req.ThinkLevel != "off",
	}, func(chunk StreamChunk) {
		if chunk.Content != "" && req.Hooks.OnTextDelta != nil {
			req.Hooks.OnTextDelta(chunk.Content)
		}
		if chunk.Thinking != "" && req.Hooks.OnReasoningDelta != nil {
			req.Hooks.OnReasoningDelta(chunk.Thinking)
		}
	})
	if err != nil {
		return nil, err
	}

	if err := e.appendTranscript(req.SessionID,
		transcriptLine{Role: "user", Content: prompt, At: time.Now()},
		transcriptLine{Role: "assistant", Content: resp.Content, At: time.Now()},
	); err != nil {
		return nil, fmt.Errorf("transcript append: %w", err)
	}

	result := &agent.ExecResult{
		StopReason: resp.FinishReason,
	}
	if text := strings.TrimSpace(resp.Content); text != "" {
		result.Payloads = []agent.ReplyPayload{{Text: text}}
	}
	if resp.Usage != nil {
		result.Usage = &sessions.Usage{
			InputTokens:   resp.Usage.InputTokens,
			OutputTokens:  resp.Usage.OutputTokens,
			TotalTokens:   resp.Usage.total(),
			ContextTokens: resp.Usage.InputTokens,
		}
	}
	return result, nil
}

// Inject declines steer injections: a single-shot chat turn has no
// mid-run input channel, so steered messages fall back to the backlog.
func (e *Executor) Inject(sessionID, text string) bool {
	return false
}

func (e *Executor) transcriptPath(sessionID string) string {
	if e.transcriptDir == "" || sessionID == "" {
		return ""
	}
	return filepath.Join(e.transcriptDir, sessionID+".jsonl")
}

func (e *Executor) loadTranscript(sessionID string) ([]Message, error) {
	path := e.transcriptPath(sessionID)
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var line transcriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		out = append(out, Message{Role: line.Role, Content: line.Content})
	}
	return out, scanner.Err()
}

func (e *Executor) appendTranscript(sessionID string, lines ...transcriptLine) error {
	path := e.transcriptPath(sessionID)
	if path == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, line := range lines {
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return w.Flush()
}
