package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session holds per-conversation metadata. Conversation history lives in the
// runtime's transcript file identified by SessionID; the store never reads it.
type Session struct {
	SessionID     string    `json:"sessionId"`
	UpdatedAt     time.Time `json:"updatedAt"`
	ModelProvider string    `json:"modelProvider,omitempty"`
	Model         string    `json:"model,omitempty"`
	InputTokens   int64     `json:"inputTokens,omitempty"`
	OutputTokens  int64     `json:"outputTokens,omitempty"`
	TotalTokens   int64     `json:"totalTokens,omitempty"`
	ContextTokens int64     `json:"contextTokens,omitempty"`
	VerboseLevel  string    `json:"verboseLevel,omitempty"` // "on" or "off"

	CompactionCount int `json:"compactionCount,omitempty"`

	// Set when a group conversation was activated mid-thread and the next
	// run must replay the system intro.
	GroupActivationNeedsSystemIntro bool `json:"groupActivationNeedsSystemIntro,omitempty"`
}

// Usage carries token counts from a completed run.
type Usage struct {
	InputTokens   int64
	OutputTokens  int64
	TotalTokens   int64
	ContextTokens int64
}

// Store maps conversation keys to session metadata and persists the whole
// map as one JSON file with write-then-rename atomicity.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Session
	dir     string // storage directory; "" disables persistence
}

const storeFilename = "sessions.json"

// NewStore opens (or initializes) the session store under dir.
// A corrupt or missing file yields an empty store, never an error: losing
// metadata is recoverable, refusing to start is not.
func NewStore(dir string) *Store {
	s := &Store{
		entries: make(map[string]*Session),
		dir:     dir,
	}
	if dir == "" {
		return s
	}
	os.MkdirAll(dir, 0755)
	data, err := os.ReadFile(filepath.Join(dir, storeFilename))
	if err != nil {
		return s
	}
	var m map[string]*Session
	if err := json.Unmarshal(data, &m); err != nil {
		return s
	}
	s.entries = m
	if s.entries == nil {
		s.entries = make(map[string]*Session)
	}
	return s
}

// Get returns a copy of the session for key.
func (s *Store) Get(key string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Session{}, false
	}
	return *e, true
}

// GetOrCreate returns the session for key, lazily minting one with a fresh
// session ID. The store never deletes entries on its own.
func (s *Store) GetOrCreate(key string) Session {
	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		out := *e
		s.mu.Unlock()
		return out
	}
	e := &Session{
		SessionID:    uuid.NewString(),
		UpdatedAt:    time.Now(),
		VerboseLevel: "off",
	}
	s.entries[key] = e
	out := *e
	s.mu.Unlock()
	s.save()
	return out
}

// Update applies fn to the session for key (creating it if absent),
// refreshes UpdatedAt, and persists the store.
func (s *Store) Update(key string, fn func(*Session)) error {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &Session{SessionID: uuid.NewString(), VerboseLevel: "off"}
		s.entries[key] = e
	}
	fn(e)
	e.UpdatedAt = time.Now()
	s.mu.Unlock()
	return s.save()
}

// RecordUsage merges run results into the session. Token counters are
// overwritten only when the run reported usage; model identity and context
// size refresh regardless.
func (s *Store) RecordUsage(key, provider, model string, usage *Usage) error {
	return s.Update(key, func(e *Session) {
		if provider != "" {
			e.ModelProvider = provider
		}
		if model != "" {
			e.Model = model
		}
		if usage == nil {
			return
		}
		if usage.TotalTokens > 0 || usage.InputTokens > 0 || usage.OutputTokens > 0 {
			e.InputTokens = usage.InputTokens
			e.OutputTokens = usage.OutputTokens
			e.TotalTokens = usage.TotalTokens
			if e.TotalTokens == 0 {
				e.TotalTokens = usage.InputTokens + usage.OutputTokens
			}
		}
		if usage.ContextTokens > 0 {
			e.ContextTokens = usage.ContextTokens
		}
	})
}

// IncrementCompaction bumps the compaction counter.
func (s *Store) IncrementCompaction(key string) error {
	return s.Update(key, func(e *Session) {
		e.CompactionCount++
	})
}

// Delete drops the entry for key and persists. Used only by corruption
// recovery; normal operation never removes sessions.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return s.save()
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// TranscriptPath resolves the runtime transcript artifact for a session ID.
// Returns "" when persistence is disabled.
func (s *Store) TranscriptPath(sessionID string) string {
	if s.dir == "" || sessionID == "" {
		return ""
	}
	return filepath.Join(s.dir, "transcripts", sessionID+".jsonl")
}

// save writes the whole store atomically: temp file → fsync → rename.
func (s *Store) save() error {
	if s.dir == "" {
		return nil
	}

	s.mu.RLock()
	data, err := json.MarshalIndent(s.entries, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(s.dir, "sessions-*.tmp")
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, filepath.Join(s.dir, storeFilename)); err != nil {
		return err
	}
	cleanup = false
	return nil
}
