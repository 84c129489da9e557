package fallback

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Backoff tunes the cooldown ladder: BaseHours * 2^(failures-1), capped at
// MaxHours. Failures older than WindowHours reset the counter.
type Backoff struct {
	BaseHours   float64
	MaxHours    float64
	WindowHours float64
}

// DefaultBackoff matches the shipped config defaults.
var DefaultBackoff = Backoff{BaseHours: 1, MaxHours: 8, WindowHours: 24}

type cooldownEntry struct {
	FailureCount  int       `json:"failureCount"`
	WindowStarted time.Time `json:"windowStarted"`
	CooldownUntil time.Time `json:"cooldownUntil"`
	LastKind      string    `json:"lastKind,omitempty"`
}

// Ledger tracks auth-profile cooldowns across restarts. Entries are keyed by
// profile id (usually the provider name) and persisted as one JSON file with
// write-then-rename atomicity.
type Ledger struct {
	mu      sync.Mutex
	path    string // "" disables persistence
	backoff Backoff
	entries map[string]*cooldownEntry
	now     func() time.Time
}

// NewLedger loads (or initializes) the ledger at path. A missing or corrupt
// file yields an empty ledger.
func NewLedger(path string, backoff Backoff) *Ledger {
	if backoff.BaseHours <= 0 {
		backoff.BaseHours = DefaultBackoff.BaseHours
	}
	if backoff.MaxHours <= 0 {
		backoff.MaxHours = DefaultBackoff.MaxHours
	}
	if backoff.WindowHours <= 0 {
		backoff.WindowHours = DefaultBackoff.WindowHours
	}
	l := &Ledger{
		path:    path,
		backoff: backoff,
		entries: make(map[string]*cooldownEntry),
		now:     time.Now,
	}
	if path == "" {
		return l
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return l
	}
	var m map[string]*cooldownEntry
	if err := json.Unmarshal(data, &m); err == nil && m != nil {
		l.entries = m
	}
	return l
}

// InCooldown reports whether profile is currently cooling down.
func (l *Ledger) InCooldown(profile string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[profile]
	return ok && l.now().Before(e.CooldownUntil)
}

// CooldownUntil returns the cooldown expiry for profile, zero if none.
func (l *Ledger) CooldownUntil(profile string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[profile]; ok {
		return e.CooldownUntil
	}
	return time.Time{}
}

// RecordFailure bumps the failure counter for profile and extends its
// cooldown on the exponential ladder. Returns the new expiry.
func (l *Ledger) RecordFailure(profile string, kind Kind) time.Time {
	now := l.now()
	window := time.Duration(l.backoff.WindowHours * float64(time.Hour))

	l.mu.Lock()
	e, ok := l.entries[profile]
	if !ok || now.Sub(e.WindowStarted) > window {
		e = &cooldownEntry{WindowStarted: now}
		l.entries[profile] = e
	}
	e.FailureCount++
	e.LastKind = kind.String()

	hours := l.backoff.BaseHours * math.Pow(2, float64(e.FailureCount-1))
	if hours > l.backoff.MaxHours {
		hours = l.backoff.MaxHours
	}
	e.CooldownUntil = now.Add(time.Duration(hours * float64(time.Hour)))
	until := e.CooldownUntil
	l.mu.Unlock()

	l.save()
	return until
}

// RecordSuccess clears the failure state for profile.
func (l *Ledger) RecordSuccess(profile string) {
	l.mu.Lock()
	_, ok := l.entries[profile]
	if ok {
		delete(l.entries, profile)
	}
	l.mu.Unlock()
	if ok {
		l.save()
	}
}

func (l *Ledger) save() error {
	if l.path == "" {
		return nil
	}

	l.mu.Lock()
	data, err := json.MarshalIndent(l.entries, "", "  ")
	l.mu.Unlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cooldown ledger: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, "cooldowns-*.tmp")
	if err != nil {
		return err
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

	if err := os.Rename(tmpPath, l.path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
