package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Candidate is one (provider, model) pair in fallback order. AuthProfile
// defaults to the provider name when empty.
type Candidate struct {
	Provider    string
	Model       string
	AuthProfile string
}

func (c Candidate) profile() string {
	if c.AuthProfile != "" {
		return c.AuthProfile
	}
	return c.Provider
}

// String renders "provider/model".
func (c Candidate) String() string {
	return c.Provider + "/" + c.Model
}

// ParseCandidate parses "provider/model", or a bare model using
// defaultProvider.
func ParseCandidate(s, defaultProvider string) Candidate {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '/'); i > 0 {
		return Candidate{Provider: s[:i], Model: s[i+1:]}
	}
	return Candidate{Provider: defaultProvider, Model: s}
}

// Coordinator walks a candidate list, honoring cooldowns and classifying
// failures. One coordinator is shared by all conversations.
type Coordinator struct {
	ledger *Ledger
}

// NewCoordinator creates a coordinator backed by ledger.
func NewCoordinator(ledger *Ledger) *Coordinator {
	return &Coordinator{ledger: ledger}
}

// Ledger exposes the cooldown ledger (for status surfaces).
func (c *Coordinator) Ledger() *Ledger { return c.ledger }

// Run tries candidates in order until work succeeds.
//
//   - Candidates whose auth profile is cooling down are skipped, unless it is
//     the last remaining candidate: that one is attempted anyway, since a
//     guaranteed failure beats a guaranteed silence.
//   - Auth and rate-limit failures record a ledger failure and advance to the
//     next candidate.
//   - Context-overflow and unknown failures return immediately: overflow
//     follows the conversation to any model, and unknown errors should
//     surface rather than burn the ladder.
//   - Success clears the profile's failure state.
//
// Returns the winning candidate.
func (c *Coordinator) Run(ctx context.Context, candidates []Candidate, work func(ctx context.Context, cand Candidate) error) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, fmt.Errorf("no model candidates configured")
	}

	var lastErr error

	for i, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return Candidate{}, err
		}

		if c.ledger.InCooldown(cand.profile()) {
			if i < len(candidates)-1 {
				slog.Debug("fallback: skipping cooled candidate",
					"candidate", cand.String(),
					"until", c.ledger.CooldownUntil(cand.profile()))
				continue
			}
			slog.Warn("fallback: last candidate cooling down, attempting anyway",
				"candidate", cand.String())
		}

		err := work(ctx, cand)
		if err == nil {
			c.ledger.RecordSuccess(cand.profile())
			return cand, nil
		}
		lastErr = err

		kind := Classify(err)
		if !Retryable(kind) {
			slog.Warn("fallback: non-retryable failure",
				"candidate", cand.String(), "kind", kind.String(), "error", err)
			return cand, err
		}

		until := c.ledger.RecordFailure(cand.profile(), kind)
		slog.Warn("fallback: candidate failed, rotating",
			"candidate", cand.String(),
			"kind", kind.String(),
			"cooldown_until", until,
			"error", err)
	}

	return Candidate{}, lastErr
}
