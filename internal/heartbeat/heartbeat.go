// Package heartbeat triggers periodic synthetic agent runs so the agent can
// surface background findings without user traffic.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// DefaultPrompt is used when the config leaves the heartbeat prompt empty.
const DefaultPrompt = "Read HEARTBEAT.md if it exists (workspace context). " +
	"If nothing needs attention, reply HEARTBEAT_OK."

// Trigger starts one heartbeat run with the given prompt. Admission and
// delivery are the dispatcher's problem; the runner only decides when.
type Trigger func(prompt string)

// Runner fires heartbeat runs on a fixed interval or a cron expression.
type Runner struct {
	interval time.Duration
	cron     string
	prompt   string
	trigger  Trigger
}

// NewRunner creates a heartbeat runner. cron wins over interval when both
// are set; an invalid expression is an error rather than a silent fallback.
func NewRunner(interval time.Duration, cron, prompt string, trigger Trigger) (*Runner, error) {
	if cron != "" && !gronx.New().IsValid(cron) {
		return nil, fmt.Errorf("heartbeat: invalid cron expression %q", cron)
	}
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &Runner{
		interval: interval,
		cron:     cron,
		prompt:   prompt,
		trigger:  trigger,
	}, nil
}

// Run blocks until ctx is done, firing the trigger on schedule.
func (r *Runner) Run(ctx context.Context) {
	if r.cron != "" {
		r.runCron(ctx)
		return
	}

	slog.Info("heartbeat: runner started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("heartbeat: runner stopped")
			return
		case <-ticker.C:
			r.trigger(r.prompt)
		}
	}
}

// runCron sleeps until each next cron tick instead of polling every minute.
func (r *Runner) runCron(ctx context.Context) {
	slog.Info("heartbeat: runner started", "cron", r.cron)
	for {
		next, err := gronx.NextTick(r.cron, false)
		if err != nil {
			slog.Error("heartbeat: cron evaluation failed", "cron", r.cron, "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("heartbeat: runner stopped")
			return
		case <-timer.C:
			r.trigger(r.prompt)
		}
	}
}
