package queue

import (
	"context"
	"testing"
	"time"

	"github.com/yiliangbetter/openclaw/internal/bus"
)

func req(text string) Request {
	return Request{
		Msg:        bus.InboundMessage{Channel: "telegram", ChatID: "42", Content: text},
		EnqueuedAt: time.Now(),
	}
}

func TestAdmit_SingleFlight(t *testing.T) {
	r := NewRegistry(nil)
	s := Settings{Mode: ModeFollowup}

	adm := r.Admit("k", req("first"), s)
	if adm.Decision != StartNow {
		t.Fatalf("first admit = %v, want StartNow", adm.Decision)
	}
	adm2 := r.Admit("k", req("second"), s)
	if adm2.Decision != Enqueued {
		t.Fatalf("second admit = %v, want Enqueued", adm2.Decision)
	}
	if adm2.Gen != adm.Gen {
		t.Errorf("enqueue bumped generation: %d != %d", adm2.Gen, adm.Gen)
	}
	if got := r.Backlog("k"); got != 1 {
		t.Errorf("Backlog = %d, want 1", got)
	}
}

func TestComplete_DrainsInOrder(t *testing.T) {
	r := NewRegistry(nil)
	s := Settings{Mode: ModeFollowup}

	adm := r.Admit("k", req("a"), s)
	r.Admit("k", req("b"), s)
	r.Admit("k", req("c"), s)

	next, nextAdm, ok := r.Complete("k", adm.Gen)
	if !ok {
		t.Fatal("Complete returned no next despite backlog")
	}
	if next.Msg.Content != "b" {
		t.Errorf("drained %q, want %q", next.Msg.Content, "b")
	}
	if nextAdm.Decision != StartNow {
		t.Errorf("next admission = %v, want StartNow", nextAdm.Decision)
	}
	if nextAdm.Gen <= adm.Gen {
		t.Errorf("next gen %d not after %d", nextAdm.Gen, adm.Gen)
	}

	next, _, ok = r.Complete("k", nextAdm.Gen)
	if !ok || next.Msg.Content != "c" {
		t.Fatalf("second drain = (%q, %v), want (c, true)", next.Msg.Content, ok)
	}
}

func TestComplete_IdlePrunesState(t *testing.T) {
	r := NewRegistry(nil)
	adm := r.Admit("k", req("only"), Settings{Mode: ModeFollowup})

	if _, _, ok := r.Complete("k", adm.Gen); ok {
		t.Fatal("Complete returned next with empty backlog")
	}
	if r.Active("k") {
		t.Error("conversation still active after complete")
	}

	r.mu.Lock()
	_, exists := r.states["k"]
	r.mu.Unlock()
	if exists {
		t.Error("idle state not pruned")
	}
}

func TestComplete_StaleGenIsNoop(t *testing.T) {
	r := NewRegistry(nil)
	s := Settings{Mode: ModeInterrupt}

	old := r.Admit("k", req("old"), s)
	fresh := r.Admit("k", req("fresh"), s)
	if fresh.Decision != Interrupted {
		t.Fatalf("second admit = %v, want Interrupted", fresh.Decision)
	}

	// the superseded run completing must not release the new run's slot
	if _, _, ok := r.Complete("k", old.Gen); ok {
		t.Error("stale Complete drained the backlog")
	}
	if !r.Active("k") {
		t.Error("stale Complete released the active slot")
	}
}

func TestAdmit_Interrupt_CancelsAndFences(t *testing.T) {
	r := NewRegistry(nil)
	s := Settings{Mode: ModeInterrupt}

	adm := r.Admit("k", req("old"), s)
	ctx, cancel := context.WithCancel(context.Background())
	r.Bind("k", adm.Gen, cancel)

	fresh := r.Admit("k", req("new"), s)
	if fresh.Decision != Interrupted {
		t.Fatalf("admit = %v, want Interrupted", fresh.Decision)
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("interrupt did not cancel the bound run")
	}
	if r.IsCurrent("k", adm.Gen) {
		t.Error("old generation still current after interrupt")
	}
	if !r.IsCurrent("k", fresh.Gen) {
		t.Error("new generation not current")
	}
}

func TestAdmit_CapDropOld(t *testing.T) {
	r := NewRegistry(nil)
	s := Settings{Mode: ModeFollowup, Cap: 2, Drop: DropOld}

	r.Admit("k", req("active"), s)
	r.Admit("k", req("a"), s)
	r.Admit("k", req("b"), s)
	adm := r.Admit("k", req("c"), s)
	if adm.Decision != Enqueued {
		t.Fatalf("over-cap admit = %v, want Enqueued", adm.Decision)
	}
	if got := r.Backlog("k"); got != 2 {
		t.Fatalf("Backlog = %d, want 2", got)
	}

	r.mu.Lock()
	first := r.states["k"].backlog[0].Msg.Content
	r.mu.Unlock()
	if first != "b" {
		t.Errorf("oldest survivor = %q, want %q (a evicted)", first, "b")
	}
}

func TestAdmit_CapDropNew(t *testing.T) {
	r := NewRegistry(nil)
	s := Settings{Mode: ModeFollowup, Cap: 1, Drop: DropNew}

	r.Admit("k", req("active"), s)
	r.Admit("k", req("a"), s)
	adm := r.Admit("k", req("b"), s)
	if adm.Decision != Dropped {
		t.Errorf("over-cap admit = %v, want Dropped", adm.Decision)
	}
	if got := r.Backlog("k"); got != 1 {
		t.Errorf("Backlog = %d, want 1", got)
	}
}

func TestAdmit_CapSummarize(t *testing.T) {
	r := NewRegistry(nil)
	s := Settings{Mode: ModeFollowup, Cap: 2, Drop: DropSummarize}

	adm := r.Admit("k", req("active"), s)
	r.Admit("k", req("a"), s)
	r.Admit("k", req("b"), s)
	r.Admit("k", req("c"), s)

	if got := r.Backlog("k"); got != 1 {
		t.Fatalf("Backlog = %d, want 1 merged entry", got)
	}
	next, _, ok := r.Complete("k", adm.Gen)
	if !ok {
		t.Fatal("no merged entry drained")
	}
	want := "(queued messages)\na\nb\nc"
	if next.Msg.Content != want {
		t.Errorf("merged content = %q, want %q", next.Msg.Content, want)
	}
}

func TestAdmit_SteerInjects(t *testing.T) {
	r := NewRegistry(nil)
	s := Settings{Mode: ModeSteer}

	adm := r.Admit("k", req("first"), s)
	var injected string
	r.SetInjector("k", adm.Gen, func(text string) bool {
		injected = text
		return true
	})

	got := r.Admit("k", req("steer me"), s)
	if got.Decision != Injected {
		t.Fatalf("admit = %v, want Injected", got.Decision)
	}
	if injected != "steer me" {
		t.Errorf("injected %q, want %q", injected, "steer me")
	}
	if r.Backlog("k") != 0 {
		t.Error("injected message also buffered")
	}
}

func TestAdmit_SteerRefusedFallsBackToBacklog(t *testing.T) {
	r := NewRegistry(nil)
	s := Settings{Mode: ModeSteer}

	adm := r.Admit("k", req("first"), s)
	r.SetInjector("k", adm.Gen, func(string) bool { return false })

	got := r.Admit("k", req("later"), s)
	if got.Decision != Enqueued {
		t.Fatalf("admit after refusal = %v, want Enqueued", got.Decision)
	}
	if r.Backlog("k") != 1 {
		t.Errorf("Backlog = %d, want 1", r.Backlog("k"))
	}
}

func TestAdmit_SteerWithoutInjectorBuffers(t *testing.T) {
	r := NewRegistry(nil)
	s := Settings{Mode: ModeSteerBacklog}

	r.Admit("k", req("first"), s)
	got := r.Admit("k", req("second"), s)
	if got.Decision != Enqueued {
		t.Errorf("admit = %v, want Enqueued", got.Decision)
	}
}

func TestSetInjector_StaleGenIgnored(t *testing.T) {
	r := NewRegistry(nil)
	s := Settings{Mode: ModeInterrupt}

	old := r.Admit("k", req("old"), s)
	r.Admit("k", req("new"), s)

	called := false
	r.SetInjector("k", old.Gen, func(string) bool { called = true; return true })

	r.Admit("k", req("steer"), Settings{Mode: ModeSteer})
	if called {
		t.Error("stale injector received a steer")
	}
}

func TestCollect_MergesAndStartsWhenIdle(t *testing.T) {
	started := make(chan Request, 1)
	r := NewRegistry(func(key string, rq Request, adm Admission) {
		started <- rq
	})
	s := Settings{Mode: ModeCollect, Debounce: 20 * time.Millisecond}

	adm := r.Admit("k", req("active"), s)
	r.Admit("k", req("one"), s)
	r.Admit("k", req("two"), s)

	// finish the active run before the quiet window elapses
	if _, _, ok := r.Complete("k", adm.Gen); ok {
		t.Fatal("collect buffer leaked into backlog before flush")
	}

	select {
	case rq := <-started:
		if rq.Msg.Content != "one\ntwo" {
			t.Errorf("merged content = %q, want %q", rq.Msg.Content, "one\ntwo")
		}
	case <-time.After(time.Second):
		t.Fatal("collect flush never started a run")
	}
}

func TestCollect_JoinsBacklogWhenActive(t *testing.T) {
	r := NewRegistry(func(string, Request, Admission) {
		t.Error("onStart fired while a run was active")
	})
	s := Settings{Mode: ModeCollect, Debounce: 10 * time.Millisecond}

	r.Admit("k", req("active"), s)
	r.Admit("k", req("one"), s)

	deadline := time.Now().Add(time.Second)
	for r.Backlog("k") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("collect flush never joined the backlog")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelease_DiscardsClaimedSlot(t *testing.T) {
	r := NewRegistry(nil)
	s := Settings{Mode: ModeFollowup}

	adm := r.Admit("k", req("first"), s)
	r.Admit("k", req("queued"), s)

	r.Release("k", adm.Gen)
	if r.Active("k") {
		t.Error("slot still claimed after release")
	}
	if r.Backlog("k") != 0 {
		t.Error("backlog survived release")
	}
	if got := r.Admit("k", req("again"), s); got.Decision != StartNow {
		t.Errorf("admit after release = %v, want StartNow", got.Decision)
	}
}

func TestRelease_StaleGenIgnored(t *testing.T) {
	r := NewRegistry(nil)
	s := Settings{Mode: ModeInterrupt}

	old := r.Admit("k", req("old"), s)
	r.Admit("k", req("new"), s)

	r.Release("k", old.Gen)
	if !r.Active("k") {
		t.Error("stale release freed the live slot")
	}
}

func TestStop_CancelsAndMutesRun(t *testing.T) {
	r := NewRegistry(nil)
	s := Settings{Mode: ModeFollowup}

	adm := r.Admit("k", req("first"), s)
	ctx, cancel := context.WithCancel(context.Background())
	r.Bind("k", adm.Gen, cancel)
	r.Admit("k", req("queued"), s)

	if !r.Stop("k") {
		t.Fatal("Stop reported no active run")
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("Stop did not cancel the run")
	}
	if r.IsCurrent("k", adm.Gen) {
		t.Error("stopped run still current")
	}
	if _, _, ok := r.Complete("k", adm.Gen); ok {
		t.Error("stopped run's Complete drained a discarded backlog")
	}
	if r.Stop("k") {
		t.Error("second Stop reported an active run")
	}
}

func TestSettings_Normalized(t *testing.T) {
	tests := []struct {
		name string
		in   Settings
		want Settings
	}{
		{
			name: "zero value gets defaults",
			in:   Settings{},
			want: Settings{Mode: ModeFollowup, Cap: 20, Drop: DropOld, Debounce: time.Second},
		},
		{
			name: "queue alias kept",
			in:   Settings{Mode: ModeQueue, Cap: 5, Drop: DropNew, Debounce: time.Minute},
			want: Settings{Mode: ModeQueue, Cap: 5, Drop: DropNew, Debounce: time.Minute},
		},
		{
			name: "unknown mode falls back to followup",
			in:   Settings{Mode: "bogus", Drop: "bogus"},
			want: Settings{Mode: ModeFollowup, Cap: 20, Drop: DropOld, Debounce: time.Second},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.normalized(); got != tt.want {
				t.Errorf("normalized() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
