package providers

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/yiliangbetter/openclaw/internal/agent"
)

type fakeProvider struct {
	name    string
	reply   string
	err     error
	lastReq ChatRequest
}

func (f *fakeProvider) ChatStream(_ context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if onChunk != nil {
		onChunk(StreamChunk{Content: f.reply})
	}
	return &ChatResponse{
		Content:      f.reply,
		FinishReason: "end_turn",
		Usage:        &Usage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return f.name }

func newTestExecutor(t *testing.T, p *fakeProvider) *Executor {
	t.Helper()
	r := &Registry{providers: map[string]Provider{p.name: p}}
	return NewExecutor(r, t.TempDir())
}

func TestExecutor_Execute(t *testing.T) {
	p := &fakeProvider{name: "fake", reply: "hello back"}
	e := newTestExecutor(t, p)

	var streamed string
	res, err := e.Execute(context.Background(), agent.ExecRequest{
		SessionID: "s1",
		Prompt:    "hello",
		Provider:  "fake",
		Model:     "fake-model",
		Hooks: agent.ExecHooks{
			OnTextDelta: func(text string) { streamed += text },
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Payloads) != 1 || res.Payloads[0].Text != "hello back" {
		t.Errorf("payloads = %+v", res.Payloads)
	}
	if streamed != "hello back" {
		t.Errorf("streamed = %q", streamed)
	}
	if res.Usage == nil || res.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v, want total 15", res.Usage)
	}
}

func TestExecutor_TranscriptCarriesHistory(t *testing.T) {
	p := &fakeProvider{name: "fake", reply: "reply one"}
	e := newTestExecutor(t, p)

	req := agent.ExecRequest{SessionID: "s1", Prompt: "turn one", Provider: "fake", Model: "m"}
	if _, err := e.Execute(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	req.Prompt = "turn two"
	if _, err := e.Execute(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	// second call must replay the first exchange plus the new prompt
	msgs := p.lastReq.Messages
	if len(msgs) != 3 {
		t.Fatalf("replayed %d messages, want 3", len(msgs))
	}
	if msgs[0].Content != "turn one" || msgs[0].Role != "user" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Content != "reply one" || msgs[1].Role != "assistant" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
	if msgs[2].Content != "turn two" {
		t.Errorf("msgs[2] = %+v", msgs[2])
	}
}

func TestExecutor_FailedTurnLeavesTranscriptIntact(t *testing.T) {
	p := &fakeProvider{name: "fake", reply: "ok"}
	e := newTestExecutor(t, p)

	req := agent.ExecRequest{SessionID: "s1", Prompt: "good turn", Provider: "fake", Model: "m"}
	if _, err := e.Execute(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	p.err = errors.New("upstream down")
	req.Prompt = "failing turn"
	if _, err := e.Execute(context.Background(), req); err == nil {
		t.Fatal("expected error")
	}

	p.err = nil
	req.Prompt = "next turn"
	if _, err := e.Execute(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	// history holds only the successful exchange, not the failed prompt
	msgs := p.lastReq.Messages
	if len(msgs) != 3 {
		t.Fatalf("replayed %d messages, want 3", len(msgs))
	}
	for _, m := range msgs {
		if m.Content == "failing turn" {
			t.Error("failed prompt leaked into the transcript")
		}
	}
}

func TestExecutor_UnknownProvider(t *testing.T) {
	e := newTestExecutor(t, &fakeProvider{name: "fake"})
	_, err := e.Execute(context.Background(), agent.ExecRequest{Provider: "missing"})
	if err == nil {
		t.Fatal("expected error for unconfigured provider")
	}
}

func TestExecutor_MediaAppendedToPrompt(t *testing.T) {
	p := &fakeProvider{name: "fake", reply: "ok"}
	e := newTestExecutor(t, p)

	_, err := e.Execute(context.Background(), agent.ExecRequest{
		SessionID: "s1",
		Prompt:    "look at this",
		Media:     []string{"/tmp/photo.jpg"},
		Provider:  "fake",
		Model:     "m",
	})
	if err != nil {
		t.Fatal(err)
	}
	last := p.lastReq.Messages[len(p.lastReq.Messages)-1]
	if last.Content != "look at this\n[media] /tmp/photo.jpg" {
		t.Errorf("prompt = %q", last.Content)
	}
}

func TestExecutor_InjectRefused(t *testing.T) {
	e := newTestExecutor(t, &fakeProvider{name: "fake"})
	if e.Inject("s1", "text") {
		t.Error("single-shot executor accepted an injection")
	}
}

func TestExecutor_StatelessWithoutDir(t *testing.T) {
	p := &fakeProvider{name: "fake", reply: "ok"}
	r := &Registry{providers: map[string]Provider{"fake": p}}
	e := NewExecutor(r, "")

	req := agent.ExecRequest{SessionID: "s1", Prompt: "one", Provider: "fake", Model: "m"}
	if _, err := e.Execute(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	req.Prompt = "two"
	if _, err := e.Execute(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if len(p.lastReq.Messages) != 1 {
		t.Errorf("stateless executor replayed %d messages, want 1", len(p.lastReq.Messages))
	}
	if _, err := os.Stat("s1.jsonl"); err == nil {
		t.Error("stateless executor wrote a transcript file")
	}
}
