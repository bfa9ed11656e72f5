package driver

import (
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fluxllm/flux/internal/config"
	"github.com/fluxllm/flux/internal/stream"
)

type recordingBus struct {
	mu   sync.Mutex
	msgs []stream.Message
}

func (b *recordingBus) Publish(channel string, msg stream.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
	return nil
}

func (b *recordingBus) messages() []stream.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]stream.Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		ChannelPrefix: "flux.stream",
		ShutdownGrace: 2 * time.Second,
	}
}

// newScriptRunner swaps the engine launch for a shell script so the
// streaming pipeline runs against a real subprocess without a model.
func newScriptRunner(bus StreamPublisher, script string) *Runner {
	r := NewRunner(testConfig(), bus)
	r.startCommand = func(prompt string, maxTokens int) *exec.Cmd {
		return exec.Command("/bin/sh", "-c", script)
	}
	return r
}

func TestRunnerStreamsTokens(t *testing.T) {
	bus := &recordingBus{}
	script := `printf 'Hi!'; printf 'eval time = 100.00 ms / 3 runs (33.33 ms per token, 30.00 tokens per second)\n' >&2`
	r := newScriptRunner(bus, script)

	job := &stream.Job{RequestID: "req-1", Prompt: "say hi", MaxTokens: 20}
	if err := r.Execute(job); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	msgs := bus.messages()
	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5 (start + 3 tokens + complete): %+v", len(msgs), msgs)
	}

	if msgs[0].Type != stream.TypeStart {
		t.Errorf("first message type = %q, want start", msgs[0].Type)
	}

	var content strings.Builder
	for i, msg := range msgs[1:4] {
		if msg.Type != stream.TypeToken {
			t.Fatalf("message %d type = %q, want token", i+1, msg.Type)
		}
		if msg.TokenIndex != i+1 {
			t.Errorf("token %d index = %d, want %d", i+1, msg.TokenIndex, i+1)
		}
		content.WriteString(msg.Content)
	}
	if content.String() != "Hi!" {
		t.Errorf("reassembled content = %q, want %q", content.String(), "Hi!")
	}

	last := msgs[4]
	if last.Type != stream.TypeComplete {
		t.Fatalf("last message type = %q, want complete", last.Type)
	}
	if last.TokenCount != 3 {
		t.Errorf("token_count = %d, want 3", last.TokenCount)
	}
	if last.Metrics == nil {
		t.Fatal("complete carries no metrics")
	}
	if last.Metrics.EngineGenerationTokens != 3 {
		t.Errorf("engine generated tokens = %d, want 3", last.Metrics.EngineGenerationTokens)
	}
	if last.Metrics.TokensPerSecond < 0 {
		t.Errorf("tokens_per_second = %v, want >= 0", last.Metrics.TokensPerSecond)
	}
	if last.RequestID != "req-1" {
		t.Errorf("request_id = %q", last.RequestID)
	}
}

func TestRunnerEngineMetricsDegradation(t *testing.T) {
	bus := &recordingBus{}
	r := newScriptRunner(bus, `printf 'ok'; printf 'no timings here\n' >&2`)

	if err := r.Execute(&stream.Job{RequestID: "req-2", Prompt: "p", MaxTokens: 5}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	msgs := bus.messages()
	last := msgs[len(msgs)-1]
	if last.Type != stream.TypeComplete {
		t.Fatalf("last message type = %q, want complete despite unparseable stderr", last.Type)
	}
	if last.TokenCount != 2 {
		t.Errorf("token_count = %d, want 2", last.TokenCount)
	}
	if last.Metrics.EnginePromptTokens != 0 || last.Metrics.EngineGenerationTokens != 0 {
		t.Errorf("engine fields should stay zero, got %+v", last.Metrics)
	}
	if last.Metrics.TotalTimeMs <= 0 {
		t.Errorf("driver-side total time should still be measured, got %v", last.Metrics.TotalTimeMs)
	}
}

func TestRunnerLaunchFailure(t *testing.T) {
	bus := &recordingBus{}
	r := NewRunner(testConfig(), bus)
	r.startCommand = func(prompt string, maxTokens int) *exec.Cmd {
		return exec.Command("/nonexistent/llama-completion")
	}

	if err := r.Execute(&stream.Job{RequestID: "req-3", Prompt: "p", MaxTokens: 5}); err == nil {
		t.Fatal("Execute() should fail when the engine cannot launch")
	}

	msgs := bus.messages()
	last := msgs[len(msgs)-1]
	if last.Type != stream.TypeError {
		t.Fatalf("last message type = %q, want error", last.Type)
	}
	if last.Error == "" {
		t.Error("error message should carry a description")
	}
	for _, msg := range msgs {
		if msg.Type == stream.TypeComplete {
			t.Error("no complete may follow a failed launch")
		}
	}
}

func TestRunnerEngineExitsNonZero(t *testing.T) {
	bus := &recordingBus{}
	r := newScriptRunner(bus, `exit 7`)

	if err := r.Execute(&stream.Job{RequestID: "req-4", Prompt: "p", MaxTokens: 5}); err == nil {
		t.Fatal("Execute() should surface an abnormal exit with no output")
	}

	msgs := bus.messages()
	if msgs[len(msgs)-1].Type != stream.TypeError {
		t.Fatalf("last message type = %q, want error", msgs[len(msgs)-1].Type)
	}
}

func TestRunnerTerminateMidGeneration(t *testing.T) {
	bus := &recordingBus{}
	r := newScriptRunner(bus, `printf 'a'; exec sleep 30`)

	done := make(chan error, 1)
	go func() {
		done <- r.Execute(&stream.Job{RequestID: "req-5", Prompt: "p", MaxTokens: 5})
	}()

	// Wait for the subprocess to be up and streaming.
	deadline := time.Now().Add(5 * time.Second)
	for !r.Busy() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	r.Terminate(time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Execute() after Terminate error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute() did not return after Terminate")
	}

	for _, msg := range bus.messages() {
		if msg.Terminal() {
			t.Errorf("no terminal message may be published after shutdown, got %q", msg.Type)
		}
	}
	if r.Busy() {
		t.Error("runner still reports a running subprocess")
	}
}
