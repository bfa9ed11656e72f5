package driver

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
	"unicode"

	"github.com/fluxllm/flux/internal/config"
	"github.com/fluxllm/flux/internal/stream"
)

// StreamPublisher is the bus surface the runner needs.
type StreamPublisher interface {
	Publish(channel string, msg stream.Message) error
}

// Runner turns one job into a start…token*…(complete|error) sequence.
// It owns at most one subprocess at a time; the handle is private to
// this instance so multiple runners in one process never collide.
type Runner struct {
	cfg *config.Config
	pub StreamPublisher

	// startCommand builds the subprocess for a job. Replaceable in
	// tests to run a stub instead of llama-completion.
	startCommand func(prompt string, maxTokens int) *exec.Cmd

	mu     sync.Mutex
	proc   *exec.Cmd
	killed bool
}

func NewRunner(cfg *config.Config, pub StreamPublisher) *Runner {
	r := &Runner{cfg: cfg, pub: pub}
	r.startCommand = func(prompt string, maxTokens int) *exec.Cmd {
		bin, args := BuildArgs(cfg, prompt, maxTokens)
		return exec.Command(bin, args...)
	}
	return r
}

// Execute runs the full per-job algorithm. Request-scoped failures are
// published as an error message and returned; they never escape as
// panics. When shutdown is true on return the stream was cut short by
// Terminate and no terminal message was published.
func (r *Runner) Execute(job *stream.Job) error {
	channel := stream.ChannelFor(r.cfg.ChannelPrefix, job.RequestID)

	jobStart := time.Now()
	var firstToken time.Time

	if err := r.pub.Publish(channel, stream.NewStart(job.RequestID)); err != nil {
		slog.Warn("Failed to publish start", "req_id", job.RequestID, "error", err)
	}

	cmd := r.startCommand(job.Prompt, job.MaxTokens)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.fail(channel, job.RequestID, fmt.Errorf("failed to open stdout: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.fail(channel, job.RequestID, fmt.Errorf("failed to open stderr: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return r.fail(channel, job.RequestID, fmt.Errorf("failed to launch engine: %w", err))
	}
	r.setProc(cmd)
	defer r.setProc(nil)

	// Drain stderr concurrently so the engine never blocks on a full
	// pipe while we read stdout.
	stderrCh := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(stderr)
		stderrCh <- string(data)
	}()

	// Read the output one rune at a time and publish each immediately,
	// before the next read. This granularity is what makes the stream
	// real rather than batched.
	reader := bufio.NewReader(stdout)
	tokenCount := 0
	for {
		ch, _, err := reader.ReadRune()
		if err != nil {
			if err != io.EOF {
				slog.Warn("Engine stdout read ended", "req_id", job.RequestID, "error", err)
			}
			break
		}

		if firstToken.IsZero() && !unicode.IsSpace(ch) {
			firstToken = time.Now()
		}

		if !unicode.IsPrint(ch) && ch != '\n' && ch != '\t' {
			continue
		}
		tokenCount++
		if err := r.pub.Publish(channel, stream.NewToken(job.RequestID, string(ch), tokenCount)); err != nil {
			slog.Warn("Failed to publish token", "req_id", job.RequestID, "index", tokenCount, "error", err)
		}
	}

	// Pipes must be fully drained before Wait.
	stderrOut := <-stderrCh
	waitErr := cmd.Wait()

	if r.terminated() {
		// Shutdown cut the stream short: no terminal message, the
		// subscriber (if any) is gone or about to be.
		slog.Info("Job aborted by shutdown", "req_id", job.RequestID, "tokens", tokenCount)
		return nil
	}
	if waitErr != nil && tokenCount == 0 {
		return r.fail(channel, job.RequestID, fmt.Errorf("engine exited abnormally: %w", waitErr))
	}

	end := time.Now()
	totalTime := end.Sub(jobStart)
	ttft := time.Duration(0)
	generationTime := totalTime
	if !firstToken.IsZero() {
		ttft = firstToken.Sub(jobStart)
		generationTime = end.Sub(firstToken)
	}

	tokensPerSecond := 0.0
	if generationTime > 0 {
		tokensPerSecond = float64(tokenCount) / generationTime.Seconds()
	}

	engine := ParseEngineMetrics(stderrOut)
	m := stream.Metrics{
		TTFTMs:                 round2(ttft.Seconds() * 1000),
		TotalTimeMs:            round2(totalTime.Seconds() * 1000),
		GenerationTimeMs:       round2(generationTime.Seconds() * 1000),
		TokensPerSecond:        round2(tokensPerSecond),
		EnginePromptTokens:     engine.PromptTokens,
		EnginePromptEvalMs:     engine.PromptEvalMs,
		EnginePromptTPS:        round2(engine.PromptTPS),
		EngineGenerationTokens: engine.GeneratedTokens,
		EngineGenerationMs:     engine.GenerationMs,
		EngineGenerationTPS:    round2(engine.GenerationTPS),
	}

	if err := r.pub.Publish(channel, stream.NewComplete(job.RequestID, tokenCount, m)); err != nil {
		return fmt.Errorf("failed to publish complete: %w", err)
	}

	slog.Info("Job completed",
		"req_id", job.RequestID,
		"tokens", tokenCount,
		"ttft_ms", m.TTFTMs,
		"total_ms", m.TotalTimeMs,
		"tokens_per_second", m.TokensPerSecond,
		"engine_tps", m.EngineGenerationTPS)
	return nil
}

// fail publishes an error message for the request and kills the
// subprocess if it is still alive.
func (r *Runner) fail(channel, requestID string, cause error) error {
	slog.Error("Inference failed", "req_id", requestID, "error", cause)
	if err := r.pub.Publish(channel, stream.NewError(requestID, cause.Error())); err != nil {
		slog.Warn("Failed to publish error", "req_id", requestID, "error", err)
	}
	r.mu.Lock()
	if r.proc != nil && r.proc.Process != nil {
		_ = r.proc.Process.Kill()
	}
	r.mu.Unlock()
	return cause
}

func (r *Runner) setProc(cmd *exec.Cmd) {
	r.mu.Lock()
	if cmd != nil {
		r.killed = false
	}
	r.proc = cmd
	r.mu.Unlock()
}

// Busy reports whether a subprocess is currently running.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proc != nil
}

func (r *Runner) terminated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.killed
}

// Terminate asks the running subprocess (if any) to exit, waiting up
// to grace before killing it outright. Safe to call when idle.
func (r *Runner) Terminate(grace time.Duration) {
	r.mu.Lock()
	cmd := r.proc
	r.killed = cmd != nil
	r.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	slog.Info("Terminating engine subprocess", "pid", cmd.Process.Pid)
	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		// Wait is owned by Execute; probe with signal 0 instead.
		for cmd.Process.Signal(syscall.Signal(0)) == nil {
			time.Sleep(50 * time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("Engine did not exit within grace period, killing", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
	}
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
