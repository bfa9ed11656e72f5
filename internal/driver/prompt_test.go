package driver

import (
	"strings"
	"testing"

	"github.com/fluxllm/flux/internal/config"
)

func TestFormatPrompt(t *testing.T) {
	got := FormatPrompt("Count from 1 to 3.")

	if !strings.HasPrefix(got, "<|im_start|>user\n/no_think ") {
		t.Errorf("prompt missing user preamble: %q", got)
	}
	if !strings.Contains(got, "Count from 1 to 3.") {
		t.Errorf("prompt missing user input: %q", got)
	}
	if !strings.HasSuffix(got, "<|im_start|>assistant\n") {
		t.Errorf("prompt should end with assistant turn: %q", got)
	}
}

func TestBuildArgs(t *testing.T) {
	cfg := &config.Config{
		LlamaBinPath: "/opt/llama.cpp/build/bin",
		ModelPath:    "/models/test.gguf",
		CtxSize:      4096,
		Threads:      4,
		GPULayers:    0,
	}

	bin, args := BuildArgs(cfg, "hello", 20)

	if bin != "/opt/llama.cpp/build/bin/llama-completion" {
		t.Errorf("bin = %q", bin)
	}

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-m /models/test.gguf",
		"-n 20",
		"-c 4096",
		"-t 4",
		"-ngl 0",
		"--temp 0.0",
		"--no-display-prompt",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q in %q", want, joined)
		}
	}
}
