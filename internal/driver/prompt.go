package driver

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/fluxllm/flux/internal/config"
)

// completionBinary is the llama.cpp CLI the runner executes.
const completionBinary = "llama-completion"

// FormatPrompt wraps the user prompt in the ChatML template the model
// was trained on. /no_think disables the model's thinking mode so the
// stream starts with the answer itself.
func FormatPrompt(prompt string) string {
	return fmt.Sprintf("<|im_start|>user\n/no_think %s<|im_end|>\n<|im_start|>assistant\n", prompt)
}

// BuildArgs assembles the llama-completion argv for one job. Output is
// deterministic (greedy, temperature zero) and capped at maxTokens.
func BuildArgs(cfg *config.Config, prompt string, maxTokens int) (string, []string) {
	bin := filepath.Join(cfg.LlamaBinPath, completionBinary)
	args := []string{
		"-m", cfg.ModelPath,
		"-p", FormatPrompt(prompt),
		"-n", strconv.Itoa(maxTokens),
		"-c", strconv.Itoa(cfg.CtxSize),
		"-t", strconv.Itoa(cfg.Threads),
		"-ngl", strconv.Itoa(cfg.GPULayers),
		"--temp", "0.0",
		"--no-display-prompt",
		"-e",
	}
	return bin, args
}
