package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Stream != "FLUX_JOBS" {
		t.Errorf("Stream = %q", cfg.Stream)
	}
	if cfg.QueueSubject != "flux.jobs" {
		t.Errorf("QueueSubject = %q", cfg.QueueSubject)
	}
	if cfg.ChannelPrefix != "flux.stream" {
		t.Errorf("ChannelPrefix = %q", cfg.ChannelPrefix)
	}
	if cfg.DefaultMaxTokens != 2048 {
		t.Errorf("DefaultMaxTokens = %d", cfg.DefaultMaxTokens)
	}
	if cfg.PopTimeout != time.Second {
		t.Errorf("PopTimeout = %v", cfg.PopTimeout)
	}
	if cfg.ShutdownGrace != 5*time.Second {
		t.Errorf("ShutdownGrace = %v", cfg.ShutdownGrace)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("QUEUE_SUBJECT", "custom.jobs")
	t.Setenv("N_THREADS", "16")
	t.Setenv("POP_TIMEOUT", "250ms")
	t.Setenv("N_CTX", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.QueueSubject != "custom.jobs" {
		t.Errorf("QueueSubject = %q", cfg.QueueSubject)
	}
	if cfg.Threads != 16 {
		t.Errorf("Threads = %d", cfg.Threads)
	}
	if cfg.PopTimeout != 250*time.Millisecond {
		t.Errorf("PopTimeout = %v", cfg.PopTimeout)
	}
	// Unparseable values fall back to the default.
	if cfg.CtxSize != 4096 {
		t.Errorf("CtxSize = %d, want default 4096", cfg.CtxSize)
	}
}
