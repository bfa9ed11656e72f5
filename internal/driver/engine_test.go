package driver

import "testing"

const sampleTimings = `llama_print_timings:        load time =    1234.56 ms
llama_print_timings:      sample time =      12.34 ms /    50 runs   (    0.25 ms per token,  4050.00 tokens per second)
llama_print_timings: prompt eval time =     567.89 ms /    25 tokens (   22.72 ms per token,    44.02 tokens per second)
llama_print_timings:        eval time =    2345.67 ms /    49 runs   (   47.87 ms per token,    20.89 tokens per second)
llama_print_timings:       total time =    3456.78 ms /    74 tokens
`

func TestParseEngineMetrics(t *testing.T) {
	m := ParseEngineMetrics(sampleTimings)

	if m.PromptTokens != 25 {
		t.Errorf("PromptTokens = %d, want 25", m.PromptTokens)
	}
	if m.PromptEvalMs != 567.89 {
		t.Errorf("PromptEvalMs = %v, want 567.89", m.PromptEvalMs)
	}
	if m.PromptTPS != 44.02 {
		t.Errorf("PromptTPS = %v, want 44.02", m.PromptTPS)
	}
	if m.GeneratedTokens != 49 {
		t.Errorf("GeneratedTokens = %d, want 49", m.GeneratedTokens)
	}
	if m.GenerationMs != 2345.67 {
		t.Errorf("GenerationMs = %v, want 2345.67", m.GenerationMs)
	}
	if m.GenerationTPS != 20.89 {
		t.Errorf("GenerationTPS = %v, want 20.89", m.GenerationTPS)
	}
	if m.TotalTimeMs != 3456.78 {
		t.Errorf("TotalTimeMs = %v, want 3456.78", m.TotalTimeMs)
	}
}

func TestParseEngineMetricsPartial(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
	}{
		{"empty", ""},
		{"garbage", "error: model failed to load\nsegmentation fault\n"},
		{"unrelated timings", "llama_print_timings: load time = 99.9 ms\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ParseEngineMetrics(tt.stderr)
			if m != (EngineMetrics{}) {
				t.Errorf("ParseEngineMetrics(%q) = %+v, want zero value", tt.stderr, m)
			}
		})
	}
}

func TestParseEngineMetricsTotalOnly(t *testing.T) {
	m := ParseEngineMetrics("llama_print_timings: total time = 1500.00 ms / 10 tokens\n")
	if m.TotalTimeMs != 1500.0 {
		t.Errorf("TotalTimeMs = %v, want 1500", m.TotalTimeMs)
	}
	if m.PromptTokens != 0 || m.GeneratedTokens != 0 {
		t.Errorf("token counts should stay zero, got %+v", m)
	}
}
