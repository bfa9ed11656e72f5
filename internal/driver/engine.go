package driver

import (
	"regexp"
	"strconv"
)

// llama.cpp prints its timings on stderr in free text, e.g.
//
//	llama_print_timings: prompt eval time =  567.89 ms /  25 tokens ( 22.72 ms per token,  44.02 tokens per second)
//	llama_print_timings:        eval time = 2345.67 ms /  49 runs   ( 47.87 ms per token,  20.89 tokens per second)
//	llama_print_timings:       total time = 3456.78 ms /  74 tokens
//
// Every field is optional: a label that does not appear leaves its
// fields at zero. Parsing never fails a request.
var (
	promptEvalRe = regexp.MustCompile(`prompt eval time\s*=\s*([\d.]+)\s*ms\s*/\s*(\d+)\s*tokens.*?([\d.]+)\s*tokens per second`)
	evalRe       = regexp.MustCompile(`eval time\s*=\s*([\d.]+)\s*ms\s*/\s*(\d+)\s*runs.*?([\d.]+)\s*tokens per second`)
	totalRe      = regexp.MustCompile(`total time\s*=\s*([\d.]+)\s*ms`)
)

// EngineMetrics holds the figures the engine reports about itself.
type EngineMetrics struct {
	PromptTokens     int
	PromptEvalMs     float64
	PromptTPS        float64
	GeneratedTokens  int
	GenerationMs     float64
	GenerationTPS    float64
	TotalTimeMs      float64
}

// ParseEngineMetrics extracts performance figures from the engine's
// diagnostic output. Pure function over the raw text; absent markers
// yield zero values, never an error.
func ParseEngineMetrics(stderr string) EngineMetrics {
	var m EngineMetrics

	if match := promptEvalRe.FindStringSubmatch(stderr); match != nil {
		m.PromptEvalMs, _ = strconv.ParseFloat(match[1], 64)
		m.PromptTokens, _ = strconv.Atoi(match[2])
		m.PromptTPS, _ = strconv.ParseFloat(match[3], 64)
	}

	if match := evalRe.FindStringSubmatch(stderr); match != nil {
		m.GenerationMs, _ = strconv.ParseFloat(match[1], 64)
		m.GeneratedTokens, _ = strconv.Atoi(match[2])
		m.GenerationTPS, _ = strconv.ParseFloat(match[3], 64)
	}

	if match := totalRe.FindStringSubmatch(stderr); match != nil {
		m.TotalTimeMs, _ = strconv.ParseFloat(match[1], 64)
	}

	return m
}
