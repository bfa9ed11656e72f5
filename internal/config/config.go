package config

import (
	"bufio"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// NATS Configuration
	NatsURL          string
	Stream           string
	QueueSubject     string
	Durable          string
	ChannelPrefix    string
	MonitorSubject   string
	HeartbeatSubject string
	MaxMsgs          int
	MaxAge           time.Duration
	PopTimeout       time.Duration
	ReconnectBackoff time.Duration

	// HTTP Configuration (gateway)
	HTTPAddr         string
	DefaultMaxTokens int

	// Model & engine configuration (worker)
	WorkerName    string
	LlamaBinPath  string
	ModelPath     string
	CtxSize       int
	Threads       int
	GPULayers     int
	ShutdownGrace time.Duration

	// Database Configuration (worker event log)
	DBPath string
}

func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := loadDotEnv(envFile); err != nil {
			slog.Warn("Could not load env file", "file", envFile, "error", err)
		} else {
			slog.Info("Environment loaded", "file", envFile)
		}
	}

	return &Config{
		NatsURL:          getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		Stream:           getEnv("STREAM_NAME", "FLUX_JOBS"),
		QueueSubject:     getEnv("QUEUE_SUBJECT", "flux.jobs"),
		Durable:          getEnv("QUEUE_DURABLE", "flux-workers"),
		ChannelPrefix:    getEnv("CHANNEL_PREFIX", "flux.stream"),
		MonitorSubject:   getEnv("MONITOR_SUBJECT", "flux.monitoring"),
		HeartbeatSubject: getEnv("HEARTBEAT_SUBJECT", "flux.heartbeat"),
		MaxMsgs:          getEnvInt("QUEUE_MAX_MSGS", 2000),
		MaxAge:           getEnvDuration("QUEUE_MAX_AGE", "10m"),
		PopTimeout:       getEnvDuration("POP_TIMEOUT", "1s"),
		ReconnectBackoff: getEnvDuration("RECONNECT_BACKOFF", "5s"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8000"),
		DefaultMaxTokens: getEnvInt("DEFAULT_MAX_TOKENS", 2048),
		WorkerName:       getEnv("WORKER_NAME", "flux-worker"),
		LlamaBinPath:     getEnv("LLAMA_BIN_PATH", "/opt/llama.cpp/build/bin"),
		ModelPath:        getEnv("MODEL_PATH", "/models/Qwen3-1.7B-Q8_0.gguf"),
		CtxSize:          getEnvInt("N_CTX", 4096),
		Threads:          getEnvInt("N_THREADS", 4),
		GPULayers:        getEnvInt("N_GPU_LAYERS", 0),
		ShutdownGrace:    getEnvDuration("SHUTDOWN_GRACE", "5s"),
		DBPath:           getEnv("DB_PATH", "data/worker.sqlite"),
	}, nil
}

func loadDotEnv(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key, defaultVal string) time.Duration {
	val := getEnv(key, defaultVal)
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	d, _ := time.ParseDuration(defaultVal)
	return d
}
