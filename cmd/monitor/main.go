// Command monitor is a passive fleet observer: it follows worker
// heartbeats and gateway metrics reports on the bus, keeps a last-seen
// table and serves it as JSON. It has no control-path influence.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fluxllm/flux/internal/config"
	"github.com/fluxllm/flux/internal/driver"
	"github.com/fluxllm/flux/internal/metrics"
)

// WorkerView is one worker's last known state.
type WorkerView struct {
	driver.WorkerStatus
	LastSeen  time.Time     `json:"last_seen"`
	FirstSeen time.Time     `json:"first_seen"`
	Uptime    time.Duration `json:"uptime"`
}

type Monitor struct {
	nats *nats.Conn

	mu      sync.RWMutex
	workers map[string]*WorkerView
	report  *metrics.Snapshot
}

func NewMonitor(natsURL string) (*Monitor, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Monitor{
		nats:    nc,
		workers: make(map[string]*WorkerView),
	}, nil
}

func (m *Monitor) Start(ctx context.Context, cfg *config.Config) error {
	// Worker heartbeats
	_, err := m.nats.Subscribe(cfg.HeartbeatSubject+".*", func(msg *nats.Msg) {
		var status driver.WorkerStatus
		if err := json.Unmarshal(msg.Data, &status); err != nil {
			log.Printf("Failed to parse heartbeat from %s: %v", msg.Subject, err)
			return
		}

		now := time.Now()
		m.mu.Lock()
		view := &WorkerView{WorkerStatus: status, LastSeen: now, FirstSeen: now}
		if existing, ok := m.workers[status.WorkerName]; ok {
			view.FirstSeen = existing.FirstSeen
		}
		view.Uptime = now.Sub(view.FirstSeen)
		m.workers[status.WorkerName] = view
		m.mu.Unlock()

		log.Printf("Worker %s is %s (uptime %v)", status.WorkerName, status.Status, view.Uptime.Truncate(time.Second))
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to heartbeats: %w", err)
	}

	// Gateway metrics reports
	_, err = m.nats.Subscribe(cfg.MonitorSubject, func(msg *nats.Msg) {
		var snap metrics.Snapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			log.Printf("Failed to parse metrics report: %v", err)
			return
		}
		m.mu.Lock()
		m.report = &snap
		m.mu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to metrics reports: %w", err)
	}

	go m.cleanupStaleWorkers(ctx)

	log.Printf("Monitor started, watching %s and %s.*", cfg.MonitorSubject, cfg.HeartbeatSubject)
	return nil
}

func (m *Monitor) cleanupStaleWorkers(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * time.Minute)
			m.mu.Lock()
			for name, w := range m.workers {
				if w.LastSeen.Before(cutoff) {
					log.Printf("Worker %s went silent, removing", name)
					delete(m.workers, name)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	workers := make([]*WorkerView, 0, len(m.workers))
	for _, v := range m.workers {
		workers = append(workers, v)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"workers": workers,
		"gateway": m.report,
	})
}

func main() {
	var envFile = flag.String("env", "", "Optional .env file to load")
	var httpAddr = flag.String("addr", ":8090", "HTTP listen address")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	monitor, err := NewMonitor(cfg.NatsURL)
	if err != nil {
		log.Fatalf("Failed to create monitor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := monitor.Start(ctx, cfg); err != nil {
		log.Fatalf("Failed to start monitor: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", monitor.handleStatus)
	go func() {
		if err := http.ListenAndServe(*httpAddr, mux); err != nil {
			log.Printf("HTTP server failed: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Println("Monitor shutting down")
}
