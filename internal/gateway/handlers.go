package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluxllm/flux/internal/metrics"
	"github.com/fluxllm/flux/internal/stream"
)

// GenerateRequest is the inbound client message on both the WebSocket
// and the submission endpoint.
type GenerateRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

// QueueIntrospector covers the health/introspection surface.
type QueueIntrospector interface {
	Depth(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Name() string
}

type Handler struct {
	correlator *Correlator
	queue      QueueIntrospector
	busPing    func() error
	agg        *metrics.Aggregator
	upgrader   websocket.Upgrader
}

func NewHandler(correlator *Correlator, queue QueueIntrospector, busPing func() error, agg *metrics.Aggregator) *Handler {
	return &Handler{
		correlator: correlator,
		queue:      queue,
		busPing:    busPing,
		agg:        agg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/generate", h.handleGenerateWS)
	mux.HandleFunc("/api/generate", h.handleGenerateSubmit)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/queue/status", h.handleQueueStatus)
	mux.HandleFunc("/metrics", h.handleMetrics)
}

// wsSink serializes relay writes onto one WebSocket connection.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSink) Send(msg stream.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// handleGenerateWS is the streaming session: one request in, a
// start…token*…(complete|error) sequence out. Each session runs
// independently; the queue and bus are the only shared state.
func (h *Handler) handleGenerateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.agg.ConnOpened()
	defer h.agg.ConnClosed()

	sink := &wsSink{conn: conn}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}

	var req GenerateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		_ = sink.Send(stream.NewError("", fmt.Sprintf("invalid JSON: %v", err)))
		h.agg.IncRequest(metrics.OutcomeError)
		return
	}

	relay, err := h.correlator.Begin(r.Context(), req.Prompt, req.MaxTokens)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			_ = sink.Send(stream.NewError("", "Prompt is required"))
		} else {
			slog.Error("Failed to begin request", "error", err)
			_ = sink.Send(stream.NewError("", err.Error()))
		}
		h.agg.IncRequest(metrics.OutcomeError)
		return
	}

	// The relay suspends on bus messages; a reader goroutine turns the
	// client hanging up into a context cancellation so the channel is
	// released immediately, whether or not complete was seen.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Debug("Client connection lost", "req_id", relay.RequestID, "error", err)
				}
				cancel()
				return
			}
		}
	}()

	if err := relay.Run(ctx, sink); err != nil {
		slog.Info("Session ended early", "req_id", relay.RequestID, "reason", err)
	}
}

// handleGenerateSubmit accepts a job and returns immediately with the
// request identity, for callers that poll rather than stream.
func (h *Handler) handleGenerateSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	requestID, err := h.correlator.Submit(r.Context(), req.Prompt, req.MaxTokens)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			http.Error(w, "Prompt is required", http.StatusBadRequest)
			return
		}
		slog.Error("Failed to submit job", "error", err)
		http.Error(w, "Failed to queue job", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"request_id": requestID,
		"status":     "queued",
		"message":    "Job queued for processing. Use the WebSocket endpoint for streaming.",
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "healthy", "backend": "connected"}
	code := http.StatusOK

	if err := h.busPing(); err != nil {
		status = map[string]string{"status": "unhealthy", "error": err.Error()}
		code = http.StatusServiceUnavailable
	} else if err := h.queue.Ping(ctx); err != nil {
		status = map[string]string{"status": "unhealthy", "error": err.Error()}
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func (h *Handler) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	depth, err := h.queue.Depth(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read queue depth: %v", err), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"queue_name":   h.queue.Name(),
		"pending_jobs": depth,
	})
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.agg.Snapshot())
}
