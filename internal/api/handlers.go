package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/contact-sync/internal/checkpoint"
	"github.com/ignite/contact-sync/internal/contactsync"
	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/pkg/logger"
)

// maxBodyBytes bounds one posted batch.
const maxBodyBytes = 32 << 20

// Capture collects the outcomes of the batch being handled. Register it as
// an extra emitter of the session the handlers drive.
type Capture struct {
	mu       sync.Mutex
	outcomes []domain.Outcome
}

func NewCapture() *Capture { return &Capture{} }

func (c *Capture) Emit(_ context.Context, o domain.Outcome) error {
	c.mu.Lock()
	c.outcomes = append(c.outcomes, o)
	c.mu.Unlock()
	return nil
}

// take returns the collected outcomes and resets the buffer.
func (c *Capture) take() []domain.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.outcomes
	c.outcomes = nil
	return out
}

// Handlers serves one sync session. Batches are handled one at a time.
type Handlers struct {
	mu      sync.Mutex
	router  *contactsync.Router
	engine  *contactsync.Orchestrator
	capture *Capture
	log     *logger.Logger
	started time.Time
}

func NewHandlers(router *contactsync.Router, engine *contactsync.Orchestrator, capture *Capture, log *logger.Logger) *Handlers {
	if log == nil {
		log = logger.Default()
	}
	return &Handlers{
		router:  router,
		engine:  engine,
		capture: capture,
		log:     log.With("component", "api"),
		started: time.Now(),
	}
}

// BatchResponse is returned for every posted batch.
type BatchResponse struct {
	Stream     string           `json:"stream"`
	Outcomes   []domain.Outcome `json:"outcomes"`
	Checkpoint checkpoint.State `json:"checkpoint"`
	Error      string           `json:"error,omitempty"`
	Fatal      bool             `json:"fatal,omitempty"`
}

// PostRecords handles POST /v1/streams/{stream}/records with a JSON array of
// records as the body.
func (h *Handlers) PostRecords(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")

	var records []json.RawMessage
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&records); err != nil {
		respondError(w, http.StatusBadRequest, "body must be a JSON array of records")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.capture.take()
	err := h.router.Route(r.Context(), stream, records)
	resp := BatchResponse{
		Stream:     stream,
		Outcomes:   h.capture.take(),
		Checkpoint: h.engine.Checkpoint(),
	}
	if resp.Outcomes == nil {
		resp.Outcomes = []domain.Outcome{}
	}

	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, resp)
	case errors.Is(err, context.Canceled):
		h.log.Warn("batch cancelled", "stream", stream, "records", len(records))
		resp.Error = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, resp)
	case contactsync.IsFatal(err):
		h.log.Error("sync aborted", "stream", stream, "error", err)
		resp.Error = err.Error()
		resp.Fatal = true
		respondJSON(w, http.StatusServiceUnavailable, resp)
	default:
		h.log.Warn("batch failed", "stream", stream, "error", err)
		resp.Error = err.Error()
		respondJSON(w, http.StatusBadGateway, resp)
	}
}

// GetCheckpoint returns the running state of the session.
func (h *Handlers) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	state := h.engine.Checkpoint()
	h.mu.Unlock()
	respondJSON(w, http.StatusOK, state)
}

// HealthCheck reports whether the session still accepts batches.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	aborted := h.engine.Err()
	phase := h.engine.Phase()
	h.mu.Unlock()

	status, code := "healthy", http.StatusOK
	body := map[string]interface{}{
		"run_id": h.engine.RunID(),
		"phase":  phase.String(),
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if aborted != nil {
		status, code = "aborted", http.StatusServiceUnavailable
		body["error"] = aborted.Error()
	}
	body["status"] = status
	respondJSON(w, code, body)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
