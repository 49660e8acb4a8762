// Package api exposes the receiver HTTP endpoints: job submission, result
// polling and service status.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/bkose/ocr-relay/pkg/admission"
	"github.com/bkose/ocr-relay/pkg/logging"
	"github.com/bkose/ocr-relay/pkg/metrics"
	"github.com/bkose/ocr-relay/pkg/models"
	"github.com/bkose/ocr-relay/pkg/queue"
	"github.com/bkose/ocr-relay/pkg/results"
)

const serviceName = "ocr-relay-receiver"

// ReceiverHandler handles receiver API requests
type ReceiverHandler struct {
	admission *admission.Service
	results   *results.Service
	store     queue.Store
	logger    *logging.Logger
	metrics   *metrics.ReceiverMetrics
}

// NewReceiverHandler creates a new receiver handler
func NewReceiverHandler(store queue.Store, logger *logging.Logger) *ReceiverHandler {
	return &ReceiverHandler{
		admission: admission.NewService(store),
		results:   results.NewService(store),
		store:     store,
		logger:    logger,
	}
}

// SetMetrics attaches receiver metrics to the handler.
func (h *ReceiverHandler) SetMetrics(m *metrics.ReceiverMetrics) {
	h.metrics = m
}

// RegisterRoutes registers all API routes
func (h *ReceiverHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/process", h.ProcessImage).Methods("POST")
	r.HandleFunc("/result/{task_id}", h.GetResult).Methods("GET")
	r.HandleFunc("/status", h.Status).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/", h.Index).Methods("GET")
}

// ProcessImage accepts an OCR job and enqueues it for asynchronous
// processing. It replies 202 before any processing happens.
func (h *ReceiverHandler) ProcessImage(w http.ResponseWriter, r *http.Request) {
	var req models.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.admission.Submit(r.Context(), &req)
	if err != nil {
		var verr *admission.ValidationError
		if errors.As(err, &verr) {
			if h.metrics != nil {
				h.metrics.ValidationFailures.Inc()
			}
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		var uerr *admission.UnavailableError
		if errors.As(err, &uerr) {
			if h.metrics != nil {
				h.metrics.QueueUnavailable.Inc()
			}
			h.logger.Error("queue unavailable", map[string]interface{}{"error": err.Error()})
			http.Error(w, "Queue service unavailable", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("failed to enqueue job", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to enqueue job", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.JobsEnqueued.Inc()
	}
	h.logger.Info("job enqueued", map[string]interface{}{
		"task_id":    resp.TaskID,
		"user_id":    req.UserID,
		"queue_size": resp.QueueSize,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(resp)
}

// GetResult retrieves the stored result for a task. Tasks without a stored
// result report status "processing".
func (h *ReceiverHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	taskID := vars["task_id"]

	resp, err := h.results.Query(r.Context(), taskID)
	if err != nil {
		h.logger.Error("failed to query result", map[string]interface{}{
			"task_id": taskID,
			"error":   err.Error(),
		})
		http.Error(w, "Failed to query result", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.ResultQueries.WithLabelValues(string(resp.Status)).Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Status reports queue connectivity and depth.
func (h *ReceiverHandler) Status(w http.ResponseWriter, r *http.Request) {
	connected := h.store.Healthy(r.Context())

	var size int64
	if connected {
		if n, err := h.store.Size(r.Context()); err == nil {
			size = n
		}
	}

	status := "healthy"
	if !connected {
		status = "unhealthy"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.StatusResponse{
		Service:        serviceName,
		Status:         status,
		QueueConnected: connected,
		QueueSize:      size,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	})
}

// Health returns a bare liveness reply.
func (h *ReceiverHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// Index describes the service endpoints.
func (h *ReceiverHandler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"service": serviceName,
		"endpoints": map[string]string{
			"POST /process":         "submit an image for OCR processing",
			"GET /result/{task_id}": "poll the processing result",
			"GET /status":           "queue connectivity and depth",
			"GET /health":           "liveness check",
		},
	})
}
