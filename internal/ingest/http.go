package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"healthwatch/internal/config"
	"healthwatch/internal/domain"
	"healthwatch/internal/lifecycle"
	"healthwatch/internal/state"
)

// ReportSink receives decoded reports from ingest interfaces.
// Params: decoded report payload.
// Returns: processing error.
type ReportSink interface {
	Push(report domain.Report) error
}

// AlertAdmin exposes alert lifecycle operations to the HTTP surface.
// Params: alert id, acting operator, and optional resolution note.
// Returns: alert snapshots after each transition.
type AlertAdmin interface {
	Acknowledge(ctx context.Context, alertID, actor string) (domain.Alert, error)
	Resolve(ctx context.Context, alertID, actor, note string) (domain.Alert, error)
	ListOpen(ctx context.Context) ([]domain.Alert, error)
	Get(ctx context.Context, alertID string) (domain.Alert, error)
}

// HTTPHandler decodes JSON reports, forwards them to the sink, and serves
// the alert admin endpoints.
// Params: sink, alert manager, and max request body size.
// Returns: HTTP handler for the intake and admin surface.
type HTTPHandler struct {
	sink        ReportSink
	alerts      AlertAdmin
	maxBodySize int64
	mux         *http.ServeMux
	ready       func() bool
}

// NewHTTPHandler creates the intake and admin HTTP handler.
// Params: HTTP ingest config, report sink, alert manager, and readiness probe.
// Returns: configured handler.
func NewHTTPHandler(cfg config.HTTPIngestConfig, sink ReportSink, alerts AlertAdmin, ready func() bool) *HTTPHandler {
	handler := &HTTPHandler{
		sink:        sink,
		alerts:      alerts,
		maxBodySize: cfg.MaxBodyBytes,
		ready:       ready,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+cfg.ReportPath, handler.handleReports)
	mux.HandleFunc("GET "+cfg.AlertsPath, handler.handleListAlerts)
	mux.HandleFunc("GET "+cfg.AlertsPath+"/{id}", handler.handleGetAlert)
	mux.HandleFunc("POST "+cfg.AlertsPath+"/{id}/ack", handler.handleAcknowledge)
	mux.HandleFunc("POST "+cfg.AlertsPath+"/{id}/resolve", handler.handleResolve)
	mux.HandleFunc("GET "+cfg.HealthPath, handler.handleHealth)
	mux.HandleFunc("GET "+cfg.ReadyPath, handler.handleReady)
	handler.mux = mux
	return handler
}

// ServeHTTP routes one request to the matching endpoint.
// Params: HTTP request/response writer pair.
// Returns: writes status and body according to the endpoint result.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	h.mux.ServeHTTP(writer, request)
}

// transitionRequest is the ack/resolve request body.
// Params: acting operator and optional note.
// Returns: decoded lifecycle transition input.
type transitionRequest struct {
	Actor string `json:"actor"`
	Note  string `json:"note,omitempty"`
}

// handleReports decodes one report or one report batch and pushes to the sink.
// Params: HTTP request with JSON body.
// Returns: 202 on accept, 400 on decode error, 503 on sink backpressure.
func (h *HTTPHandler) handleReports(writer http.ResponseWriter, request *http.Request) {
	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writeError(writer, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	scratch := acquireDecodeScratch()
	defer releaseDecodeScratch(scratch)
	reports, err := decodeReportPayloadInto(body, scratch)
	if err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	if err := pushReports(h.sink, reports); err != nil {
		writeError(writer, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(writer, http.StatusAccepted, map[string]int{"accepted": len(reports)})
}

// handleListAlerts returns all open alerts.
// Params: HTTP request.
// Returns: 200 with JSON array ordered by creation time.
func (h *HTTPHandler) handleListAlerts(writer http.ResponseWriter, request *http.Request) {
	alerts, err := h.alerts.ListOpen(request.Context())
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(writer, http.StatusOK, alerts)
}

// handleGetAlert returns one alert by id.
// Params: HTTP request with {id} path value.
// Returns: 200 with the alert or 404.
func (h *HTTPHandler) handleGetAlert(writer http.ResponseWriter, request *http.Request) {
	alert, err := h.alerts.Get(request.Context(), request.PathValue("id"))
	if err != nil {
		writeLifecycleError(writer, err)
		return
	}
	writeJSON(writer, http.StatusOK, alert)
}

// handleAcknowledge applies the acknowledge transition.
// Params: HTTP request with {id} path value and transition body.
// Returns: 200 with the alert, 404, 409 on forbidden transitions, 400 on bad input.
func (h *HTTPHandler) handleAcknowledge(writer http.ResponseWriter, request *http.Request) {
	transition, ok := h.decodeTransition(writer, request)
	if !ok {
		return
	}
	alert, err := h.alerts.Acknowledge(request.Context(), request.PathValue("id"), transition.Actor)
	if err != nil {
		writeLifecycleError(writer, err)
		return
	}
	writeJSON(writer, http.StatusOK, alert)
}

// handleResolve applies the resolve transition.
// Params: HTTP request with {id} path value and transition body.
// Returns: 200 with the alert, 404, or 400 on bad input.
func (h *HTTPHandler) handleResolve(writer http.ResponseWriter, request *http.Request) {
	transition, ok := h.decodeTransition(writer, request)
	if !ok {
		return
	}
	alert, err := h.alerts.Resolve(request.Context(), request.PathValue("id"), transition.Actor, transition.Note)
	if err != nil {
		writeLifecycleError(writer, err)
		return
	}
	writeJSON(writer, http.StatusOK, alert)
}

// handleHealth answers liveness probes.
// Params: HTTP request.
// Returns: 200 always.
func (h *HTTPHandler) handleHealth(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady answers readiness probes.
// Params: HTTP request.
// Returns: 200 when the pipeline accepts reports, 503 otherwise.
func (h *HTTPHandler) handleReady(writer http.ResponseWriter, _ *http.Request) {
	if h.ready != nil && !h.ready() {
		writeJSON(writer, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(writer, http.StatusOK, map[string]string{"status": "ready"})
}

// decodeTransition reads and validates an ack/resolve body.
// Params: HTTP request/response writer pair.
// Returns: decoded transition and ok flag; writes 400 on failure.
func (h *HTTPHandler) decodeTransition(writer http.ResponseWriter, request *http.Request) (transitionRequest, bool) {
	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()

	var transition transitionRequest
	if err := json.NewDecoder(request.Body).Decode(&transition); err != nil {
		writeError(writer, http.StatusBadRequest, "decode transition: "+err.Error())
		return transitionRequest{}, false
	}
	transition.Actor = strings.TrimSpace(transition.Actor)
	if transition.Actor == "" {
		writeError(writer, http.StatusBadRequest, "actor is required")
		return transitionRequest{}, false
	}
	return transition, true
}

// writeLifecycleError maps manager errors onto HTTP status codes.
// Params: response writer and lifecycle/store error.
// Returns: writes 404, 409, or 500.
func writeLifecycleError(writer http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, state.ErrNotFound):
		writeError(writer, http.StatusNotFound, "alert not found")
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		writeError(writer, http.StatusConflict, err.Error())
	default:
		writeError(writer, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes one JSON response body.
// Params: response writer, status code, and payload.
// Returns: none; encode errors are ignored after headers are sent.
func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}

// writeError writes one JSON error body.
// Params: response writer, status code, and message.
// Returns: none.
func writeError(writer http.ResponseWriter, status int, message string) {
	writeJSON(writer, status, map[string]string{"error": message})
}
