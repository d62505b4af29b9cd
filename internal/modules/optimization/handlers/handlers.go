// Package handlers provides HTTP handlers for portfolio optimization.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/allocator/internal/cache"
	"github.com/aristath/allocator/internal/metrics"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// streamReadTimeout bounds how long a stream client has to send its request.
const streamReadTimeout = 10 * time.Second

// Handler handles optimization HTTP requests
type Handler struct {
	service *optimization.Service
	cache   *cache.Cache
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewHandler creates a new optimization handler. m may be nil.
func NewHandler(service *optimization.Service, c *cache.Cache, m *metrics.Metrics, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		cache:   c,
		metrics: m,
		log:     log.With().Str("handler", "optimization").Logger(),
	}
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// streamMessage is one websocket frame of /api/optimize/stream. Type is
// "objective" for each finished objective, then "result" or "error".
type streamMessage struct {
	Type      string                         `json:"type"`
	Outcome   *optimization.ObjectiveOutcome `json:"outcome,omitempty"`
	Result    *optimization.Response         `json:"result,omitempty"`
	Error     string                         `json:"error,omitempty"`
	ErrorType string                         `json:"error_type,omitempty"`
}

// HandleOptimize handles POST /api/optimize
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimization.Request
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.Optimize(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleFrontier handles POST /api/frontier
func (h *Handler) HandleFrontier(w http.ResponseWriter, r *http.Request) {
	var req optimization.FrontierRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.Frontier(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleAnalyze handles POST /api/analyze
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req optimization.Request
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.Analyze(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleStream handles GET /api/optimize/stream. The client sends one
// request as JSON; the server answers with one message per objective and a
// final result or error, then closes the connection.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected exit")

	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()

	ctx := r.Context()

	var req optimization.Request
	readCtx, cancel := context.WithTimeout(ctx, streamReadTimeout)
	err = wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		h.log.Debug().Err(err).Msg("Failed to read stream request")
		_ = wsjson.Write(ctx, conn, streamMessage{Type: "error", Error: "invalid request", ErrorType: "validation_error"})
		conn.Close(websocket.StatusUnsupportedData, "invalid request")
		return
	}

	emit := func(o optimization.ObjectiveOutcome) {
		if err := wsjson.Write(ctx, conn, streamMessage{Type: "objective", Outcome: &o}); err != nil {
			h.log.Debug().Err(err).Str("objective", string(o.Objective)).Msg("Failed to stream objective")
		}
	}

	resp, err := h.service.OptimizeStream(ctx, req, emit)
	if err != nil {
		h.logFailure(err)
		_ = wsjson.Write(ctx, conn, streamMessage{
			Type:      "error",
			Error:     err.Error(),
			ErrorType: optimization.ErrorType(err),
		})
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	if err := wsjson.Write(ctx, conn, streamMessage{Type: "result", Result: resp}); err != nil {
		h.log.Debug().Err(err).Msg("Failed to stream result")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// HandleClearCache handles DELETE /api/cache
func (h *Handler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearCache(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("Failed to clear cache")
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Type: "internal_error"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cleared": true,
		"stats":   h.cache.Stats(),
	})
}

// HandleCacheStats handles GET /api/cache/stats
func (h *Handler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.log.Debug().Err(err).Msg("Failed to decode request body")
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Type: "validation_error"})
		return false
	}
	return true
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch optimization.ErrorType(err) {
	case "validation_error":
		return http.StatusBadRequest
	case "insufficient_data", "infeasible", "solver_error":
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.logFailure(err)
	h.writeJSON(w, statusFor(err), errorResponse{
		Error: err.Error(),
		Type:  optimization.ErrorType(err),
	})
}

func (h *Handler) logFailure(err error) {
	if statusFor(err) >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Optimization request failed")
		return
	}
	h.log.Debug().Err(err).Str("type", optimization.ErrorType(err)).Msg("Optimization request rejected")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
