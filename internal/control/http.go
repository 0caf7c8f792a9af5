package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"carealert/internal/lockout"
)

// API is the client surface exposed over the local control endpoint.
type API interface {
	LockRemaining(alertID int64) time.Duration
	Respond(ctx context.Context, alertID int64) (time.Time, error)
	CheckForNewAlerts(ctx context.Context) (bool, error)
}

// Handler serves health, readiness, metrics, and alert commands.
// Params: client API, readiness check, and metrics handler.
// Returns: HTTP handler for the control listener.
type Handler struct {
	api     API
	ready   func() bool
	metrics http.Handler
	mux     *http.ServeMux
}

// NewHandler builds routed control handler.
// Params: API, readiness callback, and optional metrics handler.
// Returns: configured handler.
func NewHandler(api API, ready func() bool, metrics http.Handler) *Handler {
	h := &Handler{api: api, ready: ready, metrics: metrics, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /healthz", func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	h.mux.HandleFunc("GET /readyz", h.serveReady)
	if metrics != nil {
		h.mux.Handle("GET /metrics", metrics)
	}
	h.mux.HandleFunc("GET /alerts/{id}/lock", h.serveLock)
	h.mux.HandleFunc("POST /alerts/{id}/respond", h.serveRespond)
	h.mux.HandleFunc("POST /alerts/check", h.serveCheck)
	return h
}

// ServeHTTP dispatches request to routed handlers.
func (h *Handler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	h.mux.ServeHTTP(writer, request)
}

func (h *Handler) serveReady(writer http.ResponseWriter, _ *http.Request) {
	if h.ready == nil || !h.ready() {
		writer.WriteHeader(http.StatusServiceUnavailable)
		_, _ = writer.Write([]byte("not-ready"))
		return
	}
	writer.WriteHeader(http.StatusOK)
	_, _ = writer.Write([]byte("ready"))
}

type lockResponse struct {
	AlertID     int64      `json:"alertId"`
	Locked      bool       `json:"locked"`
	RemainingMS int64      `json:"remainingMs"`
	UnlockAt    *time.Time `json:"unlockAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func (h *Handler) serveLock(writer http.ResponseWriter, request *http.Request) {
	alertID, ok := parseAlertID(writer, request)
	if !ok {
		return
	}
	left := h.api.LockRemaining(alertID)
	writeJSON(writer, http.StatusOK, lockResponse{AlertID: alertID, Locked: left > 0, RemainingMS: left.Milliseconds()})
}

func (h *Handler) serveRespond(writer http.ResponseWriter, request *http.Request) {
	alertID, ok := parseAlertID(writer, request)
	if !ok {
		return
	}
	unlockAt, err := h.api.Respond(request.Context(), alertID)
	switch {
	case errors.Is(err, lockout.ErrLocked):
		left := h.api.LockRemaining(alertID)
		writeJSON(writer, http.StatusConflict, lockResponse{AlertID: alertID, Locked: true, RemainingMS: left.Milliseconds(), Error: err.Error()})
	case err != nil:
		writeJSON(writer, http.StatusBadGateway, lockResponse{AlertID: alertID, Error: err.Error()})
	default:
		unlockAt = unlockAt.UTC()
		writeJSON(writer, http.StatusOK, lockResponse{
			AlertID:     alertID,
			Locked:      true,
			RemainingMS: h.api.LockRemaining(alertID).Milliseconds(),
			UnlockAt:    &unlockAt,
		})
	}
}

type checkResponse struct {
	Ran   bool   `json:"ran"`
	Error string `json:"error,omitempty"`
}

func (h *Handler) serveCheck(writer http.ResponseWriter, request *http.Request) {
	ran, err := h.api.CheckForNewAlerts(request.Context())
	if err != nil {
		writeJSON(writer, http.StatusBadGateway, checkResponse{Ran: ran, Error: err.Error()})
		return
	}
	writeJSON(writer, http.StatusOK, checkResponse{Ran: ran})
}

// parseAlertID reads a positive alert id from the path.
// Params: response writer for 400 replies and request.
// Returns: id and whether parsing succeeded.
func parseAlertID(writer http.ResponseWriter, request *http.Request) (int64, bool) {
	alertID, err := strconv.ParseInt(request.PathValue("id"), 10, 64)
	if err != nil || alertID <= 0 {
		writeJSON(writer, http.StatusBadRequest, lockResponse{Error: "alert id must be a positive integer"})
		return 0, false
	}
	return alertID, true
}

func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(body)
}
