// Package gateway exposes the authorization service over HTTP. It is a
// thin translation layer: request decoding, API-key checks for the
// approval surface, and status mapping. All business rules live in the
// service package.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agent2allow/gateway/internal/apiauth"
	"github.com/agent2allow/gateway/internal/config"
	"github.com/agent2allow/gateway/internal/service"
	"github.com/agent2allow/gateway/internal/version"
)

type Server struct {
	cfg        config.ServerConfig
	svc        *service.Service
	auth       *apiauth.KeyAuth
	httpServer *http.Server
}

func New(cfg config.ServerConfig, svc *service.Service, auth *apiauth.KeyAuth) *Server {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Port
	if port <= 0 {
		port = 8080
	}

	cfg.Host = host
	cfg.Port = port
	return &Server{
		cfg:  cfg,
		svc:  svc,
		auth: auth,
	}
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           NewHandler(s.svc, s.auth),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func NewHandler(svc *service.Service, auth *apiauth.KeyAuth) http.Handler {
	h := &handler{svc: svc, auth: auth}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /version", h.version)
	mux.HandleFunc("POST /v1/tool-calls", h.toolCall)
	mux.HandleFunc("GET /v1/approvals/pending", h.pendingApprovals)
	mux.HandleFunc("POST /v1/approvals/bulk", h.bulkDecision)
	mux.HandleFunc("POST /v1/approvals/{id}/approve", h.decision(true))
	mux.HandleFunc("POST /v1/approvals/{id}/deny", h.decision(false))
	mux.HandleFunc("GET /v1/audit", h.listAudit)
	mux.HandleFunc("GET /v1/audit/export", h.exportAudit)
	return mux
}

type handler struct {
	svc  *service.Service
	auth *apiauth.KeyAuth
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"request_id": getRequestID(r),
	})
}

func (h *handler) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    version.Version,
		"request_id": getRequestID(r),
	})
}

func (h *handler) toolCall(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)

	var req service.ToolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
		return
	}
	// The header wins over the body so proxies can inject keys without
	// rewriting payloads.
	if key := strings.TrimSpace(r.Header.Get("X-Idempotency-Key")); key != "" {
		req.IdempotencyKey = key
	}
	if strings.TrimSpace(req.AgentID) == "" || req.Tool == "" || req.Action == "" || req.Resource == "" {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "agent_id, tool, action, and resource are required")
		return
	}

	resp, err := h.svc.HandleToolCall(r.Context(), req)
	if errors.Is(err, service.ErrIdempotencyConflict) {
		writeError(w, requestID, http.StatusConflict, "conflict", err.Error())
		return
	}
	if err != nil {
		slog.Error("tool call failed", "request_id", requestID, "tool", req.Tool, "action", req.Action, "error", err)
		writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to process tool call")
		return
	}

	w.Header().Set("X-Request-ID", requestID)
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) pendingApprovals(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	approvals, err := h.svc.ListPendingApprovals(r.Context())
	if err != nil {
		slog.Error("list pending approvals failed", "request_id", requestID, "error", err)
		writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to list approvals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"approvals":  approvals,
		"request_id": requestID,
	})
}

func (h *handler) decision(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)

		identity, ok := h.authenticate(w, r, requestID)
		if !ok {
			return
		}

		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "approval id must be an integer")
			return
		}

		var body struct {
			Approver string `json:"approver"`
			Reason   string `json:"reason"`
		}
		if r.Body != nil {
			// An empty body is fine; the decision itself carries intent.
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		approver := identity
		if approver == "" {
			approver = body.Approver
		}
		if strings.TrimSpace(approver) == "" {
			approver = "human"
		}

		var outcome service.DecisionOutcome
		if approve {
			outcome, err = h.svc.Approve(r.Context(), id, approver, body.Reason)
		} else {
			outcome, err = h.svc.Deny(r.Context(), id, approver, body.Reason)
		}
		if err != nil {
			slog.Error("approval decision failed", "request_id", requestID, "approval_id", id, "error", err)
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to apply decision")
			return
		}
		writeOutcome(w, requestID, id, outcome)
	}
}

func (h *handler) bulkDecision(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)

	identity, ok := h.authenticate(w, r, requestID)
	if !ok {
		return
	}

	var req service.BulkDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "ids is required")
		return
	}
	if req.Decision != "approve" && req.Decision != "deny" {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "decision must be approve or deny")
		return
	}
	if identity != "" {
		req.Approver = identity
	}
	if strings.TrimSpace(req.Approver) == "" {
		req.Approver = "human"
	}

	results := h.svc.DecideBulk(r.Context(), req)
	writeJSON(w, http.StatusOK, map[string]any{
		"results":    results,
		"request_id": requestID,
	})
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	entries, err := h.svc.ListAudit(r.Context())
	if err != nil {
		slog.Error("list audit failed", "request_id", requestID, "error", err)
		writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"request_id": requestID,
	})
}

func (h *handler) exportAudit(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Request-ID", requestID)
	if err := h.svc.ExportAudit(r.Context(), w); err != nil {
		// Headers are already out; the truncated stream is all we can
		// signal with.
		slog.Error("audit export failed", "request_id", requestID, "error", err)
	}
}

// authenticate guards the approval surface. It returns the identity
// bound to the presented key, or writes a 401 and reports false.
func (h *handler) authenticate(w http.ResponseWriter, r *http.Request, requestID string) (string, bool) {
	if h.auth == nil {
		return "", true
	}
	identity, ok, reason := h.auth.Authenticate(strings.TrimSpace(r.Header.Get("X-API-Key")))
	if !ok {
		writeError(w, requestID, http.StatusUnauthorized, "unauthorized", reason)
		return "", false
	}
	return identity, true
}

func writeOutcome(w http.ResponseWriter, requestID string, id int64, outcome service.DecisionOutcome) {
	status := http.StatusOK
	code := ""
	switch outcome.Status {
	case service.StatusNotFound:
		status, code = http.StatusNotFound, "not_found"
	case service.StatusInvalidState:
		status, code = http.StatusBadRequest, "invalid_state"
	case service.StatusForbidden:
		status, code = http.StatusForbidden, "forbidden"
	}
	if code != "" {
		message := outcome.Message
		if message == "" {
			message = fmt.Sprintf("approval %d: %s", id, outcome.Status)
		}
		writeError(w, requestID, status, code, message)
		return
	}
	writeJSON(w, status, map[string]any{
		"id":         id,
		"status":     outcome.Status,
		"message":    outcome.Message,
		"result":     outcome.Result,
		"request_id": requestID,
	})
}

func getRequestID(r *http.Request) string {
	rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if rid != "" {
		return rid
	}
	return uuid.NewString()
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":       code,
		"message":    message,
		"request_id": requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
