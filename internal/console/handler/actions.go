package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/xela07ax/spaceai-pacer/internal/connectors"
	"github.com/xela07ax/spaceai-pacer/internal/domain"
	"github.com/xela07ax/spaceai-pacer/internal/engine"
	"go.uber.org/zap"
)

// Dispatcher — полный цикл исполнения действия (реализует engine.Gateway)
type Dispatcher interface {
	Execute(ctx context.Context, req engine.ActionRequest) (engine.ActionResult, error)
}

type ActionHandler struct {
	pacer   *engine.Pacer
	gateway Dispatcher
	logger  *zap.Logger
}

func NewActionHandler(p *engine.Pacer, g Dispatcher, logger *zap.Logger) *ActionHandler {
	return &ActionHandler{pacer: p, gateway: g, logger: logger.Named("actions")}
}

type checkRequest struct {
	SessionID string `json:"session_id"`
	Target    string `json:"target,omitempty"` // URL, из него берется домен
	Domain    string `json:"domain,omitempty"` // Или домен напрямую
	Action    string `json:"action,omitempty"`
	ActionID  string `json:"action_id,omitempty"`
	Sensitive bool   `json:"sensitive,omitempty"`
	Retry     bool   `json:"retry,omitempty"`
}

type checkResponse struct {
	Domain string `json:"domain"`
	domain.Decision
	WaitedMs int64 `json:"waited_ms"`
}

type errorReport struct {
	SessionID string `json:"session_id"`
	Target    string `json:"target,omitempty"`
	Domain    string `json:"domain,omitempty"`
}

type executeResponse struct {
	engine.ActionResult
	Error string `json:"error,omitempty"`
}

func resolveDomain(target, dom string) string {
	if d := strings.ToLower(strings.TrimSpace(dom)); d != "" {
		return d
	}
	return engine.DomainFromTarget(target)
}

// Check — только допуск, без исполнения. Ответ приходит после всех пауз.
// POST /v1/actions/check
func (h *ActionHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !decode(w, r, &req) {
		return
	}
	dom := resolveDomain(req.Target, req.Domain)
	if req.SessionID == "" || dom == "" {
		writeError(w, http.StatusBadRequest, "session_id and target (or domain) are required")
		return
	}

	dec := h.pacer.CheckAndWait(r.Context(), engine.Check{
		SessionID: req.SessionID,
		Domain:    dom,
		Action:    req.Action,
		ActionID:  req.ActionID,
		Sensitive: req.Sensitive,
		Retry:     req.Retry,
	}, nil)

	// Отказ — это штатное решение, а не ошибка запроса
	writeJSON(w, http.StatusOK, checkResponse{Domain: dom, Decision: dec, WaitedMs: dec.WaitedMs()})
}

// RecordError — сайт ответил ограничением, взводим cooldown
// POST /v1/errors
func (h *ActionHandler) RecordError(w http.ResponseWriter, r *http.Request) {
	var req errorReport
	if !decode(w, r, &req) {
		return
	}
	dom := resolveDomain(req.Target, req.Domain)
	if req.SessionID == "" || dom == "" {
		writeError(w, http.StatusBadRequest, "session_id and target (or domain) are required")
		return
	}
	h.pacer.RecordError(r.Context(), req.SessionID, dom, nil)
	w.WriteHeader(http.StatusNoContent)
}

// Execute — допуск + исполнение через коннектор браузера
// POST /v1/actions/execute
func (h *ActionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req engine.ActionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.Target == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "session_id, action and target are required")
		return
	}

	res, err := h.gateway.Execute(r.Context(), req)
	if err == nil {
		writeJSON(w, http.StatusOK, executeResponse{ActionResult: res})
		return
	}

	status := http.StatusBadGateway
	switch {
	case errors.Is(err, engine.ErrDenied):
		status = http.StatusForbidden
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	default:
		if _, ok := connectors.IsSiteThrottle(err); ok {
			status = http.StatusTooManyRequests
		}
	}
	writeJSON(w, status, executeResponse{ActionResult: res, Error: err.Error()})
}
