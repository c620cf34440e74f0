package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/spaceai-pacer/internal/domain"
	"github.com/xela07ax/spaceai-pacer/internal/engine"
	"github.com/xela07ax/spaceai-pacer/internal/policy"
	"go.uber.org/zap"
)

// StatsReader — счетчики событий политики (Redis); может отсутствовать
type StatsReader interface {
	SessionStats(ctx context.Context, sessionID string, at time.Time) (map[string]string, error)
}

type SessionHandler struct {
	pacer  *engine.Pacer
	stats  StatsReader
	logger *zap.Logger

	onClose []func(sessionID string) // Например, закрыть браузер сессии
}

func NewSessionHandler(p *engine.Pacer, stats StatsReader, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{pacer: p, stats: stats, logger: logger.Named("sessions")}
}

type policyRequest struct {
	Profile   string              `json:"profile"`
	Overrides *domain.OverridesMs `json:"overrides,omitempty"`
}

type policyResponse struct {
	SessionID string             `json:"session_id"`
	Profile   domain.ProfileView `json:"profile"`
}

// SetPolicy полностью заменяет профиль сессии (без наследования прошлых overrides)
// PUT /v1/sessions/{id}/policy
func (h *SessionHandler) SetPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req policyRequest
	if !decode(w, r, &req) {
		return
	}
	if _, known := policy.Resolve(req.Profile); !known {
		writeError(w, http.StatusBadRequest, "unknown policy profile: "+req.Profile)
		return
	}
	if err := req.Overrides.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	applied := h.pacer.SetSessionPolicy(id, req.Profile, req.Overrides.Overrides())
	h.logger.Info("session policy set", zap.String("session_id", id), zap.String("profile", applied.Name))
	writeJSON(w, http.StatusOK, policyResponse{SessionID: id, Profile: applied.View()})
}

// GetPolicy — действующий профиль (override или базовый)
// GET /v1/sessions/{id}/policy
func (h *SessionHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, policyResponse{SessionID: id, Profile: h.pacer.GetSessionPolicy(id).View()})
}

// ResetPolicy — вернуть сессию к базовому профилю
// DELETE /v1/sessions/{id}/policy
func (h *SessionHandler) ResetPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	base := h.pacer.ResetSessionPolicy(id)
	writeJSON(w, http.StatusOK, policyResponse{SessionID: id, Profile: base.View()})
}

// OnClose добавляет хук, вызываемый после очистки состояния сессии
func (h *SessionHandler) OnClose(fn func(sessionID string)) {
	h.onClose = append(h.onClose, fn)
}

// Close — сессия завершена: всё ее состояние удаляется
// DELETE /v1/sessions/{id}
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.pacer.ClearSession(id)
	for _, fn := range h.onClose {
		fn(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats — счетчики событий за текущую минуту
// GET /v1/sessions/{id}/stats
func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeError(w, http.StatusNotImplemented, "stats storage is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	res, err := h.stats.SessionStats(r.Context(), id, time.Now())
	if err != nil {
		h.logger.Error("failed to read stats", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "counters": res})
}

// Profiles — каталог профилей
// GET /v1/profiles
func (h *SessionHandler) Profiles(w http.ResponseWriter, _ *http.Request) {
	all := policy.Profiles()
	out := make([]domain.ProfileView, 0, len(all))
	for _, p := range all {
		out = append(out, p.View())
	}
	writeJSON(w, http.StatusOK, out)
}
