package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/spaceai-pacer/internal/console/handler"
	"github.com/xela07ax/spaceai-pacer/internal/domain"
	"github.com/xela07ax/spaceai-pacer/internal/engine"
	"github.com/xela07ax/spaceai-pacer/internal/infra/auth"
	"go.uber.org/zap"
)

type PacerServer struct {
	router *chi.Mux
	logger *zap.Logger

	// nil — управляющий API без аутентификации (локальный запуск)
	authValidator auth.TokenValidator
	gatherer      prometheus.Gatherer

	actionHandler  *handler.ActionHandler  // /v1/actions, /v1/errors
	sessionHandler *handler.SessionHandler // /v1/sessions, /v1/profiles
}

// NewPacerServer собирает HTTP API движка темпа со всеми зависимостями
func NewPacerServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	gatherer prometheus.Gatherer,
	actionH *handler.ActionHandler,
	sessionH *handler.SessionHandler,
) *PacerServer {
	s := &PacerServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("pacer-api"),
		authValidator:  validator,
		gatherer:       gatherer,
		actionHandler:  actionH,
		sessionHandler: sessionH,
	}

	s.routes()
	return s
}

func (s *PacerServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if s.gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}
		r.Get("/v1/profiles", s.sessionHandler.Profiles)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен, если ключ настроен) ---
	r.Group(func(r chi.Router) {
		if s.authValidator != nil {
			r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		}

		// Допуск и исполнение действий агента
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeActions))
			r.Post("/v1/actions/check", s.actionHandler.Check)
			r.Post("/v1/actions/execute", s.actionHandler.Execute)
			r.Post("/v1/errors", s.actionHandler.RecordError)
		})

		// Управление сессиями
		r.Route("/v1/sessions/{id}", func(r chi.Router) {
			r.Get("/policy", s.sessionHandler.GetPolicy)
			r.Get("/stats", s.sessionHandler.Stats)
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireScope(domain.ScopePolicyWrite))
				r.Put("/policy", s.sessionHandler.SetPolicy)
				r.Delete("/policy", s.sessionHandler.ResetPolicy)
				r.Delete("/", s.sessionHandler.Close)
			})
		})
	})
}

// ServeHTTP позволяет использовать PacerServer как стандартный http.Handler
func (s *PacerServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
