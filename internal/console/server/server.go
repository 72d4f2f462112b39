package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/dz-approval-bridge/internal/console/handler"
	"github.com/xela07ax/dz-approval-bridge/internal/domain"
	"github.com/xela07ax/dz-approval-bridge/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка RS256 токенов операторов и оркестратора
	validator auth.TokenValidator

	commandHandler *handler.CommandHandler // /v1/workflow/commands
	statusHandler  *handler.StatusHandler  // /v1/subscriptions/status
	auditHandler   *handler.AuditHandler   // /v1/outcomes
	controlHandler *handler.ControlHandler // /v1/queue/{group}
}

// NewConsoleServer собирает роутер со всеми обработчиками
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	commandH *handler.CommandHandler,
	statusH *handler.StatusHandler,
	auditH *handler.AuditHandler,
	controlH *handler.ControlHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("console-api"),
		validator:      validator,
		commandHandler: commandH,
		statusHandler:  statusH,
		auditHandler:   auditH,
		controlHandler: controlH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. Публичные роуты ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- 3. Защищенный периметр (RS256 токен + scope на маршрут) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.validator, s.logger))

		r.With(auth.RequireScope(domain.ScopeWorkflowExecute)).
			Post("/v1/workflow/commands", s.commandHandler.Execute)

		r.With(auth.RequireScope(domain.ScopeSubscriptionEdit)).
			Post("/v1/subscriptions/status", s.statusHandler.Change)

		r.With(auth.RequireScope(domain.ScopeAuditRead)).
			Get("/v1/outcomes", s.auditHandler.GetOutcomes)

		// Стоп-кран очереди на время работ в бэкенде
		r.With(auth.RequireScope(domain.ScopeQueueControl)).
			Route("/v1/queue/{group}", func(r chi.Router) {
				r.Post("/pause", s.controlHandler.Pause)
				r.Post("/resume", s.controlHandler.Resume)
			})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
