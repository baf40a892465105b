package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/rabbitt-console/internal/handler/chat"
	"github.com/zhouzirui/rabbitt-console/internal/handler/dashboard"
	"github.com/zhouzirui/rabbitt-console/internal/handler/persona"
	"github.com/zhouzirui/rabbitt-console/internal/handler/voice"
	middlewarePkg "github.com/zhouzirui/rabbitt-console/internal/middleware"
	personaModel "github.com/zhouzirui/rabbitt-console/internal/model/persona"
	"github.com/zhouzirui/rabbitt-console/internal/service/session"
	"github.com/zhouzirui/rabbitt-console/pkg/utils"
)

// Sessions 是路由层需要的会话操作集合
type Sessions interface {
	dashboard.Sessions
}

// NewRouter wires HTTP routes to core services. A nil voiceBackend
// disables the REST voice passthrough.
func NewRouter(personas personaModel.Store, sessions Sessions, voiceBackend voice.Backend, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	// Create handlers
	personaHandler := persona.New(personas)
	dashboardHandler := dashboard.New(sessions, logger)
	chatHandler := chat.New(sessions, logger)
	wsHandler := voice.NewWebSocketHandler(sessions, logger)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		// Register persona routes
		personaHandler.RegisterRoutes(api)

		// Session-scoped routes share one subrouter
		api.Route("/sessions", func(sr chi.Router) {
			dashboardHandler.RegisterRoutes(sr)
			chatHandler.RegisterRoutes(sr)
			wsHandler.RegisterRoutes(sr)
		})

		// Register voice passthrough routes if enabled
		if voiceBackend != nil {
			voice.New(voiceBackend, logger).RegisterRoutes(api)
		}
	})

	return r
}

var _ Sessions = (*session.Manager)(nil)
