package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"ams_backend/internal/config"
	"ams_backend/internal/media"
	"ams_backend/internal/metrics"
	"ams_backend/internal/ratelimit"
	"ams_backend/internal/service"
	"ams_backend/internal/ws"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Auth     *service.AuthService
	Users    *service.UserService
	Messages *service.MessageService
	Convs    *service.ConversationService
	Hub      *ws.Hub
	Limiter  ratelimit.Limiter
	Uploader media.Uploader
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

// NewRouter constructs the main HTTP router and wires routes, services, and middleware.
func NewRouter(cfg *config.Config, d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	limiter := d.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}

	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": cfg.AppName, "version": "1.0.0"})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", d.Metrics.Handler())

	// WebSocket endpoint; it authenticates on its own and must not be wrapped
	// by the request timeout.
	if d.Hub != nil {
		r.Get("/ws", ws.MakeHandler(d.Hub, d.Auth, d.Convs, cfg.CORSOrigins, log))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
		})

		// Auth routes (no auth required)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(d.Auth, log))
			r.Post("/login", handleLogin(d.Auth, log))
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Auth, log))

			r.Get("/auth/me", handleMe())

			// Users
			r.Route("/users", func(r chi.Router) {
				r.Get("/", handleListUsers(d.Users, log))
				r.Get("/{userID}", handleGetUser(d.Users, log))
			})

			// Messages and derived conversations
			r.Route("/messages", func(r chi.Router) {
				r.Post("/", handleSendMessage(d.Messages, limiter, d.Metrics, log))
				r.Get("/conversations", handleListConversations(d.Convs, log))
				r.Get("/unread", handleUnreadSummary(d.Convs, log))
				r.Get("/group", handleListGroupMessages(d.Convs, log))
				r.Put("/group/read", handleMarkGroupRead(d.Convs, log))
				r.Get("/broadcasts", handleListBroadcasts(d.Convs, log))
				r.Put("/read/{userID}", handleMarkRead(d.Convs, log))
				r.Get("/{userID}", handleListMessagesWith(d.Convs, log))
			})

			if d.Uploader != nil {
				r.Mount("/uploads", UploadRoutes(d.Uploader, int64(cfg.MaxUploadMB)<<20, log))
			}
		})
	})

	return r
}

// accessLog logs one line per request with zap.
func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("ip", r.RemoteAddr),
				zap.Int("status", status),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if status >= http.StatusInternalServerError {
				log.Error("HTTP Request", fields...)
				return
			}
			log.Info("HTTP Request", fields...)
		})
	}
}
