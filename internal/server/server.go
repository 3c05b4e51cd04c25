package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/copyleftdev/incognito/internal/config"
	"github.com/copyleftdev/incognito/internal/sessions"
)

type Server struct {
	httpServer *http.Server
	cfg        *config.Config
	sessions   *sessions.Manager
	logger     *zap.Logger
}

func NewServer(cfg *config.Config, sm *sessions.Manager, logger *zap.Logger) *Server {
	apiHandler := NewAPIHandler(sm, logger)
	router := NewRouter(cfg, apiHandler, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     zap.NewStdLog(logger),
	}

	return &Server{
		httpServer: httpServer,
		cfg:        cfg,
		sessions:   sm,
		logger:     logger,
	}
}

// NewRouter assembles the middleware stack and the API routes.
func NewRouter(cfg *config.Config, h *APIHandler, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(RequestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second)) // Request timeout

	corsOptions := cors.Options{
		AllowedOrigins:   cfg.Security.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true, // Be careful with this in production
		MaxAge:           300,  // Maximum value not ignored by any major browsers
	}
	router.Use(cors.Handler(corsOptions))

	if cfg.Security.ApiKey != "" {
		router.Use(APIKeyAuth(cfg.Security.ApiKey))
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/contexts", h.HandleCreateContext)
		r.Get("/contexts", h.HandleListContexts)

		r.Route("/contexts/{contextID}", func(r chi.Router) {
			r.Get("/", h.HandleGetContext)
			r.Delete("/", h.HandleCloseContext)

			r.Get("/cookies", h.HandleGetCookies)
			r.Post("/cookies", h.HandleAddCookies)
			r.Delete("/cookies", h.HandleClearCookies)

			r.Post("/pages", h.HandleOpenPage)
			r.Get("/pages", h.HandleListPages)
			r.Post("/pages/wait", h.HandleWaitForPage)
			r.Post("/pages/{pageID}/navigate", h.HandleNavigatePage)
			r.Get("/pages/{pageID}/content", h.HandlePageContent)
			r.Delete("/pages/{pageID}", h.HandleClosePage)

			r.Post("/routes", h.HandleAddRoute)
			r.Delete("/routes", h.HandleRemoveRoute)

			r.Post("/init-scripts", h.HandleAddInitScript)
			r.Post("/totp", h.HandleExposeTOTP)

			r.Post("/permissions", h.HandleGrantPermissions)
			r.Delete("/permissions", h.HandleClearPermissions)
			r.Post("/geolocation", h.HandleSetGeolocation)
			r.Delete("/geolocation", h.HandleClearGeolocation)
			r.Post("/offline", h.HandleSetOffline)
			r.Post("/headers", h.HandleSetExtraHeaders)
			r.Post("/timeouts", h.HandleSetTimeouts)

			r.Get("/storage", h.HandleStorageState)
		})
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	})

	return router
}

func (s *Server) Start() error {
	s.logger.Info("starting server", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server gracefully stopped")
	return nil
}

// --- Custom Middleware ---

// RequestLogger emits one structured line per request.
func RequestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.RequestURI),
					zap.String("remote", r.RemoteAddr),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("elapsed", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

// APIKeyAuth provides simple API Key authentication
func APIKeyAuth(validKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			// Allow pre-flight OPTIONS requests without auth
			if r.Method == "OPTIONS" {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				// Check Authorization header as Bearer token as alternative
				authHeader := r.Header.Get("Authorization")
				if strings.HasPrefix(authHeader, "Bearer ") {
					apiKey = strings.TrimPrefix(authHeader, "Bearer ")
				}
			}

			if apiKey == "" {
				http.Error(w, http.StatusText(http.StatusUnauthorized)+": API key required", http.StatusUnauthorized)
				return
			}
			if apiKey != validKey {
				http.Error(w, http.StatusText(http.StatusForbidden)+": Invalid API key", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}
