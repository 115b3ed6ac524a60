package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"agri-auth/internal/autherr"
	"agri-auth/internal/service"
	"agri-auth/internal/util"
)

// NewRouter creates and configures the chi router with all middleware and routes
func NewRouter(authHandler *AuthHandler, limiter *service.RateLimiter, healthCheck http.HandlerFunc, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", healthCheck)

	// API routes; unauthenticated auth endpoints are rate limited per source IP
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter, logger))
		authHandler.RegisterRoutes(r)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"error":"NOT_FOUND","message":"endpoint not found"}`))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"success":false,"error":"METHOD_NOT_ALLOWED","message":"method not allowed"}`))
	})

	return router
}

// LoggerMiddleware logs each HTTP request with status and latency
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// RateLimitMiddleware applies the per-IP budget to every request under it.
func RateLimitMiddleware(limiter *service.RateLimiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil {
				if err := limiter.Allow(r.Context(), "ip:"+r.RemoteAddr); err != nil {
					status := autherr.HTTPStatus(err)
					code := autherr.CodeOf(err)
					logger.Warn("request rate limited",
						util.String("remote_addr", r.RemoteAddr),
						util.String("code", string(code)))
					setRetryAfter(w, err)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(status)
					body, _ := json.Marshal(Response{
						Success: false,
						Error:   string(code),
						Message: publicMessage(err),
					})
					w.Write(body)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
