/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Request-scoped slog logger and one line per request
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request metrics
  6. CORS:       Cross-origin requests for the frontend
  7. Identity:   Bearer token to retail.Identity

ROUTE GROUPS:
  /api/register         Public
  /api/*                Signed-in callers; role gates live in the engine
  /api/admin/scenarios  Demo data, only when Options.Scenarios is set
  /metrics              Prometheus scrape endpoint
  /health               Liveness and database check

AUTHENTICATION:
  A missing Authorization header leaves the caller anonymous; /api routes
  other than /register then answer 401. A header that is present but
  invalid is always 401.

SEE ALSO:
  - handlers.go: Handler implementations
  - auth/auth.go: token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/stockroom/auth"
	"github.com/warp/stockroom/logger"
	"github.com/warp/stockroom/metrics"
	"github.com/warp/stockroom/retail"
)

// Authenticator resolves an Authorization header. *auth.Verifier implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (retail.Identity, error)
}

// Options carries the router's collaborators. Zero values are safe: no
// metrics, default CORS origins, slog.Default().
type Options struct {
	Auth        Authenticator
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	CORSOrigins []string

	// Health, when set, is called by GET /health.
	Health func(ctx context.Context) error

	// Scenarios mounts the demo-data endpoints under /api/admin/scenarios.
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts Options) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware())
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(r.Context()); err != nil {
				logger.WithCtx(r.Context()).Error("health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, MessageResponse{Message: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, MessageResponse{Message: "ok"})
	})
	if opts.Metrics != nil {
		r.Get("/metrics", opts.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(identity(opts.Auth))

		r.Post("/register", h.Register)

		r.Group(func(r chi.Router) {
			r.Use(requireIdentity)

			r.Get("/me", h.Me)

			// Inventory routes
			r.Route("/inventory", func(r chi.Router) {
				r.Get("/", h.ListInventory)
				r.Post("/", h.CreateItem)
				r.Get("/summary", h.InventorySummary)
				r.Patch("/{id}", h.UpdateItem)
				r.Delete("/{id}", h.DeleteItem)
				r.Post("/{id}/stock", h.AdjustStock)
			})

			// Sale routes
			r.Route("/sales", func(r chi.Router) {
				r.Get("/", h.ListSales)
				r.Post("/", h.CreateSale)
				r.Get("/summary", h.SalesSummary)
				r.Get("/{id}", h.GetSale)
				r.Patch("/{id}", h.UpdateSale)
				r.Delete("/{id}", h.DeleteSale)
			})

			// Admin routes
			r.Route("/admin", func(r chi.Router) {
				r.Get("/users", h.ListUsers)
				r.Patch("/users/{id}", h.UpdateUserRole)
				r.Get("/audit", h.ListAudit)
				r.Get("/monitor", h.MonitorStatus)
				r.Post("/monitor/run", h.RunMonitor)

				if opts.Scenarios {
					r.Get("/scenarios", h.ListScenarios)
					r.Get("/scenarios/current", h.GetCurrentScenario)
					r.Post("/scenarios/load", h.LoadScenario)
				}
			})
		})
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// requestLogger injects a logger tagged with the chi request id and logs
// one line per request.
func requestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := base.With("request_id", middleware.GetReqID(r.Context()))
			r = r.WithContext(logger.InjectLogger(r.Context(), reqLog))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			reqLog.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"ip", r.RemoteAddr,
			)
		})
	}
}

type identityKey struct{}

// identity resolves the caller once per request.
func identity(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || authn == nil {
				next.ServeHTTP(w, r)
				return
			}

			id, err := authn.Authenticate(r.Context(), header)
			if err != nil {
				if errors.Is(err, auth.ErrMissingToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrUnknownUser) {
					logger.WithCtx(r.Context()).Debug("rejected credentials", "error", err)
					writeError(w, r, &retail.UnauthenticatedError{})
					return
				}
				writeError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey{}, id)
			reqLog := logger.WithCtx(ctx).With("actor", id.Actor(), "role", string(id.Role))
			next.ServeHTTP(w, r.WithContext(logger.InjectLogger(ctx, reqLog)))
		})
	}
}

func requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !identityFrom(r.Context()).Authenticated() {
			writeError(w, r, &retail.UnauthenticatedError{})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// identityFrom returns the caller, or the zero (anonymous) Identity.
func identityFrom(ctx context.Context) retail.Identity {
	id, _ := ctx.Value(identityKey{}).(retail.Identity)
	return id
}

// WithIdentity returns ctx carrying id, for callers that resolve identity
// outside the HTTP stack.
func WithIdentity(ctx context.Context, id retail.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}
