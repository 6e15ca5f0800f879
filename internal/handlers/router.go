package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/framefox/foxconnect/internal/platform/httpx"
)

// RouteRegistrar mounts a group of routes.
type RouteRegistrar func(r chi.Router)

type middlewares []func(http.Handler) http.Handler

func (m middlewares) apply(r chi.Router) {
	for _, mw := range m {
		if mw != nil {
			r.Use(mw)
		}
	}
}

type routerConfig struct {
	global   middlewares
	internal middlewares
	health   *HealthHandlers
	orders   RouteRegistrar
}

// Option customises NewRouter.
type Option func(*routerConfig)

// WithMiddlewares appends middleware that runs on every route, after request ids and the timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

// WithInternalMiddlewares appends middleware for the /internal group only; probes skip it.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.internal = append(cfg.internal, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithOrderRoutes mounts reg under /internal/orders. Without it the group does not exist.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.orders = reg }
}

const requestTimeout = 30 * time.Second

// NewRouter serves /healthz and /readyz at the root and the operator surface under /internal.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		global: middlewares{middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout)},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	cfg.global.apply(r)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	if cfg.orders != nil {
		r.Route("/internal", func(internal chi.Router) {
			cfg.internal.apply(internal)
			internal.Route("/orders", cfg.orders)
		})
	}
	return r
}
