// Package api serves the payment link HTTP API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/basedlink/basedlink-pay/auth"
	"github.com/basedlink/basedlink-pay/logger"
	"github.com/basedlink/basedlink-pay/metrics"
	"github.com/basedlink/basedlink-pay/payments"
	"github.com/basedlink/basedlink-pay/types"
	"github.com/basedlink/basedlink-pay/verification"
)

// Service is the payment service as seen by the HTTP layer.
type Service interface {
	SyncUser(ctx context.Context, id payments.Identity) (*types.User, error)
	CurrentUser(ctx context.Context, id payments.Identity) (*types.User, error)
	UpdateProfile(ctx context.Context, id payments.Identity, update types.ProfileUpdate) (*types.User, error)

	CreateProduct(ctx context.Context, id payments.Identity, in payments.ProductInput) (*types.Product, error)
	GetProduct(ctx context.Context, productID string) (*types.Product, error)
	ListProducts(ctx context.Context, id payments.Identity) ([]types.Product, error)
	UpdateProduct(ctx context.Context, id payments.Identity, productID string, in payments.ProductInput) (*types.Product, error)
	DeleteProduct(ctx context.Context, id payments.Identity, productID string) error

	CreatePayment(ctx context.Context, in payments.CreatePaymentInput) (*types.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*types.Payment, error)
	ListPayments(ctx context.Context, id payments.Identity, limit int) ([]types.Payment, error)
	Stats(ctx context.Context, id payments.Identity) (*types.SellerStats, error)
	ConfirmPayment(ctx context.Context, paymentID string) (*payments.ConfirmResult, error)
}

// Config holds the HTTP layer settings.
type Config struct {
	CORSOrigins      []string
	RateLimitPerMin  int
	MinConfirmations uint64
	MaxBodyBytes     int64
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Service  Service
	Verifier verification.Verifier
	Auth     *auth.Verifier
	Logger   logger.Logger
	Metrics  metrics.Recorder

	// Gatherer exposes /metrics when set.
	Gatherer prometheus.Gatherer

	// Ping reports storage health for /health.
	Ping func(ctx context.Context) error

	// ChainState reports the node circuit breaker state for /health.
	ChainState func() string
}

// Server is the HTTP server
type Server struct {
	cfg     Config
	deps    Deps
	router  *chi.Mux
	limiter *RateLimiter
}

// New creates a new server
func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.NoopLogger{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoopRecorder{}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: chi.NewRouter(),
	}
	if cfg.RateLimitPerMin > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin/6+1, 10*time.Minute)
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.deps.Logger, s.deps.Metrics))
	s.router.Use(middleware.Recoverer)
	s.router.Use(maxBodySize(s.cfg.MaxBodyBytes))

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.deps.Gatherer != nil {
		s.router.Method(http.MethodGet, "/metrics", metrics.Handler(s.deps.Gatherer))
	}

	requireAuth := func(r chi.Router) {
		r.Use(auth.Middleware(s.deps.Auth, writeError))
	}

	s.router.Route("/api", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware())
		}

		r.Post("/verify", s.handleVerify)

		r.Route("/users", func(r chi.Router) {
			requireAuth(r)
			r.Post("/me", s.handleSyncUser)
			r.Get("/me", s.handleGetUser)
			r.Patch("/me", s.handleUpdateProfile)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/{id}", s.handleGetProduct)

			r.Group(func(r chi.Router) {
				requireAuth(r)
				r.Post("/", s.handleCreateProduct)
				r.Get("/", s.handleListProducts)
				r.Put("/{id}", s.handleUpdateProduct)
				r.Delete("/{id}", s.handleDeleteProduct)
			})
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", s.handleCreatePayment)
			r.Get("/{id}", s.handleGetPayment)
			r.Post("/{id}/verify", s.handleConfirmPayment)

			r.Group(func(r chi.Router) {
				requireAuth(r)
				r.Get("/", s.handleListPayments)
				r.Get("/stats", s.handleStats)
			})
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "storage is unreachable")
			return
		}
	}

	body := map[string]string{"status": "ok"}
	if s.deps.ChainState != nil {
		if state := s.deps.ChainState(); state != "" {
			body["chain"] = state
			// verification answers 503 while the breaker is open
			if state == "open" {
				body["status"] = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, body)
}
