package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaidashi/storefront-sync/internal/audit"
	"github.com/vaidashi/storefront-sync/internal/config"
	"github.com/vaidashi/storefront-sync/internal/realtime"
	"github.com/vaidashi/storefront-sync/internal/service"
	"github.com/vaidashi/storefront-sync/internal/shipping"
	"github.com/vaidashi/storefront-sync/internal/telemetry"
	"github.com/vaidashi/storefront-sync/pkg/circuitbreaker"
	"github.com/vaidashi/storefront-sync/pkg/logger"
	"github.com/vaidashi/storefront-sync/pkg/middleware"
	"github.com/vaidashi/storefront-sync/pkg/ratelimit"
)

// sessionSweepInterval is how often idle shipping sessions are dropped
const sessionSweepInterval = time.Minute

// Dependencies are the components the HTTP surface exposes
type Dependencies struct {
	Orders         *service.OrderService
	Notifications  *service.NotificationService
	Checkout       *service.CheckoutService
	Sessions       *shipping.Sessions
	Hub            *realtime.Hub
	Poller         *realtime.Poller
	Audit          audit.Log
	PromoLimiter   *ratelimit.KeyedLimiter
	CarrierBreaker *circuitbreaker.CircuitBreaker
	// Closers release storage and transport connections on shutdown, in order
	Closers []func() error
}

type Server struct {
	config     *config.Config
	logger     logger.Logger
	router     *mux.Router
	httpServer *http.Server
	deps       Dependencies

	stop chan struct{}
	wg   sync.WaitGroup
}

func newServer(cfg *config.Config, deps Dependencies, logger logger.Logger) *Server {
	r := mux.NewRouter()

	server := &Server{
		router: r,
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Port),
			Handler:     r,
			ReadTimeout: 15 * time.Second,
			// no WriteTimeout: event streams hold the response open
			IdleTimeout: 60 * time.Second,
		},
		logger: logger,
		config: cfg,
		deps:   deps,
		stop:   make(chan struct{}),
	}

	server.setupRoutes()
	return server
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the sync hub, the poller and the HTTP server
func (s *Server) Start() error {
	if s.deps.Hub != nil {
		if err := s.deps.Hub.Start(context.Background()); err != nil {
			return err
		}
	}
	if s.deps.Poller != nil {
		s.deps.Poller.Start()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweepSessions()
	}()

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// ends open event streams so the HTTP server can drain
	close(s.stop)
	s.wg.Wait()

	err := s.httpServer.Shutdown(ctx)

	if s.deps.Poller != nil {
		s.deps.Poller.Stop()
	}

	if s.deps.Hub != nil {
		if err := s.deps.Hub.Stop(); err != nil {
			s.logger.Error("Error stopping sync hub", "error", err)
		}
	}

	if s.deps.PromoLimiter != nil {
		s.deps.PromoLimiter.Stop()
	}

	for _, closeFn := range s.deps.Closers {
		if err := closeFn(); err != nil {
			s.logger.Error("Error closing connection", "error", err)
		}
	}

	return err
}

func (s *Server) sweepSessions() {
	if s.deps.Sessions == nil {
		return
	}

	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			if removed := s.deps.Sessions.Sweep(now); removed > 0 {
				s.logger.Debug("Dropped idle shipping sessions", "count", removed)
			}
		}
	}
}

// setupRoutes configures all the routes for our API
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.actorMiddleware)
	if s.config.Tracing {
		s.router.Use(telemetry.Middleware("storefront-sync"))
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)

	api.HandleFunc("/orders", s.getOrdersHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.createOrderHandler).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", s.getOrderByIDHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.updateOrderHandler).Methods(http.MethodPatch)
	api.HandleFunc("/orders/{id}", s.deleteOrderHandler).Methods(http.MethodDelete)
	api.HandleFunc("/orders/{id}/status", s.updateOrderStatusHandler).Methods(http.MethodPatch)

	api.HandleFunc("/notifications", s.getNotificationsHandler).Methods(http.MethodGet)
	api.HandleFunc("/notifications", s.addNotificationHandler).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{id}/read", s.markNotificationReadHandler).Methods(http.MethodPost)

	promoValidate := http.Handler(http.HandlerFunc(s.validatePromoHandler))
	if s.deps.PromoLimiter != nil {
		limiter := middleware.NewRateLimiterMiddleware(s.deps.PromoLimiter, middleware.RateLimiterConfig{
			MaxTokens:  s.config.PromoLimit.Burst,
			RefillRate: s.config.PromoLimit.Refill,
		}, s.logger)
		promoValidate = limiter.Middleware(promoValidate)
	}
	api.Handle("/promo/validate", promoValidate).Methods(http.MethodPost)
	api.HandleFunc("/promo/codes", s.getPromoCodesHandler).Methods(http.MethodGet)

	api.HandleFunc("/shipping/rates", s.getShippingRatesHandler).Methods(http.MethodPost)
	api.HandleFunc("/shipping/carriers", s.getCarriersHandler).Methods(http.MethodGet)

	api.HandleFunc("/checkout/quote", s.checkoutQuoteHandler).Methods(http.MethodPost)
	api.HandleFunc("/checkout", s.checkoutHandler).Methods(http.MethodPost)

	api.HandleFunc("/stream/orders", s.streamOrdersHandler).Methods(http.MethodGet)
	api.HandleFunc("/stream/notifications", s.streamNotificationsHandler).Methods(http.MethodGet)

	admin := s.router.PathPrefix("/api/v1/admin").Subrouter()
	admin.HandleFunc("/notifications", s.getAllNotificationsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/audit", s.getAuditLogHandler).Methods(http.MethodGet)
	admin.HandleFunc("/carrier-breaker", s.getCarrierBreakerHandler).Methods(http.MethodGet)
	admin.HandleFunc("/carrier-breaker/reset", s.resetCarrierBreakerHandler).Methods(http.MethodPost)
}

// Middleware for logging requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("Request processed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
			"remoteAddr", r.RemoteAddr,
		)
	})
}

// actorMiddleware records who is acting for the audit log. There is no authentication;
// the caller names itself with X-Actor.
func (s *Server) actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := r.Header.Get("X-Actor"); actor != "" {
			r = r.WithContext(audit.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
