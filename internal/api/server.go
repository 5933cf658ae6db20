// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/market-sync/internal/job"
	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/service"
)

// Service interfaces for dependency injection and testing

// RefreshDispatcher enqueues order syncs on the shared job queue
type RefreshDispatcher interface {
	RefreshRegion(ctx context.Context, regionID int32, typeID *int32) (*job.Job, error)
	RunAll(ctx context.Context) (*service.DispatchResult, error)
}

// FetchStatusReader reads the per-region sync record
type FetchStatusReader interface {
	Get(ctx context.Context, regionID int32) (*models.FetchStatus, error)
	List(ctx context.Context) ([]*models.FetchStatus, error)
}

// HistoryReader reads stored daily market history
type HistoryReader interface {
	ListHistory(ctx context.Context, regionID, typeID int32, since time.Time) ([]*models.MarketHistoryRecord, error)
}

// RouteFinder runs trade-route discovery
type RouteFinder interface {
	FindTradeRoutes(ctx context.Context, q service.RouteQuery) (*service.RouteResult, error)
}

// OrderCounter reports how many orders are stored for a region
type OrderCounter interface {
	CountByRegion(ctx context.Context, regionID int32) (int64, error)
}

// QueueDepth reports how many jobs are waiting on the shared queue
type QueueDepth interface {
	Len(ctx context.Context) (int64, error)
}

// Pinger is a dependency reported by the health endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	dispatcher RefreshDispatcher
	status     FetchStatusReader
	history    HistoryReader
	routes     RouteFinder
	orders     OrderCounter
	queue      QueueDepth
	checks     map[string]Pinger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerMinute int // per client; 0 disables limiting
	HistoryMaxDays    int // longest window /markets/history will serve
}

// Dependencies groups the services the server routes to. Checks are pinged by /health.
type Dependencies struct {
	Dispatcher RefreshDispatcher
	Status     FetchStatusReader
	History    HistoryReader
	Routes     RouteFinder
	Orders     OrderCounter // optional
	Queue      QueueDepth   // optional
	Checks     map[string]Pinger
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps Dependencies) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		dispatcher: deps.Dispatcher,
		status:     deps.Status,
		history:    deps.History,
		routes:     deps.Routes,
		orders:     deps.Orders,
		queue:      deps.Queue,
		checks:     deps.Checks,
		config:     config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerMinute)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Market sync endpoints
	api.HandleFunc("/markets/refresh", s.handleRefreshRegion).Methods("POST")
	api.HandleFunc("/markets/refresh-all", s.handleRefreshAll).Methods("POST")
	api.HandleFunc("/markets/status", s.handleListFetchStatus).Methods("GET")
	api.HandleFunc("/markets/status/{region_id}", s.handleFetchStatus).Methods("GET")
	api.HandleFunc("/markets/history", s.handleHistory).Methods("GET")

	// Trade routes
	api.HandleFunc("/routes", s.handleTradeRoutes).Methods("GET")
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth pings every registered dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			deps[name] = "unavailable"
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]interface{}{
		"status":       status,
		"service":      "market-sync",
		"dependencies": deps,
	}
	if s.queue != nil {
		if n, err := s.queue.Len(ctx); err == nil {
			body["queue_depth"] = n
		}
	}
	respondJSON(w, code, body)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
