package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"mintmind/internal/analytics"
	"mintmind/internal/cache"
	"mintmind/internal/core"
	applog "mintmind/internal/log"
	"mintmind/internal/middleware/ratelimit"
	"mintmind/internal/middleware/security"
	"mintmind/internal/middleware/trace"
	"mintmind/internal/services"
	"mintmind/internal/storage"
)

// TransactionAPI is what the transaction endpoints need.
type TransactionAPI interface {
	ListTransactions(ctx context.Context, ownerID string, q storage.Query) (storage.Page, error)
	EditTransaction(ctx context.Context, ownerID string, id int64, edit core.TransactionEdit) (core.Transaction, error)
	Categories(ctx context.Context, ownerID string) ([]string, error)
	RequestSync(ctx context.Context, ownerID, reason string) (services.SyncOutcome, error)
}

// AnalyticsAPI is what the aggregate endpoints need.
type AnalyticsAPI interface {
	Overview(ctx context.Context, ownerID string, now time.Time) (analytics.Overview, error)
	Gambling(ctx context.Context, ownerID string, now time.Time) (analytics.GamblingView, error)
	AlertsFor(ctx context.Context, ownerID string, now time.Time) ([]analytics.Alert, analytics.AlertInput, error)
	SpendingChart(ctx context.Context, ownerID string, now time.Time) (analytics.Chart, error)
	MonthlyIncome(ctx context.Context, ownerID string, now time.Time, months int) (analytics.Income, error)
	Dashboard(ctx context.Context, ownerID string, now time.Time) analytics.Dashboard
}

// Pinger reports whether a dependency is ready to serve.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds HTTP server settings.
type Config struct {
	Addr string

	// CacheTTL bounds how stale a cached gambling view or chart may be.
	// Edits and inline syncs served here invalidate the owner's entries;
	// syncs run by the worker or the scheduler are only seen once the TTL
	// expires.
	CacheTTL  time.Duration
	CacheSize int

	// SyncPerMinute limits manual sync requests per owner.
	SyncPerMinute int

	TrustedProxies []string
	// RequireTrustedIdentity rejects X-User-ID unless the request came
	// through a trusted proxy.
	RequireTrustedIdentity bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		CacheTTL:       time.Minute,
		CacheSize:      500,
		SyncPerMinute:  6,
		TrustedProxies: security.DefaultTrustedProxies,
	}
}

// Deps are the collaborators the handlers call. Ready may be nil.
type Deps struct {
	Transactions TransactionAPI
	Analytics    AnalyticsAPI
	Ready        Pinger
	Logger       *applog.Logger
}

type Server struct {
	http.Server
	txs       TransactionAPI
	analytics AnalyticsAPI
	ready     Pinger
	logger    *applog.Logger

	resolver       *security.Resolver
	limiter        *ratelimit.Limiter
	tracer         *trace.Middleware
	requireTrusted bool

	// Per-owner caches, keyed "<owner>|<view>|<date>".
	gamblingCache *cache.LRUCache[analytics.GamblingView]
	chartCache    *cache.LRUCache[analytics.Chart]
	caches        *cache.Manager

	now          func() time.Time
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	def := DefaultConfig()
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.SyncPerMinute <= 0 {
		cfg.SyncPerMinute = def.SyncPerMinute
	}
	if cfg.TrustedProxies == nil {
		cfg.TrustedProxies = def.TrustedProxies
	}

	resolver, err := security.NewResolver(cfg.TrustedProxies...)
	if err != nil {
		return nil, fmt.Errorf("configure trusted proxies: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	s := &Server{
		txs:            deps.Transactions,
		analytics:      deps.Analytics,
		ready:          deps.Ready,
		logger:         logger,
		resolver:       resolver,
		limiter:        ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.SyncPerMinute}),
		tracer:         trace.NewMiddleware(logger, resolver.ExtractClientIP),
		requireTrusted: cfg.RequireTrustedIdentity,
		gamblingCache:  cache.NewLRUCache[analytics.GamblingView](cfg.CacheSize, cfg.CacheTTL),
		chartCache:     cache.NewLRUCache[analytics.Chart](cfg.CacheSize, cfg.CacheTTL),
		caches:         cache.NewManager(),
		now:            func() time.Time { return time.Now().UTC() },
	}
	s.caches.Register(s.gamblingCache)
	s.caches.Register(s.chartCache)
	s.caches.StartCleanup(10 * time.Minute)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	r.Use(s.tracer.Middleware, headers.Middleware, applog.Middleware(s.logger))

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireIdentity)

	limitSync := s.limiter.Middleware(
		func(r *http.Request) string { return OwnerFromContext(r.Context()) },
		func(w http.ResponseWriter, r *http.Request) {
			s.logger.WarnContext(r.Context(), "Sync rate limit exceeded",
				applog.FieldOwnerID, OwnerFromContext(r.Context()))
			TooManyRequestsError().Write(w)
		},
	)

	api.HandleFunc("/transactions", s.handleListTransactions).Methods(http.MethodGet)
	api.Handle("/transactions/sync", limitSync(http.HandlerFunc(s.handleSync))).Methods(http.MethodPost)
	api.HandleFunc("/transactions/summary", s.handleSummary).Methods(http.MethodGet)
	api.HandleFunc("/transactions/categories", s.handleCategories).Methods(http.MethodGet)
	api.HandleFunc("/transactions/monthly-income", s.handleMonthlyIncome).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id:[0-9]+}", s.handleEditTransaction).Methods(http.MethodPut)
	api.HandleFunc("/gambling/summary", s.handleGamblingSummary).Methods(http.MethodGet)
	api.HandleFunc("/gambling/alerts", s.handleGamblingAlerts).Methods(http.MethodGet)
	api.HandleFunc("/gambling/dashboard", s.handleGamblingDashboard).Methods(http.MethodGet)
	api.HandleFunc("/spending/chart", s.handleSpendingChart).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		NotFoundError("not found").Write(w)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method not allowed").Write(w)
	})
	return r
}

// invalidateOwner drops every cached view of ownerID.
func (s *Server) invalidateOwner(ctx context.Context, ownerID string) {
	n := s.gamblingCache.DeletePrefix(ownerID+"|") + s.chartCache.DeletePrefix(ownerID+"|")
	if n > 0 {
		s.logger.DebugContext(ctx, "Owner cache invalidated",
			applog.FieldOwnerID, ownerID, "entries", n)
	}
}

func (s *Server) cacheKey(ownerID, view string, now time.Time) string {
	return ownerID + "|" + view + "|" + now.Format(time.DateOnly)
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}
