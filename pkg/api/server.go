// Package api is the HTTP/WebSocket front-end: envelope normalization,
// authentication, quota admission, and the error-taxonomy mapping.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/third-eye/thirdeye/pkg/auth"
	"github.com/third-eye/thirdeye/pkg/bus"
	"github.com/third-eye/thirdeye/pkg/config"
	"github.com/third-eye/thirdeye/pkg/database"
	"github.com/third-eye/thirdeye/pkg/eyes"
	"github.com/third-eye/thirdeye/pkg/metrics"
	"github.com/third-eye/thirdeye/pkg/models"
	"github.com/third-eye/thirdeye/pkg/overseer"
	"github.com/third-eye/thirdeye/pkg/provider"
	"github.com/third-eye/thirdeye/pkg/quota"
	"github.com/third-eye/thirdeye/pkg/session"
)

// Persistence is the slice of the store the front-end needs. Implemented
// by the real adapter; tests use fakes.
type Persistence interface {
	auth.KeyStore
	auth.AccountStore

	UpsertKey(ctx context.Context, key models.APIKey) error
	RevokeKey(ctx context.Context, keyID string, at time.Time) error
	ListKeys(ctx context.Context) ([]models.APIKey, error)

	UpsertTenant(ctx context.Context, tenant models.Tenant) error
	FetchTenant(ctx context.Context, tenantID string) (models.Tenant, error)
	ListTenants(ctx context.Context) ([]models.Tenant, error)

	SaveSession(ctx context.Context, sess models.Session) error
	DeleteSession(ctx context.Context, sessionID string) error

	RecordAudit(ctx context.Context, event models.AuditEvent) error
	ListAuditEvents(ctx context.Context, limit int) ([]models.AuditEvent, error)
}

// Deps carries everything the server needs. DB, Provider, Store, Metrics
// and Gatherer may be nil; the matching endpoints degrade instead of
// failing at startup.
type Deps struct {
	Config   config.ServerConfig
	Registry *eyes.Registry
	Overseer *overseer.Overseer
	Events   *bus.Bus
	Sessions *session.Store
	Quota    *quota.Manager
	Store    Persistence
	DB       *database.Client
	Provider *provider.Client
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Server is the HTTP front-end.
type Server struct {
	cfg      config.ServerConfig
	registry *eyes.Registry
	overseer *overseer.Overseer
	events   *bus.Bus
	sessions *session.Store
	quota    *quota.Manager
	store    Persistence
	db       *database.Client
	provider *provider.Client
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	verifier *auth.Authenticator
	admins   *auth.AdminSessions
	csrf     *auth.CSRF

	httpSrv *http.Server
}

// NewServer wires the front-end. The authenticator, admin sessions and
// CSRF issuer are owned here: they exist only to gate this surface.
func NewServer(deps Deps) *Server {
	s := &Server{
		cfg:      deps.Config,
		registry: deps.Registry,
		overseer: deps.Overseer,
		events:   deps.Events,
		sessions: deps.Sessions,
		quota:    deps.Quota,
		store:    deps.Store,
		db:       deps.DB,
		provider: deps.Provider,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		csrf:     auth.NewCSRF(),
	}
	if deps.Store != nil {
		s.verifier = auth.NewAuthenticator(deps.Store)
		s.admins = auth.NewAdminSessions(deps.Store)
	}
	return s
}

// Router builds the gin engine with the full route table.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), traceID(), securityHeaders())

	r.GET("/health", s.handleHealth)
	r.GET("/health/ready", s.handleReady)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	r.POST("/admin/auth/login", s.handleAdminLogin)

	// Consumer surface: audit first so auth and quota rejections are
	// recorded too, then key auth, then quota admission.
	v := r.Group("/", s.audited(), s.requireAPIKey(), s.quotaGuard())
	{
		v.POST("/validate", s.handleOrchestrate)
		v.POST("/eyes/overseer/orchestrate", s.handleOrchestrate)
		v.GET("/eyes", s.handleListEyes)
		v.POST("/eyes/:eye/run", s.handleRunEye)
		v.GET("/session/:id", s.handleGetSession)
		v.POST("/session/:id/clarifications", s.handleClarifications)
		v.DELETE("/session/:id", s.handleCloseSession)
	}

	// Control plane: admin key + live login session; CSRF on mutators.
	admin := r.Group("/admin", s.audited(), s.requireAPIKey(), s.requireAdmin())
	{
		admin.POST("/auth/logout", s.requireCSRF(), s.handleAdminLogout)

		admin.GET("/keys", s.handleListKeys)
		admin.POST("/keys", s.requireCSRF(), s.handleCreateKey)
		admin.DELETE("/keys/:id", s.requireCSRF(), s.handleRevokeKey)

		admin.GET("/tenants", s.handleListTenants)
		admin.POST("/tenants", s.requireCSRF(), s.handleUpsertTenant)
		admin.PUT("/tenants/:id/quota", s.requireCSRF(), s.handleSetTenantQuota)

		admin.GET("/audit", s.handleListAudit)
	}

	return r
}

// Handler combines the gin engine with the WebSocket endpoint. The
// upgrade must hijack the raw ResponseWriter, and gin's response wrapper
// refuses to hijack once the 101 status has been written, so the WS path
// is dispatched before the engine sees the request.
func (s *Server) Handler() http.Handler {
	engine := s.Router()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, wsPipelinePath) {
			s.handlePipelineWS(w, r)
			return
		}
		engine.ServeHTTP(w, r)
	})
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		WriteTimeout: s.cfg.WriteTimeout.AsDuration(),
	}
	s.logger().Info("http server listening", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) logger() *slog.Logger {
	return slog.With("component", "api")
}
