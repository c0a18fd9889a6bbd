package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/tcrsapp/tcrs/internal/auth/rbac"
	"github.com/tcrsapp/tcrs/internal/auth/token"
	"github.com/tcrsapp/tcrs/internal/cli/common"
	"github.com/tcrsapp/tcrs/internal/dictionary"
	"github.com/tcrsapp/tcrs/internal/objstore"
	"github.com/tcrsapp/tcrs/internal/request"
	"github.com/tcrsapp/tcrs/internal/telemetry"
	"github.com/tcrsapp/tcrs/internal/workflow"
	"github.com/tcrsapp/tcrs/internal/workflow/events"
)

// Config wires the server's collaborators. DB, Authz and Tokens are
// required; the rest degrade gracefully when nil.
type Config struct {
	DB      *gorm.DB
	Authz   rbac.Authorizer
	Tokens  *token.Manager
	Store   objstore.Store
	Events  events.Queue
	Redis   *redis.Client
	Metrics *telemetry.Metrics

	// StepCatalogPath optionally adds steps from a YAML file on boot.
	StepCatalogPath string
}

type Server struct {
	gdb      *gorm.DB
	requests *request.Repo
	serials  *request.SerialAllocator
	dict     *dictionary.Repo
	wf       *workflow.Logger
	events   events.Queue
	authz    rbac.Authorizer
	tokens   *token.Manager
	store    objstore.Store
	renamer  *objstore.Renamer
	metrics  *telemetry.Metrics

	engine  *gin.Engine
	httpSrv *http.Server
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.DB == nil || cfg.Authz == nil || cfg.Tokens == nil {
		return nil, errors.New("server: db, authz and tokens are required")
	}
	for _, m := range []func(*gorm.DB) error{request.AutoMigrate, workflow.AutoMigrate, dictionary.AutoMigrate} {
		if err := m(cfg.DB); err != nil {
			return nil, fmt.Errorf("server: migrate: %w", err)
		}
	}
	var extra []workflow.WorkflowStep
	if cfg.StepCatalogPath != "" {
		var err error
		if extra, err = workflow.LoadCatalogFile(cfg.StepCatalogPath); err != nil {
			return nil, err
		}
	}
	if err := workflow.Seed(cfg.DB, extra...); err != nil {
		return nil, err
	}
	evq := cfg.Events
	if evq == nil {
		evq = events.NewNoop()
	}
	s := &Server{
		gdb:      cfg.DB,
		requests: request.NewRepo(cfg.DB),
		serials:  request.NewSerialAllocator(cfg.DB, cfg.Redis),
		dict:     dictionary.NewRepo(cfg.DB),
		wf:       workflow.NewLogger(cfg.DB),
		events:   evq,
		authz:    cfg.Authz,
		tokens:   cfg.Tokens,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
	}
	if cfg.Store != nil {
		s.renamer = objstore.NewRenamer(cfg.Store)
	}
	s.engine = s.buildEngine()
	return s, nil
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), ginReqID(), ginLogger(), ginCORS())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/statusz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"log_counters": common.GetLogCounters()})
	})
	s.addRequestRoutes(r)
	s.addDictionaryRoutes(r)
	s.addFileRoutes(r)
	return r
}

func (s *Server) ListenAndServe(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(s.engine, "http.server"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("http server listening", "addr", addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ---------- middleware ----------

func ginReqID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func ginLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString("request_id"),
		)
	}
}

func ginCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// ---------- auth helpers ----------

func (s *Server) identity(c *gin.Context) (string, []string, bool) {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", nil, false
	}
	email, roles, err := s.tokens.Verify(strings.TrimPrefix(h, "Bearer "))
	if err != nil {
		return "", nil, false
	}
	return email, roles, true
}

// require answers 401/403 itself; callers bail out when ok is false.
// Any one of perms grants access.
func (s *Server) require(c *gin.Context, perms ...string) (string, []string, bool) {
	email, roles, ok := s.identity(c)
	if !ok {
		s.respondError(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
		return "", nil, false
	}
	for _, p := range perms {
		if s.authz.Can("user:"+email, p) {
			return email, roles, true
		}
		for _, r := range roles {
			if s.authz.Can("role:"+r, p) {
				return email, roles, true
			}
		}
	}
	s.respondError(c, http.StatusForbidden, "forbidden", "permission denied")
	return "", nil, false
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

// ---------- error envelope ----------

func (s *Server) respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code":       code,
		"message":    message,
		"request_id": c.GetString("request_id"),
	})
}
