// Blockforge server: the HTTP/SSE front door onto the Block Registry,
// Thinker (planner) and DAG Executor described in spec.md.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kkkaaai/blockforge/internal/config"
	"github.com/kkkaaai/blockforge/internal/infrastructure/cache"
	"github.com/kkkaaai/blockforge/internal/infrastructure/logger"
	"github.com/kkkaaai/blockforge/internal/infrastructure/storage"
	"github.com/kkkaaai/blockforge/pkg/capability"
	"github.com/kkkaaai/blockforge/pkg/executor"
	"github.com/kkkaaai/blockforge/pkg/models"
	"github.com/kkkaaai/blockforge/pkg/planner"
	"github.com/kkkaaai/blockforge/pkg/registry"
	"github.com/kkkaaai/blockforge/pkg/sandbox"
	"github.com/kkkaaai/blockforge/pkg/synthesizer"
)

// seedBlocksPath is where the registry's bootstrap catalog lives; it
// doubles as the scenario fixtures pkg/registry and pkg/planner tests
// load directly.
const seedBlocksPath = "pkg/registry/testdata/seed_blocks.yaml"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.Logging)
	logger.SetDefault(appLogger)

	appLogger.Info("starting blockforge server",
		"version", "1.0.0",
		"port", cfg.Server.Port,
	)

	dbConfig := &storage.Config{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MinConnections,
		ConnMaxLifetime: cfg.Database.MaxConnLifetime,
		ConnMaxIdleTime: cfg.Database.MaxIdleTime,
		Debug:           cfg.Logging.Level == "debug",
	}
	db, err := storage.NewDB(dbConfig)
	if err != nil {
		appLogger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer storage.Close(db)
	appLogger.Info("database connected", "max_conns", cfg.Database.MaxConnections)

	var redisCache *cache.RedisCache
	if redisCache, err = cache.NewRedisCache(cfg.Redis); err != nil {
		appLogger.Warn("redis cache unavailable, continuing without it", "error", err)
		redisCache = nil
	} else {
		defer redisCache.Close()
		appLogger.Info("redis cache connected")
	}

	sb, err := sandbox.New(cfg.Sandbox)
	if err != nil {
		appLogger.Error("failed to build sandbox backend", "error", err)
		os.Exit(1)
	}
	defer sb.Close()
	appLogger.Info("sandbox backend ready", "backend", cfg.Sandbox.Backend)

	var cap capability.Capability
	if cfg.LLM.Endpoint != "" {
		cap = capability.New(cfg.LLM)
		appLogger.Info("language capability configured", "endpoint", cfg.LLM.Endpoint, "model", cfg.LLM.Model)
	} else {
		appLogger.Warn("no LLM endpoint configured; registry search falls back to text-only and planning will fail")
	}

	reg := registry.New(db, redisCache, cap)

	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := reg.WarmIndex(startupCtx); err != nil {
		appLogger.Warn("failed to warm registry index from an existing catalog", "error", err)
	}
	cancel()

	if reg.IndexSize() == 0 {
		seeded, err := loadSeedCatalog(reg, appLogger)
		if err != nil {
			appLogger.Warn("failed to load seed block catalog", "error", err, "path", seedBlocksPath)
		} else {
			appLogger.Info("seed block catalog loaded", "count", seeded)
		}
	}

	synth := synthesizer.New(cap, sb, cfg.Synthesis)
	plan := planner.New(cap, reg, synth, cfg.Synthesis)
	memory := storage.NewMemoryRepository(db)
	runner := executor.New(reg, sb, cap, memory, cfg.Executor)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(appLogger))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	if cfg.Server.CORS {
		router.Use(corsMiddleware(cfg.Server.CORSAllowedOrigins))
		appLogger.Info("CORS enabled")
	}

	srv := &server{
		reg:    reg,
		cap:    cap,
		plan:   plan,
		runner: runner,
		db:     db,
		log:    appLogger,
	}
	srv.registerRoutes(router)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		appLogger.Info("http server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)
		serverErrors <- httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("server error", "error", err)
			os.Exit(1)
		}
	case sig := <-shutdown:
		appLogger.Info("shutdown initiated", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			appLogger.Error("graceful shutdown failed", "error", err)
			if err := httpServer.Close(); err != nil {
				appLogger.Error("server close failed", "error", err)
			}
		}
		appLogger.Info("server stopped")
	}
}

// loadSeedCatalog reads the fixture catalog and registers every block
// into reg, so a fresh install's search isn't empty.
func loadSeedCatalog(reg *registry.Registry, appLogger *logger.Logger) (int, error) {
	blocks, err := registry.LoadSeedBlocks(seedBlocksPath)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	for _, b := range blocks {
		if err := reg.Register(ctx, b); err != nil {
			appLogger.Warn("failed to register seed block", "block_id", b.ID, "error", err)
			continue
		}
	}
	return len(blocks), nil
}

// requestLogger is a minimal structured-logging middleware in the
// teacher's RequestLogger style, without the dependency on the
// deleted internal/infrastructure/api/rest package.
func requestLogger(appLogger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		appLogger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}

// corsMiddleware mirrors the teacher's hand-rolled CORS handling
// rather than pulling in a dependency for a half-dozen header sets.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := "*"
		if len(allowedOrigins) > 0 {
			origin = allowedOrigins[0]
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// server holds the handler receivers for the routes below; kept as an
// unexported struct rather than free functions closing over the same
// half-dozen dependencies, the shape pkg/server's deleted Server type
// used for the same reason.
type server struct {
	reg    *registry.Registry
	cap    capability.Capability
	plan   *planner.Planner
	runner *executor.Runner
	db     interface {
		PingContext(ctx context.Context) error
	}
	log *logger.Logger
}

func (s *server) registerRoutes(router *gin.Engine) {
	router.GET("/health", s.handleHealth)
	router.GET("/ready", s.handleReady)
	router.GET("/metrics", s.handleMetrics)

	v1 := router.Group("/api/v1")
	{
		blocks := v1.Group("/blocks")
		blocks.GET("", s.handleListBlocks)
		blocks.GET("/search", s.handleSearchBlocks)
		blocks.POST("", s.handleRegisterBlock)
		blocks.GET("/:id", s.handleGetBlock)
		blocks.DELETE("/:id", s.handleDeleteBlock)

		v1.POST("/plans", s.handlePlan)
		v1.POST("/pipelines/run", s.handleRunPipeline)
	}

	router.GET("/ws/plans", s.handlePlanWebSocket)
}

func (s *server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *server) handleReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready", "index_size": s.reg.IndexSize()})
}

func (s *server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"registry_index_size": s.reg.IndexSize()})
}

func (s *server) handleListBlocks(c *gin.Context) {
	ctx := c.Request.Context()
	list, err := s.reg.List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocks": list})
}

func (s *server) handleSearchBlocks(c *gin.Context) {
	query := c.Query("q")
	limit := 10
	if v := c.Query("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}

	var embedding models.EmbeddingVector
	if s.cap != nil && query != "" {
		if e, err := s.cap.Embed(c.Request.Context(), query); err == nil {
			embedding = e
		}
	}
	results := s.reg.Search(query, embedding, limit)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *server) handleRegisterBlock(c *gin.Context) {
	var b models.BlockDefinition
	if err := c.ShouldBindJSON(&b); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if err := s.reg.Register(c.Request.Context(), &b); err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (s *server) handleGetBlock(c *gin.Context) {
	b, err := s.reg.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *server) handleDeleteBlock(c *gin.Context) {
	if err := s.reg.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type planRequest struct {
	Intent string `json:"intent" binding:"required"`
	UserID string `json:"user_id" binding:"required"`
}

// handlePlan runs the Thinker state machine for one intent and streams
// its event log as Server-Sent Events, ending with a "result" event
// carrying the final PlannerState.
func (s *server) handlePlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	state, err := s.streamPlan(c.Request.Context(), req.Intent, req.UserID, func(ev planner.Event) error {
		c.SSEvent(string(ev.Type), ev)
		c.Writer.Flush()
		return nil
	})
	if err != nil && state == nil {
		c.SSEvent("error", gin.H{"error": err.Error()})
		c.Writer.Flush()
		return
	}
	c.SSEvent("result", state)
	c.Writer.Flush()
}

// handlePlanWebSocket is the gorilla/websocket alternate binding for
// the same event stream handlePlan serves over SSE, for consumers that
// prefer a socket over a one-way HTTP stream.
func (s *server) handlePlanWebSocket(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var req planRequest
	if err := conn.ReadJSON(&req); err != nil {
		conn.WriteJSON(gin.H{"error": "expected {intent, user_id} as the first message"})
		return
	}

	state, err := s.streamPlan(c.Request.Context(), req.Intent, req.UserID, func(ev planner.Event) error {
		return conn.WriteJSON(ev)
	})
	if err != nil && state == nil {
		conn.WriteJSON(gin.H{"type": "error", "error": err.Error()})
		return
	}
	conn.WriteJSON(gin.H{"type": "result", "state": state})
}

// streamPlan runs Plan in a goroutine and forwards every event to send
// as it arrives, so SSE and WebSocket handlers share one code path.
func (s *server) streamPlan(ctx context.Context, intent, userID string, send func(planner.Event) error) (*models.PlannerState, error) {
	events := make(chan planner.Event, 64)
	var state *models.PlannerState
	var planErr error
	done := make(chan struct{})

	go func() {
		defer close(done)
		state, planErr = s.plan.Plan(ctx, intent, userID, events)
	}()

	var sendErr error
	for ev := range events {
		if sendErr != nil {
			continue
		}
		if err := send(ev); err != nil {
			sendErr = err
		}
	}
	<-done
	if sendErr != nil {
		return state, sendErr
	}
	return state, planErr
}

type runPipelineRequest struct {
	Pipeline    *models.Pipeline `json:"pipeline" binding:"required"`
	RunID       string           `json:"run_id"`
	UserID      string           `json:"user_id" binding:"required"`
	TriggerData map[string]any   `json:"trigger_data"`
}

func (s *server) handleRunPipeline(c *gin.Context) {
	var req runPipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	runState, err := s.runner.Run(c.Request.Context(), req.Pipeline, req.RunID, req.UserID, req.TriggerData)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runState)
}

// writeDomainError maps the registry's sentinel/typed errors to HTTP
// status codes instead of collapsing everything to 500.
func writeDomainError(c *gin.Context, err error) {
	var valErr *models.ValidationError
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &valErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
