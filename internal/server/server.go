// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	_ "feedstash/docs" // swagger docs
	"feedstash/internal/cache"
	"feedstash/internal/config"
	"feedstash/internal/database"
	"feedstash/internal/download"
	"feedstash/internal/events"
	"feedstash/internal/export"
	"feedstash/internal/extract"
	"feedstash/internal/listing"
	"feedstash/internal/middleware"
	"feedstash/internal/models"
	"feedstash/internal/notify"
	"feedstash/internal/repository"
	"feedstash/internal/scheduler"
	"feedstash/internal/scrape"
	"feedstash/internal/session"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus

	sources  repository.SourceRepository
	posts    repository.PostRepository
	comments repository.CommentRepository
	contents repository.ContentRepository
	sessions repository.SessionRepository

	orchestrator *session.Orchestrator
	exporter     *export.Exporter
	hub          *events.Hub
	scheduler    *scheduler.Scheduler
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	// Initialize database
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Initialize Redis
	cache.InitRedis(cfg.RedisURL)
	redisClient := cache.GetClient()

	notifier, err := notify.NewTelegramNotifier(cfg)
	if err != nil {
		return nil, fmt.Errorf("telegram notifier setup failed: %w", err)
	}

	return newServer(cfg, db, redisClient, notifier)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis and
// optionally performs explicit seeding.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	return newServer(cfg, db, redisClient, nil)
}

func newServer(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, notifier *notify.TelegramNotifier) (*Server, error) {
	middleware.InitMiddleware(cfg)
	// The cache helpers read a package-level client; keep it in step with
	// whatever the caller injected, including nil for cache-disabled runs.
	cache.SetClient(redisClient)

	// Initialize repositories
	sources := repository.NewSourceRepository(db)
	posts := repository.NewPostRepository(db)
	comments := repository.NewCommentRepository(db)
	contents := repository.NewContentRepository(db)
	sessions := repository.NewSessionRepository(db)

	// Initialize Prometheus metrics
	prom := middleware.InitMetrics("feedstash-api")

	hub := events.NewHub()
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout()}

	scraper := scrape.NewCoordinator(scrape.Deps{
		Sources:       sources,
		Posts:         posts,
		Comments:      comments,
		Contents:      contents,
		Lister:        listing.NewFeedLister(httpClient, cfg),
		CommentLister: listing.NewFeedCommentLister(httpClient, cfg),
		Registry:      extract.NewDefaultRegistry(httpClient, cfg),
		Publisher:     hub,
	}, cfg)
	downloader := download.NewCoordinator(contents, httpClient, hub, cfg)

	orchDeps := session.Deps{
		Sessions:   sessions,
		Sources:    sources,
		Posts:      posts,
		Comments:   comments,
		Contents:   contents,
		Scraper:    scraper,
		Downloader: downloader,
		Publisher:  hub,
	}
	if notifier != nil {
		orchDeps.Notifier = notifier
	}
	orchestrator := session.NewOrchestrator(orchDeps, cfg)

	return &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: prom,
		sources:        sources,
		posts:          posts,
		comments:       comments,
		contents:       contents,
		sessions:       sessions,
		orchestrator:   orchestrator,
		exporter:       export.NewExporter(sources, posts, contents, cfg),
		hub:            hub,
		scheduler:      scheduler.NewScheduler(orchestrator, cfg),
	}, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID and Run ID
	app.Use(middleware.ContextMiddleware())

	// OpenTelemetry span per request (after requestid so spans carry it)
	app.Use(middleware.TracingMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS middleware should run before middlewares that can short-circuit
	// (e.g. limiter) so browser clients still receive CORS headers on error
	// responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		// Never rate-limit preflight requests; they should be handled by CORS.
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)
	api.Get("/", s.HealthCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Feedstash Metrics Dashboard",
	}))

	// Swagger documentation
	api.Get("/swagger/*", swagger.HandlerDefault)

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/token", middleware.RateLimit(
		s.redis, 10, 5*time.Minute, "token"), s.IssueToken)

	// Protected routes
	protected := api.Group("", middleware.AuthRequired)

	// Source routes. Fixed paths go BEFORE the generic /:id routes.
	sources := protected.Group("/sources")
	sources.Get("/", s.GetSources)
	sources.Post("/", s.CreateSource)
	sources.Get("/export", s.ExportSources)
	sources.Post("/import", s.ImportSources)
	sources.Put("/settings", s.BulkUpdateSourceSettings)
	sources.Post("/:id/activate", s.ActivateSource)
	sources.Post("/:id/deactivate", s.DeactivateSource)
	sources.Get("/:id", s.GetSource)
	sources.Put("/:id", s.UpdateSource)
	sources.Delete("/:id", s.DeleteSource)

	// Run routes
	runs := protected.Group("/runs")
	runs.Post("/", middleware.RateLimit(
		s.redis, 6, time.Minute, "start_run"), s.StartRun)
	runs.Get("/status", s.GetRunStatus)

	// Session routes
	sessions := protected.Group("/sessions")
	sessions.Get("/", s.GetSessions)
	sessions.Get("/latest", s.GetLatestSession)
	sessions.Get("/:id/posts", s.GetSessionPosts)
	sessions.Get("/:id/failures", s.GetSessionFailures)
	sessions.Get("/:id", s.GetSession)

	// Websocket endpoints
	ws := api.Group("/ws", middleware.WebSocketAuthRequired)
	ws.Get("/progress", s.ProgressHandler())
}

// HealthCheck is a legacy/simple alias for ReadinessCheck
func (s *Server) HealthCheck(c *fiber.Ctx) error {
	return s.ReadinessCheck(c)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. The cache is optional, so
// only the database gates readiness; Redis state is reported for operators.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	cacheStatus := "disabled"
	if s.redis != nil {
		cacheStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			cacheStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"cache":    cacheStatus,
		},
		"time": time.Now(),
	})
}

// Start starts the server
func (s *Server) Start() error {
	app := fiber.New(fiber.Config{
		AppName: "Feedstash API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				return models.RespondWithError(c, fiberErr.Code, err)
			}
			log.Printf("Error: %v", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)

	if err := s.scheduler.Start(); err != nil {
		return err
	}

	log.Printf("Server starting on port %s...", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Stop scheduling new runs first
	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	// Shutdown the HTTP/WS server
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	// Close WebSocket connections gracefully
	if s.hub != nil {
		if err := s.hub.Shutdown(ctx); err != nil {
			log.Printf("error shutting down progress hub: %v", err)
		}
	}

	// Close database connection
	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}

	// Close Redis connection
	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
