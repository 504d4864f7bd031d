package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/loggo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"academia-backend/internal/changestream"
	"academia-backend/internal/config"
	"academia-backend/internal/database"
	"academia-backend/internal/handlers"
	"academia-backend/internal/metrics"
	"academia-backend/internal/middleware"
	"academia-backend/internal/models"
	"academia-backend/internal/repository"
	"academia-backend/internal/router"
	"academia-backend/internal/services"
	"academia-backend/internal/websocket"
)

func main() {
	log.Println("🚀 Starting Academia Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	if err := loggo.ConfigureLoggers(cfg.LogConfig); err != nil {
		log.Fatalf("✗ Invalid LOG_CONFIG %q: %v", cfg.LogConfig, err)
	}
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL, int32(cfg.DatabaseMaxConns))
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, cfg.MigrationsPath); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Step 5: Change Stream ────
	var (
		stream    changestream.Stream
		publisher changestream.Publisher
		relay     *changestream.Relay
	)
	switch cfg.ChangeStream {
	case config.ChangeStreamRedis:
		stream = changestream.NewRedisStream(redisClients.PubSub)
		publisher = changestream.NewRedisPublisher(redisClients.Client)
		// Tables written outside this service reach Redis through the relay.
		relay = changestream.NewRelay(pool, publisher,
			models.TableCourseEnrollments,
			models.TableUserAchievements,
			models.TableCourseBookmarks,
			models.TableCertificates,
		)
		if err := relay.Start(context.Background()); err != nil {
			log.Fatalf("✗ Change relay failed: %v", err)
		}
	default:
		// Triggers publish every change; repositories stay quiet.
		stream = changestream.NewPostgresStream(pool)
		publisher = changestream.NopPublisher{}
	}
	log.Printf("✓ Change stream: %s", cfg.ChangeStream)

	// ──── Metrics ────
	var (
		registry *prometheus.Registry
		m        *metrics.Metrics
	)
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(registry)
	}

	// ──── Initialize Repositories ────
	studySessionRepo := repository.NewStudySessionRepo(pool, publisher)
	notificationRepo := repository.NewNotificationRepo(pool, publisher)

	// ──── Initialize Handlers ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	studySessionHandler := handlers.NewStudySessionHandler(studySessionRepo)
	notificationHandler := handlers.NewNotificationHandler(notificationRepo)

	// ──── Step 6: Start Notification Sweeper ────
	sweeper := services.NewNotificationSweeper(notificationRepo, clock.WallClock)
	sweeper.Start()
	log.Println("✓ Notification sweeper started")

	// ──── Step 7: Start WebSocket Hub ────
	wsHub := websocket.NewHub(websocket.Config{
		Auth:          jwtAuth,
		Stream:        stream,
		Recorder:      studySessionRepo,
		Notifications: notificationRepo,
		Tracker:       cfg.Tracker,
		Clock:         clock.WallClock,
		Metrics:       m,
		AllowedOrigin: cfg.FrontendURL,
	})
	log.Println("✓ WebSocket hub started")

	// WebSocket connect rate limiter (30 req/min per IP)
	wsLimiter := middleware.NewRateLimiter(clock.WallClock, 30, time.Minute)

	// ──── Step 8: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		studySessionHandler,
		notificationHandler,
		wsHub,
		wsLimiter,
		registry,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		// Pages get their final study-time save before the pool closes.
		wsHub.Close()
		if relay != nil {
			relay.Stop()
		}
		sweeper.Stop()
		wsLimiter.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ Academia Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
