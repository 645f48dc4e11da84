package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"threadline.app/feedback/common/id"
	"threadline.app/feedback/common/logger"
	"threadline.app/feedback/common/otel"
	"threadline.app/feedback/core/config"
	"threadline.app/feedback/core/db"
	"threadline.app/feedback/internal/email"
	"threadline.app/feedback/internal/http/middleware"
	httprouter "threadline.app/feedback/internal/http/router"
	"threadline.app/feedback/internal/queue"
	"threadline.app/feedback/internal/service"
	"threadline.app/feedback/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "feedback server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	if err := database.Migrate(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to apply migrations", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected",
		"events_stream", cfg.Redis.EventsStream,
		"emails_stream", cfg.Redis.EmailsStream)

	producer := queue.NewRedisProducer(redisClient, queue.Streams{
		Events:    cfg.Redis.EventsStream,
		Emails:    cfg.Redis.EmailsStream,
		Scheduled: cfg.Redis.ScheduledSet,
	}, nil)

	renderer, err := email.NewRenderer(cfg.Email.FromName, cfg.Email.SiteURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build email renderer", "error", err)
		os.Exit(1)
	}

	services := service.NewServices(
		store.NewStores(database.Conn()),
		service.NewTxRunner(database),
		producer,
		email.NewSMTPSender(email.SMTPConfig{
			Addr:        cfg.Email.Addr(),
			Host:        cfg.Email.SMTPHost,
			Username:    cfg.Email.Username,
			Password:    cfg.Email.Password,
			FromAddress: cfg.Email.FromAddress,
			FromName:    cfg.Email.FromName,
		}),
		renderer,
		cfg.Feedback,
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}
	if err := producer.Close(); err != nil {
		slog.ErrorContext(shutdownCtx, "producer close error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, services *service.Services) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, services)

	return router
}

const banner = `
 _____ _                        _ _ _              __               _ _                _
|_   _| |__  _ __ ___  __ _  __| | (_)_ __   ___  / _| ___  ___  __| | |__   __ _  ___| | __
  | | | '_ \| '__/ _ \/ _' |/ _' | | | '_ \ / _ \| |_ / _ \/ _ \/ _' | '_ \ / _' |/ __| |/ /
  | | | | | | | |  __/ (_| | (_| | | | | | |  __/|  _|  __/  __/ (_| | |_) | (_| | (__|   <
  |_| |_| |_|_|  \___|\__,_|\__,_|_|_|_| |_|\___||_|  \___|\___|\__,_|_.__/ \__,_|\___|_|\_\
`
