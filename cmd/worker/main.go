package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"threadline.app/feedback/common/id"
	"threadline.app/feedback/common/logger"
	"threadline.app/feedback/common/otel"
	"threadline.app/feedback/core/config"
	"threadline.app/feedback/core/db"
	"threadline.app/feedback/internal/email"
	"threadline.app/feedback/internal/jobs"
	"threadline.app/feedback/internal/queue"
	"threadline.app/feedback/internal/service"
	"threadline.app/feedback/internal/store"
	"threadline.app/feedback/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)

	slog.InfoContext(ctx, "feedback worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Redis.Group,
		"consumer_name", cfg.Redis.Consumer)

	// Use a different node ID than the server
	if err := id.Init(cfg.NodeID + 1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
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
	slog.InfoContext(ctx, "redis connected")

	producer := queue.NewRedisProducer(redisClient, queue.Streams{
		Events:    cfg.Redis.EventsStream,
		Emails:    cfg.Redis.EmailsStream,
		Scheduled: cfg.Redis.ScheduledSet,
	}, nil)
	defer producer.Close()

	renderer, err := email.NewRenderer(cfg.Email.FromName, cfg.Email.SiteURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build email renderer", "error", err)
		os.Exit(1)
	}
	sender := email.NewSMTPSender(email.SMTPConfig{
		Addr:        cfg.Email.Addr(),
		Host:        cfg.Email.SMTPHost,
		Username:    cfg.Email.Username,
		Password:    cfg.Email.Password,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
	})

	services := service.NewServices(
		store.NewStores(database.Conn()),
		service.NewTxRunner(database),
		producer,
		sender,
		renderer,
		cfg.Feedback,
	)
	dispatcher := worker.NewDispatcher(services.Notifications(), jobs.NewDirtyTracker(redisClient, cfg.Redis.DirtySet))

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	type runner struct {
		worker    *worker.Worker
		reclaimer *worker.RedisReclaimer
	}
	var runners []runner
	for _, stream := range []struct{ name, key string }{
		{"events", cfg.Redis.EventsStream},
		{"emails", cfg.Redis.EmailsStream},
	} {
		consumer, err := queue.NewRedisConsumer(ctx, redisClient, queue.ConsumerConfig{
			Stream:       stream.key,
			Group:        cfg.Redis.Group,
			Consumer:     cfg.Redis.Consumer,
			DLQStream:    cfg.Redis.DLQStream,
			BatchSize:    cfg.Worker.BatchSize,
			Block:        cfg.Worker.Block,
			MaxAttempts:  cfg.Worker.MaxAttempts,
			RequeueDelay: cfg.Worker.RequeueDelay,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create consumer", "error", err, "stream", stream.key)
			os.Exit(1)
		}

		w := worker.New(consumer, dispatcher, worker.Config{
			Name:        stream.name,
			MaxAttempts: cfg.Worker.MaxAttempts,
		})
		reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
			Stream:    stream.key,
			Group:     cfg.Redis.Group,
			Consumer:  cfg.Redis.Consumer + "-reclaimer",
			MinIdle:   cfg.Worker.ReclaimMinIdle,
			Interval:  cfg.Worker.ReclaimInterval,
			BatchSize: cfg.Worker.BatchSize,
		}, consumer, w.ProcessMessage)
		runners = append(runners, runner{worker: w, reclaimer: reclaimer})
	}

	scheduler := queue.NewScheduler(redisClient, producer, cfg.Redis.ScheduledSet, cfg.Worker.SchedulerInterval)

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := r.worker.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				slog.ErrorContext(ctx, "worker exited", "error", err)
			}
		}()
		go func() {
			defer wg.Done()
			r.reclaimer.Run(runCtx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(runCtx)
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop reclaimers first (quick), then workers which may be mid-task
	for _, r := range runners {
		r.reclaimer.Stop()
	}
	for _, r := range runners {
		r.worker.Stop()
	}
	cancelRun()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case <-done:
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
  __               _ _                _                              _
 / _| ___  ___  __| | |__   __ _  ___| | __ __      _____  _ __| | _____ _ __
| |_ / _ \/ _ \/ _' | '_ \ / _' |/ __| |/ / \ \ /\ / / _ \| '__| |/ / _ \ '__|
|  _|  __/  __/ (_| | |_) | (_| | (__|   <   \ V  V / (_) | |  |   <  __/ |
|_|  \___|\___|\__,_|_.__/ \__,_|\___|_|\_\   \_/\_/ \___/|_|  |_|\_\___|_|
`
