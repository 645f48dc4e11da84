package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

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
)

func main() {
	app := &cli.App{
		Name:  "feedback-jobs",
		Usage: "Run restartable batch jobs over feedback data",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List the available jobs",
				Action: func(c *cli.Context) error {
					for _, name := range jobs.Names {
						fmt.Fprintln(c.App.Writer, name)
					}
					return nil
				},
			},
			{
				Name:      "run",
				Usage:     "Run one job to completion, resuming from its checkpoint",
				ArgsUsage: "JOB",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "full",
						Usage: "Recompute thread analytics for every entity instead of the dirty set",
					},
					&cli.BoolFlag{
						Name:  "restart",
						Usage: "Discard the saved checkpoint before running",
					},
				},
				Action: runJob,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func runJob(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one job name, got %d", c.NArg())
	}
	name := c.Args().First()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.ServiceTypeJobs)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("initializing otel: %w", err)
	}
	if telemetry != nil {
		defer func() {
			if err := telemetry.Shutdown(context.Background()); err != nil {
				slog.Error("otel shutdown error", "error", err)
			}
		}()
	}
	logger.Setup(cfg)

	if err := id.Init(cfg.NodeID + 2); err != nil {
		return fmt.Errorf("initializing id generator: %w", err)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}

	producer := queue.NewRedisProducer(redisClient, queue.Streams{
		Events:    cfg.Redis.EventsStream,
		Emails:    cfg.Redis.EmailsStream,
		Scheduled: cfg.Redis.ScheduledSet,
	}, nil)
	defer producer.Close()

	renderer, err := email.NewRenderer(cfg.Email.FromName, cfg.Email.SiteURL)
	if err != nil {
		return fmt.Errorf("building email renderer: %w", err)
	}

	stores := store.NewStores(database.Conn())
	services := service.NewServices(
		stores,
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

	checkpoints := jobs.NewRedisCheckpoints(redisClient, cfg.Redis.CheckpointsHash)
	job, ok := jobs.Lookup(name, c.Bool("full"), jobs.Deps{
		Stores:        stores,
		Notifications: services.Notifications(),
		Checkpoints:   checkpoints,
		Dirty:         jobs.NewDirtyTracker(redisClient, cfg.Redis.DirtySet),
		PageSize:      cfg.Worker.JobPageSize,
	})
	if !ok {
		return fmt.Errorf("unknown job %q (see `list`)", name)
	}

	if c.Bool("restart") {
		if err := checkpoints.Clear(ctx, job.Name()); err != nil {
			return fmt.Errorf("clearing checkpoint: %w", err)
		}
	}

	stats, err := job.Run(ctx)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	fmt.Fprintf(c.App.Writer, "%s: %d pages, %d items, %d outputs\n", name, stats.Pages, stats.Items, stats.Outputs)
	return nil
}
