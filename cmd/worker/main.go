package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/clipvault/clipvault/internal/author"
	"github.com/clipvault/clipvault/internal/batch"
	"github.com/clipvault/clipvault/internal/channel"
	"github.com/clipvault/clipvault/internal/clip"
	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/discord"
	"github.com/clipvault/clipvault/internal/guild"
	"github.com/clipvault/clipvault/internal/media"
	"github.com/clipvault/clipvault/internal/message"
	"github.com/clipvault/clipvault/internal/postgres"
	"github.com/clipvault/clipvault/internal/queue"
	"github.com/clipvault/clipvault/internal/redis"
	"github.com/clipvault/clipvault/internal/scan"
	"github.com/clipvault/clipvault/internal/scanstatus"
	"github.com/clipvault/clipvault/internal/settings"
	"github.com/clipvault/clipvault/internal/storage"
	"github.com/clipvault/clipvault/internal/thumbnail"
	"github.com/clipvault/clipvault/internal/worker"
)

const redisDialTimeout = 5 * time.Second

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Worker stopped")
	}
}

func run() error {
	// A .env file is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().Str("env", cfg.WorkerEnv).Msg("Starting ClipVault worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect PostgreSQL
	db, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.Options{
		MaxConns:        cfg.DBPoolMax,
		MinConns:        cfg.DBPoolMin,
		MaxConnIdleTime: cfg.DBMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	// Run migrations
	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	// Connect Redis
	rdb, err := redis.Connect(ctx, cfg.RedisURL, redisDialTimeout)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Blob storage
	store, err := storage.FromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	log.Info().Str("backend", cfg.StorageType).Msg("Storage ready")

	// ffmpeg/ffprobe must be present before any thumbnail work starts.
	bins, err := media.FindBinaries()
	if err != nil {
		return fmt.Errorf("locate media binaries: %w", err)
	}
	log.Info().Str("ffmpeg", bins.FFmpeg).Str("ffprobe", bins.FFprobe).Msg("Media binaries found")

	client := discord.NewRESTClient(cfg.DiscordBotToken, log.Logger)

	// Repositories
	guildRepo := guild.NewPGRepository(db, log.Logger)
	channelRepo := channel.NewPGRepository(db, log.Logger)
	authorRepo := author.NewPGRepository(db, log.Logger)
	messageRepo := message.NewPGRepository(db, log.Logger)
	clipRepo := clip.NewPGRepository(db, log.Logger)
	thumbRepo := thumbnail.NewPGRepository(db, log.Logger)
	failedRepo := thumbnail.NewFailedPGRepository(db, log.Logger)
	scanRepo := scanstatus.NewPGRepository(db, log.Logger)

	// Settings resolution with file defaults layered under guild and
	// channel overrides.
	fileDefaults, err := settings.LoadFileDefaults(cfg.DefaultSettingsPath)
	if err != nil {
		return fmt.Errorf("load default settings: %w", err)
	}
	resolver := settings.NewResolver(guildRepo, channelRepo, fileDefaults, cfg.SettingsCacheTTL, log.Logger)

	// Thumbnail pipeline
	downloader := media.NewDownloader(cfg.VideoDownloadTimeout, cfg.VideoConnectTimeout, log.Logger)
	pipeline := media.NewPipeline(downloader, bins, store, media.Options{
		Small:     media.SizeSpec{Name: thumbnail.SizeSmall, MaxWidth: cfg.ThumbnailSmallWidth, MaxHeight: cfg.ThumbnailSmallHeight},
		Large:     media.SizeSpec{Name: thumbnail.SizeLarge, MaxWidth: cfg.ThumbnailLargeWidth, MaxHeight: cfg.ThumbnailLargeHeight},
		Timestamp: cfg.ThumbnailTimestamp,
		Quality:   cfg.ThumbnailQuality,
	}, log.Logger)
	thumbs := thumbnail.NewHandler(clipRepo, thumbRepo, failedRepo, pipeline, store, log.Logger)

	retryCfg := postgres.RetryConfig{
		MaxAttempts: uint64(cfg.DBRetryMaxAttempts),
		BaseDelay:   cfg.DBRetryBaseDelay,
		MaxDelay:    cfg.DBRetryMaxDelay,
	}
	processor := batch.NewProcessor(resolver, authorRepo, messageRepo, clipRepo, thumbs, retryCfg, log.Logger)

	jobQueue := queue.New(rdb, cfg.RedisStreamMaxLen, log.Logger)
	scheduler := scan.NewScheduler(client, guildRepo, channelRepo, messageRepo, scanRepo, processor, jobQueue, log.Logger)

	purger := worker.NewPurger(store, clipRepo, thumbRepo, failedRepo, messageRepo, scanRepo, channelRepo, guildRepo, client, cfg.PurgeCooldown, log.Logger)

	w := worker.New(jobQueue, scheduler, processor, client, thumbs, purger, scanRepo, db, worker.Options{
		Concurrency:       cfg.WorkerConcurrency,
		BatchSize:         cfg.JobBatchSize,
		ClaimMinIdle:      cfg.ClaimMinIdle,
		HealthInterval:    cfg.DBHealthCheckPeriod,
		StaleScanInterval: cfg.StaleScanCleanupInterval,
		StaleScanTimeout:  cfg.StaleScanTimeout,
	}, log.Logger)

	// Catch up channels whose forward cursor fell behind while the worker
	// was down.
	if queued, err := scheduler.CatchUp(ctx, scanRepo); err != nil {
		log.Warn().Err(err).Msg("Catch-up sweep failed (non-fatal)")
	} else if queued > 0 {
		log.Info().Int("channels", queued).Msg("Catch-up scans queued")
	}

	return w.Run(ctx)
}
