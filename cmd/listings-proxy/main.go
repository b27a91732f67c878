package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/londonmove/listings-proxy/pkg/config"
	"github.com/londonmove/listings-proxy/pkg/featured"
	"github.com/londonmove/listings-proxy/pkg/images"
	"github.com/londonmove/listings-proxy/pkg/kvstore"
	"github.com/londonmove/listings-proxy/pkg/listings"
	"github.com/londonmove/listings-proxy/pkg/logging"
	"github.com/londonmove/listings-proxy/pkg/upstream"
)

// backfillPollInterval is how often the detached poller checks for a due
// backfill job. The request path never waits on this loop.
const backfillPollInterval = time.Minute

func main() {
	// Optional .env for local development; ignore absence.
	_ = godotenv.Load()

	logger := logging.Setup(logging.DefaultConfig())

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.UpstreamToken == "" {
		logger.Fatal().Msg("UPSTREAM_API_TOKEN is required")
	}

	redisURL := getEnv("REDIS_URL", "localhost:6379")
	redisClient := redis.NewClient(&redis.Options{Addr: redisURL})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", redisURL).Msg("Failed to connect to Redis")
	}
	logger.Info().Str("addr", redisURL).Msg("Connected to Redis")

	app, err := newApp(cfg, kvstore.NewRedis(redisClient), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to assemble service")
	}

	// The backfill poller is fire-and-forget: errors are logged here and
	// the pending job is retried on the next tick.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go app.pollBackfill(ctx, backfillPollInterval)

	port := getEnv("PORT", "8080")
	addr := ":" + port
	logger.Info().Str("addr", addr).Msg("Starting listings proxy")
	if err := http.ListenAndServe(addr, app.routes()); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

// newApp wires the proxy components onto a shared store.
func newApp(cfg config.Config, store kvstore.Store, logger zerolog.Logger) (*app, error) {
	client, err := upstream.New(upstream.Config{
		Store:        store,
		BaseURL:      cfg.UpstreamBaseURL,
		Token:        cfg.UpstreamToken,
		FetchTimeout: cfg.FetchTimeout,
		MediaTimeout: cfg.MediaTimeout,
		ETagTTL:      cfg.ETagTTL,
	})
	if err != nil {
		return nil, err
	}

	cache, err := listings.NewCache(listings.Config{
		Store:       store,
		Fetcher:     client,
		Media:       client,
		MetadataTTL: cfg.MetadataTTL,
		RecordTTL:   cfg.RecordTTL,
		ImageTTL:    cfg.ImageTTL,
	})
	if err != nil {
		return nil, err
	}

	manager, err := featured.New(featured.Config{
		Store:             store,
		Listings:          cache,
		Min:               cfg.MinFeatured,
		Max:               cfg.MaxFeatured,
		CacheTTL:          cfg.FeaturedCacheTTL,
		BackfillDelay:     cfg.BackfillDelay,
		BackfillTTLBuffer: cfg.BackfillTTLBuffer,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		store:    store,
		cache:    cache,
		engine:   images.NewEngine(store),
		featured: manager,
		logger:   logger,
	}, nil
}

func (a *app) pollBackfill(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := a.featured.ExecuteDue(ctx)
			if err != nil {
				a.logger.Error().Err(err).Msg("Backfill execution failed, job kept for retry")
				continue
			}
			if res.Executed {
				a.logger.Info().Int("added", len(res.Added)).Msg("Backfill job executed")
			}
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
