package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/Sternrassler/souyun-harvester/internal/config"
	"github.com/Sternrassler/souyun-harvester/pkg/cache"
	"github.com/Sternrassler/souyun-harvester/pkg/client"
	"github.com/Sternrassler/souyun-harvester/pkg/harvest"
	"github.com/Sternrassler/souyun-harvester/pkg/ledger"
	"github.com/Sternrassler/souyun-harvester/pkg/logging"
	"github.com/Sternrassler/souyun-harvester/pkg/metrics"
	"github.com/Sternrassler/souyun-harvester/pkg/ratelimit"
	"github.com/Sternrassler/souyun-harvester/pkg/sink"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	outputFileName = "poem.txt"
	ledgerFileName = "ledger.db"
)

// run wires every component from cfg and harvests until all batches finish
// or ctx is cancelled. Only setup failures are returned as errors.
func run(ctx context.Context, cfg config.Config, logOut io.Writer) (harvest.Summary, error) {
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: logOut,
	})

	if err := cfg.Validate(); err != nil {
		return harvest.Summary{}, fmt.Errorf("invalid configuration: %w", err)
	}

	out, err := sink.Open(filepath.Join(cfg.OutputFolder, outputFileName))
	if err != nil {
		return harvest.Summary{}, err
	}
	defer out.Close()

	hcfg := harvest.DefaultConfig()
	hcfg.BatchCount = cfg.BatchCount
	hcfg.BatchSpan = cfg.BatchSpan
	hcfg.MaxConcurrency = cfg.MaxConcurrency
	hcfg.FetchTimeout = cfg.FetchTimeout

	if cfg.Resume {
		l, err := ledger.Open(filepath.Join(cfg.OutputFolder, ledgerFileName))
		if err != nil {
			return harvest.Summary{}, err
		}
		defer l.Close()
		hcfg.Ledger = l

		completed, err := l.Count()
		if err != nil {
			return harvest.Summary{}, fmt.Errorf("read ledger: %w", err)
		}
		log.Info().
			Str("ledger", l.Path()).
			Int("completed_ids", completed).
			Msg("Resuming harvest")
	}

	ccfg := client.DefaultConfig(cfg.UserAgent)
	ccfg.BaseURL = cfg.BaseURL
	ccfg.Timeout = cfg.FetchTimeout
	ccfg.Retry.MaxAttempts = cfg.MaxAttempts
	ccfg.Limiter = ratelimit.New(cfg.RateLimit, cfg.Burst, logging.NewLogger("ratelimit"))

	if cfg.RedisURL != "" {
		redisClient, err := connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return harvest.Summary{}, err
		}
		defer redisClient.Close()
		ccfg.Cache = cache.NewManager(redisClient, cfg.CacheTTL)
	}

	poems, err := client.New(ccfg)
	if err != nil {
		return harvest.Summary{}, fmt.Errorf("create poem client: %w", err)
	}

	h, err := harvest.New(poems, out, hcfg)
	if err != nil {
		return harvest.Summary{}, fmt.Errorf("create harvester: %w", err)
	}

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Listen(cfg.MetricsAddr)
		if err != nil {
			return harvest.Summary{}, err
		}
		serveCtx, stopServing := context.WithCancel(ctx)
		served := make(chan struct{})
		go func() {
			defer close(served)
			if err := srv.Serve(serveCtx); err != nil {
				log.Warn().Err(err).Msg("Metrics server stopped")
			}
		}()
		defer func() {
			stopServing()
			<-served
		}()
	}

	log.Info().
		Str("output", out.Path()).
		Str("base_url", cfg.BaseURL).
		Bool("cache", ccfg.Cache != nil).
		Bool("rate_limited", ccfg.Limiter.Enabled()).
		Msg("Harvester configured")

	return h.Run(ctx), nil
}

// connectRedis accepts a redis:// URL or a bare host:port address.
func connectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: redisURL}
	}

	redisClient := redis.NewClient(opts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")

	return redisClient, nil
}
