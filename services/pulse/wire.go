package pulse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tracely/pulse/pkg/cache"
	"github.com/tracely/pulse/pkg/config"
	"github.com/tracely/pulse/pkg/telemetry"
)

// NewSessionFromConfig builds a session and its clients from service
// configuration. The returned close function releases the session and the
// redis connection, if any. An unreachable redis is logged and skipped.
func NewSessionFromConfig(ctx context.Context, cfg *config.Base, logger *slog.Logger) (*Session, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	if !cfg.HasProject() || cfg.ProjectID == "" {
		return nil, nil, fmt.Errorf("project id, org and project slugs are required")
	}

	metrics := NewMetrics()

	var redisClient *cache.Client
	if cfg.UseRedisCache() {
		rcfg, err := cache.ConfigFromURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		redisClient, err = cache.Connect(ctx, rcfg)
		if err != nil {
			logger.Warn("redis unavailable, detail cache is memory only", "error", err)
			redisClient = nil
		} else {
			redisClient = redisClient.WithLogger(logger).WithKeyPrefix("tracely:" + cfg.ProjectID)
		}
	}

	details, err := NewDetailCache(DetailCacheConfig{MaxItems: cfg.CacheItems, TTL: cfg.CacheTTL}, redisClient, metrics, logger)
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, nil, err
	}

	api := NewAPIClient(ClientConfigFrom(cfg), telemetry.HTTPClient(cfg.HTTPTimeout), logger)
	stream := NewStreamClient(StreamConfigFrom(cfg), telemetry.HTTPClient(0), logger)

	session := NewSession(SessionConfigFrom(cfg), SessionDeps{
		Store:   NewStore(cfg.BufferSize),
		Stream:  stream,
		API:     api,
		Details: details,
		Metrics: metrics,
		Logger:  logger,
	})

	closeFn := func() {
		session.Close()
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed to close redis", "error", err)
			}
		}
	}
	return session, closeFn, nil
}
