package repositories

import (
	"context"

	"voicemesh/internal/core/ports"
	"voicemesh/internal/infrastructure/repositories/memory"
	redisrepo "voicemesh/internal/infrastructure/repositories/redis"
	"voicemesh/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory. When Redis is
// enabled but unreachable the factory falls back to memory repositories.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis roster repository")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory roster repository")
	}

	return factory, nil
}

// CreateRosterRepository creates a roster repository (Redis or memory).
func (f *RepositoryFactory) CreateRosterRepository() ports.RosterRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisRosterRepository(f.redisClient)
	}
	return memory.NewMemoryRosterRepository()
}

// Close closes the Redis connection if used.
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
