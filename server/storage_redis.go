package server

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	zap "go.uber.org/zap"

	config "github.com/agentvault/agentvault-go/server/config"
	types "github.com/agentvault/agentvault-go/types"
)

const redisTaskKeyPrefix = "agentvault:task:"

// RedisRepository is a TaskRepository backed by Redis. Task records are
// stored as JSON under agentvault:task:{id}.
type RedisRepository struct {
	client *redis.Client
	logger *zap.Logger
}

var _ TaskRepository = (*RedisRepository)(nil)

// NewRedisRepository connects to Redis using the given connection URL.
func NewRedisRepository(ctx context.Context, rawURL string, logger *zap.Logger) (*RedisRepository, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRepository{client: client, logger: logger}, nil
}

func (r *RedisRepository) Save(ctx context.Context, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}
	return r.client.Set(ctx, redisTaskKeyPrefix+task.ID, data, 0).Err()
}

func (r *RedisRepository) Get(ctx context.Context, taskID string) (*types.Task, error) {
	data, err := r.client.Get(ctx, redisTaskKeyPrefix+taskID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, &TaskNotFoundError{TaskID: taskID}
		}
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}

	var task types.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", taskID, err)
	}
	return &task, nil
}

func (r *RedisRepository) Delete(ctx context.Context, taskID string) error {
	return r.client.Del(ctx, redisTaskKeyPrefix+taskID).Err()
}

func (r *RedisRepository) List(ctx context.Context) ([]*types.Task, error) {
	var tasks []*types.Task
	iter := r.client.Scan(ctx, 0, redisTaskKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, fmt.Errorf("failed to load task %s: %w", iter.Val(), err)
		}

		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			r.logger.Warn("skipping malformed task record", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		tasks = append(tasks, &task)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan tasks: %w", err)
	}
	return tasks, nil
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// NewTaskRepository builds a repository from the storage configuration,
// falling back to memory when the configured backend is unreachable.
func NewTaskRepository(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) TaskRepository {
	switch cfg.Provider {
	case "redis":
		repo, err := NewRedisRepository(ctx, cfg.URL, logger)
		if err != nil {
			logger.Warn("redis storage unavailable, falling back to in-memory storage", zap.Error(err))
			return NewInMemoryRepository()
		}
		logger.Info("using redis task storage")
		return repo
	case "", "memory":
		return NewInMemoryRepository()
	default:
		logger.Warn("unknown storage provider, using in-memory storage",
			zap.String("provider", cfg.Provider))
		return NewInMemoryRepository()
	}
}
