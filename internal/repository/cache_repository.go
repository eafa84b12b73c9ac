package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// CacheRepository 封装了 Redis 上的短期状态：估算缓存、刷新锁和任务重试计数。
type CacheRepository interface {
	GetEstimate(ctx context.Context, key string) (int, bool, error)
	SetEstimate(ctx context.Context, key string, fileCount int, ttl time.Duration) error
	// TryLock 尝试获取一个带过期时间的锁。获取失败时 ok=false 且不返回错误。
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
	IncrAttempts(ctx context.Context, key string, ttl time.Duration) (int64, error)
	ClearAttempts(ctx context.Context, key string) error
}

type redisCacheRepository struct {
	redisClient *redis.Client
}

// NewCacheRepository 创建一个新的 CacheRepository 实例。
func NewCacheRepository(redisClient *redis.Client) CacheRepository {
	return &redisCacheRepository{redisClient: redisClient}
}

// unlockScript 只删除仍由本持有者持有的锁。
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

func (r *redisCacheRepository) GetEstimate(ctx context.Context, key string) (int, bool, error) {
	n, err := r.redisClient.Get(ctx, "estimate:"+key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get estimate: %w", err)
	}
	return n, true, nil
}

func (r *redisCacheRepository) SetEstimate(ctx context.Context, key string, fileCount int, ttl time.Duration) error {
	if err := r.redisClient.Set(ctx, "estimate:"+key, fileCount, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set estimate: %w", err)
	}
	return nil
}

func (r *redisCacheRepository) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	holder := uuid.NewString()
	ok, err := r.redisClient.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, r.redisClient, []string{key}, holder).Err()
	}
	return unlock, true, nil
}

func (r *redisCacheRepository) IncrAttempts(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	attempts, err := r.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = r.redisClient.Expire(ctx, key, ttl).Err()
	return attempts, nil
}

func (r *redisCacheRepository) ClearAttempts(ctx context.Context, key string) error {
	return r.redisClient.Del(ctx, key).Err()
}
