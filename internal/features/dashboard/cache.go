// Package dashboard — cache.go: хранилище последних удачных показателей.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache хранит последние удачно посчитанные показатели аккаунта и поколение
// настроек, общее для всех экземпляров движка с этим кэшем.
type Cache interface {
	Get(ctx context.Context, userID int64) (Figures, bool, error)
	Set(ctx context.Context, f Figures) error
	// Generation: текущее поколение настроек (0, пока настройки ни разу не менялись).
	Generation(ctx context.Context) (int64, error)
	// BumpGeneration увеличивает поколение: все показатели с прежним поколением устаревают.
	BumpGeneration(ctx context.Context) (int64, error)
}

// ConnectRedis создаёт клиент из redis:// URL или host:port.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("некорректный REDIS_URL: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis недоступен: %w", err)
	}
	return client, nil
}

// RedisCache: показатели в Redis, JSON под ключом dashboard:<id>.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// generationKey: счётчик поколений настроек. Без TTL, переживает перезапуски.
const generationKey = "dashboard:settings_generation"

func redisKey(userID int64) string {
	return "dashboard:" + strconv.FormatInt(userID, 10)
}

func (c *RedisCache) Get(ctx context.Context, userID int64) (Figures, bool, error) {
	raw, err := c.client.Get(ctx, redisKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Figures{}, false, nil
		}
		return Figures{}, false, err
	}
	var f Figures
	if err := json.Unmarshal(raw, &f); err != nil {
		return Figures{}, false, err
	}
	return f, true, nil
}

func (c *RedisCache) Set(ctx context.Context, f Figures) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKey(f.UserID), raw, c.ttl).Err()
}

func (c *RedisCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisCache) BumpGeneration(ctx context.Context) (int64, error) {
	return c.client.Incr(ctx, generationKey).Result()
}

// MemoryCache: кэш в памяти процесса, когда Redis не настроен.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[int64]Figures
	gen  int64
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[int64]Figures)}
}

func (c *MemoryCache) Get(_ context.Context, userID int64) (Figures, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.data[userID]
	return f, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, f Figures) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[f.UserID] = f
	return nil
}

func (c *MemoryCache) Generation(context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen, nil
}

func (c *MemoryCache) BumpGeneration(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	return c.gen, nil
}
