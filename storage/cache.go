package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"pulseboard/domain"
)

type backend interface {
	FetchTasks(ctx context.Context, userID string) ([]domain.Task, error)
	GetTask(ctx context.Context, userID, id string) (domain.Task, error)
	UpsertTask(ctx context.Context, userID string, t domain.Task) error
	DeleteTask(ctx context.Context, userID, id string) error
	FetchSettings(ctx context.Context, userID string) (domain.Settings, error)
	SaveSettings(ctx context.Context, userID string, settings domain.Settings) error
	EnqueueEvents(ctx context.Context, userID string, events []domain.Event) error
}

// Cache wraps a Storage instance with Redis-backed caching for read
// operations. Any mutation evicts the user's cached reads.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx, userID); ok {
		return tasks, nil
	}

	tasks, err := c.base.FetchTasks(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, userID, tasks)
	return tasks, nil
}

// GetTask is served by the backing store; single-task reads sit on the
// mutation path and must not observe a stale cache.
func (c *Cache) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	return c.base.GetTask(ctx, userID, id)
}

func (c *Cache) UpsertTask(ctx context.Context, userID string, t domain.Task) error {
	if err := c.base.UpsertTask(ctx, userID, t); err != nil {
		return err
	}
	c.evictTasks(ctx, userID)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, userID, id string) error {
	if err := c.base.DeleteTask(ctx, userID, id); err != nil {
		return err
	}
	c.evictTasks(ctx, userID)
	return nil
}

func (c *Cache) FetchSettings(ctx context.Context, userID string) (domain.Settings, error) {
	if settings, ok := c.loadSettingsFromCache(ctx, userID); ok {
		return settings, nil
	}

	settings, err := c.base.FetchSettings(ctx, userID)
	if err != nil {
		return domain.Settings{}, err
	}

	c.storeSettings(ctx, userID, settings)
	return settings, nil
}

func (c *Cache) SaveSettings(ctx context.Context, userID string, settings domain.Settings) error {
	if err := c.base.SaveSettings(ctx, userID, settings); err != nil {
		return err
	}
	if c.redis != nil {
		_ = c.redis.Del(ctx, settingsCacheKey(userID)).Err()
	}
	return nil
}

func (c *Cache) EnqueueEvents(ctx context.Context, userID string, events []domain.Event) error {
	return c.base.EnqueueEvents(ctx, userID, events)
}

func (c *Cache) loadTasksFromCache(ctx context.Context, userID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) loadSettingsFromCache(ctx context.Context, userID string) (domain.Settings, bool) {
	if c.redis == nil {
		return domain.Settings{}, false
	}
	data, err := c.redis.Get(ctx, settingsCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, settingsCacheKey(userID)).Err()
		}
		return domain.Settings{}, false
	}
	var settings domain.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		_ = c.redis.Del(ctx, settingsCacheKey(userID)).Err()
		return domain.Settings{}, false
	}
	return settings, true
}

func (c *Cache) storeTasks(ctx context.Context, userID string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) storeSettings(ctx context.Context, userID string, settings domain.Settings) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, settingsCacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) evictTasks(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
}

func tasksCacheKey(userID string) string {
	return "tasks:" + userID
}

func settingsCacheKey(userID string) string {
	return "settings:" + userID
}
