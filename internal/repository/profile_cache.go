package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"

	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/pkg/constant"
)

// ProfileCache keeps public profiles in Redis as JSON. A zero ttl disables
// the cache.
type ProfileCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewProfileCache creates a new ProfileCache
func NewProfileCache(rdb *redis.Client, ttl time.Duration) *ProfileCache {
	return &ProfileCache{rdb: rdb, ttl: ttl}
}

func profileKey(userId string) string {
	return fmt.Sprintf(constant.RedisKeyProfile(), userId)
}

// Get returns the cached profiles; missing ids are omitted
func (c *ProfileCache) Get(ctx context.Context, userIds []string) map[string]*entity.Profile {
	out := make(map[string]*entity.Profile, len(userIds))
	if c.ttl <= 0 || len(userIds) == 0 {
		return out
	}

	keys := make([]string, len(userIds))
	for i, id := range userIds {
		keys[i] = profileKey(id)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		log.CtxWarn(ctx, "profile cache get failed: err=%v", err)
		return out
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var p entity.Profile
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			continue
		}
		out[userIds[i]] = &p
	}
	return out
}

// Set caches the profiles
func (c *ProfileCache) Set(ctx context.Context, profiles ...*entity.Profile) {
	if c.ttl <= 0 || len(profiles) == 0 {
		return
	}
	pipe := c.rdb.Pipeline()
	for _, p := range profiles {
		data, err := json.Marshal(p)
		if err != nil {
			continue
		}
		pipe.Set(ctx, profileKey(p.Id), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.CtxWarn(ctx, "profile cache set failed: err=%v", err)
	}
}

// Invalidate drops the cached profile of userId
func (c *ProfileCache) Invalidate(ctx context.Context, userId string) {
	if c.ttl <= 0 {
		return
	}
	if err := c.rdb.Del(ctx, profileKey(userId)).Err(); err != nil {
		log.CtxWarn(ctx, "profile cache invalidate failed: user_id=%s, err=%v", userId, err)
	}
}
