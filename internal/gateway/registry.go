package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"

	"github.com/mbeoliero/amora/pkg/constant"
)

// onlineTTL bounds how long a crashed instance keeps users online
const onlineTTL = 60 * time.Second

// connRegistry holds the live connection of every user and platform on this
// instance. Presence is mirrored into redis so other instances can answer
// IsOnline.
type connRegistry struct {
	mu    sync.RWMutex
	conns map[string]map[int]*Client // userId -> platformId -> client
	rdb   *redis.Client
}

func newConnRegistry(rdb *redis.Client) *connRegistry {
	return &connRegistry{
		conns: make(map[string]map[int]*Client),
		rdb:   rdb,
	}
}

// add makes client the connection of its user and platform. It returns the
// client it displaced, and whether client is the user's first connection.
func (r *connRegistry) add(ctx context.Context, client *Client) (displaced *Client, first bool) {
	r.mu.Lock()
	platforms, ok := r.conns[client.UserId]
	if !ok {
		platforms = make(map[int]*Client, 2)
		r.conns[client.UserId] = platforms
	}
	displaced = platforms[client.PlatformId]
	platforms[client.PlatformId] = client
	r.mu.Unlock()

	if !ok {
		r.markOnline(ctx, client.UserId)
	}
	return displaced, !ok
}

// remove drops client unless a newer connection already took its place.
// offline reports that the user has no connection left here.
func (r *connRegistry) remove(ctx context.Context, client *Client) (removed, offline bool) {
	r.mu.Lock()
	platforms := r.conns[client.UserId]
	if platforms[client.PlatformId] != client {
		r.mu.Unlock()
		return false, false
	}
	delete(platforms, client.PlatformId)
	if len(platforms) == 0 {
		delete(r.conns, client.UserId)
		offline = true
	}
	r.mu.Unlock()

	if offline {
		r.markOffline(ctx, client.UserId)
	}
	return true, offline
}

func (r *connRegistry) connected(userId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userId]) > 0
}

// online checks this instance first, then the shared presence keys
func (r *connRegistry) online(ctx context.Context, userId string) bool {
	if r.connected(userId) {
		return true
	}
	if r.rdb == nil {
		return false
	}
	n, err := r.rdb.Exists(ctx, onlineKey(userId)).Result()
	if err != nil {
		log.CtxWarn(ctx, "presence lookup failed: user_id=%s, err=%v", userId, err)
		return false
	}
	return n > 0
}

// refresh extends the presence keys of every locally connected user
func (r *connRegistry) refresh(ctx context.Context) {
	if r.rdb == nil {
		return
	}
	r.mu.RLock()
	userIds := make([]string, 0, len(r.conns))
	for userId := range r.conns {
		userIds = append(userIds, userId)
	}
	r.mu.RUnlock()
	if len(userIds) == 0 {
		return
	}

	pipe := r.rdb.Pipeline()
	for _, userId := range userIds {
		pipe.Expire(ctx, onlineKey(userId), onlineTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.CtxWarn(ctx, "presence refresh failed: users=%d, err=%v", len(userIds), err)
	}
}

func (r *connRegistry) markOnline(ctx context.Context, userId string) {
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Set(ctx, onlineKey(userId), "1", onlineTTL).Err(); err != nil {
		log.CtxWarn(ctx, "mark online failed: user_id=%s, err=%v", userId, err)
	}
}

func (r *connRegistry) markOffline(ctx context.Context, userId string) {
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Del(ctx, onlineKey(userId)).Err(); err != nil {
		log.CtxWarn(ctx, "mark offline failed: user_id=%s, err=%v", userId, err)
	}
}

func onlineKey(userId string) string {
	return fmt.Sprintf(constant.RedisKeyOnline(), userId)
}
