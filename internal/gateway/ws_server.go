package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"

	"github.com/mbeoliero/amora/internal/chat"
	"github.com/mbeoliero/amora/internal/config"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/internal/session"
)

// SessionFactory restores the session behind a token
type SessionFactory interface {
	NewSession(ctx context.Context, token string) (*session.Session, error)
}

// WsServer is the WebSocket server
type WsServer struct {
	cfg            config.WebSocketConfig
	conns          *connRegistry
	registerChan   chan *Client
	unregisterChan chan *Client
	sessions       SessionFactory
	store          remote.Store
	feed           remote.Feed
	opts           chat.Options
	onlineUserNum  atomic.Int64
	onlineConnNum  atomic.Int64
}

// NewWsServer creates a new WebSocket server
func NewWsServer(cfg config.WebSocketConfig, rdb *redis.Client, sessions SessionFactory, store remote.Store, feed remote.Feed, opts chat.Options) *WsServer {
	return &WsServer{
		cfg:            cfg,
		conns:          newConnRegistry(rdb),
		registerChan:   make(chan *Client, 1000),
		unregisterChan: make(chan *Client, 1000),
		sessions:       sessions,
		store:          store,
		feed:           feed,
		opts:           opts,
	}
}

// Run starts the WebSocket server
func (s *WsServer) Run(ctx context.Context) {
	go s.eventLoop(ctx)
}

// eventLoop handles client registration and unregistration and keeps the
// online status of connected users alive.
func (s *WsServer) eventLoop(ctx context.Context) {
	ticker := time.NewTicker(onlineTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-s.registerChan:
			s.registerClient(ctx, client)
		case client := <-s.unregisterChan:
			s.unregisterClient(ctx, client)
		case <-ticker.C:
			s.conns.refresh(ctx)
		}
	}
}

// registerClient registers a client. An older connection of the same user
// on the same platform is kicked and takes no further part in the counters.
func (s *WsServer) registerClient(ctx context.Context, client *Client) {
	if client.IsClosed() {
		return
	}

	displaced, first := s.conns.add(ctx, client)
	if first {
		s.onlineUserNum.Add(1)
	}
	if displaced != nil {
		log.CtxInfo(ctx, "kick previous connection: user_id=%s, platform_id=%d, conn_id=%s", displaced.UserId, displaced.PlatformId, displaced.ConnId)
		_ = displaced.KickOnline()
	} else {
		s.onlineConnNum.Add(1)
	}

	log.CtxInfo(ctx, "client registered: user_id=%s, platform_id=%d, conn_id=%s, online_users=%d, online_conns=%d",
		client.UserId, client.PlatformId, client.ConnId, s.onlineUserNum.Load(), s.onlineConnNum.Load())
}

// unregisterClient unregisters a client
func (s *WsServer) unregisterClient(ctx context.Context, client *Client) {
	removed, isUserOffline := s.conns.remove(ctx, client)
	if !removed {
		return
	}
	s.onlineConnNum.Add(-1)

	if isUserOffline {
		s.onlineUserNum.Add(-1)
	}

	log.CtxInfo(ctx, "client unregistered: user_id=%s, platform_id=%d, conn_id=%s, user_offline=%v, online_users=%d, online_conns=%d",
		client.UserId, client.PlatformId, client.ConnId, isUserOffline, s.onlineUserNum.Load(), s.onlineConnNum.Load())
}

// UnregisterClient queues client for unregistration
func (s *WsServer) UnregisterClient(client *Client) {
	select {
	case s.unregisterChan <- client:
	default:
		log.Warn("unregister channel full: user_id=%s", client.UserId)
	}
}

// serveConn runs one authenticated connection until it ends
func (s *WsServer) serveConn(ctx context.Context, conn ClientConn, sess *session.Session, sdkType string) {
	client := NewClient(ctx, conn, sess, sdkType, uuid.NewString(), s)
	// Start before registering: a kick must find the watch running.
	client.Start()
	s.registerChan <- client
	client.readLoop()
}

// IsOnline reports whether userId has a live connection on any instance
func (s *WsServer) IsOnline(ctx context.Context, userId string) bool {
	return s.conns.online(ctx, userId)
}

// GetOnlineUserCount returns online user count
func (s *WsServer) GetOnlineUserCount() int64 {
	return s.onlineUserNum.Load()
}

// GetOnlineConnCount returns online connection count
func (s *WsServer) GetOnlineConnCount() int64 {
	return s.onlineConnNum.Load()
}
