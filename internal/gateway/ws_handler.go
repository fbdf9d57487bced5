package gateway

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/websocket"
	"github.com/mbeoliero/kit/log"
)

// HandleHertzConnection handles a WebSocket connection from Hertz using hertz-contrib/websocket
func (s *WsServer) HandleHertzConnection(ctx context.Context, c *app.RequestContext, upgrader *websocket.HertzUpgrader) {
	// Check connection limit
	if s.onlineConnNum.Load() >= s.cfg.MaxConnNum {
		c.String(consts.StatusServiceUnavailable, "connection limit exceeded")
		return
	}

	// Parse query parameters
	token := c.Query(QueryToken)
	sendId := c.Query(QuerySendId)
	platformIdStr := c.Query(QueryPlatformId)
	sdkType := c.Query(QuerySDKType)

	if token == "" || sendId == "" {
		c.String(consts.StatusBadRequest, "missing required parameters")
		return
	}

	sess, err := s.sessions.NewSession(ctx, token)
	if err != nil {
		log.CtxDebug(ctx, "token validation failed: send_id=%s, error=%v", sendId, err)
		c.String(consts.StatusUnauthorized, "unauthorized")
		return
	}
	if sess.UserId() != sendId {
		log.CtxDebug(ctx, "token user mismatch: send_id=%s, user_id=%s", sendId, sess.UserId())
		c.String(consts.StatusUnauthorized, "unauthorized")
		return
	}
	if platformIdStr != "" {
		if platformId, err := strconv.Atoi(platformIdStr); err != nil || platformId != sess.PlatformId() {
			c.String(consts.StatusUnauthorized, "platform mismatch")
			return
		}
	}

	// Upgrade connection using hertz-contrib/websocket
	err = upgrader.Upgrade(c, func(conn *websocket.Conn) {
		// Blocks for the lifetime of the connection
		s.serveConn(ctx, NewHertzWebSocketClientConn(conn, s.cfg), sess, sdkType)
	})

	if err != nil {
		log.CtxWarn(ctx, "websocket upgrade failed: %v", err)
		return
	}
}
