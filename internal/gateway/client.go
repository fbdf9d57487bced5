package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/amora/internal/chat"
	"github.com/mbeoliero/amora/internal/session"
	"github.com/mbeoliero/amora/pkg/errcode"
)

// Client is one realtime connection. It owns the viewer's conversation
// list and at most one open room, and pushes their state changes.
type Client struct {
	mu         sync.Mutex
	conn       ClientConn
	UserId     string
	PlatformId int
	SDKType    string
	ConnId     string
	server     *WsServer
	sess       *session.Session
	closed     atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc

	list       *chat.ConversationList
	cancelList func()

	roomMu     sync.Mutex
	room       *chat.Room
	cancelRoom func()
}

// NewClient creates a new client
func NewClient(ctx context.Context, conn ClientConn, sess *session.Session, sdkType, connId string, server *WsServer) *Client {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Client{
		conn:       conn,
		UserId:     sess.UserId(),
		PlatformId: sess.PlatformId(),
		SDKType:    sdkType,
		ConnId:     connId,
		server:     server,
		sess:       sess,
		ctx:        ctx,
		cancel:     cancel,
		list:       chat.NewConversationList(sess, server.store, server.feed, server.opts),
	}
}

// Start begins pushing the conversation list. It does nothing on a closed
// client.
func (c *Client) Start() {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return
	}
	c.cancelList = c.list.OnChange(func(state chat.ListState) {
		c.push(WSPushListState, state)
	})
	c.mu.Unlock()

	if err := c.list.Watch(c.ctx); err != nil {
		log.CtxWarn(c.ctx, "watch conversation list failed: user_id=%s, error=%v", c.UserId, err)
	}
}

// readLoop continuously reads messages until the connection ends
func (c *Client) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			log.CtxError(c.ctx, "client read loop panic: user_id=%s, error=%v", c.UserId, r)
		}
		c.close()
	}()

	for {
		message, err := c.conn.ReadMessage()
		if err != nil {
			log.CtxDebug(c.ctx, "read message error: user_id=%s, error=%v", c.UserId, err)
			return
		}

		if c.closed.Load() {
			return
		}

		if err := c.handleMessage(message); err != nil {
			log.CtxWarn(c.ctx, "handle message error: user_id=%s, error=%v", c.UserId, err)
			return
		}
	}
}

// handleMessage handles a single incoming message
func (c *Client) handleMessage(message []byte) error {
	var req WSRequest
	if err := Decode(message, &req); err != nil {
		return c.reply(&req, errcode.ErrInvalidProtocol, nil)
	}

	// Validate sender Id matches authenticated user
	if req.SendId != "" && req.SendId != c.UserId {
		return c.reply(&req, errcode.ErrTokenMismatch.Wrap(ErrUserIdMismatch), nil)
	}

	log.CtxDebug(c.ctx, "received message: req_identifier=%d, user_id=%s", req.ReqIdentifier, c.UserId)

	var (
		resp any
		err  error
	)
	switch req.ReqIdentifier {
	case WSListConversations:
		resp, err = c.handleListConversations()
	case WSGetOrCreateChat:
		resp, err = c.handleGetOrCreateChat(&req)
	case WSOpenRoom:
		resp, err = c.handleOpenRoom(&req)
	case WSCloseRoom:
		c.closeRoom()
	case WSSendMsg:
		resp, err = c.handleSendMsg(&req)
	case WSRefetchRoom:
		resp, err = c.handleRefetchRoom()
	case WSConversationInfo:
		resp, err = c.handleConversationInfo(&req)
	default:
		err = errcode.ErrInvalidProtocol
	}

	return c.reply(&req, err, resp)
}

func (c *Client) handleListConversations() (any, error) {
	if err := c.list.Refetch(c.ctx); err != nil {
		return nil, err
	}
	return c.list.State(), nil
}

func (c *Client) handleGetOrCreateChat(req *WSRequest) (any, error) {
	var body GetOrCreateChatReq
	if err := Decode(req.Data, &body); err != nil {
		return nil, errcode.ErrInvalidParam
	}
	convId, err := c.list.GetOrCreateChat(c.ctx, body.OtherUserId)
	if err != nil {
		return nil, err
	}
	return GetOrCreateChatResp{ConversationId: convId}, nil
}

func (c *Client) handleOpenRoom(req *WSRequest) (any, error) {
	var body ConversationReq
	if err := Decode(req.Data, &body); err != nil || body.ConversationId == "" {
		return nil, errcode.ErrInvalidParam
	}
	room, err := c.openRoom(body.ConversationId)
	if err != nil {
		return nil, err
	}
	return room.State(), nil
}

func (c *Client) handleSendMsg(req *WSRequest) (any, error) {
	var body SendMsgReq
	if err := Decode(req.Data, &body); err != nil {
		return nil, errcode.ErrInvalidParam
	}
	room := c.currentRoom()
	if room == nil {
		return nil, errcode.ErrRoomNotOpen
	}
	return room.SendMessage(c.ctx, body.Text)
}

func (c *Client) handleRefetchRoom() (any, error) {
	room := c.currentRoom()
	if room == nil {
		return nil, errcode.ErrRoomNotOpen
	}
	if err := room.Refetch(c.ctx); err != nil {
		return nil, err
	}
	return room.State(), nil
}

func (c *Client) handleConversationInfo(req *WSRequest) (any, error) {
	var body ConversationReq
	if err := Decode(req.Data, &body); err != nil || body.ConversationId == "" {
		return nil, errcode.ErrInvalidParam
	}
	view := chat.NewInfoView(body.ConversationId, c.sess, c.server.store)
	if err := view.Load(c.ctx); err != nil {
		return nil, err
	}
	return view.State(), nil
}

// openRoom makes conversationId the open room, closing the previous one.
// A room that failed to load stays current; opening it again retries.
func (c *Client) openRoom(conversationId string) (*chat.Room, error) {
	c.roomMu.Lock()
	if c.closed.Load() {
		c.roomMu.Unlock()
		return nil, errcode.ErrConnClosed
	}
	prev, prevCancel := c.room, c.cancelRoom
	if prev != nil && prev.ConversationId() == conversationId {
		c.roomMu.Unlock()
		if err := prev.Open(c.ctx); err != nil {
			return nil, err
		}
		return prev, nil
	}
	room := chat.NewRoom(conversationId, c.sess, c.server.store, c.server.feed, c.server.opts)
	c.room = room
	c.cancelRoom = room.OnChange(func(state chat.RoomState) {
		c.push(WSPushRoomState, state)
	})
	c.roomMu.Unlock()

	if prev != nil {
		prev.Dispose()
		prevCancel()
	}

	if err := room.Open(c.ctx); err != nil {
		return nil, err
	}
	return room, nil
}

func (c *Client) currentRoom() *chat.Room {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()
	return c.room
}

// closeRoom closes the open room, if any
func (c *Client) closeRoom() {
	c.roomMu.Lock()
	room, cancel := c.room, c.cancelRoom
	c.room, c.cancelRoom = nil, nil
	c.roomMu.Unlock()

	if room == nil {
		return
	}
	room.Dispose()
	cancel()
}

// reply sends a response to the client
func (c *Client) reply(req *WSRequest, err error, data any) error {
	resp := WSResponse{
		ReqIdentifier: req.ReqIdentifier,
		MsgIncr:       req.MsgIncr,
		OperationId:   req.OperationId,
	}

	if err != nil {
		var e *errcode.Error
		if !errors.As(err, &e) {
			log.CtxError(c.ctx, "request failed: req_identifier=%d, user_id=%s, error=%v", req.ReqIdentifier, c.UserId, err)
			e = errcode.ErrInternalServer
		}
		resp.ErrCode = e.Code
		resp.ErrMsg = e.Msg
		return c.writeResponse(resp)
	}

	if data != nil {
		raw, err := Encode(data)
		if err != nil {
			return err
		}
		resp.Data = raw
	}
	return c.writeResponse(resp)
}

// push sends a server initiated message
func (c *Client) push(identifier int32, data any) {
	raw, err := Encode(data)
	if err != nil {
		log.CtxError(c.ctx, "encode push failed: req_identifier=%d, error=%v", identifier, err)
		return
	}
	if err := c.writeResponse(WSResponse{ReqIdentifier: identifier, Data: raw}); err != nil {
		log.CtxDebug(c.ctx, "push to client failed: user_id=%s, conn_id=%s, error=%v", c.UserId, c.ConnId, err)
	}
}

// writeResponse writes a response to the connection
func (c *Client) writeResponse(resp WSResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	return c.conn.WriteMessage(data)
}

// KickOnline sends kick message and closes connection
func (c *Client) KickOnline() error {
	_ = c.writeResponse(WSResponse{ReqIdentifier: WSKickOnlineMsg})
	return c.Close()
}

// Close stops the list and the room and closes the connection
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()

	c.list.Stop()
	c.mu.Lock()
	cancelList := c.cancelList
	c.cancelList = nil
	c.mu.Unlock()
	if cancelList != nil {
		cancelList()
	}
	c.closeRoom()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// close handles cleanup when connection is closed
func (c *Client) close() {
	c.Close()
	c.server.UnregisterClient(c)
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}
