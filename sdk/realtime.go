package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Realtime request identifiers
const (
	ReqListConversations = 1001
	ReqGetOrCreateChat   = 1002
	ReqOpenRoom          = 1003
	ReqCloseRoom         = 1004
	ReqSendMsg           = 1005
	ReqRefetchRoom       = 1006
	ReqConversationInfo  = 1007
)

// Realtime push identifiers
const (
	PushListState = 2001
	PushRoomState = 2002
	PushKicked    = 2003
)

// SDKType identifies this client to the gateway
const SDKType = "go"

type frame struct {
	ReqIdentifier int32           `json:"req_identifier"`
	MsgIncr       string          `json:"msg_incr"`
	OperationId   string          `json:"operation_id"`
	SendId        string          `json:"send_id,omitempty"`
	ErrCode       int             `json:"err_code,omitempty"`
	ErrMsg        string          `json:"err_msg,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// PushHandlers receive server pushes. Nil handlers are skipped. They run on
// the read goroutine and must not block.
type PushHandlers struct {
	OnListState func(ListState)
	OnRoomState func(RoomState)
	OnKicked    func()
}

// Realtime is a live gateway connection. Requests are matched to responses
// by msg_incr, so several may be in flight at once.
type Realtime struct {
	conn     *websocket.Conn
	userId   string
	handlers PushHandlers

	writeMu sync.Mutex
	incr    atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan frame
	err     error

	done chan struct{}
}

// DialRealtime opens the gateway connection for the client's token.
// baseURL may use http(s) or ws(s).
func DialRealtime(ctx context.Context, baseURL, token, userId string, platformId int, handlers PushHandlers) (*Realtime, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := url.Values{}
	q.Set("token", token)
	q.Set("send_id", userId)
	q.Set("platform_id", strconv.Itoa(platformId))
	q.Set("sdk_type", SDKType)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	r := &Realtime{
		conn:     conn,
		userId:   userId,
		handlers: handlers,
		pending:  make(map[string]chan frame),
		done:     make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

// DialRealtime opens the gateway connection with the client's token
func (c *Client) DialRealtime(ctx context.Context, userId string, platformId int, handlers PushHandlers) (*Realtime, error) {
	return DialRealtime(ctx, c.baseURL, c.GetToken(), userId, platformId, handlers)
}

func (r *Realtime) readLoop() {
	defer close(r.done)
	for {
		_, message, err := r.conn.ReadMessage()
		if err != nil {
			r.fail(err)
			return
		}

		var f frame
		if err := json.Unmarshal(message, &f); err != nil {
			continue
		}

		if f.MsgIncr != "" {
			r.mu.Lock()
			ch, ok := r.pending[f.MsgIncr]
			delete(r.pending, f.MsgIncr)
			r.mu.Unlock()
			if ok {
				ch <- f
			}
			continue
		}
		r.dispatch(f)
	}
}

func (r *Realtime) dispatch(f frame) {
	switch f.ReqIdentifier {
	case PushListState:
		var s ListState
		if r.handlers.OnListState != nil && json.Unmarshal(f.Data, &s) == nil {
			r.handlers.OnListState(s)
		}
	case PushRoomState:
		var s RoomState
		if r.handlers.OnRoomState != nil && json.Unmarshal(f.Data, &s) == nil {
			r.handlers.OnRoomState(s)
		}
	case PushKicked:
		if r.handlers.OnKicked != nil {
			r.handlers.OnKicked()
		}
	}
}

// fail ends every pending request with err
func (r *Realtime) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
	for k, ch := range r.pending {
		close(ch)
		delete(r.pending, k)
	}
}

// Request sends one request and decodes the response data into result
func (r *Realtime) Request(ctx context.Context, identifier int32, data any, result any) error {
	req := frame{
		ReqIdentifier: identifier,
		MsgIncr:       strconv.FormatUint(r.incr.Add(1), 10),
		SendId:        r.userId,
	}
	req.OperationId = req.MsgIncr
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request data: %w", err)
		}
		req.Data = raw
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}

	ch := make(chan frame, 1)
	r.mu.Lock()
	if r.err != nil {
		r.mu.Unlock()
		return ErrRealtimeClosed
	}
	r.pending[req.MsgIncr] = ch
	r.mu.Unlock()

	r.writeMu.Lock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err = r.conn.WriteMessage(websocket.TextMessage, raw)
	r.writeMu.Unlock()
	if err != nil {
		r.forget(req.MsgIncr)
		return fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrRealtimeClosed
		}
		if resp.ErrCode != 0 {
			return &Error{Code: resp.ErrCode, Msg: resp.ErrMsg}
		}
		if result != nil && len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, result); err != nil {
				return fmt.Errorf("failed to decode response data: %w", err)
			}
		}
		return nil
	case <-ctx.Done():
		r.forget(req.MsgIncr)
		return ctx.Err()
	}
}

func (r *Realtime) forget(msgIncr string) {
	r.mu.Lock()
	delete(r.pending, msgIncr)
	r.mu.Unlock()
}

// ListConversations refetches the conversation list
func (r *Realtime) ListConversations(ctx context.Context) (*ListState, error) {
	var s ListState
	if err := r.Request(ctx, ReqListConversations, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetOrCreateChat returns the conversation with otherUserId
func (r *Realtime) GetOrCreateChat(ctx context.Context, otherUserId string) (string, error) {
	var resp openChatResponse
	if err := r.Request(ctx, ReqGetOrCreateChat, &openChatRequest{OtherUserId: otherUserId}, &resp); err != nil {
		return "", err
	}
	return resp.ConversationId, nil
}

// OpenRoom opens conversationId, closing any room that was open
func (r *Realtime) OpenRoom(ctx context.Context, conversationId string) (*RoomState, error) {
	var s RoomState
	if err := r.Request(ctx, ReqOpenRoom, &conversationRequest{ConversationId: conversationId}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CloseRoom closes the open room
func (r *Realtime) CloseRoom(ctx context.Context) error {
	return r.Request(ctx, ReqCloseRoom, nil, nil)
}

// SendMessage sends text in the open room and returns the stored row
func (r *Realtime) SendMessage(ctx context.Context, text string) (*MessageView, error) {
	var v MessageView
	if err := r.Request(ctx, ReqSendMsg, map[string]string{"text": text}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// RefetchRoom reloads the open room
func (r *Realtime) RefetchRoom(ctx context.Context) (*RoomState, error) {
	var s RoomState
	if err := r.Request(ctx, ReqRefetchRoom, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ConversationInfo loads the counterpart of conversationId
func (r *Realtime) ConversationInfo(ctx context.Context, conversationId string) (*InfoState, error) {
	var s InfoState
	if err := r.Request(ctx, ReqConversationInfo, &conversationRequest{ConversationId: conversationId}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Done is closed once the connection has ended
func (r *Realtime) Done() <-chan struct{} {
	return r.done
}

// Close closes the connection
func (r *Realtime) Close() error {
	r.writeMu.Lock()
	_ = r.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	r.writeMu.Unlock()
	err := r.conn.Close()
	<-r.done
	return err
}
