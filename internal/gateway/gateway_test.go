package gateway

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/amora/internal/chat"
	"github.com/mbeoliero/amora/internal/config"
	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/internal/repository/memstore"
	"github.com/mbeoliero/amora/internal/session"
	"github.com/mbeoliero/amora/pkg/errcode"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeConn struct {
	in        chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	out []WSResponse
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	var resp WSResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	c.mu.Lock()
	c.out = append(c.out, resp)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *fakeConn) send(t *testing.T, identifier int32, msgIncr string, data any) {
	t.Helper()
	req := WSRequest{ReqIdentifier: identifier, MsgIncr: msgIncr}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		req.Data = raw
	}
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	c.in <- raw
}

// find returns the last frame matching fn
func (c *fakeConn) find(fn func(WSResponse) bool) (WSResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.out) - 1; i >= 0; i-- {
		if fn(c.out[i]) {
			return c.out[i], true
		}
	}
	return WSResponse{}, false
}

func (c *fakeConn) waitReply(t *testing.T, msgIncr string) WSResponse {
	t.Helper()
	var resp WSResponse
	require.Eventually(t, func() bool {
		var ok bool
		resp, ok = c.find(func(r WSResponse) bool { return r.MsgIncr == msgIncr })
		return ok
	}, waitFor, tick)
	return resp
}

type fakeIdentity struct {
	sessions map[string]*remote.AuthSession
}

func (f *fakeIdentity) SignUp(context.Context, *remote.SignUpRequest) (*entity.User, error) {
	return nil, errcode.ErrInternalServer
}

func (f *fakeIdentity) SignIn(context.Context, *remote.Credentials) (*remote.AuthSession, error) {
	return nil, errcode.ErrInternalServer
}

func (f *fakeIdentity) SignOut(context.Context, *remote.AuthSession) error {
	return nil
}

func (f *fakeIdentity) GetSession(_ context.Context, token string) (*remote.AuthSession, error) {
	s, ok := f.sessions[token]
	if !ok {
		return nil, errcode.ErrTokenInvalid
	}
	return s, nil
}

func (f *fakeIdentity) GetUser(_ context.Context, userId string) (*entity.User, error) {
	return &entity.User{Id: userId}, nil
}

type sessionFactory struct {
	identity *fakeIdentity
	store    *memstore.Store
}

func (f *sessionFactory) NewSession(ctx context.Context, token string) (*session.Session, error) {
	sess := session.New(f.identity, f.store, nil)
	if err := sess.Restore(ctx, token); err != nil {
		return nil, err
	}
	return sess, nil
}

type fixture struct {
	store    *memstore.Store
	server   *WsServer
	sessions *sessionFactory
}

func newFixture() *fixture {
	store := memstore.New()
	store.PutProfile(&entity.Profile{Id: "alice", Nickname: "Alice"})
	store.PutProfile(&entity.Profile{Id: "bob", Nickname: "Bob"})
	sessions := &sessionFactory{
		identity: &fakeIdentity{sessions: map[string]*remote.AuthSession{
			"tok-alice":   {Token: "tok-alice", UserId: "alice", PlatformId: 1},
			"tok-alice-2": {Token: "tok-alice-2", UserId: "alice", PlatformId: 1},
			"tok-bob":     {Token: "tok-bob", UserId: "bob", PlatformId: 1},
		}},
		store: store,
	}
	cfg := config.WebSocketConfig{MaxConnNum: 10}
	return &fixture{
		store:    store,
		sessions: sessions,
		server:   NewWsServer(cfg, nil, sessions, store, store.Feed(), chat.Options{}),
	}
}

func (f *fixture) connect(t *testing.T, token string) *fakeConn {
	t.Helper()
	sess, err := f.sessions.NewSession(context.Background(), token)
	require.NoError(t, err)
	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.server.serveConn(context.Background(), conn, sess, SDKTypeGo)
	}()
	t.Cleanup(func() {
		conn.Close()
		<-done
	})
	return conn
}

func TestClient_PushesConversationList(t *testing.T) {
	f := newFixture()
	conv := f.store.SeedConversation(entity.NewConversation("alice", "bob"))

	conn := f.connect(t, "tok-alice")

	require.Eventually(t, func() bool {
		push, ok := conn.find(func(r WSResponse) bool { return r.ReqIdentifier == WSPushListState })
		if !ok {
			return false
		}
		var state chat.ListState
		require.NoError(t, json.Unmarshal(push.Data, &state))
		return !state.Loading && len(state.Conversations) == 1 && state.Conversations[0].Id == conv.Id
	}, waitFor, tick)
}

func TestClient_OpenRoomAndSend(t *testing.T) {
	f := newFixture()
	conv := f.store.SeedConversation(entity.NewConversation("alice", "bob"))
	conn := f.connect(t, "tok-alice")

	conn.send(t, WSOpenRoom, "1", ConversationReq{ConversationId: conv.Id})
	resp := conn.waitReply(t, "1")
	require.Zero(t, resp.ErrCode, resp.ErrMsg)
	var state chat.RoomState
	require.NoError(t, json.Unmarshal(resp.Data, &state))
	assert.Equal(t, chat.RoomLive, state.Status)

	conn.send(t, WSSendMsg, "2", SendMsgReq{Text: "hi bob"})
	resp = conn.waitReply(t, "2")
	require.Zero(t, resp.ErrCode, resp.ErrMsg)
	var view chat.MessageView
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	assert.Equal(t, "hi bob", view.Content)
	assert.NotZero(t, view.Id)

	require.Eventually(t, func() bool {
		push, ok := conn.find(func(r WSResponse) bool { return r.ReqIdentifier == WSPushRoomState })
		if !ok {
			return false
		}
		var s chat.RoomState
		require.NoError(t, json.Unmarshal(push.Data, &s))
		return len(s.Messages) == 1 && !s.Messages[0].Pending
	}, waitFor, tick)

	conn.send(t, WSCloseRoom, "3", nil)
	resp = conn.waitReply(t, "3")
	assert.Zero(t, resp.ErrCode)

	conn.send(t, WSSendMsg, "4", SendMsgReq{Text: "again"})
	resp = conn.waitReply(t, "4")
	assert.Equal(t, errcode.ErrRoomNotOpen.Code, resp.ErrCode)
}

func TestClient_GetOrCreateChatAndInfo(t *testing.T) {
	f := newFixture()
	conn := f.connect(t, "tok-alice")

	conn.send(t, WSGetOrCreateChat, "1", GetOrCreateChatReq{OtherUserId: "bob"})
	resp := conn.waitReply(t, "1")
	require.Zero(t, resp.ErrCode, resp.ErrMsg)
	var created GetOrCreateChatResp
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	require.NotEmpty(t, created.ConversationId)

	conn.send(t, WSConversationInfo, "2", ConversationReq{ConversationId: created.ConversationId})
	resp = conn.waitReply(t, "2")
	require.Zero(t, resp.ErrCode, resp.ErrMsg)
	var info chat.InfoState
	require.NoError(t, json.Unmarshal(resp.Data, &info))
	require.NotNil(t, info.OtherUser)
	assert.Equal(t, "Bob", info.OtherUser.Nickname)

	conn.send(t, WSGetOrCreateChat, "3", GetOrCreateChatReq{OtherUserId: "alice"})
	resp = conn.waitReply(t, "3")
	assert.Equal(t, errcode.ErrSelfChat.Code, resp.ErrCode)
}

func TestClient_RejectsBadRequests(t *testing.T) {
	f := newFixture()
	conn := f.connect(t, "tok-alice")

	conn.send(t, 9999, "1", nil)
	resp := conn.waitReply(t, "1")
	assert.Equal(t, errcode.ErrInvalidProtocol.Code, resp.ErrCode)

	conn.send(t, WSOpenRoom, "2", ConversationReq{})
	resp = conn.waitReply(t, "2")
	assert.Equal(t, errcode.ErrInvalidParam.Code, resp.ErrCode)

	raw, err := json.Marshal(WSRequest{ReqIdentifier: WSListConversations, MsgIncr: "3", SendId: "bob"})
	require.NoError(t, err)
	conn.in <- raw
	resp = conn.waitReply(t, "3")
	assert.Equal(t, errcode.ErrTokenMismatch.Code, resp.ErrCode)
}

func TestWsServer_KicksSamePlatform(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.server.Run(ctx)

	first := f.connect(t, "tok-alice")
	require.Eventually(t, func() bool { return f.server.GetOnlineConnCount() == 1 }, waitFor, tick)

	f.connect(t, "tok-alice-2")
	require.Eventually(t, first.isClosed, waitFor, tick)
	_, kicked := first.find(func(r WSResponse) bool { return r.ReqIdentifier == WSKickOnlineMsg })
	assert.True(t, kicked)

	require.Eventually(t, func() bool { return f.server.GetOnlineConnCount() == 1 }, waitFor, tick)
	assert.Equal(t, int64(1), f.server.GetOnlineUserCount())
	assert.True(t, f.server.IsOnline(ctx, "alice"))
	assert.False(t, f.server.IsOnline(ctx, "bob"))
}

func newIdleClient(t *testing.T, f *fixture, token string) (*Client, *fakeConn) {
	t.Helper()
	sess, err := f.sessions.NewSession(context.Background(), token)
	require.NoError(t, err)
	conn := newFakeConn()
	return NewClient(context.Background(), conn, sess, SDKTypeGo, "conn-"+token, f.server), conn
}

func TestClient_OpenRoomAfterCloseSubscribesNothing(t *testing.T) {
	f := newFixture()
	conv := f.store.SeedConversation(&entity.Conversation{ParticipantA: "alice", ParticipantB: "bob", LastActivityAt: 1})
	client, _ := newIdleClient(t, f, "tok-alice")

	require.NoError(t, client.Close())
	room, err := client.openRoom(conv.Id)
	require.ErrorIs(t, err, errcode.ErrConnClosed)
	assert.Nil(t, room)
	assert.Nil(t, client.currentRoom())
	assert.Equal(t, 0, f.store.Feed().Active())
}

func TestClient_CloseReleasesOpenRoomAndList(t *testing.T) {
	f := newFixture()
	conv := f.store.SeedConversation(&entity.Conversation{ParticipantA: "alice", ParticipantB: "bob", LastActivityAt: 1})
	client, _ := newIdleClient(t, f, "tok-alice")

	client.Start()
	room, err := client.openRoom(conv.Id)
	require.NoError(t, err)
	require.Equal(t, chat.RoomLive, room.State().Status)
	require.Positive(t, f.store.Feed().Active())

	require.NoError(t, client.Close())
	assert.Equal(t, 0, f.store.Feed().Active())
	require.ErrorIs(t, room.Open(context.Background()), errcode.ErrRoomClosed)
	assert.Equal(t, 0, f.store.Feed().Active())
}

func TestClient_KickedBeforeStartLeavesNoWatch(t *testing.T) {
	f := newFixture()
	client, conn := newIdleClient(t, f, "tok-alice")

	require.NoError(t, client.KickOnline())
	client.Start()
	client.readLoop()

	assert.True(t, client.IsClosed())
	assert.True(t, conn.isClosed())
	_, kicked := conn.find(func(r WSResponse) bool { return r.ReqIdentifier == WSKickOnlineMsg })
	assert.True(t, kicked)
	assert.Equal(t, 0, f.store.Feed().Active())
}

func TestClient_ReopeningFailedRoomReportsError(t *testing.T) {
	f := newFixture()
	client, _ := newIdleClient(t, f, "tok-alice")
	defer client.Close()

	_, err := client.openRoom("missing")
	require.ErrorIs(t, err, errcode.ErrConvNotFound)
	_, err = client.openRoom("missing")
	require.ErrorIs(t, err, errcode.ErrConvNotFound)

	conv := f.store.SeedConversation(&entity.Conversation{ParticipantA: "alice", ParticipantB: "bob", LastActivityAt: 1})
	room, err := client.openRoom(conv.Id)
	require.NoError(t, err)
	assert.Equal(t, chat.RoomLive, room.State().Status)
}
