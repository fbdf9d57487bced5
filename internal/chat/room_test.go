package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/pkg/constant"
	"github.com/mbeoliero/amora/pkg/errcode"
)

func newRoomFixture(t *testing.T) (*faultStore, *entity.Conversation, *Room) {
	t.Helper()
	fs := newFaultStore(memstoreClock(1000))
	conv := fs.SeedConversation(&entity.Conversation{ParticipantA: "me", ParticipantB: "you", LastActivityAt: 1})
	room := NewRoom(conv.Id, newViewer("me"), fs, fs.Feed(), Options{Now: sequenceClock(1000)})
	t.Cleanup(room.Close)
	return fs, conv, room
}

func TestRoom_OpenMarksCounterpartMessagesRead(t *testing.T) {
	fs, conv, room := newRoomFixture(t)
	a := fs.SeedMessage(&entity.Message{ConversationId: conv.Id, SenderId: "you", Content: "hey", CreatedAt: 10})
	b := fs.SeedMessage(&entity.Message{ConversationId: conv.Id, SenderId: "you", Content: "there?", CreatedAt: 20})
	mine := fs.SeedMessage(&entity.Message{ConversationId: conv.Id, SenderId: "me", Content: "hi", CreatedAt: 30})

	openLive(t, room)

	state := room.State()
	require.Len(t, state.Messages, 3)
	assert.Equal(t, []string{"hey", "there?", "hi"}, contents(state.Messages))
	assert.True(t, state.Messages[0].Read)
	assert.True(t, state.Messages[1].Read)
	assert.False(t, state.Messages[2].Read)
	assert.False(t, state.Loading)

	for _, id := range []int64{a.Id, b.Id} {
		stored, ok := fs.Message(id)
		require.True(t, ok)
		assert.True(t, stored.Read)
	}
	stored, ok := fs.Message(mine.Id)
	require.True(t, ok)
	assert.False(t, stored.Read)
}

func TestRoom_SendShowsPendingThenConfirms(t *testing.T) {
	fs, conv, room := newRoomFixture(t)
	openLive(t, room)

	gate := make(chan struct{})
	fs.set(func(f *faultStore) { f.insertGate = gate })

	type result struct {
		view *MessageView
		err  error
	}
	done := make(chan result, 1)
	go func() {
		v, err := room.SendMessage(context.Background(), "hello")
		done <- result{v, err}
	}()

	require.Eventually(t, func() bool {
		return countContent(room.State().Messages, "hello") == 1
	}, waitFor, tick)
	pending := room.State()
	assert.True(t, pending.Sending)
	require.Len(t, pending.Messages, 1)
	assert.True(t, pending.Messages[0].Pending)
	assert.NotEmpty(t, pending.Messages[0].LocalId)
	assert.Zero(t, pending.Messages[0].Id)

	close(gate)
	res := <-done
	require.NoError(t, res.err)
	require.NotNil(t, res.view)
	assert.NotZero(t, res.view.Id)
	assert.False(t, res.view.Pending)

	// A later counterpart message proves the echo of "hello" was handled.
	_, err := fs.Store.InsertMessage(context.Background(), &entity.Message{ConversationId: conv.Id, SenderId: "you", Content: "marker"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return countContent(room.State().Messages, "marker") == 1
	}, waitFor, tick)

	state := room.State()
	assert.Equal(t, 1, countContent(state.Messages, "hello"))
	assert.False(t, state.Sending)
	for _, m := range state.Messages {
		assert.False(t, m.Pending)
	}

	got, err := fs.GetConversation(context.Background(), conv.Id)
	require.NoError(t, err)
	assert.Equal(t, res.view.CreatedAt, got.LastActivityAt)
}

func TestRoom_SendTrimsContent(t *testing.T) {
	_, _, room := newRoomFixture(t)
	openLive(t, room)

	v, err := room.SendMessage(context.Background(), "  hi there \n")
	require.NoError(t, err)
	assert.Equal(t, "hi there", v.Content)
}

func TestRoom_EmptySendIsRejectedLocally(t *testing.T) {
	fs, _, room := newRoomFixture(t)
	openLive(t, room)
	before := room.State()

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := room.SendMessage(context.Background(), text)
		assert.ErrorIs(t, err, errcode.ErrEmptyMessage)
	}

	assert.Equal(t, int32(0), fs.insertCalls.Load())
	assert.Equal(t, before, room.State())
}

func TestRoom_SendFailureRemovesPendingEntry(t *testing.T) {
	fs, _, room := newRoomFixture(t)
	openLive(t, room)
	fs.set(func(f *faultStore) { f.insertMessageErr = errors.New("network down") })

	_, err := room.SendMessage(context.Background(), "hello")
	require.ErrorIs(t, err, errcode.ErrSendFailed)

	state := room.State()
	assert.Empty(t, state.Messages)
	assert.NotEmpty(t, state.Error)
	assert.False(t, state.Sending)
	assert.Equal(t, RoomLive, state.Status)

	fs.set(func(f *faultStore) { f.insertMessageErr = nil })
	_, err = room.SendMessage(context.Background(), "hello")
	require.NoError(t, err)
	state = room.State()
	assert.Equal(t, 1, countContent(state.Messages, "hello"))
	assert.Empty(t, state.Error)
}

func TestRoom_SendRequiresLiveRoom(t *testing.T) {
	_, _, room := newRoomFixture(t)

	_, err := room.SendMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, errcode.ErrRoomNotLive)
}

func TestRoom_IgnoresOtherConversations(t *testing.T) {
	fs, conv, room := newRoomFixture(t)
	other := fs.SeedConversation(&entity.Conversation{ParticipantA: "me", ParticipantB: "third"})
	openLive(t, room)

	ctx := context.Background()
	_, err := fs.Store.InsertMessage(ctx, &entity.Message{ConversationId: other.Id, SenderId: "third", Content: "elsewhere"})
	require.NoError(t, err)
	_, err = fs.Store.InsertMessage(ctx, &entity.Message{ConversationId: conv.Id, SenderId: "you", Content: "here"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return countContent(room.State().Messages, "here") == 1
	}, waitFor, tick)
	assert.Equal(t, []string{"here"}, contents(room.State().Messages))
}

func TestRoom_RedeliveredInsertAppearsOnce(t *testing.T) {
	fs, conv, room := newRoomFixture(t)
	openLive(t, room)

	msg := fs.SeedMessage(&entity.Message{ConversationId: conv.Id, SenderId: "me", Content: "dup", CreatedAt: 5000})
	ev, err := entity.NewChangeEvent(constant.TableMessages, constant.EventInsert, msg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, fs.Feed().Publish(ctx, ev))
	require.NoError(t, fs.Feed().Publish(ctx, ev))
	_, err = fs.Store.InsertMessage(ctx, &entity.Message{ConversationId: conv.Id, SenderId: "you", Content: "marker"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return countContent(room.State().Messages, "marker") == 1
	}, waitFor, tick)
	assert.Equal(t, 1, countContent(room.State().Messages, "dup"))
}

func TestRoom_IncomingMessageIsMarkedRead(t *testing.T) {
	fs, conv, room := newRoomFixture(t)
	openLive(t, room)

	saved, err := fs.Store.InsertMessage(context.Background(), &entity.Message{ConversationId: conv.Id, SenderId: "you", Content: "new"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := room.State().Messages
		return len(msgs) == 1 && msgs[0].Read
	}, waitFor, tick)

	stored, ok := fs.Message(saved.Id)
	require.True(t, ok)
	assert.True(t, stored.Read)
}

func TestRoom_EventsDuringLoadAreMerged(t *testing.T) {
	fs, conv, room := newRoomFixture(t)
	fs.SeedMessage(&entity.Message{ConversationId: conv.Id, SenderId: "you", Content: "old", CreatedAt: 10})

	gate, started := make(chan struct{}), make(chan struct{})
	fs.set(func(f *faultStore) { f.fetchGate, f.fetchStarted = gate, started })

	opened := make(chan error, 1)
	go func() { opened <- room.Open(context.Background()) }()
	<-started
	assert.Equal(t, RoomLoading, room.State().Status)

	saved, err := fs.Store.InsertMessage(context.Background(), &entity.Message{ConversationId: conv.Id, SenderId: "you", Content: "during load"})
	require.NoError(t, err)

	close(gate)
	require.NoError(t, <-opened)

	require.Eventually(t, func() bool {
		msgs := room.State().Messages
		return len(msgs) == 2 && msgs[1].Read
	}, waitFor, tick)
	assert.Equal(t, []string{"old", "during load"}, contents(room.State().Messages))

	stored, ok := fs.Message(saved.Id)
	require.True(t, ok)
	assert.True(t, stored.Read)
}

func TestRoom_FetchFailureStaysLoading(t *testing.T) {
	fs, _, room := newRoomFixture(t)
	fs.set(func(f *faultStore) { f.findMessagesErr = errors.New("timeout") })

	err := room.Open(context.Background())
	require.ErrorIs(t, err, errcode.ErrFetchFailed)

	state := room.State()
	assert.Equal(t, RoomLoading, state.Status)
	assert.True(t, state.Loading)
	assert.NotEmpty(t, state.Error)
	assert.Empty(t, state.Messages)
	assert.Equal(t, 0, fs.Feed().Active())

	fs.set(func(f *faultStore) { f.findMessagesErr = nil })
	require.NoError(t, room.Refetch(context.Background()))
	state = room.State()
	assert.Equal(t, RoomLive, state.Status)
	assert.Empty(t, state.Error)
}

func TestRoom_CloseDuringFetchReleasesSubscription(t *testing.T) {
	fs, _, room := newRoomFixture(t)
	gate, started := make(chan struct{}), make(chan struct{})
	fs.set(func(f *faultStore) { f.fetchGate, f.fetchStarted = gate, started })
	defer close(gate)

	opened := make(chan error, 1)
	go func() { opened <- room.Open(context.Background()) }()
	<-started
	assert.Equal(t, 1, fs.Feed().Active())

	room.Close()

	select {
	case err := <-opened:
		assert.ErrorIs(t, err, errcode.ErrRoomClosed)
	case <-time.After(waitFor):
		t.Fatal("open did not return after close")
	}
	assert.Equal(t, 0, fs.Feed().Active())
	assert.Equal(t, RoomClosed, room.State().Status)
	assert.Empty(t, room.State().Messages)
}

func TestRoom_CloseReleasesAndIsIdempotent(t *testing.T) {
	fs, conv, room := newRoomFixture(t)
	fs.SeedMessage(&entity.Message{ConversationId: conv.Id, SenderId: "you", Content: "a", CreatedAt: 1})
	openLive(t, room)
	require.Equal(t, 1, fs.Feed().Active())

	room.Close()
	room.Close()

	state := room.State()
	assert.Equal(t, RoomClosed, state.Status)
	assert.Empty(t, state.Messages)
	assert.Equal(t, 0, fs.Feed().Active())

	openLive(t, room)
	assert.Len(t, room.State().Messages, 1)
}

func TestRoom_RejectsNonParticipant(t *testing.T) {
	fs := newFaultStore()
	conv := fs.SeedConversation(&entity.Conversation{ParticipantA: "a", ParticipantB: "b"})
	room := NewRoom(conv.Id, newViewer("c"), fs, fs.Feed(), Options{})

	err := room.Open(context.Background())
	assert.ErrorIs(t, err, errcode.ErrNotParticipant)
	assert.Equal(t, 0, fs.Feed().Active())
}

func TestRoom_RequiresViewer(t *testing.T) {
	fs := newFaultStore()
	room := NewRoom("c1", newViewer(""), fs, fs.Feed(), Options{})

	assert.ErrorIs(t, room.Open(context.Background()), errcode.ErrUnauthorized)
	assert.Equal(t, RoomClosed, room.State().Status)
}

func TestRoom_HistoryLimitKeepsLatest(t *testing.T) {
	fs := newFaultStore()
	conv := fs.SeedConversation(&entity.Conversation{ParticipantA: "me", ParticipantB: "you"})
	for i, text := range []string{"1", "2", "3", "4"} {
		fs.SeedMessage(&entity.Message{ConversationId: conv.Id, SenderId: "you", Content: text, CreatedAt: int64(i + 1)})
	}
	room := NewRoom(conv.Id, newViewer("me"), fs, fs.Feed(), Options{HistoryLimit: 2})
	defer room.Close()

	openLive(t, room)
	assert.Equal(t, []string{"3", "4"}, contents(room.State().Messages))
}

func TestRoom_OnChangeReportsVersions(t *testing.T) {
	_, _, room := newRoomFixture(t)
	var versions []uint64
	cancel := room.OnChange(func(s RoomState) { versions = append(versions, s.Version) })

	openLive(t, room)
	cancel()

	require.Len(t, versions, 2)
	assert.Less(t, versions[0], versions[1])
}

func TestRoom_OpenRetriesAfterFailedLoad(t *testing.T) {
	fs, conv, room := newRoomFixture(t)
	fs.SeedMessage(&entity.Message{ConversationId: conv.Id, SenderId: "you", Content: "hi", CreatedAt: 1})
	fs.set(func(f *faultStore) { f.findMessagesErr = errors.New("timeout") })

	require.ErrorIs(t, room.Open(context.Background()), errcode.ErrFetchFailed)
	require.ErrorIs(t, room.Open(context.Background()), errcode.ErrFetchFailed)
	assert.Equal(t, 0, fs.Feed().Active())

	fs.set(func(f *faultStore) { f.findMessagesErr = nil })
	openLive(t, room)
	assert.Equal(t, []string{"hi"}, contents(room.State().Messages))
	assert.Empty(t, room.State().Error)
	assert.Equal(t, 1, fs.Feed().Active())

	// A live room is left alone.
	require.NoError(t, room.Open(context.Background()))
	assert.Equal(t, 1, fs.Feed().Active())
}

func TestRoom_DisposeBeforeOpenWins(t *testing.T) {
	fs, _, room := newRoomFixture(t)

	room.Dispose()
	err := room.Open(context.Background())
	require.ErrorIs(t, err, errcode.ErrRoomClosed)
	assert.Equal(t, RoomClosed, room.State().Status)
	assert.Equal(t, 0, fs.Feed().Active())

	require.ErrorIs(t, room.Refetch(context.Background()), errcode.ErrRoomClosed)
	assert.Equal(t, 0, fs.Feed().Active())
}

func TestRoom_DisposeDuringFetchReleasesSubscription(t *testing.T) {
	fs, _, room := newRoomFixture(t)
	gate, started := make(chan struct{}), make(chan struct{})
	fs.set(func(f *faultStore) { f.fetchGate, f.fetchStarted = gate, started })
	defer close(gate)

	opened := make(chan error, 1)
	go func() { opened <- room.Open(context.Background()) }()
	<-started

	room.Dispose()

	select {
	case err := <-opened:
		assert.ErrorIs(t, err, errcode.ErrRoomClosed)
	case <-time.After(waitFor):
		t.Fatal("open did not return after dispose")
	}
	assert.Equal(t, 0, fs.Feed().Active())
	require.ErrorIs(t, room.Open(context.Background()), errcode.ErrRoomClosed)
}
