package repository

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/pkg/constant"
)

// fakePubSub stands in for the shared redis connection. It confirms every
// SUBSCRIBE unless hold is set.
type fakePubSub struct {
	mu           sync.Mutex
	msgs         chan any
	hold         bool
	opens        int
	subscribed   []string
	unsubscribed []string
	closed       bool
}

func newFakeFeed(ps *fakePubSub) *RedisFeed {
	ps.msgs = make(chan any, 64)
	f := &RedisFeed{channels: make(map[string]*feedChannel)}
	f.open = func(_ context.Context, channel string) (pubSubConn, <-chan any) {
		ps.mu.Lock()
		ps.opens++
		ps.mu.Unlock()
		_ = ps.Subscribe(context.Background(), channel)
		return ps, ps.msgs
	}
	return f
}

func (p *fakePubSub) Subscribe(_ context.Context, channels ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribed = append(p.subscribed, channels...)
	if !p.hold {
		for _, ch := range channels {
			p.msgs <- &redis.Subscription{Kind: "subscribe", Channel: ch}
		}
	}
	return nil
}

func (p *fakePubSub) Unsubscribe(_ context.Context, channels ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unsubscribed = append(p.unsubscribed, channels...)
	return nil
}

func (p *fakePubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.msgs)
	}
	return nil
}

func (p *fakePubSub) snapshot() (opens int, subscribed, unsubscribed []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens, append([]string(nil), p.subscribed...), append([]string(nil), p.unsubscribed...)
}

func (p *fakePubSub) deliver(t *testing.T, channel string, ev *entity.ChangeEvent) {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	p.msgs <- &redis.Message{Channel: channel, Payload: string(data)}
}

func messageEvent(t *testing.T, convId string, id int64) *entity.ChangeEvent {
	t.Helper()
	ev, err := entity.NewChangeEvent(constant.TableMessages, constant.EventInsert, &entity.Message{
		Id: id, ConversationId: convId, SenderId: "u1", Content: "hi",
	})
	require.NoError(t, err)
	return ev
}

func roomTopic(convId string) remote.Topic {
	return remote.Topic{
		Table:  constant.TableMessages,
		Filter: &remote.Filter{Column: constant.ColumnConversationId, Value: convId},
	}
}

func collect(events chan *entity.ChangeEvent) remote.Handler {
	return func(_ context.Context, ev *entity.ChangeEvent) { events <- ev }
}

func TestTopicChannel(t *testing.T) {
	tests := []struct {
		name  string
		topic remote.Topic
		want  string
	}{
		{"whole table", remote.Topic{Table: constant.TableMessages}, "amora:feed:messages"},
		{"conversation", roomTopic("c1"), "amora:feed:messages:conversation_id:c1"},
		{"participant", remote.Topic{Table: constant.TableConversations, Filter: &remote.Filter{Column: constant.ColumnParticipantB, Value: "u2"}}, "amora:feed:conversations:participant_b:u2"},
		{"column without a channel", remote.Topic{Table: constant.TableMessages, Filter: &remote.Filter{Column: constant.ColumnSenderId, Value: "u1"}}, "amora:feed:messages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, topicChannel(tt.topic))
		})
	}
}

func TestEventChannels(t *testing.T) {
	assert.Equal(t, []string{
		"amora:feed:messages",
		"amora:feed:messages:conversation_id:c1",
	}, eventChannels(messageEvent(t, "c1", 1)))

	ev, err := entity.NewChangeEvent(constant.TableConversations, constant.EventUpdate, &entity.Conversation{
		Id: "c1", ParticipantA: "u1", ParticipantB: "u2",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"amora:feed:conversations",
		"amora:feed:conversations:participant_a:u1",
		"amora:feed:conversations:participant_b:u2",
	}, eventChannels(ev))

	// Every topic listens on a channel its events are published to.
	for _, topic := range []remote.Topic{{Table: constant.TableMessages}, roomTopic("c1")} {
		assert.Contains(t, eventChannels(messageEvent(t, "c1", 1)), topicChannel(topic))
	}
}

func TestRedisFeed_SharesOneConnection(t *testing.T) {
	ps := &fakePubSub{}
	f := newFakeFeed(ps)
	ctx := context.Background()

	a, b, other := make(chan *entity.ChangeEvent, 4), make(chan *entity.ChangeEvent, 4), make(chan *entity.ChangeEvent, 4)
	subA, err := f.Subscribe(ctx, roomTopic("c1"), collect(a))
	require.NoError(t, err)
	subB, err := f.Subscribe(ctx, roomTopic("c1"), collect(b))
	require.NoError(t, err)
	subOther, err := f.Subscribe(ctx, roomTopic("c2"), collect(other))
	require.NoError(t, err)

	opens, subscribed, _ := ps.snapshot()
	assert.Equal(t, 1, opens)
	assert.Equal(t, []string{
		"amora:feed:messages:conversation_id:c1",
		"amora:feed:messages:conversation_id:c2",
	}, subscribed)

	ps.deliver(t, "amora:feed:messages:conversation_id:c1", messageEvent(t, "c1", 7))
	for _, events := range []chan *entity.ChangeEvent{a, b} {
		select {
		case ev := <-events:
			v, _ := ev.Column(constant.ColumnId)
			assert.Equal(t, "7", v)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
	select {
	case <-other:
		t.Fatal("event leaked to another conversation")
	case <-time.After(50 * time.Millisecond):
	}

	// The channel stays subscribed while a listener is left.
	subA.Unsubscribe()
	_, _, unsubscribed := ps.snapshot()
	assert.Empty(t, unsubscribed)

	subB.Unsubscribe()
	subOther.Unsubscribe()
	_, _, unsubscribed = ps.snapshot()
	assert.ElementsMatch(t, []string{
		"amora:feed:messages:conversation_id:c1",
		"amora:feed:messages:conversation_id:c2",
	}, unsubscribed)

	require.NoError(t, f.Close())
}

func TestRedisFeed_SlowHandlerDoesNotBlockOthers(t *testing.T) {
	ps := &fakePubSub{}
	f := newFakeFeed(ps)
	t.Cleanup(func() { _ = f.Close() })

	release := make(chan struct{})
	_, err := f.Subscribe(context.Background(), roomTopic("c1"), func(context.Context, *entity.ChangeEvent) { <-release })
	require.NoError(t, err)
	fast := make(chan *entity.ChangeEvent, 4)
	_, err = f.Subscribe(context.Background(), roomTopic("c1"), collect(fast))
	require.NoError(t, err)

	ps.deliver(t, "amora:feed:messages:conversation_id:c1", messageEvent(t, "c1", 1))
	ps.deliver(t, "amora:feed:messages:conversation_id:c1", messageEvent(t, "c1", 2))
	for i := 0; i < 2; i++ {
		select {
		case <-fast:
		case <-time.After(time.Second):
			t.Fatal("fast handler starved")
		}
	}
	close(release)
}

func TestRedisFeed_CancelledContextReleasesChannel(t *testing.T) {
	ps := &fakePubSub{}
	f := newFakeFeed(ps)
	t.Cleanup(func() { _ = f.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.Subscribe(ctx, roomTopic("c1"), func(context.Context, *entity.ChangeEvent) {})
	require.NoError(t, err)
	cancel()

	assert.Eventually(t, func() bool {
		_, _, unsubscribed := ps.snapshot()
		return len(unsubscribed) == 1
	}, time.Second, 10*time.Millisecond)

	_, err = f.Subscribe(ctx, roomTopic("c1"), func(context.Context, *entity.ChangeEvent) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisFeed_SubscribeWaitsForConfirmation(t *testing.T) {
	ps := &fakePubSub{hold: true}
	f := newFakeFeed(ps)
	t.Cleanup(func() { _ = f.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Subscribe(ctx, roomTopic("c1"), func(context.Context, *entity.ChangeEvent) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, _, unsubscribed := ps.snapshot()
	assert.Equal(t, []string{"amora:feed:messages:conversation_id:c1"}, unsubscribed)
}

func TestRedisFeed_CloseStopsSubscriptions(t *testing.T) {
	ps := &fakePubSub{}
	f := newFakeFeed(ps)

	events := make(chan *entity.ChangeEvent, 1)
	_, err := f.Subscribe(context.Background(), roomTopic("c1"), collect(events))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ps.mu.Lock()
	closed := ps.closed
	ps.mu.Unlock()
	assert.True(t, closed)

	_, err = f.Subscribe(context.Background(), roomTopic("c1"), collect(events))
	assert.Error(t, err)
	assert.NoError(t, f.Close())
}
