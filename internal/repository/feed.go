package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"

	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/pkg/constant"
)

var (
	_ remote.Feed      = (*RedisFeed)(nil)
	_ remote.Publisher = (*RedisFeed)(nil)
)

// routedColumns are the filter columns that get a channel of their own.
// Topics filtering on any other column listen on the table channel.
var routedColumns = map[string][]string{
	constant.TableMessages:      {constant.ColumnConversationId},
	constant.TableConversations: {constant.ColumnParticipantA, constant.ColumnParticipantB},
}

// pubSubConn is the part of *redis.PubSub the feed drives
type pubSubConn interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Close() error
}

// RedisFeed carries change events over Redis pub/sub. Every event goes to
// its table channel and to one channel per routed column value, e.g.
// feed:messages:conversation_id:{id}. A process shares one pub/sub
// connection across all subscriptions and decodes each event once.
type RedisFeed struct {
	rdb  *redis.Client
	open func(ctx context.Context, channel string) (pubSubConn, <-chan any)

	mu       sync.Mutex
	ps       pubSubConn
	channels map[string]*feedChannel
	closed   bool
}

// feedChannel is the local state of one redis channel
type feedChannel struct {
	subs     map[*redisSubscription]struct{}
	inflight int // SUBSCRIBE commands not yet confirmed
	waiters  []chan struct{}
}

// NewRedisFeed creates a new RedisFeed
func NewRedisFeed(rdb *redis.Client) *RedisFeed {
	f := &RedisFeed{rdb: rdb, channels: make(map[string]*feedChannel)}
	f.open = func(ctx context.Context, channel string) (pubSubConn, <-chan any) {
		ps := rdb.Subscribe(ctx, channel)
		return ps, ps.ChannelWithSubscriptions()
	}
	return f
}

func tableChannel(table string) string {
	return fmt.Sprintf(constant.RedisKeyFeed(), table)
}

func columnChannel(table, column, value string) string {
	return fmt.Sprintf(constant.RedisKeyFeed(), table+":"+column+":"+value)
}

// topicChannel picks the narrowest channel that carries every event of topic
func topicChannel(topic remote.Topic) string {
	if topic.Filter != nil {
		for _, col := range routedColumns[topic.Table] {
			if col == topic.Filter.Column {
				return columnChannel(topic.Table, col, topic.Filter.Value)
			}
		}
	}
	return tableChannel(topic.Table)
}

// eventChannels lists every channel ev is published to
func eventChannels(ev *entity.ChangeEvent) []string {
	channels := []string{tableChannel(ev.Table)}
	for _, col := range routedColumns[ev.Table] {
		if v, ok := ev.Column(col); ok && v != "" {
			channels = append(channels, columnChannel(ev.Table, col, v))
		}
	}
	return channels
}

// Publish implements remote.Publisher
func (f *RedisFeed) Publish(ctx context.Context, ev *entity.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	pipe := f.rdb.Pipeline()
	for _, ch := range eventChannels(ev) {
		pipe.Publish(ctx, ch, data)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Subscribe implements remote.Feed. It returns once Redis has confirmed the
// channel, and the subscription is released when ctx is done.
func (f *RedisFeed) Subscribe(ctx context.Context, topic remote.Topic, h remote.Handler) (remote.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &redisSubscription{
		feed:    f,
		channel: topicChannel(topic),
		topic:   topic,
		h:       h,
		ctx:     context.WithoutCancel(ctx),
	}
	s.cond = sync.NewCond(&s.mu)

	ready, err := f.add(ctx, s)
	if err != nil {
		return nil, err
	}
	if ready != nil {
		select {
		case <-ready:
		case <-ctx.Done():
			f.remove(s)
			return nil, ctx.Err()
		}
	}

	go s.run()
	stop := context.AfterFunc(ctx, s.Unsubscribe)
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
	return s, nil
}

// add registers s and subscribes its channel when it is the first local
// listener. The returned chan closes once Redis confirms the channel.
func (f *RedisFeed) add(ctx context.Context, s *redisSubscription) (<-chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, fmt.Errorf("subscribe %s: feed closed", s.channel)
	}

	ch, ok := f.channels[s.channel]
	if !ok {
		ch = &feedChannel{subs: make(map[*redisSubscription]struct{})}
		f.channels[s.channel] = ch
	}
	ch.subs[s] = struct{}{}

	if len(ch.subs) == 1 {
		if f.ps == nil {
			ps, msgs := f.open(context.WithoutCancel(ctx), s.channel)
			f.ps = ps
			go f.dispatch(msgs)
		} else if err := f.ps.Subscribe(ctx, s.channel); err != nil {
			f.dropLocked(s)
			return nil, fmt.Errorf("subscribe %s: %w", s.channel, err)
		}
		ch.inflight++
	}
	if ch.inflight == 0 {
		return nil, nil
	}
	ready := make(chan struct{})
	ch.waiters = append(ch.waiters, ready)
	return ready, nil
}

// remove forgets s and unsubscribes its channel when no listener is left
func (f *RedisFeed) remove(s *redisSubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropLocked(s)
}

func (f *RedisFeed) dropLocked(s *redisSubscription) {
	ch, ok := f.channels[s.channel]
	if !ok {
		return
	}
	if _, ok := ch.subs[s]; !ok {
		return
	}
	delete(ch.subs, s)
	if len(ch.subs) > 0 {
		return
	}
	for _, w := range ch.waiters {
		close(w)
	}
	delete(f.channels, s.channel)
	if f.ps == nil || f.closed {
		return
	}
	if err := f.ps.Unsubscribe(s.ctx, s.channel); err != nil {
		log.CtxWarn(s.ctx, "feed unsubscribe failed: channel=%s, err=%v", s.channel, err)
	}
}

// dispatch routes pub/sub traffic to local subscriptions until the
// connection is closed.
func (f *RedisFeed) dispatch(msgs <-chan any) {
	ctx := context.Background()
	for m := range msgs {
		switch m := m.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				f.confirm(m.Channel)
			}
		case *redis.Message:
			ev, ok := decodeChangeEvent(ctx, m.Payload)
			if !ok {
				continue
			}
			for _, s := range f.listeners(m.Channel) {
				if s.topic.Match(ev) {
					s.enqueue(ev)
				}
			}
		}
	}
}

func (f *RedisFeed) confirm(channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channel]
	// Reconnects replay SUBSCRIBE for channels already confirmed.
	if !ok || ch.inflight == 0 {
		return
	}
	ch.inflight--
	if ch.inflight > 0 {
		return
	}
	for _, w := range ch.waiters {
		close(w)
	}
	ch.waiters = nil
}

func (f *RedisFeed) listeners(channel string) []*redisSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channel]
	if !ok {
		return nil
	}
	out := make([]*redisSubscription, 0, len(ch.subs))
	for s := range ch.subs {
		out = append(out, s)
	}
	return out
}

// Close releases the shared connection and every subscription
func (f *RedisFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	ps := f.ps
	var subs []*redisSubscription
	for _, ch := range f.channels {
		for s := range ch.subs {
			subs = append(subs, s)
		}
	}
	f.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	if ps == nil {
		return nil
	}
	return ps.Close()
}

// redisSubscription queues matching events and hands them to its handler
// one at a time, so a slow handler holds up only itself.
type redisSubscription struct {
	feed    *RedisFeed
	channel string
	topic   remote.Topic
	h       remote.Handler
	ctx     context.Context
	stop    func() bool

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*entity.ChangeEvent
	closed bool
}

func (s *redisSubscription) enqueue(ev *entity.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, ev)
	s.cond.Signal()
}

func (s *redisSubscription) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.h(s.ctx, ev)
	}
}

// Unsubscribe implements remote.Subscription
func (s *redisSubscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
	stop := s.stop
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.feed.remove(s)
}

func decodeChangeEvent(ctx context.Context, payload string) (*entity.ChangeEvent, bool) {
	var ev entity.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		log.CtxWarn(ctx, "drop malformed change event: err=%v", err)
		return nil, false
	}
	return &ev, true
}
