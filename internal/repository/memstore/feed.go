package memstore

import (
	"context"
	"sync"

	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
)

var (
	_ remote.Feed      = (*Feed)(nil)
	_ remote.Publisher = (*Feed)(nil)
)

// Feed is an in-process change feed. Every subscription owns a goroutine
// and an unbounded queue, so Publish never blocks on a slow handler and a
// handler may publish without deadlocking.
type Feed struct {
	mu   sync.Mutex
	next int
	subs map[int]*subscription
}

// NewFeed creates an empty feed
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]*subscription)}
}

// Subscribe registers h for topic until the subscription is released or
// ctx is done.
func (f *Feed) Subscribe(ctx context.Context, topic remote.Topic, h remote.Handler) (remote.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &subscription{
		feed:  f,
		topic: topic,
		h:     h,
		ctx:   context.WithoutCancel(ctx),
	}
	s.cond = sync.NewCond(&s.mu)

	f.mu.Lock()
	s.id = f.next
	f.next++
	f.subs[s.id] = s
	f.mu.Unlock()

	go s.run()
	stop := context.AfterFunc(ctx, s.Unsubscribe)
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
	return s, nil
}

// Publish queues ev on every matching subscription
func (f *Feed) Publish(_ context.Context, ev *entity.ChangeEvent) error {
	f.mu.Lock()
	targets := make([]*subscription, 0, len(f.subs))
	for _, s := range f.subs {
		if s.topic.Match(ev) {
			targets = append(targets, s)
		}
	}
	f.mu.Unlock()

	for _, s := range targets {
		s.enqueue(ev)
	}
	return nil
}

// Active returns the number of live subscriptions
func (f *Feed) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close releases every subscription
func (f *Feed) Close() {
	f.mu.Lock()
	subs := make([]*subscription, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

type subscription struct {
	feed  *Feed
	id    int
	topic remote.Topic
	h     remote.Handler
	ctx   context.Context
	stop  func() bool

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*entity.ChangeEvent
	closed bool
}

func (s *subscription) enqueue(ev *entity.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.queue = append(s.queue, ev)
	s.cond.Signal()
}

func (s *subscription) run() {
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
func (s *subscription) Unsubscribe() {
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

	s.feed.mu.Lock()
	delete(s.feed.subs, s.id)
	s.feed.mu.Unlock()
}
