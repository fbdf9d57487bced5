package remote

import (
	"context"
	"slices"

	"github.com/mbeoliero/amora/internal/entity"
)

// Filter restricts a subscription to rows whose column equals value
type Filter struct {
	Column string
	Value  string
}

// Topic names what a subscription receives: a table, the event types
// (all when empty) and an optional column predicate.
type Topic struct {
	Table  string
	Events []string
	Filter *Filter
}

// Match reports whether ev belongs to the topic
func (t Topic) Match(ev *entity.ChangeEvent) bool {
	if ev == nil || ev.Table != t.Table {
		return false
	}
	if len(t.Events) > 0 && !slices.Contains(t.Events, ev.Type) {
		return false
	}
	if t.Filter == nil {
		return true
	}
	v, ok := ev.Column(t.Filter.Column)
	return ok && v == t.Filter.Value
}

// Handler receives matching events of one subscription, one at a time and
// in publish order.
type Handler func(ctx context.Context, ev *entity.ChangeEvent)

// Subscription is a live feed registration
type Subscription interface {
	// Unsubscribe stops delivery. Once it returns no new event is dispatched;
	// a handler call already running may still finish. Calling it again is a
	// no-op.
	Unsubscribe()
}

// Feed is the change notification service
type Feed interface {
	Subscribe(ctx context.Context, topic Topic, h Handler) (Subscription, error)
}

// Publisher emits change events to the feed
type Publisher interface {
	Publish(ctx context.Context, ev *entity.ChangeEvent) error
}
