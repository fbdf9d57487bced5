// Package chat keeps the client-side view of a user's conversations in
// sync with the remote data service: the conversation list, the message log
// of one open room and the read flags of incoming messages.
package chat

import (
	"time"

	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/session"
)

const (
	DefaultListConcurrency = 8
	DefaultReconcileWindow = 30 * time.Second
)

// Options tunes the chat components. Zero fields take the defaults.
type Options struct {
	// ListConcurrency bounds the per-conversation lookups run in parallel
	// while building the conversation list.
	ListConcurrency int
	// ReconcileWindow is how far apart the local and server timestamps of
	// the same message may be when it is matched by content.
	ReconcileWindow time.Duration
	// HistoryLimit caps how many of the latest messages a room loads.
	// 0 loads the full history.
	HistoryLimit int
	// Now is the local clock used for pending messages.
	Now func() int64
}

func (o Options) withDefaults() Options {
	if o.ListConcurrency <= 0 {
		o.ListConcurrency = DefaultListConcurrency
	}
	if o.ReconcileWindow <= 0 {
		o.ReconcileWindow = DefaultReconcileWindow
	}
	if o.HistoryLimit < 0 {
		o.HistoryLimit = 0
	}
	if o.Now == nil {
		o.Now = entity.NowUnixMilli
	}
	return o
}

// Viewer is the acting identity the chat components work for.
// *session.Session satisfies it.
type Viewer interface {
	UserId() string
	Subscribe(fn func(session.Event)) (cancel func())
}

// StaticViewer is a Viewer pinned to one user for request scoped work. It
// never emits session events.
type StaticViewer string

// UserId implements Viewer
func (v StaticViewer) UserId() string {
	return string(v)
}

// Subscribe implements Viewer
func (StaticViewer) Subscribe(func(session.Event)) (cancel func()) {
	return func() {}
}
