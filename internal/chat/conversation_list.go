package chat

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/mbeoliero/kit/log"
	"golang.org/x/sync/errgroup"

	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/internal/session"
	"github.com/mbeoliero/amora/pkg/constant"
	"github.com/mbeoliero/amora/pkg/errcode"
	"github.com/mbeoliero/amora/pkg/notify"
)

// ListState is a snapshot of the conversation list
type ListState struct {
	Conversations []*entity.ConversationInfo `json:"conversations"`
	Loading       bool                       `json:"loading"`
	Error         string                     `json:"error,omitempty"`
	Version       uint64                     `json:"version"`
}

// ConversationList aggregates the viewer's conversations with the
// counterpart profile, the last message and the unread count.
type ConversationList struct {
	viewer Viewer
	store  remote.Store
	feed   remote.Feed
	opts   Options

	mu      sync.Mutex
	convs   []*entity.ConversationInfo
	loading int
	err     string
	version uint64
	seq     uint64
	applied uint64

	watchMu       sync.Mutex
	watchCancel   context.CancelFunc
	watchSubs     []remote.Subscription
	cancelSession func()
	watchDone     chan struct{}

	hub notify.Hub[ListState]
}

// NewConversationList creates a new ConversationList
func NewConversationList(viewer Viewer, store remote.Store, feed remote.Feed, opts Options) *ConversationList {
	return &ConversationList{
		viewer: viewer,
		store:  store,
		feed:   feed,
		opts:   opts.withDefaults(),
	}
}

// List returns the conversations of viewerId, most recently active first.
// An empty viewerId yields an empty list. A missing counterpart profile
// leaves OtherUser nil instead of failing the list.
func (l *ConversationList) List(ctx context.Context, viewerId string) ([]*entity.ConversationInfo, error) {
	if viewerId == "" {
		return []*entity.ConversationInfo{}, nil
	}

	convs, err := l.store.FindConversations(ctx, remote.ConversationQuery{
		Participant: viewerId,
		Order:       remote.OrderDesc,
	})
	if err != nil {
		return nil, errcode.ErrListFailed.Wrap(err)
	}

	otherIds := make([]string, 0, len(convs))
	for _, c := range convs {
		if other := c.Counterpart(viewerId); other != "" {
			otherIds = append(otherIds, other)
		}
	}
	profiles, err := l.store.GetProfiles(ctx, otherIds)
	if err != nil {
		log.CtxWarn(ctx, "load counterpart profiles failed: user_id=%s, error=%v", viewerId, err)
		profiles = nil
	}

	infos := make([]*entity.ConversationInfo, len(convs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.ListConcurrency)
	for i, c := range convs {
		info := &entity.ConversationInfo{
			Id:             c.Id,
			OtherUserId:    c.Counterpart(viewerId),
			LastActivityAt: c.LastActivityAt,
			CreatedAt:      c.CreatedAt,
		}
		if p, ok := profiles[info.OtherUserId]; ok {
			info.OtherUser = p
		}
		infos[i] = info

		g.Go(func() error {
			last, err := l.store.FindMessages(gctx, remote.MessageQuery{
				ConversationId: c.Id,
				Order:          remote.OrderDesc,
				Limit:          1,
			})
			if err != nil {
				return err
			}
			if len(last) > 0 {
				info.LastMessage = last[0].ToMessageInfo()
			}

			unread, err := l.store.CountMessages(gctx, remote.MessageQuery{
				ConversationId: c.Id,
				SenderNot:      viewerId,
				UnreadOnly:     true,
			})
			if err != nil {
				return err
			}
			info.UnreadCount = unread
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errcode.ErrListFailed.Wrap(err)
	}

	slices.SortStableFunc(infos, func(a, b *entity.ConversationInfo) int {
		if c := cmp.Compare(b.LastActivityAt, a.LastActivityAt); c != 0 {
			return c
		}
		return cmp.Compare(b.Id, a.Id)
	})
	return infos, nil
}

// GetOrCreate returns the conversation between viewerId and otherId,
// creating it when the pair has none. A lost creation race is resolved by
// reading the row the other side stored.
func (l *ConversationList) GetOrCreate(ctx context.Context, viewerId, otherId string) (string, error) {
	if viewerId == "" {
		return "", errcode.ErrUnauthorized
	}
	if otherId == "" {
		return "", errcode.ErrInvalidParam
	}
	if otherId == viewerId {
		return "", errcode.ErrSelfChat
	}

	conv, err := l.store.FindConversationByPair(ctx, viewerId, otherId)
	if err == nil {
		return conv.Id, nil
	}
	if !errors.Is(err, remote.ErrNotFound) {
		return "", errcode.ErrConvCreate.Wrap(err)
	}

	if _, err := l.store.GetProfile(ctx, otherId); err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return "", errcode.ErrUserNotFound
		}
		return "", errcode.ErrConvCreate.Wrap(err)
	}

	conv, err = l.store.InsertConversation(ctx, entity.NewConversation(viewerId, otherId))
	if err == nil {
		log.CtxInfo(ctx, "conversation created: conversation_id=%s, user_id=%s, other_user_id=%s", conv.Id, viewerId, otherId)
		return conv.Id, nil
	}
	if !errors.Is(err, remote.ErrConflict) {
		return "", errcode.ErrConvCreate.Wrap(err)
	}

	conv, err = l.store.FindConversationByPair(ctx, viewerId, otherId)
	if err != nil {
		return "", errcode.ErrConvCreate.Wrap(err)
	}
	return conv.Id, nil
}

// GetOrCreateChat is GetOrCreate for the session viewer
func (l *ConversationList) GetOrCreateChat(ctx context.Context, otherUserId string) (string, error) {
	return l.GetOrCreate(ctx, l.viewer.UserId(), otherUserId)
}

// State returns the current snapshot
func (l *ConversationList) State() ListState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

func (l *ConversationList) stateLocked() ListState {
	return ListState{
		Conversations: slices.Clone(l.convs),
		Loading:       l.loading > 0,
		Error:         l.err,
		Version:       l.version,
	}
}

// OnChange registers fn for state snapshots
func (l *ConversationList) OnChange(fn func(ListState)) (cancel func()) {
	return l.hub.Subscribe(fn)
}

// Refetch reloads the list for the session viewer. On failure the cached
// list is kept and the error is recorded. Results of a refetch that was
// overtaken by a newer one are dropped.
func (l *ConversationList) Refetch(ctx context.Context) error {
	viewerId := l.viewer.UserId()

	l.mu.Lock()
	l.seq++
	seq := l.seq
	l.loading++
	l.version++
	state := l.stateLocked()
	l.mu.Unlock()
	l.hub.Emit(state)

	convs, err := l.List(ctx, viewerId)

	l.mu.Lock()
	l.loading--
	if seq > l.applied {
		l.applied = seq
		if err != nil {
			l.err = errcode.Message(err)
		} else {
			l.convs = convs
			l.err = ""
		}
	}
	l.version++
	state = l.stateLocked()
	l.mu.Unlock()
	l.hub.Emit(state)

	if err != nil {
		log.CtxWarn(ctx, "refetch conversation list failed: user_id=%s, error=%v", viewerId, err)
	}
	return err
}

func (l *ConversationList) clear() {
	l.mu.Lock()
	l.seq++
	l.applied = l.seq
	l.convs = nil
	l.err = ""
	l.version++
	state := l.stateLocked()
	l.mu.Unlock()
	l.hub.Emit(state)
}

func (l *ConversationList) knows(conversationId string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.convs {
		if c.Id == conversationId {
			return true
		}
	}
	return false
}

// Watch keeps the list fresh in the background: conversation rows of the
// viewer and messages of listed conversations schedule a refetch, and
// bursts of changes collapse into one. It also follows sign in and sign
// out of the session. Stop ends it.
func (l *ConversationList) Watch(ctx context.Context) error {
	viewerId := l.viewer.UserId()
	if viewerId == "" {
		return errcode.ErrUnauthorized
	}

	l.watchMu.Lock()
	defer l.watchMu.Unlock()
	if l.watchCancel != nil {
		return nil
	}
	// Nothing stops a watch started after its owner is done.
	if err := ctx.Err(); err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	refresh := make(chan struct{}, 1)
	trigger := func() {
		select {
		case refresh <- struct{}{}:
		default:
		}
	}

	topics := []remote.Topic{
		{Table: constant.TableConversations, Filter: &remote.Filter{Column: constant.ColumnParticipantA, Value: viewerId}},
		{Table: constant.TableConversations, Filter: &remote.Filter{Column: constant.ColumnParticipantB, Value: viewerId}},
	}
	var subs []remote.Subscription
	for _, topic := range topics {
		sub, err := l.feed.Subscribe(watchCtx, topic, func(context.Context, *entity.ChangeEvent) {
			trigger()
		})
		if err != nil {
			cancel()
			for _, s := range subs {
				s.Unsubscribe()
			}
			return errcode.ErrListFailed.Wrap(err)
		}
		subs = append(subs, sub)
	}

	sub, err := l.feed.Subscribe(watchCtx, remote.Topic{Table: constant.TableMessages}, func(_ context.Context, ev *entity.ChangeEvent) {
		if convId, ok := ev.Column(constant.ColumnConversationId); ok && l.knows(convId) {
			trigger()
		}
	})
	if err != nil {
		cancel()
		for _, s := range subs {
			s.Unsubscribe()
		}
		return errcode.ErrListFailed.Wrap(err)
	}
	subs = append(subs, sub)

	l.cancelSession = l.viewer.Subscribe(func(ev session.Event) {
		switch ev.Type {
		case session.SignedOut:
			l.clear()
		case session.SignedIn:
			trigger()
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-refresh:
				_ = l.Refetch(watchCtx)
			}
		}
	}()

	l.watchCancel = cancel
	l.watchSubs = subs
	l.watchDone = done
	trigger()
	return nil
}

// Stop ends Watch and waits for a running refetch to return
func (l *ConversationList) Stop() {
	l.watchMu.Lock()
	cancel, subs, cancelSession, done := l.watchCancel, l.watchSubs, l.cancelSession, l.watchDone
	l.watchCancel, l.watchSubs, l.cancelSession, l.watchDone = nil, nil, nil, nil
	l.watchMu.Unlock()

	if cancel == nil {
		return
	}
	cancelSession()
	cancel()
	for _, s := range subs {
		s.Unsubscribe()
	}
	<-done
}
