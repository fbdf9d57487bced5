package chat

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/pkg/constant"
	"github.com/mbeoliero/amora/pkg/errcode"
	"github.com/mbeoliero/amora/pkg/idgen"
	"github.com/mbeoliero/amora/pkg/notify"
)

// RoomStatus is the lifecycle state of a room
type RoomStatus string

const (
	RoomClosed  RoomStatus = "closed"
	RoomLoading RoomStatus = "loading"
	RoomLive    RoomStatus = "live"
)

// RoomState is a snapshot of a room. Version grows with every change so
// consumers can drop snapshots that arrive late.
type RoomState struct {
	ConversationId string        `json:"conversation_id"`
	Status         RoomStatus    `json:"status"`
	Messages       []MessageView `json:"messages"`
	Loading        bool          `json:"loading"`
	Sending        bool          `json:"sending"`
	Error          string        `json:"error,omitempty"`
	Version        uint64        `json:"version"`
}

// Room keeps the message log of one conversation in sync while it is open.
type Room struct {
	conversationId string
	viewer         Viewer
	store          remote.Store
	feed           remote.Feed
	reads          *ReadState
	opts           Options

	mu       sync.Mutex
	status   RoomStatus
	gen      uint64
	version  uint64
	viewerId string
	tl       *timeline
	buffer   []*entity.ChangeEvent
	sub      remote.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	sending  int
	err      string
	failed   bool
	disposed bool

	hub notify.Hub[RoomState]
}

// NewRoom creates a closed room for conversationId
func NewRoom(conversationId string, viewer Viewer, store remote.Store, feed remote.Feed, opts Options) *Room {
	opts = opts.withDefaults()
	return &Room{
		conversationId: conversationId,
		viewer:         viewer,
		store:          store,
		feed:           feed,
		reads:          NewReadState(store),
		opts:           opts,
		status:         RoomClosed,
		tl:             newTimeline("", opts.ReconcileWindow.Milliseconds()),
	}
}

// ConversationId returns the conversation the room is bound to
func (r *Room) ConversationId() string {
	return r.conversationId
}

// OnChange registers fn for state snapshots
func (r *Room) OnChange(fn func(RoomState)) (cancel func()) {
	return r.hub.Subscribe(fn)
}

// State returns the current snapshot
func (r *Room) State() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

func (r *Room) stateLocked() RoomState {
	return RoomState{
		ConversationId: r.conversationId,
		Status:         r.status,
		Messages:       r.tl.views(),
		Loading:        r.status == RoomLoading,
		Sending:        r.sending > 0,
		Error:          r.err,
		Version:        r.version,
	}
}

func (r *Room) changedLocked() RoomState {
	r.version++
	return r.stateLocked()
}

// Open loads the history and goes live. The subscription is set up before
// the fetch so no insert is lost in between; events seen while loading are
// merged once the history is in. Opening a live or loading room is a no-op;
// a room whose last load failed loads again.
func (r *Room) Open(ctx context.Context) error {
	viewerId := r.viewer.UserId()
	if viewerId == "" {
		return errcode.ErrUnauthorized
	}

	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return errcode.ErrRoomClosed
	}
	if r.status == RoomLive || (r.status == RoomLoading && !r.failed) {
		r.mu.Unlock()
		return nil
	}
	r.failed = false
	r.gen++
	gen := r.gen
	r.status = RoomLoading
	r.viewerId = viewerId
	r.err = ""
	r.buffer = nil
	r.tl = newTimeline(viewerId, r.opts.ReconcileWindow.Milliseconds())
	roomCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.ctx, r.cancel = roomCtx, cancel
	state := r.changedLocked()
	r.mu.Unlock()
	r.hub.Emit(state)

	// The fetch stops early when the room is closed under it.
	fetchCtx, stopFetch := context.WithCancel(ctx)
	defer stopFetch()
	stopAfter := context.AfterFunc(roomCtx, stopFetch)
	defer stopAfter()

	err := r.load(fetchCtx, roomCtx, gen, viewerId)
	if err == nil {
		return nil
	}
	if errors.Is(err, errcode.ErrRoomClosed) {
		return err
	}

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return errcode.ErrRoomClosed
	}
	sub, cancel := r.sub, r.cancel
	r.sub, r.cancel, r.ctx = nil, nil, nil
	r.buffer = nil
	r.failed = true
	r.err = errcode.Message(err)
	state = r.changedLocked()
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	r.hub.Emit(state)
	log.CtxWarn(ctx, "open room failed: conversation_id=%s, user_id=%s, error=%v", r.conversationId, viewerId, err)
	return err
}

func (r *Room) load(ctx, roomCtx context.Context, gen uint64, viewerId string) error {
	conv, err := r.store.GetConversation(ctx, r.conversationId)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return errcode.ErrConvNotFound
		}
		return errcode.ErrFetchFailed.Wrap(err)
	}
	if !conv.HasParticipant(viewerId) {
		return errcode.ErrNotParticipant
	}

	sub, err := r.feed.Subscribe(roomCtx, remote.Topic{
		Table:  constant.TableMessages,
		Filter: &remote.Filter{Column: constant.ColumnConversationId, Value: r.conversationId},
	}, func(_ context.Context, ev *entity.ChangeEvent) {
		r.handleEvent(gen, ev)
	})
	if err != nil {
		if roomCtx.Err() != nil {
			return errcode.ErrRoomClosed
		}
		return errcode.ErrFetchFailed.Wrap(err)
	}

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		sub.Unsubscribe()
		return errcode.ErrRoomClosed
	}
	r.sub = sub
	r.mu.Unlock()

	msgs, err := r.fetchHistory(ctx)
	if err != nil {
		if roomCtx.Err() != nil {
			return errcode.ErrRoomClosed
		}
		return errcode.ErrFetchFailed.Wrap(err)
	}

	marked := true
	if _, err := r.reads.MarkConversationRead(ctx, r.conversationId, viewerId); err != nil {
		marked = false
		log.CtxWarn(ctx, "mark conversation read failed: conversation_id=%s, user_id=%s, error=%v", r.conversationId, viewerId, err)
	}

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return errcode.ErrRoomClosed
	}
	for _, m := range msgs {
		r.tl.apply(m)
	}
	if marked {
		r.tl.markIncomingRead()
	}

	var toMark []*entity.Message
	for _, ev := range r.buffer {
		if m := r.applyLocked(ev); m != nil {
			toMark = append(toMark, m)
		}
	}
	r.buffer = nil
	r.status = RoomLive
	state := r.changedLocked()
	r.mu.Unlock()
	r.hub.Emit(state)

	log.CtxDebug(ctx, "room live: conversation_id=%s, user_id=%s, messages=%d", r.conversationId, viewerId, len(state.Messages))

	for _, m := range toMark {
		r.markIncoming(roomCtx, gen, viewerId, m)
	}
	return nil
}

func (r *Room) fetchHistory(ctx context.Context) ([]*entity.Message, error) {
	if r.opts.HistoryLimit == 0 {
		return r.store.FindMessages(ctx, remote.MessageQuery{
			ConversationId: r.conversationId,
			Order:          remote.OrderAsc,
		})
	}

	msgs, err := r.store.FindMessages(ctx, remote.MessageQuery{
		ConversationId: r.conversationId,
		Order:          remote.OrderDesc,
		Limit:          r.opts.HistoryLimit,
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func (r *Room) handleEvent(gen uint64, ev *entity.ChangeEvent) {
	r.mu.Lock()
	if gen != r.gen || r.status == RoomClosed {
		r.mu.Unlock()
		return
	}
	if r.status == RoomLoading {
		r.buffer = append(r.buffer, ev)
		r.mu.Unlock()
		return
	}

	before := r.version
	toMark := r.applyLocked(ev)
	ctx, viewerId := r.ctx, r.viewerId
	changed := r.version != before
	var state RoomState
	if changed {
		state = r.stateLocked()
	}
	r.mu.Unlock()

	if changed {
		r.hub.Emit(state)
	}
	if toMark != nil {
		r.markIncoming(ctx, gen, viewerId, toMark)
	}
}

// applyLocked folds one feed event into the log. It returns the message to
// mark read when the event is an unread insert from the counterpart.
func (r *Room) applyLocked(ev *entity.ChangeEvent) *entity.Message {
	msg, err := ev.DecodeMessage()
	if err != nil {
		log.Warn("drop undecodable message event: conversation_id=%s, error=%v", r.conversationId, err)
		return nil
	}
	if msg.ConversationId != r.conversationId {
		return nil
	}

	switch ev.Type {
	case constant.EventInsert, constant.EventUpdate:
		res := r.tl.apply(msg)
		if res != applyNone {
			r.version++
		}
		if ev.Type == constant.EventInsert && res == applyAdded && msg.SenderId != r.viewerId && !msg.Read {
			return msg
		}
	case constant.EventDelete:
		if r.tl.removeId(msg.Id) {
			r.version++
		}
	}
	return nil
}

func (r *Room) markIncoming(ctx context.Context, gen uint64, viewerId string, msg *entity.Message) {
	// No rows changed means the row was already read on the server.
	if _, err := r.reads.MarkMessageRead(ctx, msg, viewerId); err != nil {
		log.CtxWarn(ctx, "mark message read failed: conversation_id=%s, msg_id=%d, error=%v", r.conversationId, msg.Id, err)
		return
	}

	r.mu.Lock()
	if gen != r.gen || !r.tl.markRead(msg.Id) {
		r.mu.Unlock()
		return
	}
	state := r.changedLocked()
	r.mu.Unlock()
	r.hub.Emit(state)
}

// SendMessage shows the message right away as pending, stores it, then
// swaps the pending row for the stored one. On failure the pending row is
// removed so the same text can be sent again.
func (r *Room) SendMessage(ctx context.Context, text string) (*MessageView, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return nil, errcode.ErrEmptyMessage
	}

	r.mu.Lock()
	if r.status != RoomLive {
		r.mu.Unlock()
		return nil, errcode.ErrRoomNotLive
	}
	gen := r.gen
	viewerId := r.viewerId
	localId := idgen.NewUUID()
	draft := &entity.Message{
		ConversationId: r.conversationId,
		ClientMsgId:    localId,
		SenderId:       viewerId,
		Content:        content,
		CreatedAt:      r.opts.Now(),
	}
	r.tl.appendPending(localId, draft)
	r.sending++
	r.err = ""
	state := r.changedLocked()
	r.mu.Unlock()
	r.hub.Emit(state)

	saved, err := r.store.InsertMessage(ctx, &entity.Message{
		ConversationId: draft.ConversationId,
		ClientMsgId:    draft.ClientMsgId,
		SenderId:       draft.SenderId,
		Content:        draft.Content,
	})

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		if err != nil {
			return nil, errcode.ErrSendFailed.Wrap(err)
		}
		r.touch(ctx, saved)
		v := (&entry{kind: kindConfirmed, msg: *saved}).view()
		return &v, nil
	}
	r.sending--
	if err != nil {
		sendErr := errcode.ErrSendFailed.Wrap(err)
		r.tl.remove(localId)
		r.err = errcode.Message(sendErr)
		state = r.changedLocked()
		r.mu.Unlock()
		r.hub.Emit(state)
		log.CtxWarn(ctx, "send message failed: conversation_id=%s, user_id=%s, error=%v", r.conversationId, viewerId, err)
		return nil, sendErr
	}
	view := r.tl.confirm(localId, saved)
	state = r.changedLocked()
	r.mu.Unlock()
	r.hub.Emit(state)

	r.touch(ctx, saved)
	return &view, nil
}

func (r *Room) touch(ctx context.Context, saved *entity.Message) {
	if err := r.store.TouchConversation(ctx, r.conversationId, saved.CreatedAt); err != nil {
		log.CtxWarn(ctx, "touch conversation failed: conversation_id=%s, error=%v", r.conversationId, err)
	}
}

// Close releases the subscription and drops the log. It is safe to call on
// a closed room and while Open is still loading.
func (r *Room) Close() {
	r.mu.Lock()
	if r.status == RoomClosed {
		r.mu.Unlock()
		return
	}
	r.gen++
	sub, cancel := r.sub, r.cancel
	r.sub, r.cancel, r.ctx = nil, nil, nil
	r.status = RoomClosed
	r.buffer = nil
	r.sending = 0
	r.err = ""
	r.failed = false
	r.tl.reset()
	state := r.changedLocked()
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	r.hub.Emit(state)
}

// Dispose closes the room for good. It wins over an Open that has not
// started yet: that Open fails with ErrRoomClosed.
func (r *Room) Dispose() {
	r.mu.Lock()
	r.disposed = true
	r.mu.Unlock()
	r.Close()
}

// Refetch closes the room and opens it again from scratch
func (r *Room) Refetch(ctx context.Context) error {
	r.Close()
	return r.Open(ctx)
}
