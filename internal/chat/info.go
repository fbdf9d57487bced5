package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/pkg/errcode"
	"github.com/mbeoliero/amora/pkg/notify"
)

// LoadConversationInfo resolves the counterpart of viewerId in a
// conversation. The profile is nil when the counterpart has none.
func LoadConversationInfo(ctx context.Context, store remote.Store, viewerId, conversationId string) (*entity.Conversation, *entity.Profile, error) {
	if viewerId == "" {
		return nil, nil, errcode.ErrUnauthorized
	}

	conv, err := store.GetConversation(ctx, conversationId)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, nil, errcode.ErrConvNotFound
		}
		return nil, nil, errcode.ErrInfoLoadFailed.Wrap(err)
	}
	if !conv.HasParticipant(viewerId) {
		return nil, nil, errcode.ErrNotParticipant
	}

	profile, err := store.GetProfile(ctx, conv.Counterpart(viewerId))
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return conv, nil, nil
		}
		return nil, nil, errcode.ErrInfoLoadFailed.Wrap(err)
	}
	return conv, profile, nil
}

// InfoState is a snapshot of an InfoView
type InfoState struct {
	ConversationId string          `json:"conversation_id"`
	OtherUser      *entity.Profile `json:"other_user,omitempty"`
	Loading        bool            `json:"loading"`
	Error          string          `json:"error,omitempty"`
}

// InfoView exposes the counterpart of one conversation
type InfoView struct {
	conversationId string
	viewer         Viewer
	store          remote.Store

	mu    sync.Mutex
	state InfoState

	hub notify.Hub[InfoState]
}

// NewInfoView creates a new InfoView
func NewInfoView(conversationId string, viewer Viewer, store remote.Store) *InfoView {
	return &InfoView{
		conversationId: conversationId,
		viewer:         viewer,
		store:          store,
		state:          InfoState{ConversationId: conversationId},
	}
}

// Load fetches the counterpart profile
func (v *InfoView) Load(ctx context.Context) error {
	v.set(func(s *InfoState) {
		s.Loading = true
		s.Error = ""
	})

	_, profile, err := LoadConversationInfo(ctx, v.store, v.viewer.UserId(), v.conversationId)
	if err != nil {
		log.CtxWarn(ctx, "load conversation info failed: conversation_id=%s, error=%v", v.conversationId, err)
		v.set(func(s *InfoState) {
			s.Loading = false
			s.Error = errcode.Message(err)
		})
		return err
	}

	v.set(func(s *InfoState) {
		s.Loading = false
		s.OtherUser = profile
	})
	return nil
}

// State returns the current snapshot
func (v *InfoView) State() InfoState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// OnChange registers fn for state snapshots
func (v *InfoView) OnChange(fn func(InfoState)) (cancel func()) {
	return v.hub.Subscribe(fn)
}

func (v *InfoView) set(fn func(*InfoState)) {
	v.mu.Lock()
	fn(&v.state)
	state := v.state
	v.mu.Unlock()
	v.hub.Emit(state)
}
