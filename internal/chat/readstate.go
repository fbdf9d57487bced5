package chat

import (
	"context"

	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/pkg/errcode"
)

// ReadState flips read flags of messages the viewer has seen. It only ever
// sets read=true and never touches the viewer's own messages.
type ReadState struct {
	store remote.MessageStore
}

// NewReadState creates a new ReadState
func NewReadState(store remote.MessageStore) *ReadState {
	return &ReadState{store: store}
}

// MarkConversationRead marks every unread message of the conversation that
// was not sent by viewerId. It returns the number of rows changed.
func (r *ReadState) MarkConversationRead(ctx context.Context, conversationId, viewerId string) (int64, error) {
	if viewerId == "" || conversationId == "" {
		return 0, nil
	}
	n, err := r.store.MarkRead(ctx, remote.MessageQuery{
		ConversationId: conversationId,
		SenderNot:      viewerId,
		UnreadOnly:     true,
	})
	if err != nil {
		return 0, errcode.ErrMarkReadFailed.Wrap(err)
	}
	return n, nil
}

// MarkMessageRead marks a single message seen by viewerId. Own and already
// read messages are left alone.
func (r *ReadState) MarkMessageRead(ctx context.Context, msg *entity.Message, viewerId string) (bool, error) {
	if viewerId == "" || msg.SenderId == viewerId || msg.Read {
		return false, nil
	}
	n, err := r.store.MarkRead(ctx, remote.MessageQuery{
		Id:             msg.Id,
		ConversationId: msg.ConversationId,
		SenderNot:      viewerId,
		UnreadOnly:     true,
	})
	if err != nil {
		return false, errcode.ErrMarkReadFailed.Wrap(err)
	}
	return n > 0, nil
}
