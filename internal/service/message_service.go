package service

import (
	"context"
	"errors"
	"slices"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/amora/internal/chat"
	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/pkg/errcode"
)

// Page size bounds for history requests
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// MessageService serves message history and read marking over HTTP
type MessageService struct {
	store remote.Store
	reads *chat.ReadState
}

// NewMessageService creates a new MessageService
func NewMessageService(store remote.Store) *MessageService {
	return &MessageService{store: store, reads: chat.NewReadState(store)}
}

// HistoryRequest pages backwards from the newest message
type HistoryRequest struct {
	ConversationId string `json:"conversation_id" query:"conversation_id"`
	Limit          int    `json:"limit" query:"limit"`
	Offset         int    `json:"offset" query:"offset"`
}

// HistoryPage holds one page in ascending order
type HistoryPage struct {
	Messages []*entity.MessageInfo `json:"messages"`
	HasMore  bool                  `json:"has_more"`
}

// GetHistory returns a page of the conversation, newest page first,
// messages in each page ascending.
func (s *MessageService) GetHistory(ctx context.Context, userId string, req *HistoryRequest) (*HistoryPage, error) {
	if err := s.checkAccess(ctx, userId, req.ConversationId); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	msgs, err := s.store.FindMessages(ctx, remote.MessageQuery{
		ConversationId: req.ConversationId,
		Order:          remote.OrderDesc,
		Limit:          limit + 1,
		Offset:         max(req.Offset, 0),
	})
	if err != nil {
		log.CtxError(ctx, "get history failed: conversation_id=%s, error=%v", req.ConversationId, err)
		return nil, errcode.ErrFetchFailed.Wrap(err)
	}

	page := &HistoryPage{HasMore: len(msgs) > limit}
	if page.HasMore {
		msgs = msgs[:limit]
	}
	slices.Reverse(msgs)
	page.Messages = make([]*entity.MessageInfo, 0, len(msgs))
	for _, m := range msgs {
		page.Messages = append(page.Messages, m.ToMessageInfo())
	}
	return page, nil
}

// MarkRead marks every message userId received in the conversation as read
func (s *MessageService) MarkRead(ctx context.Context, userId, conversationId string) (int64, error) {
	if err := s.checkAccess(ctx, userId, conversationId); err != nil {
		return 0, err
	}
	return s.reads.MarkConversationRead(ctx, conversationId, userId)
}

func (s *MessageService) checkAccess(ctx context.Context, userId, conversationId string) error {
	if conversationId == "" {
		return errcode.ErrInvalidParam
	}
	conv, err := s.store.GetConversation(ctx, conversationId)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return errcode.ErrConvNotFound
		}
		return errcode.ErrFetchFailed.Wrap(err)
	}
	if !conv.HasParticipant(userId) {
		return errcode.ErrNotParticipant
	}
	return nil
}
