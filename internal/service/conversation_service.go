package service

import (
	"context"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/amora/internal/chat"
	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
)

// ConversationService serves one-shot conversation requests over HTTP
type ConversationService struct {
	store remote.Store
	feed  remote.Feed
	opts  chat.Options
}

// NewConversationService creates a new ConversationService
func NewConversationService(store remote.Store, feed remote.Feed, opts chat.Options) *ConversationService {
	return &ConversationService{store: store, feed: feed, opts: opts}
}

func (s *ConversationService) list(userId string) *chat.ConversationList {
	return chat.NewConversationList(chat.StaticViewer(userId), s.store, s.feed, s.opts)
}

// GetUserConversations lists the conversations of userId
func (s *ConversationService) GetUserConversations(ctx context.Context, userId string) ([]*entity.ConversationInfo, error) {
	convs, err := s.list(userId).List(ctx, userId)
	if err != nil {
		log.CtxError(ctx, "get user conversations failed: user_id=%s, error=%v", userId, err)
		return nil, err
	}
	return convs, nil
}

// OpenChat returns the conversation between userId and otherUserId,
// creating it on first contact.
func (s *ConversationService) OpenChat(ctx context.Context, userId, otherUserId string) (string, error) {
	return s.list(userId).GetOrCreate(ctx, userId, otherUserId)
}

// ConversationDetail is a conversation with its counterpart profile
type ConversationDetail struct {
	Conversation *entity.Conversation `json:"conversation"`
	OtherUser    *entity.Profile      `json:"other_user"`
}

// GetConversation returns one conversation of userId with the other
// participant's profile.
func (s *ConversationService) GetConversation(ctx context.Context, userId, conversationId string) (*ConversationDetail, error) {
	conv, other, err := chat.LoadConversationInfo(ctx, s.store, userId, conversationId)
	if err != nil {
		return nil, err
	}
	return &ConversationDetail{Conversation: conv, OtherUser: other}, nil
}
