// Package remote declares the data service the chat core consumes: a row
// store, a change feed, identity and blob storage.
package remote

import (
	"context"
	"errors"
	"io"

	"github.com/mbeoliero/amora/internal/entity"
)

// Row store errors
var (
	ErrNotFound = errors.New("remote: row not found")
	ErrConflict = errors.New("remote: unique constraint violated")
)

// Order is a sort direction
type Order int

const (
	OrderAsc Order = iota
	OrderDesc
)

// ConversationQuery selects conversations by membership, ordered by last
// activity.
type ConversationQuery struct {
	Participant string
	Order       Order
	Limit       int
	Offset      int
}

// MessageQuery selects messages by equality filters. Zero values are not
// applied. Results are ordered by (created_at, id).
type MessageQuery struct {
	Id             int64
	ConversationId string
	SenderId       string
	SenderNot      string
	UnreadOnly     bool
	Order          Order
	Limit          int
	Offset         int
}

// ProfileUpdate carries the profile fields to change; nil fields are kept.
type ProfileUpdate struct {
	Nickname *string `json:"nickname,omitempty" validate:"omitempty,min=1,max=64"`
	PhotoURL *string `json:"photo_url,omitempty" validate:"omitempty,url"`
	Bio      *string `json:"bio,omitempty" validate:"omitempty,max=500"`
}

// Empty reports whether the update changes nothing
func (u ProfileUpdate) Empty() bool {
	return u.Nickname == nil && u.PhotoURL == nil && u.Bio == nil
}

// ConversationStore is the conversations table
type ConversationStore interface {
	FindConversations(ctx context.Context, q ConversationQuery) ([]*entity.Conversation, error)
	GetConversation(ctx context.Context, id string) (*entity.Conversation, error)
	FindConversationByPair(ctx context.Context, userA, userB string) (*entity.Conversation, error)
	// InsertConversation returns ErrConflict when the pair already has a row.
	InsertConversation(ctx context.Context, conv *entity.Conversation) (*entity.Conversation, error)
	// TouchConversation moves last activity forward to at; it never moves back.
	TouchConversation(ctx context.Context, id string, at int64) error
	DeleteConversation(ctx context.Context, id string) error
}

// MessageStore is the messages table
type MessageStore interface {
	FindMessages(ctx context.Context, q MessageQuery) ([]*entity.Message, error)
	CountMessages(ctx context.Context, q MessageQuery) (int64, error)
	// InsertMessage assigns id and timestamp. A repeated (sender, client_msg_id)
	// returns the row stored first.
	InsertMessage(ctx context.Context, msg *entity.Message) (*entity.Message, error)
	// MarkRead sets read=true on matching rows that are still unread and
	// returns how many rows changed.
	MarkRead(ctx context.Context, q MessageQuery) (int64, error)
	DeleteMessages(ctx context.Context, q MessageQuery) (int64, error)
}

// ProfileStore exposes public user profiles
type ProfileStore interface {
	GetProfile(ctx context.Context, userId string) (*entity.Profile, error)
	// GetProfiles omits ids that have no profile.
	GetProfiles(ctx context.Context, userIds []string) (map[string]*entity.Profile, error)
	UpdateProfile(ctx context.Context, userId string, upd ProfileUpdate) (*entity.Profile, error)
}

// Store is the full row store
type Store interface {
	ConversationStore
	MessageStore
	ProfileStore
}

// Blob stores public files such as profile photos
type Blob interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
	PublicURL(key string) string
}
