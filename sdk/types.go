package sdk

import "encoding/json"

// Response represents the standard API response
type Response struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Profile represents a public user profile
type Profile struct {
	Id       string `json:"id"`
	Nickname string `json:"nickname"`
	PhotoURL string `json:"photo_url"`
	Bio      string `json:"bio,omitempty"`
	Online   bool   `json:"online,omitempty"`
}

// MessageInfo represents a stored message
type MessageInfo struct {
	Id             int64  `json:"id"`
	ConversationId string `json:"conversation_id"`
	ClientMsgId    string `json:"client_msg_id"`
	SenderId       string `json:"sender_id"`
	Content        string `json:"content"`
	Read           bool   `json:"read"`
	CreatedAt      int64  `json:"created_at"`
}

// ConversationInfo is a conversation as the viewer sees it
type ConversationInfo struct {
	Id             string       `json:"id"`
	OtherUserId    string       `json:"other_user_id"`
	OtherUser      *Profile     `json:"other_user,omitempty"`
	LastMessage    *MessageInfo `json:"last_message,omitempty"`
	UnreadCount    int64        `json:"unread_count"`
	LastActivityAt int64        `json:"last_activity_at"`
	CreatedAt      int64        `json:"created_at"`
}

// Conversation is the raw two-person conversation row
type Conversation struct {
	Id             string `json:"id"`
	ParticipantA   string `json:"participant_a"`
	ParticipantB   string `json:"participant_b"`
	LastActivityAt int64  `json:"last_activity_at"`
	CreatedAt      int64  `json:"created_at"`
}

// ConversationDetail is a conversation with its counterpart
type ConversationDetail struct {
	Conversation *Conversation `json:"conversation"`
	OtherUser    *Profile      `json:"other_user"`
}

// HistoryPage is one page of conversation history, oldest first
type HistoryPage struct {
	Messages []*MessageInfo `json:"messages"`
	HasMore  bool           `json:"has_more"`
}

// MessageView is one row of an open room
type MessageView struct {
	Id             int64  `json:"id,omitempty"`
	LocalId        string `json:"local_id,omitempty"`
	ConversationId string `json:"conversation_id"`
	ClientMsgId    string `json:"client_msg_id,omitempty"`
	SenderId       string `json:"sender_id"`
	Content        string `json:"content"`
	Read           bool   `json:"read"`
	CreatedAt      int64  `json:"created_at"`
	Pending        bool   `json:"pending"`
}

// ListState is a pushed snapshot of the conversation list
type ListState struct {
	Conversations []*ConversationInfo `json:"conversations"`
	Loading       bool                `json:"loading"`
	Error         string              `json:"error,omitempty"`
	Version       uint64              `json:"version"`
}

// RoomState is a pushed snapshot of the open room
type RoomState struct {
	ConversationId string        `json:"conversation_id"`
	Status         string        `json:"status"`
	Messages       []MessageView `json:"messages"`
	Loading        bool          `json:"loading"`
	Sending        bool          `json:"sending"`
	Error          string        `json:"error,omitempty"`
	Version        uint64        `json:"version"`
}

// InfoState carries the counterpart of a conversation
type InfoState struct {
	ConversationId string   `json:"conversation_id"`
	OtherUser      *Profile `json:"other_user,omitempty"`
	Loading        bool     `json:"loading"`
	Error          string   `json:"error,omitempty"`
}

// ===== Request types =====

// RegisterRequest represents user registration request
type RegisterRequest struct {
	UserId   string `json:"user_id,omitempty"`
	Nickname string `json:"nickname"`
	Password string `json:"password"`
	PhotoURL string `json:"photo_url,omitempty"`
	Bio      string `json:"bio,omitempty"`
}

// LoginRequest represents user login request
type LoginRequest struct {
	UserId     string `json:"user_id"`
	Password   string `json:"password"`
	PlatformId int    `json:"platform_id"`
}

// LoginResponse represents user login response
type LoginResponse struct {
	Token      string `json:"token"`
	UserId     string `json:"user_id"`
	PlatformId int    `json:"platform_id"`
	ExpiresAt  int64  `json:"expires_at"`
}

// UpdateProfileRequest changes profile fields; nil fields are kept
type UpdateProfileRequest struct {
	Nickname *string `json:"nickname,omitempty"`
	PhotoURL *string `json:"photo_url,omitempty"`
	Bio      *string `json:"bio,omitempty"`
}

type openChatRequest struct {
	OtherUserId string `json:"other_user_id"`
}

type openChatResponse struct {
	ConversationId string `json:"conversation_id"`
}

type conversationRequest struct {
	ConversationId string `json:"conversation_id"`
}

type markReadResponse struct {
	Marked int64 `json:"marked"`
}
