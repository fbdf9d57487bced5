package sdk

import (
	"context"
	"net/url"
	"strconv"
)

// GetConversationList gets all conversations for the current user
func (c *Client) GetConversationList(ctx context.Context) ([]*ConversationInfo, error) {
	var result []*ConversationInfo
	if err := c.get(ctx, "/conversation/list", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// OpenChat returns the conversation with otherUserId, creating it on first
// contact
func (c *Client) OpenChat(ctx context.Context, otherUserId string) (string, error) {
	var result openChatResponse
	if err := c.post(ctx, "/conversation/open", &openChatRequest{OtherUserId: otherUserId}, &result); err != nil {
		return "", err
	}
	return result.ConversationId, nil
}

// GetConversation gets a specific conversation with its counterpart
func (c *Client) GetConversation(ctx context.Context, conversationId string) (*ConversationDetail, error) {
	params := url.Values{"conversation_id": {conversationId}}
	var result ConversationDetail
	if err := c.get(ctx, "/conversation/info", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetHistory pages back through a conversation. Offset counts from the
// newest message.
func (c *Client) GetHistory(ctx context.Context, conversationId string, limit, offset int) (*HistoryPage, error) {
	params := url.Values{"conversation_id": {conversationId}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	var result HistoryPage
	if err := c.get(ctx, "/conversation/messages", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MarkRead marks every received message of a conversation as read and
// returns how many changed
func (c *Client) MarkRead(ctx context.Context, conversationId string) (int64, error) {
	var result markReadResponse
	if err := c.post(ctx, "/conversation/mark_read", &conversationRequest{ConversationId: conversationId}, &result); err != nil {
		return 0, err
	}
	return result.Marked, nil
}
