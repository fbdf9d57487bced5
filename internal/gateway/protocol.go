package gateway

import "encoding/json"

// WSRequest represents a WebSocket request message
type WSRequest struct {
	ReqIdentifier int32           `json:"req_identifier"` // Request type
	MsgIncr       string          `json:"msg_incr"`       // Client message counter/trace Id
	OperationId   string          `json:"operation_id"`   // Operation Id
	SendId        string          `json:"send_id"`        // Sender user Id
	Data          json.RawMessage `json:"data,omitempty"` // Business data
}

// WSResponse represents a WebSocket response or push message
type WSResponse struct {
	ReqIdentifier int32           `json:"req_identifier"` // Request type (echo back)
	MsgIncr       string          `json:"msg_incr"`       // Message counter (echo back)
	OperationId   string          `json:"operation_id"`   // Operation Id (echo back)
	ErrCode       int             `json:"err_code"`       // Error code, 0 = success
	ErrMsg        string          `json:"err_msg"`        // Error message
	Data          json.RawMessage `json:"data,omitempty"` // Response data
}

// GetOrCreateChatReq asks for the chat with another user
type GetOrCreateChatReq struct {
	OtherUserId string `json:"other_user_id"`
}

// GetOrCreateChatResp carries the conversation id
type GetOrCreateChatResp struct {
	ConversationId string `json:"conversation_id"`
}

// ConversationReq names a conversation
type ConversationReq struct {
	ConversationId string `json:"conversation_id"`
}

// SendMsgReq represents send message request data
type SendMsgReq struct {
	Text string `json:"text"`
}

// Encode encodes data to JSON bytes
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to struct
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
