package entity

// Message represents a chat message. Only Read ever changes after insert.
type Message struct {
	Id             int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	ConversationId string `json:"conversation_id" gorm:"column:conversation_id;index:idx_conv_created,priority:1"`
	ClientMsgId    string `json:"client_msg_id" gorm:"column:client_msg_id;uniqueIndex:idx_sender_client,priority:2"`
	SenderId       string `json:"sender_id" gorm:"column:sender_id;uniqueIndex:idx_sender_client,priority:1"`
	Content        string `json:"content" gorm:"column:content;type:text"`
	Read           bool   `json:"read" gorm:"column:is_read;default:false"`
	CreatedAt      int64  `json:"created_at" gorm:"column:created_at;index:idx_conv_created,priority:2"`
}

// TableName returns the table name for Message
func (Message) TableName() string {
	return "messages"
}

// Before reports whether m sorts before o: by creation time, ties by id.
func (m *Message) Before(o *Message) bool {
	if m.CreatedAt != o.CreatedAt {
		return m.CreatedAt < o.CreatedAt
	}
	return m.Id < o.Id
}

// MessageInfo represents message info for API response
type MessageInfo struct {
	Id             int64  `json:"id"`
	ConversationId string `json:"conversation_id"`
	ClientMsgId    string `json:"client_msg_id"`
	SenderId       string `json:"sender_id"`
	Content        string `json:"content"`
	Read           bool   `json:"read"`
	CreatedAt      int64  `json:"created_at"`
}

// ToMessageInfo converts Message to MessageInfo
func (m *Message) ToMessageInfo() *MessageInfo {
	return &MessageInfo{
		Id:             m.Id,
		ConversationId: m.ConversationId,
		ClientMsgId:    m.ClientMsgId,
		SenderId:       m.SenderId,
		Content:        m.Content,
		Read:           m.Read,
		CreatedAt:      m.CreatedAt,
	}
}
