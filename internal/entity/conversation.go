package entity

// Conversation is the durable two-person chat row. The participant pair is
// stored sorted and never changes after creation.
type Conversation struct {
	Id             string `json:"id" gorm:"column:id;primaryKey"`
	ParticipantA   string `json:"participant_a" gorm:"column:participant_a;index"`
	ParticipantB   string `json:"participant_b" gorm:"column:participant_b;index"`
	PairKey        string `json:"pair_key" gorm:"column:pair_key;uniqueIndex"`
	LastActivityAt int64  `json:"last_activity_at" gorm:"column:last_activity_at;index"`
	CreatedAt      int64  `json:"created_at" gorm:"column:created_at;autoCreateTime:milli"`
}

// TableName returns the table name for Conversation
func (Conversation) TableName() string {
	return "conversations"
}

// NewConversation builds a conversation row for the pair with both
// timestamps set to now.
func NewConversation(userA, userB string) *Conversation {
	a, b := SortPair(userA, userB)
	now := NowUnixMilli()
	return &Conversation{
		ParticipantA:   a,
		ParticipantB:   b,
		PairKey:        GenPairKey(a, b),
		LastActivityAt: now,
		CreatedAt:      now,
	}
}

// HasParticipant reports whether userId is one of the pair
func (c *Conversation) HasParticipant(userId string) bool {
	return userId != "" && (c.ParticipantA == userId || c.ParticipantB == userId)
}

// Counterpart returns the participant who is not viewerId, or "" when
// viewerId is not part of the pair.
func (c *Conversation) Counterpart(viewerId string) string {
	switch viewerId {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	default:
		return ""
	}
}

// ConversationInfo is a conversation enriched for one viewer
type ConversationInfo struct {
	Id             string       `json:"id"`
	OtherUserId    string       `json:"other_user_id"`
	OtherUser      *Profile     `json:"other_user,omitempty"`
	LastMessage    *MessageInfo `json:"last_message,omitempty"`
	UnreadCount    int64        `json:"unread_count"`
	LastActivityAt int64        `json:"last_activity_at"`
	CreatedAt      int64        `json:"created_at"`
}
