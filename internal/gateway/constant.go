package gateway

// WebSocket protocol constants
const (
	// Request identifiers
	WSListConversations = 1001 // Refetch and return the conversation list
	WSGetOrCreateChat   = 1002 // Get or create the chat with another user
	WSOpenRoom          = 1003 // Open a message room
	WSCloseRoom         = 1004 // Close the open room
	WSSendMsg           = 1005 // Send a message in the open room
	WSRefetchRoom       = 1006 // Reload the open room
	WSConversationInfo  = 1007 // Load the counterpart of a conversation

	// Push identifiers
	WSPushListState = 2001 // Conversation list state changed
	WSPushRoomState = 2002 // Room state changed
	WSKickOnlineMsg = 2003 // Connection replaced by a newer one
)

// Query parameter keys
const (
	QueryToken      = "token"
	QuerySendId     = "send_id"
	QueryPlatformId = "platform_id"
	QuerySDKType    = "sdk_type"
)

// SDK types
const (
	SDKTypeGo = "go"
	SDKTypeJS = "js"
)
