package constant

// Table names shared by the row store and the change feed
const (
	TableUsers         = "users"
	TableConversations = "conversations"
	TableMessages      = "messages"
)

// Column names usable as change feed filters
const (
	ColumnId             = "id"
	ColumnConversationId = "conversation_id"
	ColumnSenderId       = "sender_id"
	ColumnParticipantA   = "participant_a"
	ColumnParticipantB   = "participant_b"
)

// Change event types
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// Online status
const (
	StatusOffline = 0
	StatusOnline  = 1
)

// Platform Ids
const (
	PlatformIdUnknown = 0
	PlatformIdIOS     = 1
	PlatformIdAndroid = 2
	PlatformIdWeb     = 5
)

// PlatformIdToName converts platform Id to name
func PlatformIdToName(platformId int) string {
	switch platformId {
	case PlatformIdIOS:
		return "iOS"
	case PlatformIdAndroid:
		return "Android"
	case PlatformIdWeb:
		return "Web"
	default:
		return "Unknown"
	}
}

// PairKeyPrefix prefixes the unique key of a two-person conversation
const PairKeyPrefix = "pr_"

// Redis key patterns (without prefix, use RedisKey() to get full key)
const (
	redisKeyToken   = "token:%s:%d" // token:{user_id}:{platform_id}
	redisKeyOnline  = "online:%s"   // online:{user_id}
	redisKeyProfile = "profile:%s"  // profile:{user_id}
	redisKeyFeed    = "feed:%s"     // feed:{table}
)

// redisKeyPrefix is the global prefix for all Redis keys
var redisKeyPrefix = "amora:"

// InitRedisKeyPrefix initializes the Redis key prefix from config
func InitRedisKeyPrefix(prefix string) {
	if prefix != "" {
		redisKeyPrefix = prefix
	}
}

// GetRedisKeyPrefix returns the current Redis key prefix
func GetRedisKeyPrefix() string {
	return redisKeyPrefix
}

// Redis key getters with prefix
func RedisKeyToken() string   { return redisKeyPrefix + redisKeyToken }
func RedisKeyOnline() string  { return redisKeyPrefix + redisKeyOnline }
func RedisKeyProfile() string { return redisKeyPrefix + redisKeyProfile }
func RedisKeyFeed() string    { return redisKeyPrefix + redisKeyFeed }
