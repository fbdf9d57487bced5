package jwt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mbeoliero/amora/pkg/constant"
)

// Token status constants
const (
	TokenStatusNormal  = 1 // Token is valid
	TokenStatusKicked  = 2 // Token was kicked by new login
	TokenStatusExpired = 3 // Token expired
	TokenStatusLogout  = 4 // Token was logged out
)

// TokenStore manages token storage in Redis
type TokenStore struct {
	rdb          *redis.Client
	accessExpire time.Duration
}

// NewTokenStore creates a new TokenStore
func NewTokenStore(rdb *redis.Client, expireHours int) *TokenStore {
	return &TokenStore{
		rdb:          rdb,
		accessExpire: time.Duration(expireHours) * time.Hour,
	}
}

// tokenKey generates Redis key for user's tokens on a platform
// Format: {prefix}token:{userId}:{platformId}
func tokenKey(userId string, platformId int) string {
	return fmt.Sprintf(constant.RedisKeyToken(), userId, platformId)
}

// StoreToken stores a token in Redis with status
func (s *TokenStore) StoreToken(ctx context.Context, userId string, platformId int, token string) error {
	key := tokenKey(userId, platformId)

	// Field: token, Value: status
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, token, TokenStatusNormal)
	pipe.Expire(ctx, key, s.accessExpire)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// ValidateTokenStatus checks if a token exists and is valid in Redis
// Returns: status (0 if not found), error
func (s *TokenStore) ValidateTokenStatus(ctx context.Context, userId string, platformId int, token string) (int, error) {
	statusStr, err := s.rdb.HGet(ctx, tokenKey(userId, platformId), token).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get token status: %w", err)
	}

	status, err := strconv.Atoi(statusStr)
	if err != nil {
		return 0, fmt.Errorf("invalid token status value: %w", err)
	}

	return status, nil
}

// IsTokenValid checks if token is valid (exists and has normal status)
func (s *TokenStore) IsTokenValid(ctx context.Context, userId string, platformId int, token string) (bool, error) {
	status, err := s.ValidateTokenStatus(ctx, userId, platformId, token)
	if err != nil {
		return false, err
	}
	return status == TokenStatusNormal, nil
}

// InvalidateToken marks a token as logged out
func (s *TokenStore) InvalidateToken(ctx context.Context, userId string, platformId int, token string) error {
	key := tokenKey(userId, platformId)

	exists, err := s.rdb.HExists(ctx, key, token).Result()
	if err != nil {
		return fmt.Errorf("failed to check token existence: %w", err)
	}
	if !exists {
		return nil
	}

	if err := s.rdb.HSet(ctx, key, token, TokenStatusLogout).Err(); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}

	return nil
}

// KickOtherTokens marks all other tokens for this user/platform as kicked
// Returns the list of kicked tokens
func (s *TokenStore) KickOtherTokens(ctx context.Context, userId string, platformId int, currentToken string) ([]string, error) {
	key := tokenKey(userId, platformId)

	tokens, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}

	var kickedTokens []string
	for token, statusStr := range tokens {
		if token == currentToken {
			continue
		}
		if status, _ := strconv.Atoi(statusStr); status == TokenStatusNormal {
			kickedTokens = append(kickedTokens, token)
		}
	}
	if len(kickedTokens) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	for _, token := range kickedTokens {
		pipe.HSet(ctx, key, token, TokenStatusKicked)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to kick tokens: %w", err)
	}

	return kickedTokens, nil
}
