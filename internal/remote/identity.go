package remote

import (
	"context"

	"github.com/mbeoliero/amora/internal/entity"
)

// SignUpRequest represents user registration request
type SignUpRequest struct {
	UserId   string `json:"user_id" validate:"omitempty,min=3,max=64,user_id"`
	Nickname string `json:"nickname" validate:"required,min=1,max=64"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	PhotoURL string `json:"photo_url,omitempty" validate:"omitempty,url"`
	Bio      string `json:"bio,omitempty" validate:"max=500"`
}

// Credentials represents user login request
type Credentials struct {
	UserId     string `json:"user_id" validate:"required"`
	Password   string `json:"password" validate:"required"`
	PlatformId int    `json:"platform_id"`
}

// AuthSession is an authenticated identity backed by a token
type AuthSession struct {
	Token      string `json:"token"`
	UserId     string `json:"user_id"`
	PlatformId int    `json:"platform_id"`
	ExpiresAt  int64  `json:"expires_at"`
}

// Identity is the authentication service
type Identity interface {
	SignUp(ctx context.Context, req *SignUpRequest) (*entity.User, error)
	SignIn(ctx context.Context, cred *Credentials) (*AuthSession, error)
	SignOut(ctx context.Context, s *AuthSession) error
	// GetSession resolves a token to its session or fails when it is no
	// longer valid.
	GetSession(ctx context.Context, token string) (*AuthSession, error)
	GetUser(ctx context.Context, userId string) (*entity.User, error)
}
