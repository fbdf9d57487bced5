package service

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/mbeoliero/kit/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/mbeoliero/amora/internal/config"
	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/pkg/errcode"
	"github.com/mbeoliero/amora/pkg/idgen"
	"github.com/mbeoliero/amora/pkg/jwt"
)

var _ remote.Identity = (*AuthService)(nil)

// UserRepository is the user table as the auth service needs it
type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	GetById(ctx context.Context, id string) (*entity.User, error)
}

// TokenStore tracks issued tokens so they can be revoked
type TokenStore interface {
	StoreToken(ctx context.Context, userId string, platformId int, token string) error
	IsTokenValid(ctx context.Context, userId string, platformId int, token string) (bool, error)
	InvalidateToken(ctx context.Context, userId string, platformId int, token string) error
	KickOtherTokens(ctx context.Context, userId string, platformId int, currentToken string) ([]string, error)
}

// AuthService handles authentication logic
type AuthService struct {
	userRepo   UserRepository
	tokenStore TokenStore
	cfg        config.JWTConfig
	validate   *validator.Validate
}

// NewAuthService creates a new AuthService
func NewAuthService(userRepo UserRepository, tokenStore TokenStore, cfg config.JWTConfig, validate *validator.Validate) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		tokenStore: tokenStore,
		cfg:        cfg,
		validate:   validate,
	}
}

// SignUp registers a new user
func (s *AuthService) SignUp(ctx context.Context, req *remote.SignUpRequest) (*entity.User, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errcode.ErrInvalidParam.Wrap(err)
	}

	userId := req.UserId
	if userId == "" {
		userId = idgen.NewUUID()
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.CtxError(ctx, "hash password failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	user := &entity.User{
		Id:       userId,
		Nickname: req.Nickname,
		PhotoURL: req.PhotoURL,
		Bio:      req.Bio,
		Password: string(hashedPassword),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, remote.ErrConflict) {
			return nil, errcode.ErrUserExists
		}
		log.CtxError(ctx, "create user failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	log.CtxInfo(ctx, "user registered: user_id=%s", userId)
	return user, nil
}

// SignIn authenticates a user and issues a token. Older tokens of the same
// platform are kicked.
func (s *AuthService) SignIn(ctx context.Context, cred *remote.Credentials) (*remote.AuthSession, error) {
	if err := s.validate.Struct(cred); err != nil {
		return nil, errcode.ErrInvalidParam.Wrap(err)
	}

	user, err := s.userRepo.GetById(ctx, cred.UserId)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			log.CtxDebug(ctx, "user not found: user_id=%s", cred.UserId)
			return nil, errcode.ErrUserNotFound
		}
		log.CtxError(ctx, "get user failed: user_id=%s, error=%v", cred.UserId, err)
		return nil, errcode.ErrInternalServer
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(cred.Password)); err != nil {
		return nil, errcode.ErrPasswordWrong
	}

	token, claims, err := jwt.GenerateToken(user.Id, cred.PlatformId, s.cfg.Secret, s.cfg.ExpireHours)
	if err != nil {
		log.CtxError(ctx, "generate token failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	if err := s.tokenStore.StoreToken(ctx, user.Id, cred.PlatformId, token); err != nil {
		log.CtxError(ctx, "store token failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	// Single device per platform
	kicked, err := s.tokenStore.KickOtherTokens(ctx, user.Id, cred.PlatformId, token)
	if err != nil {
		log.CtxWarn(ctx, "kick other tokens failed: %v", err)
	} else if len(kicked) > 0 {
		log.CtxInfo(ctx, "kicked %d tokens for user_id=%s, platform_id=%d", len(kicked), user.Id, cred.PlatformId)
	}

	log.CtxInfo(ctx, "user logged in: user_id=%s, platform_id=%d", user.Id, cred.PlatformId)
	return &remote.AuthSession{
		Token:      token,
		UserId:     user.Id,
		PlatformId: cred.PlatformId,
		ExpiresAt:  claims.ExpiresAtMilli(),
	}, nil
}

// SignOut revokes the session token
func (s *AuthService) SignOut(ctx context.Context, auth *remote.AuthSession) error {
	if err := s.tokenStore.InvalidateToken(ctx, auth.UserId, auth.PlatformId, auth.Token); err != nil {
		log.CtxError(ctx, "invalidate token failed: %v", err)
		return errcode.ErrInternalServer
	}
	log.CtxInfo(ctx, "user logged out: user_id=%s, platform_id=%d", auth.UserId, auth.PlatformId)
	return nil
}

// GetSession validates a token and returns its session
func (s *AuthService) GetSession(ctx context.Context, token string) (*remote.AuthSession, error) {
	claims, err := s.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &remote.AuthSession{
		Token:      token,
		UserId:     claims.UserId,
		PlatformId: claims.PlatformId,
		ExpiresAt:  claims.ExpiresAtMilli(),
	}, nil
}

// GetUser gets a user by id
func (s *AuthService) GetUser(ctx context.Context, userId string) (*entity.User, error) {
	user, err := s.userRepo.GetById(ctx, userId)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, errcode.ErrUserNotFound
		}
		return nil, errcode.ErrInternalServer.Wrap(err)
	}
	return user, nil
}

// ValidateToken validates a token and returns claims
func (s *AuthService) ValidateToken(ctx context.Context, token string) (*jwt.Claims, error) {
	if token == "" {
		return nil, errcode.ErrTokenMissing
	}
	claims, err := jwt.ParseToken(token, s.cfg.Secret)
	if err != nil {
		return nil, err
	}

	valid, err := s.tokenStore.IsTokenValid(ctx, claims.UserId, claims.PlatformId, token)
	if err != nil {
		// Fall back to the signature check alone while redis is unavailable
		log.CtxWarn(ctx, "check token status failed: %v", err)
		return claims, nil
	}
	if !valid {
		return nil, errcode.ErrTokenInvalid
	}

	return claims, nil
}
