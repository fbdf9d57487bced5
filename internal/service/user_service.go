package service

import (
	"context"
	"errors"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/internal/session"
	"github.com/mbeoliero/amora/pkg/errcode"
)

// UserService serves profile requests. Each call restores a Session from
// the caller's token and acts through it.
type UserService struct {
	identity remote.Identity
	profiles remote.ProfileStore
	blob     remote.Blob
	validate *validator.Validate
}

// NewUserService creates a new UserService
func NewUserService(identity remote.Identity, profiles remote.ProfileStore, blob remote.Blob, validate *validator.Validate) *UserService {
	return &UserService{
		identity: identity,
		profiles: profiles,
		blob:     blob,
		validate: validate,
	}
}

// NewSession restores the session behind token
func (s *UserService) NewSession(ctx context.Context, token string) (*session.Session, error) {
	sess := session.New(s.identity, s.profiles, s.blob)
	if err := sess.Restore(ctx, token); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetMe returns the profile of the token owner
func (s *UserService) GetMe(ctx context.Context, token string) (*entity.Profile, error) {
	sess, err := s.NewSession(ctx, token)
	if err != nil {
		return nil, err
	}
	return sess.Refresh(ctx)
}

// GetProfile returns the public profile of userId
func (s *UserService) GetProfile(ctx context.Context, userId string) (*entity.Profile, error) {
	p, err := s.profiles.GetProfile(ctx, userId)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, errcode.ErrUserNotFound
		}
		log.CtxError(ctx, "get profile failed: user_id=%s, error=%v", userId, err)
		return nil, errcode.ErrInternalServer
	}
	return p, nil
}

// UpdateProfile changes the token owner's profile
func (s *UserService) UpdateProfile(ctx context.Context, token string, upd remote.ProfileUpdate) (*entity.Profile, error) {
	if err := s.validate.Struct(upd); err != nil {
		return nil, errcode.ErrInvalidParam.Wrap(err)
	}
	sess, err := s.NewSession(ctx, token)
	if err != nil {
		return nil, err
	}
	return sess.UpdateProfile(ctx, upd)
}

// UploadPhoto stores a new profile photo for the token owner
func (s *UserService) UploadPhoto(ctx context.Context, token string, body io.Reader, contentType string) (*entity.Profile, error) {
	sess, err := s.NewSession(ctx, token)
	if err != nil {
		return nil, err
	}
	return sess.UploadPhoto(ctx, body, contentType)
}
