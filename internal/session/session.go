package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/pkg/errcode"
	"github.com/mbeoliero/amora/pkg/idgen"
	"github.com/mbeoliero/amora/pkg/notify"
)

// EventType names an auth state change
type EventType string

const (
	SignedIn       EventType = "signed_in"
	SignedOut      EventType = "signed_out"
	ProfileUpdated EventType = "profile_updated"
)

// Event is delivered to session subscribers
type Event struct {
	Type    EventType
	UserId  string
	Profile *entity.Profile
}

// Session holds the acting identity. It is created once per client and
// handed to every component that needs to know who the viewer is.
type Session struct {
	identity remote.Identity
	profiles remote.ProfileStore
	blob     remote.Blob

	mu      sync.RWMutex
	auth    *remote.AuthSession
	profile *entity.Profile

	hub notify.Hub[Event]
}

// New creates a signed-out session
func New(identity remote.Identity, profiles remote.ProfileStore, blob remote.Blob) *Session {
	return &Session{
		identity: identity,
		profiles: profiles,
		blob:     blob,
	}
}

// Subscribe registers fn for auth state changes
func (s *Session) Subscribe(fn func(Event)) (cancel func()) {
	return s.hub.Subscribe(fn)
}

// UserId returns the signed-in user id, or "" when signed out
func (s *Session) UserId() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.auth == nil {
		return ""
	}
	return s.auth.UserId
}

// PlatformId returns the platform of the current token
func (s *Session) PlatformId() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.auth == nil {
		return 0
	}
	return s.auth.PlatformId
}

// Token returns the current token, or "" when signed out
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.auth == nil {
		return ""
	}
	return s.auth.Token
}

// Current returns the cached profile of the signed-in user. It is nil until
// Refresh succeeds.
func (s *Session) Current() *entity.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil
	}
	cp := *s.profile
	return &cp
}

// SignUp registers a new account. It does not sign in.
func (s *Session) SignUp(ctx context.Context, req *remote.SignUpRequest) (*entity.User, error) {
	return s.identity.SignUp(ctx, req)
}

// SignIn authenticates and loads the profile. A profile failure does not
// undo the sign-in.
func (s *Session) SignIn(ctx context.Context, cred *remote.Credentials) (*remote.AuthSession, error) {
	auth, err := s.identity.SignIn(ctx, cred)
	if err != nil {
		return nil, err
	}
	s.establish(ctx, auth, true)
	return auth, nil
}

// Restore adopts an existing token, as when a client reconnects
func (s *Session) Restore(ctx context.Context, token string) error {
	if token == "" {
		return errcode.ErrTokenMissing
	}
	auth, err := s.identity.GetSession(ctx, token)
	if err != nil {
		return err
	}
	s.establish(ctx, auth, false)
	return nil
}

func (s *Session) establish(ctx context.Context, auth *remote.AuthSession, loadProfile bool) {
	s.mu.Lock()
	s.auth = auth
	s.profile = nil
	s.mu.Unlock()

	var profile *entity.Profile
	if loadProfile {
		p, err := s.Refresh(ctx)
		if err != nil {
			log.CtxWarn(ctx, "load profile after sign in failed: user_id=%s, error=%v", auth.UserId, err)
		}
		profile = p
	}
	s.hub.Emit(Event{Type: SignedIn, UserId: auth.UserId, Profile: profile})
}

// SignOut revokes the token and clears the session. The local state is
// cleared even when the revoke call fails.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	auth := s.auth
	s.auth = nil
	s.profile = nil
	s.mu.Unlock()

	if auth == nil {
		return nil
	}

	err := s.identity.SignOut(ctx, auth)
	s.hub.Emit(Event{Type: SignedOut, UserId: auth.UserId})
	return err
}

// Refresh reloads the profile of the signed-in user
func (s *Session) Refresh(ctx context.Context) (*entity.Profile, error) {
	userId := s.UserId()
	if userId == "" {
		return nil, errcode.ErrUnauthorized
	}

	profile, err := s.profiles.GetProfile(ctx, userId)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, errcode.ErrUserNotFound
		}
		return nil, err
	}

	s.mu.Lock()
	if s.auth != nil && s.auth.UserId == userId {
		s.profile = profile
	}
	s.mu.Unlock()

	cp := *profile
	return &cp, nil
}

// UpdateProfile changes the signed-in user's public profile
func (s *Session) UpdateProfile(ctx context.Context, upd remote.ProfileUpdate) (*entity.Profile, error) {
	userId := s.UserId()
	if userId == "" {
		return nil, errcode.ErrUnauthorized
	}
	if upd.Empty() {
		return s.Refresh(ctx)
	}

	profile, err := s.profiles.UpdateProfile(ctx, userId, upd)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, errcode.ErrUserNotFound
		}
		return nil, err
	}

	s.mu.Lock()
	if s.auth != nil && s.auth.UserId == userId {
		s.profile = profile
	}
	s.mu.Unlock()

	cp := *profile
	s.hub.Emit(Event{Type: ProfileUpdated, UserId: userId, Profile: &cp})
	return profile, nil
}

// UploadPhoto stores a new primary photo and points the profile at it
func (s *Session) UploadPhoto(ctx context.Context, body io.Reader, contentType string) (*entity.Profile, error) {
	userId := s.UserId()
	if userId == "" {
		return nil, errcode.ErrUnauthorized
	}
	if s.blob == nil {
		return nil, errcode.ErrUploadFailed.Wrap(errors.New("blob storage not configured"))
	}

	ext, ok := photoExtensions[contentType]
	if !ok {
		return nil, errcode.ErrInvalidParam.Wrap(fmt.Errorf("unsupported content type %q", contentType))
	}

	key := fmt.Sprintf("profiles/%s/%s%s", userId, idgen.NewUUID(), ext)
	if err := s.blob.Upload(ctx, key, contentType, body); err != nil {
		log.CtxError(ctx, "upload photo failed: user_id=%s, key=%s, error=%v", userId, key, err)
		return nil, errcode.ErrUploadFailed.Wrap(err)
	}

	url := s.blob.PublicURL(key)
	return s.UpdateProfile(ctx, remote.ProfileUpdate{PhotoURL: &url})
}

var photoExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}
