package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/mbeoliero/amora/internal/middleware"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/pkg/errcode"
	"github.com/mbeoliero/amora/pkg/response"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	identity remote.Identity
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(identity remote.Identity) *AuthHandler {
	return &AuthHandler{identity: identity}
}

// Register handles user registration
func (h *AuthHandler) Register(ctx context.Context, c *app.RequestContext) {
	var req remote.SignUpRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	user, err := h.identity.SignUp(ctx, &req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, user.ToProfile())
}

// Login handles user login
func (h *AuthHandler) Login(ctx context.Context, c *app.RequestContext) {
	var req remote.Credentials
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	auth, err := h.identity.SignIn(ctx, &req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, auth)
}

// Logout revokes the caller's token
func (h *AuthHandler) Logout(ctx context.Context, c *app.RequestContext) {
	auth := &remote.AuthSession{
		Token:      middleware.GetToken(c),
		UserId:     middleware.GetUserId(c),
		PlatformId: middleware.GetPlatformId(c),
	}
	if auth.UserId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	if err := h.identity.SignOut(ctx, auth); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}
