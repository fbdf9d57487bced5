package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/mbeoliero/amora/internal/entity"
	"github.com/mbeoliero/amora/internal/middleware"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/internal/service"
	"github.com/mbeoliero/amora/pkg/errcode"
	"github.com/mbeoliero/amora/pkg/response"
)

// PhotoFormField is the multipart field carrying a profile photo
const PhotoFormField = "photo"

// Presence reports whether a user has a live realtime connection
type Presence interface {
	IsOnline(ctx context.Context, userId string) bool
}

// UserHandler handles user-related requests
type UserHandler struct {
	userService *service.UserService
	presence    Presence
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(userService *service.UserService, presence Presence) *UserHandler {
	return &UserHandler{userService: userService, presence: presence}
}

// ProfileInfo is a public profile with the online flag
type ProfileInfo struct {
	*entity.Profile
	Online bool `json:"online"`
}

// GetUserInfo handles get user info request
func (h *UserHandler) GetUserInfo(ctx context.Context, c *app.RequestContext) {
	token := middleware.GetToken(c)
	if token == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	profile, err := h.userService.GetMe(ctx, token)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, profile)
}

// GetUserInfoById handles get user info by Id request
func (h *UserHandler) GetUserInfoById(ctx context.Context, c *app.RequestContext) {
	userId := c.Param("user_id")
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	profile, err := h.userService.GetProfile(ctx, userId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	info := ProfileInfo{Profile: profile}
	if h.presence != nil {
		info.Online = h.presence.IsOnline(ctx, userId)
	}
	response.Success(ctx, c, info)
}

// UpdateUserInfo handles update user info request
func (h *UserHandler) UpdateUserInfo(ctx context.Context, c *app.RequestContext) {
	token := middleware.GetToken(c)
	if token == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	var req remote.ProfileUpdate
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	profile, err := h.userService.UpdateProfile(ctx, token, req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, profile)
}

// UploadPhoto stores a new profile photo from a multipart form
func (h *UserHandler) UploadPhoto(ctx context.Context, c *app.RequestContext) {
	token := middleware.GetToken(c)
	if token == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	header, err := c.FormFile(PhotoFormField)
	if err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}
	file, err := header.Open()
	if err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}
	defer file.Close()

	profile, err := h.userService.UploadPhoto(ctx, token, file, header.Header.Get("Content-Type"))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, profile)
}
