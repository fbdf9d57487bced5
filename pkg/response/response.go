package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/mbeoliero/amora/pkg/errcode"
)

// Response represents a standard API response
type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

// Success sends a success response
func Success(ctx context.Context, c *app.RequestContext, data any) {
	c.JSON(http.StatusOK, Response{
		Code: 0,
		Msg:  "success",
		Data: data,
	})
}

// Error sends an error response. Business errors keep their code; anything
// else is reported as an internal error.
func Error(ctx context.Context, c *app.RequestContext, err error) {
	c.JSON(http.StatusOK, FromError(err))
}

// FromError converts err into a response body
func FromError(err error) Response {
	var e *errcode.Error
	if errors.As(err, &e) {
		return Response{Code: e.Code, Msg: e.Msg}
	}
	return Response{Code: errcode.ErrInternalServer.Code, Msg: err.Error()}
}

// ErrorWithCode sends an error response with specific error code
func ErrorWithCode(ctx context.Context, c *app.RequestContext, e *errcode.Error) {
	c.JSON(http.StatusOK, Response{
		Code: e.Code,
		Msg:  e.Msg,
	})
}

// Unauthorized sends a 401 unauthorized response
func Unauthorized(ctx context.Context, c *app.RequestContext, e *errcode.Error) {
	if e == nil {
		e = errcode.ErrUnauthorized
	}
	c.JSON(http.StatusUnauthorized, Response{
		Code: e.Code,
		Msg:  e.Msg,
	})
}
