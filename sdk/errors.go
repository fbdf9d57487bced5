package sdk

import (
	"errors"
	"fmt"
)

// Error represents an API error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("code: %d, msg: %s", e.Code, e.Msg)
}

// Is matches errors by code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new error
func NewError(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Common error codes
const (
	// Success
	CodeSuccess = 0

	// Common errors (1xxx)
	CodeInvalidParam    = 1001
	CodeInternalServer  = 1002
	CodeUnauthorized    = 1003
	CodeForbidden       = 1004
	CodeNotFound        = 1005
	CodeTooManyRequests = 1006
	CodeNoPermission    = 1007

	// Auth errors (2xxx)
	CodeTokenInvalid  = 2001
	CodeTokenExpired  = 2002
	CodeTokenMissing  = 2003
	CodeTokenMismatch = 2004
	CodeLoginFailed   = 2005
	CodeUserNotFound  = 2006
	CodeUserExists    = 2007
	CodePasswordWrong = 2008
	CodeUploadFailed  = 2009

	// Conversation errors (3xxx)
	CodeConvNotFound   = 3001
	CodeNotParticipant = 3002
	CodeSelfChat       = 3003
	CodeListFailed     = 3004
	CodeConvCreate     = 3005
	CodeRoomNotLive    = 3006
	CodeRoomClosed     = 3007
	CodeRoomNotOpen    = 3008
	CodeMarkReadFailed = 3009
	CodeInfoLoadFailed = 3010

	// Message errors (4xxx)
	CodeMessageNotFound = 4001
	CodeEmptyMessage    = 4002
	CodeSendFailed      = 4005
	CodeFetchFailed     = 4006

	// WebSocket errors (5xxx)
	CodeConnOverLimit   = 5001
	CodeConnClosed      = 5002
	CodeInvalidProtocol = 5003
	CodePushFailed      = 5004
)

// Predefined errors
var (
	ErrInvalidParam   = NewError(CodeInvalidParam, "invalid parameter")
	ErrInternalServer = NewError(CodeInternalServer, "internal server error")
	ErrUnauthorized   = NewError(CodeUnauthorized, "unauthorized")

	ErrTokenInvalid  = NewError(CodeTokenInvalid, "token invalid")
	ErrTokenExpired  = NewError(CodeTokenExpired, "token expired")
	ErrTokenMissing  = NewError(CodeTokenMissing, "token missing")
	ErrUserNotFound  = NewError(CodeUserNotFound, "user not found")
	ErrUserExists    = NewError(CodeUserExists, "user already exists")
	ErrPasswordWrong = NewError(CodePasswordWrong, "password wrong")

	ErrConvNotFound   = NewError(CodeConvNotFound, "conversation not found")
	ErrNotParticipant = NewError(CodeNotParticipant, "not a participant of this conversation")
	ErrSelfChat       = NewError(CodeSelfChat, "cannot start a chat with yourself")
	ErrRoomNotOpen    = NewError(CodeRoomNotOpen, "no room is open")
	ErrEmptyMessage   = NewError(CodeEmptyMessage, "message content is empty")

	// ErrRealtimeClosed is returned for requests on a closed realtime connection
	ErrRealtimeClosed = NewError(CodeConnClosed, "connection closed")
)
