package errcode

import (
	"errors"
	"fmt"
)

// Error represents a business error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("errcode: %d, msg: %s", e.Code, e.Msg)
}

// Is reports whether target carries the same code, so wrapped copies
// still match their sentinel under errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New creates a new error with code and message
func New(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap wraps an error with additional context
func (e *Error) Wrap(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{
		Code: e.Code,
		Msg:  fmt.Sprintf("%s: %v", e.Msg, err),
	}
}

// Message returns the user-facing text of err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}

// Common error codes
var (
	// Success
	ErrSuccess = New(0, "success")

	// Common errors (1xxx)
	ErrInvalidParam    = New(1001, "invalid parameter")
	ErrInternalServer  = New(1002, "internal server error")
	ErrUnauthorized    = New(1003, "unauthorized")
	ErrForbidden       = New(1004, "forbidden")
	ErrNotFound        = New(1005, "not found")
	ErrTooManyRequests = New(1006, "too many requests")
	ErrNoPermission    = New(1007, "no permission to access this resource")

	// Auth errors (2xxx)
	ErrTokenInvalid  = New(2001, "token invalid")
	ErrTokenExpired  = New(2002, "token expired")
	ErrTokenMissing  = New(2003, "token missing")
	ErrTokenMismatch = New(2004, "token user mismatch")
	ErrLoginFailed   = New(2005, "login failed")
	ErrUserNotFound  = New(2006, "user not found")
	ErrUserExists    = New(2007, "user already exists")
	ErrPasswordWrong = New(2008, "password wrong")
	ErrUploadFailed  = New(2009, "photo upload failed")

	// Conversation errors (3xxx)
	ErrConvNotFound   = New(3001, "conversation not found")
	ErrNotParticipant = New(3002, "not a participant of this conversation")
	ErrSelfChat       = New(3003, "cannot start a chat with yourself")
	ErrListFailed     = New(3004, "conversation list failed")
	ErrConvCreate     = New(3005, "conversation create failed")
	ErrRoomNotLive    = New(3006, "room is not live")
	ErrRoomClosed     = New(3007, "room closed")
	ErrRoomNotOpen    = New(3008, "no room is open")
	ErrMarkReadFailed = New(3009, "mark read failed")
	ErrInfoLoadFailed = New(3010, "conversation info load failed")

	// Message errors (4xxx)
	ErrMessageNotFound = New(4001, "message not found")
	ErrEmptyMessage    = New(4002, "message content is empty")
	ErrSendFailed      = New(4005, "message send failed")
	ErrFetchFailed     = New(4006, "message fetch failed")

	// WebSocket errors (5xxx)
	ErrConnOverLimit   = New(5001, "connection over max limit")
	ErrConnClosed      = New(5002, "connection closed")
	ErrInvalidProtocol = New(5003, "invalid protocol")
	ErrPushFailed      = New(5004, "push message failed")
)
