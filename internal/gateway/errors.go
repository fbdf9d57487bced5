package gateway

import "errors"

var (
	// ErrConnClosed is returned by writes after the connection closed
	ErrConnClosed = errors.New("gateway: connection closed")
	// ErrWriteChannelFull means the peer reads slower than we push
	ErrWriteChannelFull = errors.New("gateway: write queue full")
	// ErrUserIdMismatch means a frame names a sender other than the session user
	ErrUserIdMismatch = errors.New("gateway: send_id does not match session user")
)
