package network

import "errors"

var (
	// ErrConnectionClosed reports an orderly or abrupt peer close
	// observed while reading a frame.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrInvalidFrame reports a length prefix that cannot describe a
	// well-formed frame.
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrFrameTooLarge reports a length prefix above the configured
	// maximum packet size.
	ErrFrameTooLarge = errors.New("frame exceeds maximum packet size")
)
