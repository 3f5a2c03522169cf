package application

import "errors"

var (
	// ErrAlreadyConnected reports a connect attempt on a client that
	// already holds a live session.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNotConnected reports a send or disconnect without a live
	// session. It does not tear anything down.
	ErrNotConnected = errors.New("not connected")
)
