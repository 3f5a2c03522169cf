package handshake

import "errors"

var (
	// ErrIdentityMismatch reports a server key whose fingerprint differs
	// from the one pinned for this endpoint.
	ErrIdentityMismatch = errors.New("server identity does not match pinned fingerprint")

	// ErrBadSignature reports a handshake signature that does not verify
	// against the presented identity key. Possible man-in-the-middle.
	ErrBadSignature = errors.New("handshake signature verification failed")

	// ErrUnexpectedPacket reports a packet out of handshake sequence.
	ErrUnexpectedPacket = errors.New("unexpected packet during handshake")
)
