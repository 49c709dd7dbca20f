package status

import "errors"

var (
	// ErrConnect is returned by Open when the subscription cannot be
	// established: missing or rejected token, refused connection, or a
	// failed websocket handshake.
	ErrConnect = errors.New("status: connect failed")

	// ErrChannelClosed is reported to waiters and by Err once the channel
	// has closed, either explicitly or because the connection dropped.
	ErrChannelClosed = errors.New("status: channel closed")

	// ErrMalformed marks a message the decoder could not use.
	ErrMalformed = errors.New("status: malformed message")
)
