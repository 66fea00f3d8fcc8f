package psock

import "errors"

// ErrSocketClosed is returned by SendTo/RecvFrom after Close.
var ErrSocketClosed = errors.New("psock: socket closed")

// ErrTimeout is returned by RecvFrom when a configured timeout elapses
// before a batch completes.
var ErrTimeout = errors.New("psock: recvfrom timeout")
