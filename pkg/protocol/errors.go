package protocol

import "errors"

// ErrFraming reports malformed or truncated frame bytes. It is fatal for
// the current episode: once the wrapper and the peer disagree on frame
// boundaries the simulation state cannot be resynchronized.
var ErrFraming = errors.New("malformed frame")
