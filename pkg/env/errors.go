package env

import "errors"

// Programmer errors. They are surfaced immediately, without touching the
// transport.
var (
	// ErrClosed reports a call on a closed environment.
	ErrClosed = errors.New("environment closed")

	// ErrNotReset reports a Step outside a running episode.
	ErrNotReset = errors.New("no running episode")

	// ErrActionShape reports an action that does not match the task's
	// action arity.
	ErrActionShape = errors.New("action does not match action arity")
)
