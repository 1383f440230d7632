package env

import (
	"time"

	"simgym/pkg/engine"
	"simgym/pkg/record"
)

// DefaultAcceptTimeout bounds the wait for the peer connection when the
// configuration does not say otherwise. Engine startup can take minutes
// when a license server is involved.
const DefaultAcceptTimeout = 300 * time.Second

// Config is the static configuration of one environment instance.
type Config struct {
	// Port is the local port the channel binds. 0 picks an ephemeral
	// port; the peer learns the bound port through the supervisor.
	Port int

	// Debug disables the supervisor: nothing is spawned and the operator
	// starts the simulation peer manually against the bound port. Reset
	// then waits for the connection as long as AcceptTimeout allows.
	Debug bool

	// StepLimit truncates episodes after this many steps. 0 means no
	// limit. Truncation is tracked locally; the transport never signals
	// it.
	StepLimit int

	// AcceptTimeout bounds the wait for the peer connection on reset.
	// 0 applies DefaultAcceptTimeout; negative waits forever.
	AcceptTimeout time.Duration

	// EngineCommand is the argv template the supervisor launches for
	// each episode, e.g. {"simpeer"}.
	EngineCommand []string

	// Runner, when set, replaces the engine process with an in-process
	// run. Used by tests and embedded peers.
	Runner engine.Runner

	// GracePeriod bounds supervisor teardown. 0 applies the engine
	// default.
	GracePeriod time.Duration

	// Seed fixes the initial-value sampling. 0 seeds from the clock.
	Seed int64

	// Recorder, when set, receives every transition and an episode
	// summary. Recording errors are logged, never fatal.
	Recorder record.Store
}

func (c Config) acceptTimeout() time.Duration {
	switch {
	case c.AcceptTimeout == 0:
		return DefaultAcceptTimeout
	case c.AcceptTimeout < 0:
		return 0 // transport treats non-positive as no deadline
	default:
		return c.AcceptTimeout
	}
}
