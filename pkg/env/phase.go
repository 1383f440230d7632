package env

// Phase is the lifecycle state of an environment. Transitions are driven
// exclusively by Reset, Step and Close.
type Phase int

const (
	// PhaseUnstarted means no episode has been started yet.
	PhaseUnstarted Phase = iota

	// PhaseAwaitingInitialObservation means the channel is bound and the
	// environment is waiting for the peer to connect and send the first
	// observation frame.
	PhaseAwaitingInitialObservation

	// PhaseRunning means an episode is in progress and actions can be
	// stepped.
	PhaseRunning

	// PhaseTerminating means the end-of-simulation sentinel has been
	// consumed; only Reset or Close are valid.
	PhaseTerminating

	// PhaseClosed means the environment has been closed for good.
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseUnstarted:
		return "unstarted"
	case PhaseAwaitingInitialObservation:
		return "awaiting_initial_observation"
	case PhaseRunning:
		return "running"
	case PhaseTerminating:
		return "terminating"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}
