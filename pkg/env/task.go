package env

// ObservationSpec maps one observation vector slot to the external model
// parameter that seeds its initial value. Descriptors are static
// configuration owned by the task; they are consulted only when an
// episode starts, never in the step loop.
type ObservationSpec struct {
	// Name labels the slot (e.g. "theta").
	Name string

	// Low and High bound the value. Initial values without a Default are
	// sampled uniformly from [Low, High].
	Low, High float64

	// Parameter is the model parameter path set before the run starts
	// (e.g. "cartpole/Integrator_theta/InitialCondition").
	Parameter string

	// Default fixes the initial value. Nil means sample per episode.
	Default *float64
}

// Task supplies the environment-specific pieces the generic state
// machine cannot know: the shape of the action and observation vectors,
// the reward signal, and termination conditions beyond the transport
// sentinel. Concrete environments implement Task instead of subclassing
// the state machine.
type Task interface {
	// Name identifies the simulation model the engine should load.
	Name() string

	// ActionSize is the action arity of the outbound frames.
	ActionSize() int

	// Observations describes the observation vector, slot by slot.
	Observations() []ObservationSpec

	// Reward scores the transition that produced the given observation.
	Reward(obs []float64, simTime float64) float64

	// Terminal reports whether the observation is a terminal state of
	// the task's own dynamics (limits exceeded, goal reached).
	Terminal(obs []float64) bool
}
