// Package cartpole provides the classic cart-pole control environment:
// the Task consumed by the episode state machine, and the forward
// dynamics used by the stand-in simulation peer.
package cartpole

import (
	"math"

	"simgym/pkg/env"
)

// ModelName is the simulation model identifier handed to the engine.
const ModelName = "cartpole"

// State limits. The pole angle limit doubles for termination, matching
// the reference environment.
const (
	MaxCartPosition = 1.0
	maxPoleAngleDeg = 8.0
)

// MaxPoleAngle is the pole angle bound in radians.
var MaxPoleAngle = maxPoleAngleDeg * math.Pi / 180.0

// Observation slot indices.
const (
	SlotTheta = iota // pole angle [rad]
	SlotOmega        // pole angular velocity [rad/s]
	SlotAlpha        // pole angular acceleration [rad/s^2]
	SlotPos          // cart position [m]
	SlotVel          // cart velocity [m/s]
	SlotAcc          // cart acceleration [m/s^2]
	slotCount
)

// Task is the cart-pole environment definition: one force action, six
// observation slots, +1 reward per step inside the state limits.
type Task struct{}

func NewTask() *Task {
	return &Task{}
}

func (t *Task) Name() string { return ModelName }

func (t *Task) ActionSize() int { return 1 }

// Observations describes the observation vector. The initial pole angle
// is resampled from its bounds every episode; the remaining slots start
// at zero.
func (t *Task) Observations() []env.ObservationSpec {
	zero := 0.0
	return []env.ObservationSpec{
		{
			Name: "theta", Low: -MaxPoleAngle, High: MaxPoleAngle,
			Parameter: ModelName + "/Integrator_theta/InitialCondition",
		},
		{
			Name: "omega", Low: math.Inf(-1), High: math.Inf(1),
			Parameter: ModelName + "/Integrator_omega/InitialCondition", Default: &zero,
		},
		{
			Name: "alpha", Low: math.Inf(-1), High: math.Inf(1),
			Parameter: ModelName + "/IC1/Value", Default: &zero,
		},
		{
			Name: "pos", Low: -MaxCartPosition, High: MaxCartPosition,
			Parameter: ModelName + "/Integrator_position/InitialCondition", Default: &zero,
		},
		{
			Name: "vel", Low: math.Inf(-1), High: math.Inf(1),
			Parameter: ModelName + "/Integrator_speed/InitialCondition", Default: &zero,
		},
		{
			Name: "acc", Low: math.Inf(-1), High: math.Inf(1),
			Parameter: ModelName + "/IC/Value", Default: &zero,
		},
	}
}

// Reward is +1 for every step inside the state limits.
func (t *Task) Reward(obs []float64, simTime float64) float64 {
	return 1
}

// Terminal reports whether the cart left the track bounds or the pole
// fell past twice the sampling angle limit.
func (t *Task) Terminal(obs []float64) bool {
	theta := obs[SlotTheta]
	pos := obs[SlotPos]
	return pos < -MaxCartPosition || pos > MaxCartPosition ||
		theta < -2*MaxPoleAngle || theta > 2*MaxPoleAngle
}
