package cartpole

import (
	"math"
	"strings"
)

// Physical defaults, matching the reference model.
const (
	DefaultGravity    = 9.80665 // [m/s^2]
	DefaultPoleLength = 0.5     // half-pole length [m]
	DefaultCartMass   = 1.0     // [kg]
	DefaultPoleMass   = 0.1     // [kg]
	DefaultForceMag   = 10.0    // [N] per unit of action
	DefaultTimeStep   = 0.02    // [s]
)

// Dynamics integrates the cart-pole equations of motion with explicit
// Euler steps. It stands in for the external simulation engine inside
// cmd/simpeer and in tests.
type Dynamics struct {
	Gravity    float64
	PoleLength float64
	CartMass   float64
	PoleMass   float64
	ForceMag   float64
	TimeStep   float64

	Theta float64 // pole angle [rad]
	Omega float64 // pole angular velocity [rad/s]
	Alpha float64 // pole angular acceleration [rad/s^2]
	Pos   float64 // cart position [m]
	Vel   float64 // cart velocity [m/s]
	Acc   float64 // cart acceleration [m/s^2]
	Time  float64 // simulation time [s]
}

func NewDynamics() *Dynamics {
	return &Dynamics{
		Gravity:    DefaultGravity,
		PoleLength: DefaultPoleLength,
		CartMass:   DefaultCartMass,
		PoleMass:   DefaultPoleMass,
		ForceMag:   DefaultForceMag,
		TimeStep:   DefaultTimeStep,
	}
}

// SetParameter seeds one state variable by its descriptor parameter
// path. Unknown paths are ignored, like unknown block parameters in the
// real engine.
func (d *Dynamics) SetParameter(path string, value float64) {
	switch {
	case strings.Contains(path, "Integrator_theta"):
		d.Theta = value
	case strings.Contains(path, "Integrator_omega"):
		d.Omega = value
	case strings.Contains(path, "IC1"):
		d.Alpha = value
	case strings.Contains(path, "Integrator_position"):
		d.Pos = value
	case strings.Contains(path, "Integrator_speed"):
		d.Vel = value
	case strings.Contains(path, "IC"):
		d.Acc = value
	}
}

// Step advances the simulation by one time step under the given action.
// The action scales the nominal force; positive pushes the cart right.
func (d *Dynamics) Step(action float64) {
	force := action * d.ForceMag
	totalMass := d.CartMass + d.PoleMass
	poleMassLength := d.PoleMass * d.PoleLength

	sinTheta := math.Sin(d.Theta)
	cosTheta := math.Cos(d.Theta)

	temp := (force + poleMassLength*d.Omega*d.Omega*sinTheta) / totalMass
	d.Alpha = (d.Gravity*sinTheta - cosTheta*temp) /
		(d.PoleLength * (4.0/3.0 - d.PoleMass*cosTheta*cosTheta/totalMass))
	d.Acc = temp - poleMassLength*d.Alpha*cosTheta/totalMass

	d.Pos += d.TimeStep * d.Vel
	d.Vel += d.TimeStep * d.Acc
	d.Theta += d.TimeStep * d.Omega
	d.Omega += d.TimeStep * d.Alpha
	d.Time += d.TimeStep
}

// Observation returns the state as an observation vector in slot order.
func (d *Dynamics) Observation() []float64 {
	return []float64{d.Theta, d.Omega, d.Alpha, d.Pos, d.Vel, d.Acc}
}
