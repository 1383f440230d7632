// Package protocol implements the frame codec shared with the simulation
// peer. It provides encoding of action frames, decoding of observation
// frames, and detection of the end-of-simulation sentinel.
//
// Frames are fixed-layout sequences of little-endian float64 values. The
// frame widths are fixed by the configured action and observation
// arities, so boundaries are implicit in the configuration rather than
// carried on the wire:
//
//	action frame:      | stop flag | a_1 | ... | a_A |
//	observation frame: | o_1 | ... | o_O | sim time  |
//
// A zero-length inbound payload is the end-of-simulation sentinel.
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ScalarSize is the width in bytes of every wire scalar.
const ScalarSize = 8

// Codec encodes and decodes frames for one action/observation shape.
// The zero value is unusable; both arities must be positive.
type Codec struct {
	ActionSize      int // action dimensions per outbound frame
	ObservationSize int // observation dimensions per inbound frame
}

// ActionFrameSize returns the byte width of one outbound action frame,
// including the leading stop flag scalar.
func (c Codec) ActionFrameSize() int {
	return ScalarSize * (1 + c.ActionSize)
}

// ObservationFrameSize returns the byte width of one inbound observation
// frame, including the trailing simulation-time scalar.
func (c Codec) ObservationFrameSize() int {
	return ScalarSize * (c.ObservationSize + 1)
}

// Observation is one decoded inbound frame. When End is set the peer has
// finished its simulation run and the remaining fields are zero.
type Observation struct {
	Values []float64
	Time   float64 // simulation timestamp in seconds
	End    bool
}

// EncodeAction serializes an action vector into an outbound frame. The
// stop flag requests the simulation terminate after consuming the frame.
func (c Codec) EncodeAction(values []float64, stop bool) ([]byte, error) {
	if len(values) != c.ActionSize {
		return nil, fmt.Errorf("%w: action has %d values, codec expects %d",
			ErrFraming, len(values), c.ActionSize)
	}

	buf := make([]byte, c.ActionFrameSize())
	flag := 0.0
	if stop {
		flag = 1.0
	}
	binary.LittleEndian.PutUint64(buf, math.Float64bits(flag))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[(i+1)*ScalarSize:], math.Float64bits(v))
	}
	return buf, nil
}

// DecodeAction deserializes an outbound frame back into the action vector
// and the stop flag. It is the peer-side counterpart of EncodeAction.
func (c Codec) DecodeAction(data []byte) ([]float64, bool, error) {
	if len(data) != c.ActionFrameSize() {
		return nil, false, fmt.Errorf("%w: action frame is %d bytes, codec expects %d",
			ErrFraming, len(data), c.ActionFrameSize())
	}

	stop := math.Float64frombits(binary.LittleEndian.Uint64(data)) != 0
	values := make([]float64, c.ActionSize)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[(i+1)*ScalarSize:]))
	}
	return values, stop, nil
}

// EncodeObservation serializes an observation vector and simulation
// timestamp into an inbound frame. Used by the stand-in peer and by
// loopback tests; the external engine produces the same layout.
func (c Codec) EncodeObservation(values []float64, simTime float64) ([]byte, error) {
	if len(values) != c.ObservationSize {
		return nil, fmt.Errorf("%w: observation has %d values, codec expects %d",
			ErrFraming, len(values), c.ObservationSize)
	}

	buf := make([]byte, c.ObservationFrameSize())
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*ScalarSize:], math.Float64bits(v))
	}
	binary.LittleEndian.PutUint64(buf[c.ObservationSize*ScalarSize:], math.Float64bits(simTime))
	return buf, nil
}

// DecodeObservation deserializes an inbound frame. A zero-length payload
// is always the end-of-simulation sentinel, regardless of the configured
// arity, and never a zero vector. Any other width than the configured
// frame size is a framing error.
func (c Codec) DecodeObservation(data []byte) (Observation, error) {
	if len(data) == 0 {
		return Observation{End: true}, nil
	}
	if len(data) != c.ObservationFrameSize() {
		return Observation{}, fmt.Errorf("%w: observation frame is %d bytes, codec expects %d",
			ErrFraming, len(data), c.ObservationFrameSize())
	}

	values := make([]float64, c.ObservationSize)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*ScalarSize:]))
	}
	simTime := math.Float64frombits(binary.LittleEndian.Uint64(data[c.ObservationSize*ScalarSize:]))
	return Observation{Values: values, Time: simTime}, nil
}
