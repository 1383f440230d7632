package main

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"simgym/pkg/cartpole"
	"simgym/pkg/protocol"
)

var peerCodec = protocol.Codec{ActionSize: 1, ObservationSize: 6}

func TestParseInitialValues(t *testing.T) {
	values, err := ParseInitialValues("cartpole/Integrator_theta/InitialCondition=0.1,cartpole/IC/Value=-2")
	if err != nil {
		t.Fatalf("ParseInitialValues: %v", err)
	}
	if values["cartpole/Integrator_theta/InitialCondition"] != 0.1 {
		t.Fatalf("theta = %v, want 0.1", values["cartpole/Integrator_theta/InitialCondition"])
	}
	if values["cartpole/IC/Value"] != -2 {
		t.Fatalf("acc = %v, want -2", values["cartpole/IC/Value"])
	}

	if values, err := ParseInitialValues(""); err != nil || len(values) != 0 {
		t.Fatalf("empty input: %v values, err %v", values, err)
	}
	if _, err := ParseInitialValues("no-equals-sign"); err == nil {
		t.Fatal("malformed pair accepted")
	}
	if _, err := ParseInitialValues("path=not-a-number"); err == nil {
		t.Fatal("non-numeric value accepted")
	}
}

// startPeer runs a peer over an in-memory pipe and returns the
// environment side plus a channel with the peer's exit code.
func startPeer(t *testing.T, stopTime float64, initialValues map[string]float64) (net.Conn, <-chan int) {
	t.Helper()

	envSide, peerSide := net.Pipe()
	t.Cleanup(func() { envSide.Close() })

	code := make(chan int, 1)
	go func() {
		defer peerSide.Close()
		code <- NewPeer(peerSide, stopTime, initialValues).Run()
	}()
	return envSide, code
}

func readObs(t *testing.T, conn net.Conn) protocol.Observation {
	t.Helper()

	buf := make([]byte, peerCodec.ObservationFrameSize())
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read observation: %v", err)
	}
	obs, err := peerCodec.DecodeObservation(buf)
	if err != nil {
		t.Fatalf("decode observation: %v", err)
	}
	return obs
}

func sendAction(t *testing.T, conn net.Conn, value float64, stop bool) {
	t.Helper()

	frame, err := peerCodec.EncodeAction([]float64{value}, stop)
	if err != nil {
		t.Fatalf("encode action: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("send action: %v", err)
	}
}

func waitExit(t *testing.T, code <-chan int) int {
	t.Helper()

	select {
	case c := <-code:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("peer never exited")
		return -1
	}
}

func TestPeerRunUntilStopTime(t *testing.T) {
	// Stop between the fifth and sixth step, clear of float drift in the
	// accumulated simulation time.
	theta := 0.01
	conn, code := startPeer(t, 4.5*cartpole.DefaultTimeStep, map[string]float64{
		"cartpole/Integrator_theta/InitialCondition": theta,
	})

	initial := readObs(t, conn)
	if initial.End {
		t.Fatal("initial frame is the sentinel")
	}
	if initial.Values[cartpole.SlotTheta] != theta {
		t.Fatalf("initial theta = %v, want %v", initial.Values[cartpole.SlotTheta], theta)
	}
	if initial.Time != 0 {
		t.Fatalf("initial time = %v, want 0", initial.Time)
	}

	// Five steps fit before the stop time; the sixth request ends the
	// run with a closed stream instead of a frame.
	lastTime := 0.0
	for i := 0; i < 5; i++ {
		sendAction(t, conn, 0, false)
		obs := readObs(t, conn)
		if obs.End {
			t.Fatalf("run ended early at step %d", i+1)
		}
		if obs.Time <= lastTime {
			t.Fatalf("sim time went backwards: %v after %v", obs.Time, lastTime)
		}
		lastTime = obs.Time
	}

	sendAction(t, conn, 0, false)
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("read after stop time = %v, want EOF", err)
	}
	if c := waitExit(t, code); c != Success {
		t.Fatalf("peer exit code = %d, want %d", c, Success)
	}
}

func TestPeerHonorsStopFlag(t *testing.T) {
	conn, code := startPeer(t, 1000, nil)

	readObs(t, conn)
	sendAction(t, conn, 0, true)

	// The stop signal is acknowledged with one final frame.
	final := readObs(t, conn)
	if final.End {
		t.Fatal("stop acknowledged with the sentinel instead of a frame")
	}
	if c := waitExit(t, code); c != Success {
		t.Fatalf("peer exit code = %d, want %d", c, Success)
	}
}

func TestPeerEndsRunOnTerminalState(t *testing.T) {
	// Start past the termination angle: the first state is already
	// final, so the run must end on the very next request.
	conn, code := startPeer(t, 1000, map[string]float64{
		"cartpole/Integrator_theta/InitialCondition": 3 * cartpole.MaxPoleAngle,
	})

	readObs(t, conn)
	sendAction(t, conn, 0, false)

	buf := make([]byte, 1)
	if _, err := conn.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("read after terminal state = %v, want EOF", err)
	}
	if c := waitExit(t, code); c != Success {
		t.Fatalf("peer exit code = %d, want %d", c, Success)
	}
}
