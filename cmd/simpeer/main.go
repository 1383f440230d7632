// Package main implements the stand-in simulation peer. It dials back
// into the environment's channel, streams observations from a local
// cart-pole integration and consumes action frames until the run ends.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"simgym/pkg/cartpole"
	"simgym/pkg/protocol"
)

// Exit codes.
const (
	Success       = 0 // success
	ErrBadFlags   = 1 // invalid or missing flags
	ErrDial       = 2 // could not reach the environment
	ErrProtocol   = 3 // exchange broke mid-run
	ErrInterrupt  = 4 // killed by signal
	ErrBadModel   = 5 // unknown simulation model
	ErrBadInit    = 6 // malformed initial values
)

// Peer drives one simulation run over an established connection.
type Peer struct {
	conn     net.Conn
	codec    protocol.Codec
	dyn      *cartpole.Dynamics
	task     *cartpole.Task
	stopTime float64
}

// NewPeer seeds the dynamics from the initial values and wraps the
// connection with the model's frame layout.
func NewPeer(conn net.Conn, stopTime float64, initialValues map[string]float64) *Peer {
	task := cartpole.NewTask()
	dyn := cartpole.NewDynamics()
	for path, v := range initialValues {
		dyn.SetParameter(path, v)
	}
	return &Peer{
		conn: conn,
		codec: protocol.Codec{
			ActionSize:      task.ActionSize(),
			ObservationSize: len(task.Observations()),
		},
		dyn:      dyn,
		task:     task,
		stopTime: stopTime,
	}
}

// Run executes the exchange: initial observation first, then one
// observation per received action. The run ends by closing the
// connection without a frame once the last sent state was final, by the
// stop flag, or when the stop time is reached.
func (p *Peer) Run() int {
	if err := p.sendObservation(); err != nil {
		log.Error().Err(err).Msg("Failed to send initial observation")
		return ErrProtocol
	}

	for {
		action, stop, err := p.receiveAction()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Debug().Msg("Environment hung up")
				return Success
			}
			log.Error().Err(err).Msg("Failed to receive action")
			return ErrProtocol
		}

		if stop {
			// Acknowledge with the final state, then end the run.
			if err := p.sendObservation(); err != nil {
				log.Debug().Err(err).Msg("Final observation not delivered")
			}
			log.Info().Float64("time", p.dyn.Time).Msg("Stop signal received")
			return Success
		}

		// A final state was already delivered in the previous exchange;
		// the run ends now, one request later, by closing without a frame.
		if p.task.Terminal(p.dyn.Observation()) || p.dyn.Time >= p.stopTime {
			log.Info().Float64("time", p.dyn.Time).Msg("Simulation finished")
			return Success
		}

		p.dyn.Step(action[0])
		if err := p.sendObservation(); err != nil {
			log.Error().Err(err).Msg("Failed to send observation")
			return ErrProtocol
		}
	}
}

func (p *Peer) sendObservation() error {
	frame, err := p.codec.EncodeObservation(p.dyn.Observation(), p.dyn.Time)
	if err != nil {
		return err
	}
	_, err = p.conn.Write(frame)
	return err
}

func (p *Peer) receiveAction() ([]float64, bool, error) {
	buf := make([]byte, p.codec.ActionFrameSize())
	if _, err := io.ReadFull(p.conn, buf); err != nil {
		return nil, false, err
	}
	return p.codec.DecodeAction(buf)
}

// ParseInitialValues decodes the "path=value,path=value" parameter list
// produced by the supervisor.
func ParseInitialValues(s string) (map[string]float64, error) {
	values := make(map[string]float64)
	if s == "" {
		return values, nil
	}
	for _, pair := range strings.Split(s, ",") {
		path, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("malformed parameter pair %q", pair)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", path, err)
		}
		values[path] = v
	}
	return values, nil
}

// init configures logging with zerolog.
func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func main() {
	var (
		model    string
		addr     string
		port     int
		stopTime float64
		initRaw  string
		verbose  bool
	)
	flag.StringVar(&model, "model", os.Getenv("SIMGYM_MODEL"), "simulation model to run")
	flag.StringVar(&addr, "addr", "127.0.0.1", "environment host to dial back to")
	flag.IntVar(&port, "port", 0, "environment port to dial back to")
	flag.Float64Var(&stopTime, "stop", 10, "simulation stop time in seconds")
	flag.StringVar(&initRaw, "init", os.Getenv("SIMGYM_INIT"), "initial values as path=value pairs")
	flag.BoolVar(&verbose, "v", false, "enable debug logging")
	flag.Parse()

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if port == 0 {
		if p, err := strconv.Atoi(os.Getenv("SIMGYM_PORT")); err == nil {
			port = p
		}
	}
	if port == 0 {
		log.Error().Msg("No port given, use -port or SIMGYM_PORT")
		os.Exit(ErrBadFlags)
	}
	if model == "" {
		model = cartpole.ModelName
	}
	if model != cartpole.ModelName {
		log.Error().Str("model", model).Msg("Unknown simulation model")
		os.Exit(ErrBadModel)
	}

	initialValues, err := ParseInitialValues(initRaw)
	if err != nil {
		log.Error().Err(err).Msg("Invalid initial values")
		os.Exit(ErrBadInit)
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		log.Error().Err(err).Msg("Failed to reach environment")
		os.Exit(ErrDial)
	}
	defer conn.Close()

	// Handle SIGINT (CTRL+C) and SIGTERM by tearing the connection down,
	// which unblocks the exchange loop.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		conn.Close()
	}()

	log.Debug().Str("model", model).Int("port", port).Float64("stop", stopTime).Msg("Run starting")
	os.Exit(NewPeer(conn, stopTime, initialValues).Run())
}
