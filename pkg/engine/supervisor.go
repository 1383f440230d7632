// Package engine starts and stops the external simulation engine. One
// engine run is scoped to one episode: the supervisor launches the run in
// the background, the engine dials back into the environment's port, and
// the run ends when the simulation finishes or the supervisor tears it
// down.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrStart reports that the simulation engine could not be launched or
// exited with a failure.
var ErrStart = errors.New("engine start failed")

// DefaultGracePeriod bounds how long Stop waits for the engine to exit
// after cancellation before abandoning it.
const DefaultGracePeriod = 5 * time.Second

// Spec describes one engine run.
type Spec struct {
	// Model names the simulation model to load.
	Model string

	// Port is the environment's bound port the engine must dial back to.
	Port int

	// InitialValues seeds model parameters before the run starts, keyed
	// by the observation descriptors' parameter paths.
	InitialValues map[string]float64
}

// Runner executes one simulation run to completion. The default runner
// spawns the configured engine command; tests and embedded peers inject
// their own.
type Runner func(ctx context.Context, spec Spec) error

// Handle tracks one background engine run.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error // written once, before done is closed
}

// Done is closed when the engine run has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the run result, or nil while the run is still going.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithRunner replaces the process runner, keeping the engine run
// in-process instead of spawning a command.
func WithRunner(r Runner) Option {
	return func(s *Supervisor) { s.runner = r }
}

// WithGracePeriod sets the Stop grace period.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) { s.grace = d }
}

// WithDebug puts the supervisor in debug mode: Start becomes a no-op and
// the operator is expected to launch the simulation peer manually.
func WithDebug(debug bool) Option {
	return func(s *Supervisor) { s.debug = debug }
}

// Supervisor launches the simulation engine in a background execution
// context and tears it down on stop.
type Supervisor struct {
	command []string // argv template for the engine process
	grace   time.Duration
	runner  Runner
	debug   bool
	log     zerolog.Logger
}

// New creates a supervisor around the given engine command template. The
// model, port and initial values of each run are appended to the
// template and exported through the process environment.
func New(command []string, log zerolog.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		command: command,
		grace:   DefaultGracePeriod,
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches one engine run in the background and returns its handle.
// In debug mode nothing is spawned and the handle is nil: the operator
// starts the peer manually against the already-bound port.
func (s *Supervisor) Start(spec Spec) (*Handle, error) {
	if s.debug {
		s.log.Info().
			Str("model", spec.Model).
			Int("port", spec.Port).
			Msg("Debug mode: start the simulation peer manually")
		return nil, nil
	}

	runner := s.runner
	if runner == nil {
		if len(s.command) == 0 {
			return nil, fmt.Errorf("%w: no engine command configured", ErrStart)
		}
		runner = s.runProcess
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	s.log.Debug().Str("model", spec.Model).Int("port", spec.Port).Msg("Starting simulation engine")

	go func() {
		h.err = runner(ctx, spec)
		close(h.done)
	}()
	return h, nil
}

// Stop requests the engine terminate and waits up to the grace period
// for the run to finish. The process is killed through context
// cancellation; if the run still does not return it is abandoned with a
// warning. Stop never returns an error: shutdown is best effort.
func (s *Supervisor) Stop(h *Handle) {
	if h == nil {
		return
	}
	h.cancel()

	select {
	case <-h.done:
		if h.err != nil && !errors.Is(h.err, context.Canceled) {
			s.log.Warn().Err(h.err).Msg("Simulation engine exited with error")
		}
	case <-time.After(s.grace):
		s.log.Warn().Dur("grace", s.grace).Msg("Simulation engine did not exit within grace period, abandoning")
	}
}

// runProcess is the default runner: it executes the configured command
// with the run's model and port appended as flags, and the whole spec
// exported in the environment. Context cancellation kills the process.
func (s *Supervisor) runProcess(ctx context.Context, spec Spec) error {
	args := append([]string{}, s.command[1:]...)
	args = append(args, "-model", spec.Model, "-port", strconv.Itoa(spec.Port))

	cmd := exec.CommandContext(ctx, s.command[0], args...)
	cmd.Env = append(os.Environ(),
		"SIMGYM_MODEL="+spec.Model,
		"SIMGYM_PORT="+strconv.Itoa(spec.Port),
		"SIMGYM_INIT="+encodeInitialValues(spec.InitialValues),
	)

	if err := cmd.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", ErrStart, err)
	}
	return ctx.Err()
}

// encodeInitialValues flattens parameter seeds into "path=value" pairs
// separated by commas, the format the stand-in peer parses back.
func encodeInitialValues(values map[string]float64) string {
	pairs := make([]string, 0, len(values))
	for path, v := range values {
		pairs = append(pairs, fmt.Sprintf("%s=%g", path, v))
	}
	return strings.Join(pairs, ",")
}
