// Package env implements the episode state machine bridging a Gym-style
// caller to one external simulation peer. The environment owns a single
// channel per episode: it binds a port, lets the supervisor start the
// engine against it, and then runs a strictly alternating action/
// observation exchange until the peer signals the end of its run.
//
// Termination arrives one simulation step late: the peer's empty frame
// means the previously returned observation was already the terminal
// state. The final Step therefore repeats the stale observation and
// reward with Terminated set; trajectory collectors are expected to drop
// that duplicate record.
package env

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"simgym/pkg/engine"
	"simgym/pkg/protocol"
	"simgym/pkg/record"
	"simgym/pkg/transport"
)

// Step is one environment transition.
type Step struct {
	Observation []float64
	Reward      float64
	Terminated  bool // terminal state inside the simulated dynamics
	Truncated   bool // externally imposed step budget exceeded
	Info        map[string]any
}

// Env is the episode state machine. It is not safe for concurrent use;
// the protocol is one outstanding request per step from a single caller.
type Env struct {
	task  Task
	cfg   Config
	codec protocol.Codec
	log   zerolog.Logger
	rng   *rand.Rand
	sup   *engine.Supervisor

	sock   *transport.Socket
	handle *engine.Handle

	phase       Phase
	fatal       error
	episodeID   uuid.UUID
	startedAt   time.Time
	steps       int
	totalReward float64
	lastObs     []float64
	lastReward  float64
	simTime     float64
	recorded    bool
}

// New creates an environment for the given task. The logger is injected;
// the environment never touches global logging state.
func New(task Task, cfg Config, log zerolog.Logger) *Env {
	opts := []engine.Option{engine.WithDebug(cfg.Debug)}
	if cfg.Runner != nil {
		opts = append(opts, engine.WithRunner(cfg.Runner))
	}
	if cfg.GracePeriod > 0 {
		opts = append(opts, engine.WithGracePeriod(cfg.GracePeriod))
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Env{
		task: task,
		cfg:  cfg,
		codec: protocol.Codec{
			ActionSize:      task.ActionSize(),
			ObservationSize: len(task.Observations()),
		},
		log: log.With().Str("task", task.Name()).Logger(),
		rng: rand.New(rand.NewSource(seed)),
		sup: engine.New(cfg.EngineCommand, log, opts...),
	}
}

// Phase returns the current lifecycle phase.
func (e *Env) Phase() Phase { return e.phase }

// EpisodeID identifies the current episode.
func (e *Env) EpisodeID() uuid.UUID { return e.episodeID }

// SimTime returns the latest simulation timestamp in seconds.
func (e *Env) SimTime() float64 { return e.simTime }

// Reset starts a new episode: it tears down any running one, binds a
// fresh channel, starts the engine (unless in debug mode), blocks until
// the peer connects, and returns the initial observation received from
// it. Each episode gets its own connection; the peer's run is scoped to
// one episode and is never reused.
func (e *Env) Reset() ([]float64, map[string]any, error) {
	if e.phase == PhaseClosed {
		return nil, nil, ErrClosed
	}
	if e.fatal != nil {
		return nil, nil, e.fatal
	}
	if e.sock != nil || e.handle != nil {
		e.endEpisode()
	}

	sock, err := transport.Listen(e.cfg.Port, e.log)
	if err != nil {
		return nil, nil, e.fail(err)
	}
	e.sock = sock
	e.episodeID = uuid.New()
	e.startedAt = time.Now()
	e.steps = 0
	e.totalReward = 0
	e.simTime = 0
	e.recorded = false

	e.handle, err = e.sup.Start(engine.Spec{
		Model:         e.task.Name(),
		Port:          sock.Port(),
		InitialValues: e.sampleInitialValues(),
	})
	if err != nil {
		return nil, nil, e.fail(err)
	}

	e.phase = PhaseAwaitingInitialObservation
	if err := sock.Accept(e.cfg.acceptTimeout()); err != nil {
		// The engine may have died before dialing in; its exit error is
		// more useful than the accept timeout.
		if e.handle != nil {
			if herr := e.handle.Err(); herr != nil {
				err = herr
			}
		}
		return nil, nil, e.fail(err)
	}

	obs, err := e.receiveObservation()
	if err != nil {
		return nil, nil, e.fail(err)
	}
	if obs.End {
		return nil, nil, e.fail(fmt.Errorf("%w: peer ended before initial observation", transport.ErrClosed))
	}

	e.lastObs = obs.Values
	e.lastReward = 0
	e.simTime = obs.Time
	e.phase = PhaseRunning
	e.log.Debug().Str("episode", e.episodeID.String()).Msg("Episode started")
	return obs.Values, e.info(), nil
}

// Step sends the action to the peer and blocks for the next frame. A
// normal observation frame yields a regular transition; the
// end-of-simulation sentinel yields the duplicated terminal transition
// described in the package comment. Transport and framing errors are
// fatal: they are returned, remembered, and every later Step or Reset
// fails with the same error until Close.
func (e *Env) Step(action []float64) (Step, error) {
	if e.phase == PhaseClosed {
		return Step{}, ErrClosed
	}
	if e.fatal != nil {
		return Step{}, e.fatal
	}
	if e.phase != PhaseRunning {
		return Step{}, fmt.Errorf("%w (phase %s)", ErrNotReset, e.phase)
	}
	if len(action) != e.codec.ActionSize {
		return Step{}, fmt.Errorf("%w: got %d values, want %d", ErrActionShape, len(action), e.codec.ActionSize)
	}

	frame, err := e.codec.EncodeAction(action, false)
	if err != nil {
		return Step{}, err
	}
	if err := e.sock.Send(frame); err != nil {
		return Step{}, e.fail(err)
	}
	obs, err := e.receiveObservation()
	if err != nil {
		return Step{}, e.fail(err)
	}

	e.steps++
	var st Step
	if obs.End {
		// The previous observation was already terminal; the sentinel
		// arrives one step late. Repeat the stale values and flag them.
		e.phase = PhaseTerminating
		st = Step{
			Observation: e.lastObs,
			Reward:      e.lastReward,
			Terminated:  true,
			Info:        e.info(),
		}
		st.Info["disposable_repeat"] = true
		e.recordTransition(action, st)
		e.finishEpisode(true, false)
		e.log.Debug().Str("episode", e.episodeID.String()).Int("steps", e.steps).Msg("Simulation ended")
		return st, nil
	}

	e.lastObs = obs.Values
	e.simTime = obs.Time
	reward := e.task.Reward(obs.Values, obs.Time)
	e.lastReward = reward
	e.totalReward += reward

	st = Step{
		Observation: obs.Values,
		Reward:      reward,
		Terminated:  e.task.Terminal(obs.Values),
		Truncated:   e.cfg.StepLimit > 0 && e.steps >= e.cfg.StepLimit,
		Info:        e.info(),
	}
	e.recordTransition(action, st)
	if st.Terminated || st.Truncated {
		e.finishEpisode(st.Terminated, st.Truncated)
	}
	return st, nil
}

// Close tears the environment down for good: any running episode is
// stopped, the supervisor and channel are released. Idempotent; closing
// a closed environment is a no-op.
func (e *Env) Close() {
	if e.phase == PhaseClosed {
		return
	}
	if e.sock != nil || e.handle != nil {
		e.endEpisode()
	}
	e.phase = PhaseClosed
	e.log.Debug().Msg("Environment closed")
}

// receiveObservation assembles and decodes one inbound frame.
func (e *Env) receiveObservation() (protocol.Observation, error) {
	data, err := e.sock.Receive(e.codec.ObservationFrameSize())
	if err != nil {
		return protocol.Observation{}, err
	}
	return e.codec.DecodeObservation(data)
}

// fail records the first fatal error and releases episode resources.
// Later Step and Reset calls return the same error; only Close remains
// useful. The domain state cannot be resynchronized after a desync, so
// there is no retry.
func (e *Env) fail(err error) error {
	e.log.Error().Err(err).Str("phase", e.phase.String()).Msg("Episode failed")
	if e.fatal == nil {
		e.fatal = err
	}
	if e.sock != nil {
		e.sock.Close()
		e.sock = nil
	}
	e.sup.Stop(e.handle)
	e.handle = nil
	return err
}

// endEpisode stops the running episode: best-effort stop signal to the
// peer, then supervisor and socket teardown. Never fails; shutdown
// errors are logged and swallowed.
func (e *Env) endEpisode() {
	if e.sock != nil {
		if e.phase == PhaseRunning {
			e.sendStopSignal()
		}
		e.sock.Close()
		e.sock = nil
	}
	e.sup.Stop(e.handle)
	e.handle = nil
	e.finishEpisode(false, true)
	e.phase = PhaseUnstarted
}

// sendStopSignal asks the peer to end its run: a zero action frame with
// the stop flag set, followed by a best-effort drain of the peer's last
// write.
func (e *Env) sendStopSignal() {
	frame, err := e.codec.EncodeAction(make([]float64, e.codec.ActionSize), true)
	if err != nil {
		return
	}
	if err := e.sock.Send(frame); err != nil {
		e.log.Debug().Err(err).Msg("Stop signal not sent, connection probably already gone")
		return
	}
	if _, err := e.sock.Receive(e.codec.ObservationFrameSize()); err != nil {
		e.log.Debug().Err(err).Msg("Drain after stop signal failed")
	}
}

func (e *Env) info() map[string]any {
	return map[string]any{
		"episode_id":      e.episodeID.String(),
		"steps":           e.steps,
		"simulation_time": e.simTime,
	}
}

// sampleInitialValues resolves the observation descriptors into the
// per-episode parameter seeds handed to the supervisor. Slots without a
// default are sampled uniformly from their bounds.
func (e *Env) sampleInitialValues() map[string]float64 {
	specs := e.task.Observations()
	values := make(map[string]float64, len(specs))
	for _, spec := range specs {
		if spec.Parameter == "" {
			continue
		}
		v := 0.0
		switch {
		case spec.Default != nil:
			v = *spec.Default
		case isFinite(spec.Low) && isFinite(spec.High):
			v = spec.Low + e.rng.Float64()*(spec.High-spec.Low)
		}
		values[spec.Parameter] = v
	}
	return values
}

func isFinite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

// recordTransition appends the transition to the configured recorder.
// Recording is ancillary: failures are logged, never propagated.
func (e *Env) recordTransition(action []float64, st Step) {
	if e.cfg.Recorder == nil {
		return
	}
	tr := record.Transition{
		EpisodeID:   e.episodeID.String(),
		Step:        e.steps,
		Action:      action,
		Observation: st.Observation,
		Reward:      st.Reward,
		SimTime:     e.simTime,
		Terminated:  st.Terminated,
		Truncated:   st.Truncated,
	}
	if err := e.cfg.Recorder.AppendTransition(context.Background(), tr); err != nil {
		e.log.Warn().Err(err).Msg("Failed to record transition")
	}
}

// finishEpisode writes the episode summary once per episode.
func (e *Env) finishEpisode(terminated, truncated bool) {
	if e.cfg.Recorder == nil || e.recorded || e.episodeID == uuid.Nil {
		return
	}
	e.recorded = true
	ep := record.Episode{
		ID:          e.episodeID.String(),
		Task:        e.task.Name(),
		StartedAt:   e.startedAt,
		Steps:       e.steps,
		TotalReward: e.totalReward,
		Terminated:  terminated,
		Truncated:   truncated,
	}
	if err := e.cfg.Recorder.SaveEpisode(context.Background(), ep); err != nil {
		e.log.Warn().Err(err).Msg("Failed to record episode")
	}
}
