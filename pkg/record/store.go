// Package record persists episode transcripts: one summary row per
// episode plus the full transition sequence. Recording sits outside the
// step loop's failure domain; environments treat store errors as
// log-and-continue.
package record

import (
	"context"
	"time"
)

// Episode is the per-episode summary row.
type Episode struct {
	ID          string
	Task        string
	StartedAt   time.Time
	Steps       int
	TotalReward float64
	Terminated  bool
	Truncated   bool
}

// Transition is one recorded step of an episode. The final transition of
// a terminated episode repeats the previous observation and reward; that
// duplicate is stored as delivered, not corrected.
type Transition struct {
	EpisodeID   string
	Step        int
	Action      []float64
	Observation []float64
	Reward      float64
	SimTime     float64
	Terminated  bool
	Truncated   bool
}

// Store persists episodes and transitions.
type Store interface {
	Init(ctx context.Context) error
	SaveEpisode(ctx context.Context, ep Episode) error
	AppendTransition(ctx context.Context, tr Transition) error
	GetEpisode(ctx context.Context, id string) (Episode, bool, error)
	ListEpisodes(ctx context.Context) ([]Episode, error)
	Transitions(ctx context.Context, episodeID string) ([]Transition, error)
	Close() error
}
