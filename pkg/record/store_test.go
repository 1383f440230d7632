package record

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// stores returns one store of every kind, initialized and scheduled for
// cleanup.
func stores(t *testing.T) map[string]Store {
	t.Helper()

	out := map[string]Store{
		KindMemory: NewMemoryStore(),
		KindSQLite: NewSQLiteStore(filepath.Join(t.TempDir(), "episodes.db")),
	}
	for kind, s := range out {
		if err := s.Init(context.Background()); err != nil {
			t.Fatalf("%s: Init: %v", kind, err)
		}
		t.Cleanup(func() { s.Close() })
	}
	return out
}

func sampleEpisode(id string, startedAt time.Time) Episode {
	return Episode{
		ID:          id,
		Task:        "cartpole",
		StartedAt:   startedAt,
		Steps:       3,
		TotalReward: 3,
		Terminated:  true,
	}
}

func TestEpisodeRoundTrip(t *testing.T) {
	for kind, s := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			want := sampleEpisode("ep-1", time.Unix(0, 1724400000000000000))

			if err := s.SaveEpisode(ctx, want); err != nil {
				t.Fatalf("SaveEpisode: %v", err)
			}

			got, ok, err := s.GetEpisode(ctx, "ep-1")
			if err != nil {
				t.Fatalf("GetEpisode: %v", err)
			}
			if !ok {
				t.Fatal("episode not found after save")
			}
			if got.Task != want.Task || got.Steps != want.Steps ||
				got.TotalReward != want.TotalReward || !got.Terminated {
				t.Fatalf("got %+v, want %+v", got, want)
			}
			if !got.StartedAt.Equal(want.StartedAt) {
				t.Fatalf("started at %v, want %v", got.StartedAt, want.StartedAt)
			}
		})
	}
}

func TestSaveEpisodeUpdatesExisting(t *testing.T) {
	for kind, s := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			ep := sampleEpisode("ep-1", time.Unix(100, 0))

			if err := s.SaveEpisode(ctx, ep); err != nil {
				t.Fatalf("first SaveEpisode: %v", err)
			}
			ep.Steps = 7
			ep.TotalReward = 7
			if err := s.SaveEpisode(ctx, ep); err != nil {
				t.Fatalf("second SaveEpisode: %v", err)
			}

			got, _, err := s.GetEpisode(ctx, "ep-1")
			if err != nil {
				t.Fatalf("GetEpisode: %v", err)
			}
			if got.Steps != 7 {
				t.Fatalf("steps = %d, want 7", got.Steps)
			}
		})
	}
}

func TestListEpisodesOrderedByStart(t *testing.T) {
	for kind, s := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()

			for i, id := range []string{"ep-c", "ep-a", "ep-b"} {
				// Save out of chronological order.
				at := time.Unix(int64(300-i*100), 0)
				if err := s.SaveEpisode(ctx, sampleEpisode(id, at)); err != nil {
					t.Fatalf("SaveEpisode %s: %v", id, err)
				}
			}

			episodes, err := s.ListEpisodes(ctx)
			if err != nil {
				t.Fatalf("ListEpisodes: %v", err)
			}
			if len(episodes) != 3 {
				t.Fatalf("listed %d episodes, want 3", len(episodes))
			}
			for i := 1; i < len(episodes); i++ {
				if episodes[i].StartedAt.Before(episodes[i-1].StartedAt) {
					t.Fatalf("episodes out of order: %v before %v",
						episodes[i].StartedAt, episodes[i-1].StartedAt)
				}
			}
		})
	}
}

func TestTransitionsRoundTrip(t *testing.T) {
	for kind, s := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()

			for i := 1; i <= 3; i++ {
				tr := Transition{
					EpisodeID:   "ep-1",
					Step:        i,
					Action:      []float64{float64(i)},
					Observation: []float64{0.1, 0.2},
					Reward:      1,
					SimTime:     float64(i) * 0.02,
					Terminated:  i == 3,
				}
				if err := s.AppendTransition(ctx, tr); err != nil {
					t.Fatalf("AppendTransition %d: %v", i, err)
				}
			}

			transitions, err := s.Transitions(ctx, "ep-1")
			if err != nil {
				t.Fatalf("Transitions: %v", err)
			}
			if len(transitions) != 3 {
				t.Fatalf("got %d transitions, want 3", len(transitions))
			}
			for i, tr := range transitions {
				if tr.Step != i+1 {
					t.Fatalf("transition %d has step %d", i, tr.Step)
				}
				if tr.Action[0] != float64(i+1) {
					t.Fatalf("transition %d action = %v", i, tr.Action)
				}
			}
			if !transitions[2].Terminated {
				t.Fatal("final transition lost its terminated flag")
			}

			if other, err := s.Transitions(ctx, "ep-other"); err != nil || len(other) != 0 {
				t.Fatalf("unknown episode: %v transitions, err %v", other, err)
			}
		})
	}
}

func TestGetEpisodeMissing(t *testing.T) {
	for kind, s := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			_, ok, err := s.GetEpisode(context.Background(), "no-such")
			if err != nil {
				t.Fatalf("GetEpisode: %v", err)
			}
			if ok {
				t.Fatal("found an episode that was never saved")
			}
		})
	}
}

func TestUninitializedStoreRejected(t *testing.T) {
	var s Store = NewMemoryStore()
	if err := s.SaveEpisode(context.Background(), Episode{ID: "x"}); err == nil {
		t.Fatal("uninitialized store accepted a write")
	}
}

func TestNewStoreUnknownKind(t *testing.T) {
	if _, err := NewStore("postgres", ""); err == nil {
		t.Fatal("unknown kind accepted")
	}
	if _, err := NewStore(KindMemory, ""); err != nil {
		t.Fatalf("memory kind rejected: %v", err)
	}
}

func TestSQLitePersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "episodes.db")

	s := NewSQLiteStore(path)
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.SaveEpisode(ctx, sampleEpisode("ep-1", time.Unix(100, 0))); err != nil {
		t.Fatalf("SaveEpisode: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := NewSQLiteStore(path)
	if err := reopened.Init(ctx); err != nil {
		t.Fatalf("reopen Init: %v", err)
	}
	defer reopened.Close()

	_, ok, err := reopened.GetEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if !ok {
		t.Fatal("episode lost across reopen")
	}
}
