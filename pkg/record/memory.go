package record

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps transcripts in process memory. Used by tests and by
// console sessions without a database path.
type MemoryStore struct {
	mu          sync.RWMutex
	episodes    map[string]Episode
	transitions map[string][]Transition
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.episodes == nil {
		s.episodes = make(map[string]Episode)
		s.transitions = make(map[string][]Transition)
	}
	return nil
}

func (s *MemoryStore) SaveEpisode(ctx context.Context, ep Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	s.episodes[ep.ID] = ep
	return nil
}

func (s *MemoryStore) AppendTransition(ctx context.Context, tr Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	s.transitions[tr.EpisodeID] = append(s.transitions[tr.EpisodeID], tr)
	return nil
}

func (s *MemoryStore) GetEpisode(ctx context.Context, id string) (Episode, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return Episode{}, false, err
	}
	ep, ok := s.episodes[id]
	return ep, ok, nil
}

func (s *MemoryStore) ListEpisodes(ctx context.Context) ([]Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, err
	}
	out := make([]Episode, 0, len(s.episodes))
	for _, ep := range s.episodes {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (s *MemoryStore) Transitions(ctx context.Context, episodeID string) ([]Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, err
	}
	trs := s.transitions[episodeID]
	out := make([]Transition, len(trs))
	copy(out, trs)
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) ready() error {
	if s.episodes == nil {
		return errStoreNotInitialized
	}
	return nil
}
