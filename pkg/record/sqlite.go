package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

var errStoreNotInitialized = errors.New("store is not initialized")

// SQLiteStore persists transcripts in a SQLite database file.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveEpisode(ctx context.Context, ep Episode) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO episodes (id, task, started_at, steps, total_reward, terminated, truncated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			steps = excluded.steps,
			total_reward = excluded.total_reward,
			terminated = excluded.terminated,
			truncated = excluded.truncated
	`, ep.ID, ep.Task, ep.StartedAt.UnixNano(), ep.Steps, ep.TotalReward, ep.Terminated, ep.Truncated)
	return err
}

func (s *SQLiteStore) AppendTransition(ctx context.Context, tr Transition) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	action, err := json.Marshal(tr.Action)
	if err != nil {
		return err
	}
	observation, err := json.Marshal(tr.Observation)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO transitions (episode_id, step, action, observation, reward, sim_time, terminated, truncated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(episode_id, step) DO UPDATE SET
			action = excluded.action,
			observation = excluded.observation,
			reward = excluded.reward,
			sim_time = excluded.sim_time,
			terminated = excluded.terminated,
			truncated = excluded.truncated
	`, tr.EpisodeID, tr.Step, action, observation, tr.Reward, tr.SimTime, tr.Terminated, tr.Truncated)
	return err
}

func (s *SQLiteStore) GetEpisode(ctx context.Context, id string) (Episode, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Episode{}, false, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT id, task, started_at, steps, total_reward, terminated, truncated
		FROM episodes WHERE id = ?
	`, id)
	ep, err := scanEpisode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Episode{}, false, nil
		}
		return Episode{}, false, err
	}
	return ep, true, nil
}

func (s *SQLiteStore) ListEpisodes(ctx context.Context) ([]Episode, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, task, started_at, steps, total_reward, terminated, truncated
		FROM episodes ORDER BY started_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Transitions(ctx context.Context, episodeID string) ([]Transition, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT episode_id, step, action, observation, reward, sim_time, terminated, truncated
		FROM transitions WHERE episode_id = ? ORDER BY step
	`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var tr Transition
		var action, observation []byte
		if err := rows.Scan(&tr.EpisodeID, &tr.Step, &action, &observation,
			&tr.Reward, &tr.SimTime, &tr.Terminated, &tr.Truncated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(action, &tr.Action); err != nil {
			return nil, fmt.Errorf("decode action of %s/%d: %w", tr.EpisodeID, tr.Step, err)
		}
		if err := json.Unmarshal(observation, &tr.Observation); err != nil {
			return nil, fmt.Errorf("decode observation of %s/%d: %w", tr.EpisodeID, tr.Step, err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errStoreNotInitialized
	}
	return s.db, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (Episode, error) {
	var ep Episode
	var startedAt int64
	if err := row.Scan(&ep.ID, &ep.Task, &startedAt, &ep.Steps,
		&ep.TotalReward, &ep.Terminated, &ep.Truncated); err != nil {
		return Episode{}, err
	}
	ep.StartedAt = unixNano(startedAt)
	return ep, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS episodes (
			id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			steps INTEGER NOT NULL,
			total_reward REAL NOT NULL,
			terminated INTEGER NOT NULL,
			truncated INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS transitions (
			episode_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			action BLOB NOT NULL,
			observation BLOB NOT NULL,
			reward REAL NOT NULL,
			sim_time REAL NOT NULL,
			terminated INTEGER NOT NULL,
			truncated INTEGER NOT NULL,
			PRIMARY KEY (episode_id, step)
		);
	`)
	return err
}
