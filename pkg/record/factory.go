package record

import (
	"fmt"
	"time"
)

// Store kinds accepted by NewStore.
const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
)

// NewStore creates a store of the given kind. The path is only used by
// the sqlite kind.
func NewStore(kind, path string) (Store, error) {
	switch kind {
	case KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite:
		return NewSQLiteStore(path), nil
	default:
		return nil, fmt.Errorf("unknown store kind: %q", kind)
	}
}

func unixNano(n int64) time.Time {
	return time.Unix(0, n)
}
