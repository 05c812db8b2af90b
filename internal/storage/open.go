package storage

import (
	"fmt"
	"time"
)

// Open creates the backend named by backend. location is a directory for
// badger, a DSN for sqlite and postgres, and ignored for memory.
func Open(backend, location string, timeout time.Duration) (DB, error) {
	switch backend {
	case BackendBadger, "":
		return NewBadger(location)
	case BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		return NewSQLite(location)
	case BackendPostgres:
		return NewPostgres(location, timeout)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
