package store

import (
	"context"
	"log"
)

// matchingLockKey is the advisory lock key for the matching subsystem as a
// whole. One key: any concurrent matching pass anywhere skips.
const matchingLockKey = int64(0x62757974) // "buyt"

// TryLock acquires the global matching lock best-effort via a session
// advisory lock held on a dedicated pooled connection. When the lock is
// taken elsewhere the pass is skipped; the next trigger retries.
func (s *Store) TryLock(ctx context.Context) (func(), bool) {
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		log.Printf("matching lock acquire conn failed: %v", err)
		return nil, false
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, matchingLockKey).Scan(&locked); err != nil {
		conn.Release()
		log.Printf("matching lock failed: %v", err)
		return nil, false
	}
	if !locked {
		conn.Release()
		return nil, false
	}

	release := func() {
		// Unlock on the same session that took the lock.
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, matchingLockKey); err != nil {
			log.Printf("matching unlock failed: %v", err)
		}
		conn.Release()
	}
	return release, true
}
