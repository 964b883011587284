package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketAgentState = []byte("agent_state")
	keyLastCapture   = []byte("last_capture")
)

// State persists small pieces of agent runtime state across restarts,
// currently the capture window clock.
type State struct {
	db *bolt.DB
}

// OpenState creates or opens the state database at path, creating parent
// directories as needed.
func OpenState(path string) (*State, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAgentState)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the underlying database.
func (s *State) Close() error {
	return s.db.Close()
}

// LastCapture returns the start time of the last capture window, or the
// zero time when none has been recorded.
func (s *State) LastCapture() (time.Time, error) {
	var t time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketAgentState).Get(keyLastCapture)
		if raw == nil {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, string(raw))
		if err != nil {
			return fmt.Errorf("parse last capture time: %w", err)
		}
		t = parsed
		return nil
	})
	return t, err
}

// SetLastCapture records the start of a capture window.
func (s *State) SetLastCapture(t time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgentState).Put(keyLastCapture, []byte(t.UTC().Format(time.RFC3339Nano)))
	})
}
