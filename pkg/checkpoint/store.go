package checkpoint

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/fluxgrid/fluxgrid/pkg/types"
)

var bucketCheckpoints = []byte("checkpoints")

// Store persists CheckpointMetadata across worker restarts.
type Store struct {
	db *bolt.DB
}

// NewStore opens (creating if necessary) a BoltDB-backed checkpoint store
// in dataDir.
func NewStore(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "checkpoints.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCheckpoints)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating checkpoints bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// epoch is zero-padded so that key order within a (job, run, operator,
// task index) prefix sorts numerically, not lexicographically: LatestFor
// relies on this to treat the last matching key under a cursor scan as
// the highest epoch.
func checkpointKey(job types.JobID, run types.RunID, op types.OperatorID, idx types.TaskIndex, epoch uint64) []byte {
	return []byte(fmt.Sprintf("%s/%d/%s/%d/%020d", job, run, op, idx, epoch))
}

// Put writes a CheckpointMetadata record keyed by
// (JobID, RunID, OperatorID, TaskIndex, Epoch).
func (s *Store) Put(meta types.CheckpointMetadata) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshaling checkpoint metadata: %w", err)
		}
		key := checkpointKey(meta.JobID, meta.RunID, meta.OperatorID, meta.TaskIndex, meta.Epoch)
		return tx.Bucket(bucketCheckpoints).Put(key, data)
	})
}

// LatestFor returns the highest-epoch CheckpointMetadata recorded for a
// subtask, or ok=false if none exists. A restarted task uses this to seed
// its in-memory state before on_start runs.
func (s *Store) LatestFor(job types.JobID, run types.RunID, op types.OperatorID, idx types.TaskIndex) (meta types.CheckpointMetadata, ok bool, err error) {
	prefix := []byte(fmt.Sprintf("%s/%d/%s/%d/", job, run, op, idx))

	err = s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCheckpoints).Cursor()
		var latest []byte
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			latest = v
		}
		if latest == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(latest, &meta)
	})
	return meta, ok, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
