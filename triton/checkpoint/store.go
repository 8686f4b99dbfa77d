// Package checkpoint persists the last sequence number a consumer has
// processed per client/stream/shard, so a restarted consumer can
// resume without reprocessing or silently skipping records.
package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3" // import for registration side-effect
	"github.com/tritonstream/triton/triton/tritonerr"
	"github.com/tritonstream/triton/triton/tritonlog"
)

// Config names the checkpoint database and the client identity that
// partitions its rows. Two processes checkpointing the same stream
// under different client names never clobber each other.
type Config struct {
	// DSN is a database/sql data source name, e.g. "file:/var/lib/triton/checkpoints.db".
	DSN string
	// ClientName namespaces checkpoint rows for this consumer.
	ClientName string
}

// Store is a database/sql-backed checkpointer. The schema is a single
// table keyed by (client, stream, shard); writes are upserts so
// concurrent or retried checkpoint calls for the same key never
// conflict, only ever converge on the latest write.
type Store struct {
	cfg Config

	mu     sync.Mutex
	db     *sql.DB
	dbErr  error
	dbOnce sync.Once

	metrics *tritonlog.Metrics
}

// WithMetrics attaches a metrics bundle the store increments on every
// successful checkpoint write. Optional: a Store with no metrics
// attached behaves identically.
func (s *Store) WithMetrics(m *tritonlog.Metrics) *Store {
	s.metrics = m
	return s
}

// NewStore validates cfg and returns a Store. The database connection
// itself is opened lazily, on first use, not here.
func NewStore(cfg Config) (*Store, error) {
	if cfg.DSN == "" || cfg.ClientName == "" {
		return nil, &tritonerr.CheckpointConfigError{Reason: "dsn and client_name are both required"}
	}
	return &Store{cfg: cfg}, nil
}

// InitDB provisions the checkpoint schema, so a caller (the daemon at
// startup, or an operator running a one-off migration) can ensure the
// database is ready without having to perform a Checkpoint or
// LastSequenceNumber call first.
func (s *Store) InitDB(ctx context.Context) error {
	_, err := s.open(ctx)
	return err
}

// open lazily connects and migrates the schema, memoizing both the
// handle and any error so every caller after the first observes the
// same outcome instead of racing to open the database.
func (s *Store) open(ctx context.Context) (*sql.DB, error) {
	s.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", s.cfg.DSN)
		if err != nil {
			s.dbErr = fmt.Errorf("opening checkpoint database: %w", err)
			return
		}
		if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
			s.dbErr = fmt.Errorf("migrating checkpoint schema: %w", err)
			return
		}
		s.db = db
	})
	return s.db, s.dbErr
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS checkpoints (
	client_name TEXT NOT NULL,
	stream_name TEXT NOT NULL,
	shard_id    TEXT NOT NULL,
	seq_num     TEXT NOT NULL,
	PRIMARY KEY (client_name, stream_name, shard_id)
)`

// Checkpoint upserts the last-processed sequence number for
// (client, streamName, shardID). A later call for the same key always
// wins, regardless of ordering between concurrent writers.
func (s *Store) Checkpoint(ctx context.Context, streamName, shardID, seqNum string) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO checkpoints (client_name, stream_name, shard_id, seq_num)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (client_name, stream_name, shard_id)
		DO UPDATE SET seq_num = excluded.seq_num
	`, s.cfg.ClientName, streamName, shardID, seqNum)
	if err != nil {
		return fmt.Errorf("checkpointing stream %q shard %q: %w", streamName, shardID, err)
	}
	if s.metrics != nil {
		s.metrics.CheckpointWritesTotal.WithLabelValues(streamName, shardID).Inc()
	}
	return nil
}

// LastSequenceNumber returns the most recently checkpointed sequence
// number for (streamName, shardID) under this store's client
// namespace, and false if no checkpoint has ever been written for that
// shard.
//
// ForStream wraps this method in the two-argument (ctx, shardID) form
// a ShardIterator uses, since it only ever needs to resolve its own
// shard's checkpoint within one stream.
func (s *Store) LastSequenceNumber(ctx context.Context, streamName, shardID string) (string, bool, error) {
	db, err := s.open(ctx)
	if err != nil {
		return "", false, err
	}
	var seqNum string
	err = db.QueryRowContext(ctx, `
		SELECT seq_num FROM checkpoints
		WHERE client_name = ? AND stream_name = ? AND shard_id = ?
	`, s.cfg.ClientName, streamName, shardID).Scan(&seqNum)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading checkpoint for stream %q shard %q: %w", streamName, shardID, err)
	}
	return seqNum, true, nil
}

// Close releases the underlying database handle, if one was opened.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StreamSource binds a Store to a single stream name, satisfying
// consumer.CheckpointSource's two-argument (ctx, shardID) signature.
type StreamSource struct {
	store      *Store
	streamName string
}

// ForStream returns a consumer.CheckpointSource scoped to streamName.
func (s *Store) ForStream(streamName string) *StreamSource {
	return &StreamSource{store: s, streamName: streamName}
}

// LastSequenceNumber satisfies consumer.CheckpointSource.
func (f *StreamSource) LastSequenceNumber(ctx context.Context, shardID string) (string, bool, error) {
	return f.store.LastSequenceNumber(ctx, f.streamName, shardID)
}
