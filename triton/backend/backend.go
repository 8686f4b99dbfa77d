// Package backend defines the abstract producer/consumer capability
// the rest of triton is polymorphic over, plus two concrete variants:
// a partitioned-log backend (Kinesis-shaped) and a pub/sub backend
// (GCP Pub/Sub-shaped).
package backend

import "context"

// CursorKind selects how GetCursor positions a shard's starting point.
type CursorKind int

const (
	// CursorLatest starts at the shard's current tip.
	CursorLatest CursorKind = iota
	// CursorAll starts at the shard's trim horizon.
	CursorAll
	// CursorAfterSequenceNumber starts immediately after a given
	// sequence number.
	CursorAfterSequenceNumber
)

// Entry is one record queued for a batch PutMany call.
type Entry struct {
	PartitionKey string
	Data         []byte
}

// Ack is the per-entry result of a batch write: either a successful
// placement or a retryable per-entry error.
type Ack struct {
	ShardID string
	SeqNum  string
	Err     error
}

// Page is one page of records returned by GetRecords, plus the opaque
// cursor to request the next page and the lag behind the shard's tip.
type Page struct {
	Records           []RawRecord
	NextShardIterator string // empty when the shard has ended (split/merge)
	MillisBehindTip   int64
}

// RawRecord is a still-encoded record body paired with its sequence
// number, as returned directly by the backend.
type RawRecord struct {
	SequenceNumber string
	Data           []byte
}

// Backend is the capability set the producer and consumer cores
// require. A partitioned-log backend and a pub/sub backend both
// satisfy it, with the pub/sub backend modeling its single
// subscription as one logical shard.
type Backend interface {
	// PutOne writes a single record, keyed by partitionKey, returning
	// the shard it landed on and its assigned sequence number.
	PutOne(ctx context.Context, partitionKey string, data []byte) (shardID, seqNum string, err error)

	// PutMany writes a batch of records in one backend call. The
	// returned slice has the same length and order as entries; a
	// per-entry Ack.Err indicates that entry individually failed
	// while the rest of the batch may have succeeded.
	PutMany(ctx context.Context, entries []Entry) ([]Ack, error)

	// BatchMax is the backend's hard per-call cap on PutMany entries.
	BatchMax() int

	// DescribeShards returns the backend's current shard (or
	// subscription) identifiers. hasMore is true if the backend
	// reports additional pages the caller must not silently drop.
	DescribeShards(ctx context.Context) (shardIDs []string, hasMore bool, err error)

	// GetCursor acquires an opaque iterator cursor for shardID,
	// positioned per kind. afterSeq is only meaningful for
	// CursorAfterSequenceNumber.
	GetCursor(ctx context.Context, shardID string, kind CursorKind, afterSeq string) (cursor string, err error)

	// GetRecords requests the next page of records for a cursor
	// previously returned by GetCursor or a prior GetRecords call.
	GetRecords(ctx context.Context, cursor string) (Page, error)
}
