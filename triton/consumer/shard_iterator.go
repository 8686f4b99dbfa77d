// Package consumer implements per-shard iterators and the combined,
// fairness-scheduled iterator built over them.
package consumer

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tritonstream/triton/triton/backend"
	"github.com/tritonstream/triton/triton/record"
	"github.com/tritonstream/triton/triton/retry"
	"github.com/tritonstream/triton/triton/tritonerr"
	"github.com/tritonstream/triton/triton/tritonlog"
)

// IteratorKind selects where a fresh ShardIterator starts reading.
type IteratorKind int

const (
	// Latest starts at the shard's current tip.
	Latest IteratorKind = iota
	// All starts at the shard's trim horizon.
	All
	// FromSeqNum starts immediately after a given sequence number.
	FromSeqNum
	// FromCheckpoint consults a CheckpointSource for the last
	// processed sequence number, falling back to a configured kind
	// (All by default) when none is found.
	FromCheckpoint
)

// CheckpointSource is the minimal capability a ShardIterator needs
// from the checkpointer to resume reading (spec.md §4.6).
type CheckpointSource interface {
	LastSequenceNumber(ctx context.Context, shardID string) (seqNum string, found bool, err error)
}

// ShardIterator is a single-shard, single-consumer cursor. The
// backend cursor is acquired lazily, on the first Fill call, not at
// construction.
type ShardIterator struct {
	streamName string
	shardID    string
	be         backend.Backend
	codec      *record.Codec

	kind         IteratorKind
	startSeq     string
	fallbackKind IteratorKind
	checkpoints  CheckpointSource

	mu               sync.Mutex
	acquired         bool
	cursor           string
	buffer           []record.Record
	empty            bool
	lastSeqNum       string
	behindLatestSecs float64
	eos              bool

	metrics *tritonlog.Metrics
}

// NewShardIterator builds an iterator over shardID, not yet holding a
// live backend cursor. fallbackKind is used when kind is
// FromCheckpoint and no checkpoint exists; it defaults to All.
func NewShardIterator(streamName, shardID string, be backend.Backend, kind IteratorKind, startSeq string, checkpoints CheckpointSource) *ShardIterator {
	return &ShardIterator{
		streamName:   streamName,
		shardID:      shardID,
		be:           be,
		codec:        record.NewCodec(),
		kind:         kind,
		startSeq:     startSeq,
		fallbackKind: All,
		checkpoints:  checkpoints,
		empty:        true,
	}
}

// WithMetrics attaches a metrics bundle the iterator updates as it
// fills. Optional: a ShardIterator with no metrics attached behaves
// identically, just without the gauge update.
func (it *ShardIterator) WithMetrics(m *tritonlog.Metrics) *ShardIterator {
	it.metrics = m
	return it
}

// ShardID returns the shard this iterator reads.
func (it *ShardIterator) ShardID() string { return it.shardID }

// LastSeqNum returns the sequence number of the most recently
// delivered record, or "" if nothing has been delivered yet.
func (it *ShardIterator) LastSeqNum() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.lastSeqNum
}

// Empty reports whether the internal buffer is currently drained.
func (it *ShardIterator) Empty() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.empty
}

// BehindLatestSecs reports how far behind the shard's tip the last
// fill observed this iterator to be, for catch-up telemetry.
func (it *ShardIterator) BehindLatestSecs() float64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.behindLatestSecs
}

// acquire resolves a live backend cursor, consulting the checkpointer
// first if this iterator was built FROM_CHECKPOINT. Must be called
// with it.mu held.
func (it *ShardIterator) acquire(ctx context.Context) error {
	if it.acquired {
		return nil
	}

	var kind = it.kind
	var startSeq = it.startSeq

	if kind == FromCheckpoint {
		seq, found, err := it.checkpoints.LastSequenceNumber(ctx, it.shardID)
		if err != nil {
			return fmt.Errorf("resolving checkpoint for shard %q: %w", it.shardID, err)
		}
		if found {
			kind = FromSeqNum
			startSeq = seq
		} else {
			kind = it.fallbackKind
		}
	}

	var backendKind backend.CursorKind
	switch kind {
	case Latest:
		backendKind = backend.CursorLatest
	case FromSeqNum:
		backendKind = backend.CursorAfterSequenceNumber
	default:
		backendKind = backend.CursorAll
	}

	cursor, err := it.be.GetCursor(ctx, it.shardID, backendKind, startSeq)
	if err != nil {
		return fmt.Errorf("acquiring cursor for shard %q: %w", it.shardID, err)
	}
	it.cursor = cursor
	it.acquired = true
	return nil
}

// Fill requests the next page from the backend, decodes it, and
// appends it to the buffer. A throughput-exceeded signal is logged and
// swallowed without advancing the cursor, so the next Fill retries
// with the same cursor. A backend signal that the shard has ended
// (no NextShardIterator) buffers whatever records arrived with that
// final page and then returns *tritonerr.EndOfShardError.
func (it *ShardIterator) Fill(ctx context.Context) error {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.eos {
		return &tritonerr.EndOfShardError{ShardID: it.shardID}
	}
	if err := it.acquire(ctx); err != nil {
		return err
	}

	page, err := it.be.GetRecords(ctx, it.cursor)
	if err != nil {
		if retry.IsTransient(err) {
			log.WithFields(log.Fields{
				"stream": it.streamName,
				"shard":  it.shardID,
			}).Warn("throughput exceeded during fill, will retry with same cursor")
			return nil
		}
		return fmt.Errorf("filling shard %q: %w", it.shardID, err)
	}

	for _, raw := range page.Records {
		data, err := it.codec.Decode(raw.Data)
		if err != nil {
			return fmt.Errorf("decoding record from shard %q: %w", it.shardID, err)
		}
		it.buffer = append(it.buffer, record.Record{
			ShardID: it.shardID,
			SeqNum:  raw.SequenceNumber,
			Data:    data,
		})
	}
	it.behindLatestSecs = float64(page.MillisBehindTip) / 1000
	it.empty = len(it.buffer) == 0
	if it.metrics != nil {
		it.metrics.IteratorBehindLatestSecs.WithLabelValues(it.streamName, it.shardID).Set(it.behindLatestSecs)
	}

	if page.NextShardIterator == "" {
		it.eos = true
		return &tritonerr.EndOfShardError{ShardID: it.shardID}
	}
	it.cursor = page.NextShardIterator
	return nil
}

// Next returns the head of the buffer, or ok=false if the buffer is
// currently empty (the consumer may call Fill and try again later).
func (it *ShardIterator) Next() (record.Record, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if len(it.buffer) == 0 {
		it.empty = true
		return record.Record{}, false
	}
	var r = it.buffer[0]
	it.buffer = it.buffer[1:]
	it.lastSeqNum = r.SeqNum
	it.empty = len(it.buffer) == 0
	return r, true
}
