// Package producer implements the Stream type: partition-key
// derivation, batched writes with per-record retry accounting, and the
// composite (fan-out) producer, plus configuration-document decoding.
package producer

import (
	"context"
	"fmt"
	"sync"

	"github.com/tritonstream/triton/triton/backend"
	"github.com/tritonstream/triton/triton/record"
	"github.com/tritonstream/triton/triton/retry"
	"github.com/tritonstream/triton/triton/tritonerr"
)

// maxFramedPartitionKey is the hard byte cap a partition key must fit
// under once framed (spec.md §4.4, and the wire header in §6).
const maxFramedPartitionKey = 64

// Result is the per-record outcome of Put / PutMany: the shard the
// record landed on and its assigned sequence number.
type Result struct {
	ShardID string
	SeqNum  string
}

// Stream is a producer-side descriptor for one logical stream: its
// configured partition-key field, its backend handle, and a lazily
// acquired, cached shard-id list.
type Stream struct {
	name              string
	partitionKeyField string
	be                backend.Backend
	codec             *record.Codec

	shardsOnce sync.Once
	shardIDs   []string
	shardsErr  error
}

// NewStream returns a Stream bound to be, reading partitionKeyField out
// of each record to derive its destination shard.
func NewStream(name, partitionKeyField string, be backend.Backend) *Stream {
	return &Stream{
		name:              name,
		partitionKeyField: partitionKeyField,
		be:                be,
		codec:             record.NewCodec(),
	}
}

// Name returns the stream's configured logical name.
func (s *Stream) Name() string { return s.name }

// Shards returns the stream's shard identifiers, acquiring and caching
// them on first call. Concurrent callers during acquisition block on
// the same sync.Once, so the cache is never observed partially
// populated (spec.md §5, §9 Open Question: serialize the first
// observer rather than accept a torn cache).
func (s *Stream) Shards(ctx context.Context) ([]string, error) {
	s.shardsOnce.Do(func() {
		ids, hasMore, err := s.be.DescribeShards(ctx)
		if err != nil {
			s.shardsErr = fmt.Errorf("describing shards for stream %q: %w", s.name, err)
			return
		}
		if hasMore {
			s.shardsErr = &tritonerr.UnimplementedPaginationError{Stream: s.name}
			return
		}
		s.shardIDs = ids
	})
	return s.shardIDs, s.shardsErr
}

// SelectShards projects indices into shard identifiers. An empty
// indices slice means "all shards".
func (s *Stream) SelectShards(ctx context.Context, indices []int) ([]string, error) {
	all, err := s.Shards(ctx)
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return all, nil
	}
	var out = make([]string, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(all) {
			return nil, &tritonerr.ShardNotFoundError{Index: idx}
		}
		out[i] = all[idx]
	}
	return out, nil
}

// Put derives the partition key from data, encodes it, and writes it
// through the backend with the retry policy. It returns the shard the
// record landed on and its assigned sequence number.
func (s *Stream) Put(ctx context.Context, data map[string]interface{}) (Result, error) {
	key, err := s.partitionKey(data)
	if err != nil {
		return Result{}, err
	}
	encoded, err := s.codec.Encode(data)
	if err != nil {
		return Result{}, err
	}

	var result Result
	err = retry.Do(ctx, func() error {
		shardID, seqNum, err := s.be.PutOne(ctx, key, encoded)
		if err != nil {
			return err
		}
		result = Result{ShardID: shardID, SeqNum: seqNum}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("put to stream %q: %w", s.name, err)
	}
	return result, nil
}

// pendingEntry tracks an encoded entry's position in the caller's
// input slice, so results can be written back in the original order
// even after failed entries are pulled out for retry.
type pendingEntry struct {
	idx   int
	entry backend.Entry
}

// PutMany writes records in chunks of at most the backend's BatchMax,
// returning one Result per input record in the same order. Per-entry
// failures inside an otherwise-successful batch are retried on their
// own, up to retry.MaxRetries times, after which the call fails with
// *tritonerr.PutManyError naming the records still unsent.
func (s *Stream) PutMany(ctx context.Context, records []map[string]interface{}) ([]Result, error) {
	var all = make([]pendingEntry, len(records))
	for i, rec := range records {
		key, err := s.partitionKey(rec)
		if err != nil {
			return nil, err
		}
		encoded, err := s.codec.Encode(rec)
		if err != nil {
			return nil, err
		}
		all[i] = pendingEntry{idx: i, entry: backend.Entry{PartitionKey: key, Data: encoded}}
	}

	var results = make([]Result, len(records))
	var batchMax = s.be.BatchMax()

	for start := 0; start < len(all); start += batchMax {
		var end = start + batchMax
		if end > len(all) {
			end = len(all)
		}
		if err := s.putGroup(ctx, all[start:end], results); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (s *Stream) putGroup(ctx context.Context, group []pendingEntry, results []Result) error {
	var remaining = group
	var schedule = retry.NewSchedule()

	for attempt := 0; attempt <= retry.MaxRetries; attempt++ {
		var entries = make([]backend.Entry, len(remaining))
		for i, p := range remaining {
			entries[i] = p.entry
		}

		acks, err := s.be.PutMany(ctx, entries)
		if err != nil {
			if !retry.IsTransient(err) || attempt == retry.MaxRetries {
				return fmt.Errorf("put_many to stream %q: %w", s.name, err)
			}
			if serr := schedule.Sleep(ctx); serr != nil {
				return serr
			}
			continue
		}

		var next []pendingEntry
		for i, ack := range acks {
			if ack.Err != nil {
				next = append(next, remaining[i])
				continue
			}
			results[remaining[i].idx] = Result{ShardID: ack.ShardID, SeqNum: ack.SeqNum}
		}
		if len(next) == 0 {
			return nil
		}
		if attempt == retry.MaxRetries {
			var failed = make([]interface{}, len(next))
			for i, p := range next {
				failed[i] = p.entry
			}
			return &tritonerr.PutManyError{Failed: failed}
		}
		if serr := schedule.Sleep(ctx); serr != nil {
			return serr
		}
		remaining = next
	}
	return nil
}

// partitionKey looks up the configured field in data, coercing its
// value to textual form, and checks the framed-length invariant.
func (s *Stream) partitionKey(data map[string]interface{}) (string, error) {
	value, ok := data[s.partitionKeyField]
	if !ok {
		return "", &tritonerr.MissingPartitionKeyError{Field: s.partitionKeyField}
	}
	var key = coerceText(value)
	if len(key) > maxFramedPartitionKey {
		return "", &tritonerr.PartitionKeyTooLongError{Key: key}
	}
	return key, nil
}

// coerceText renders a partition-key value to its textual form.
func coerceText(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// PutManyPacked writes already-encoded record bodies through the
// backend, bypassing partition-key derivation and codec encoding. It
// exists for the forwarder daemon, which receives records the
// non-blocking client already framed (spec.md §4.10).
func (s *Stream) PutManyPacked(ctx context.Context, entries []backend.Entry) ([]Result, error) {
	var results = make([]Result, len(entries))
	var batchMax = s.be.BatchMax()

	for start := 0; start < len(entries); start += batchMax {
		var end = start + batchMax
		if end > len(entries) {
			end = len(entries)
		}
		acks, err := s.be.PutMany(ctx, entries[start:end])
		if err != nil {
			return results, fmt.Errorf("put_many_packed to stream %q: %w", s.name, err)
		}
		for i, ack := range acks {
			results[start+i] = Result{ShardID: ack.ShardID, SeqNum: ack.SeqNum}
		}
	}
	return results, nil
}
