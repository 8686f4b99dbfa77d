// Package tritonerr holds the small set of error kinds that callers of
// triton need to distinguish from an ordinary wrapped error.
package tritonerr

import "fmt"

// MissingPartitionKeyError is returned when a record has neither the
// textual nor the byte-string form of the stream's configured
// partition-key field.
type MissingPartitionKeyError struct {
	Field string
}

func (e *MissingPartitionKeyError) Error() string {
	return fmt.Sprintf("record is missing partition key field %q", e.Field)
}

// PartitionKeyTooLongError is returned when the framed partition key
// exceeds 64 bytes.
type PartitionKeyTooLongError struct {
	Key string
}

func (e *PartitionKeyTooLongError) Error() string {
	return fmt.Sprintf("partition key %q is longer than 64 bytes once framed", e.Key)
}

// BackendError wraps an ambiguous failure surfaced by a backend call.
type BackendError struct {
	Cause error
}

func (e *BackendError) Error() string { return fmt.Sprintf("backend error: %v", e.Cause) }
func (e *BackendError) Unwrap() error { return e.Cause }

// PutManyError is returned by Stream.PutMany when the retry budget is
// exhausted with records still unacknowledged.
type PutManyError struct {
	Failed []interface{}
}

func (e *PutManyError) Error() string {
	return fmt.Sprintf("put_many: %d record(s) failed after exhausting retries", len(e.Failed))
}

// CheckpointConfigError is returned by checkpoint.NewStore when the DSN
// or client name required to partition the checkpoint namespace is
// missing.
type CheckpointConfigError struct {
	Reason string
}

func (e *CheckpointConfigError) Error() string { return "checkpoint config: " + e.Reason }

// UnknownTypeError is returned by the record codec when a value cannot
// be encoded even after the enhanced coercion pass.
type UnknownTypeError struct {
	Value interface{}
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown type %T could not be encoded", e.Value)
}

// ShardNotFoundError is returned by Stream.SelectShards for an
// out-of-range shard index.
type ShardNotFoundError struct {
	Index int
}

func (e *ShardNotFoundError) Error() string {
	return fmt.Sprintf("shard index %d is out of range", e.Index)
}

// EndOfShardError is signaled by a shard iterator's fill() when the
// backend indicates the shard has no further cursor (split or merge).
type EndOfShardError struct {
	ShardID string
}

func (e *EndOfShardError) Error() string { return fmt.Sprintf("shard %q reached end of shard", e.ShardID) }

// InvalidConfigurationError is returned when a configuration document
// entry is malformed or names an unknown provider.
type InvalidConfigurationError struct {
	Reason string
}

func (e *InvalidConfigurationError) Error() string { return "invalid configuration: " + e.Reason }

// StreamNotConfiguredError is returned when a requested logical stream
// name is absent from the configuration document.
type StreamNotConfiguredError struct {
	Name string
}

func (e *StreamNotConfiguredError) Error() string {
	return fmt.Sprintf("stream %q is not configured", e.Name)
}

// UnimplementedPaginationError is returned when a backend reports more
// shards than fit in a single describe_shards page.
type UnimplementedPaginationError struct {
	Stream string
}

func (e *UnimplementedPaginationError) Error() string {
	return fmt.Sprintf("stream %q has more shards than a single page; pagination is not implemented", e.Stream)
}
