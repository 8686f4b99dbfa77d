// Package record defines the decoded structured value that flows through
// the producer and consumer cores, and the binary codec used to frame it
// on the wire.
package record

// Record is a decoded, immutable view of one entry read from a shard.
type Record struct {
	// ShardID identifies the partition the record was read from.
	ShardID string
	// SeqNum is opaque and monotonically increasing within ShardID.
	SeqNum string
	// Data is the decoded structured value: primitives, nested maps,
	// and ordered sequences.
	Data map[string]interface{}
}

// RawPayload is the pair the backend hands back before decoding: the
// opaque sequence number alongside the still-encoded record body.
type RawPayload struct {
	SequenceNumber string
	Data           []byte
}

// Dateable is implemented by values the enhanced coercion pass should
// render as a calendar date (YYYY-MM-DD) rather than a full timestamp.
type Dateable interface {
	Date() (year int, month int, day int)
}

// Coordinater is implemented by values exposing a geographic coordinate
// pair; the enhanced coercion pass renders them as "(lat, lon)".
type Coordinater interface {
	Coordinates() (lat float64, lon float64)
}
