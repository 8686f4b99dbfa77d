package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tritonstream/triton/triton/record"
	"github.com/tritonstream/triton/triton/tritonerr"
)

// MinPollInterval is the floor between the start of one fill cycle and
// the start of the next (spec.md §4.7). It exists to keep a stalled or
// fully-drained stream from spinning the backend with empty polls.
// A var, not a const, so tests can shrink it.
var MinPollInterval = 1 * time.Second

// Checkpointer is the capability CombinedIterator needs to persist
// progress; triton/checkpoint.Store implements it.
type Checkpointer interface {
	Checkpoint(ctx context.Context, streamName, shardID, seqNum string) error
}

type bufferedRecord struct {
	childIdx int
	rec      record.Record
}

// CombinedIterator round-robins a fixed set of ShardIterators,
// presenting them as a single ordered stream of records. A fill cycle
// visits every live child exactly once, in insertion order, draining
// whatever each child buffers that round before the next cycle begins.
// Records already buffered at the combined level are always delivered
// before a new cycle starts.
type CombinedIterator struct {
	streamName string
	children   []*ShardIterator
	retired    []bool

	mu          sync.Mutex
	buffer      []bufferedRecord
	activeChild int // index into children of the most recently delivered record; -1 if none yet
	lastSeqNum  string

	stopped         bool
	firstFillDone   bool
	lastFillStarted time.Time
}

// NewCombinedIterator builds a CombinedIterator over children, visited
// in the order given.
func NewCombinedIterator(streamName string, children ...*ShardIterator) *CombinedIterator {
	return &CombinedIterator{
		streamName:  streamName,
		children:    children,
		retired:     make([]bool, len(children)),
		activeChild: -1,
	}
}

// Stop marks the iterator for shutdown: Next drains whatever is
// already buffered and then reports end-of-iteration without starting
// another fill cycle. Safe to call from any goroutine.
func (c *CombinedIterator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

// Next returns the next record in fairness order, blocking on at most
// one fill cycle (and the inter-cycle throttle) if the buffer is
// empty. ok is false once every child has reached end-of-shard, once
// Stop was called and the buffer has fully drained, or when a fill
// cycle buffered no records; in the last case a later call starts
// another cycle.
func (c *CombinedIterator) Next(ctx context.Context) (record.Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buffer) == 0 {
		if c.stopped || c.allRetired() {
			return record.Record{}, false, nil
		}
		if err := c.fillCycle(ctx); err != nil {
			return record.Record{}, false, err
		}
		if len(c.buffer) == 0 {
			return record.Record{}, false, nil
		}
	}

	var item = c.buffer[0]
	c.buffer = c.buffer[1:]
	c.activeChild = item.childIdx
	c.lastSeqNum = item.rec.SeqNum
	return item.rec, true, nil
}

func (c *CombinedIterator) allRetired() bool {
	for _, r := range c.retired {
		if !r {
			return false
		}
	}
	return true
}

// fillCycle visits every live child once, in insertion order, throttled
// so cycles start no closer together than MinPollInterval. Must be
// called with c.mu held.
func (c *CombinedIterator) fillCycle(ctx context.Context) error {
	if c.firstFillDone {
		if elapsed := time.Since(c.lastFillStarted); elapsed < MinPollInterval {
			select {
			case <-time.After(MinPollInterval - elapsed):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	c.lastFillStarted = time.Now()
	c.firstFillDone = true

	for idx, child := range c.children {
		if c.retired[idx] {
			continue
		}
		if err := child.Fill(ctx); err != nil {
			var eos *tritonerr.EndOfShardError
			if errors.As(err, &eos) {
				log.WithFields(log.Fields{
					"stream": c.streamName,
					"shard":  child.ShardID(),
				}).Info("shard reached end, retiring iterator")
				c.retired[idx] = true
			} else {
				return fmt.Errorf("filling shard %q: %w", child.ShardID(), err)
			}
		}
		for {
			rec, ok := child.Next()
			if !ok {
				break
			}
			c.buffer = append(c.buffer, bufferedRecord{childIdx: idx, rec: rec})
		}
	}
	return nil
}

// Checkpoint persists progress for every child. The child that
// produced the most recently delivered record is checkpointed at this
// iterator's own last-delivered sequence number (which may trail that
// child's internal buffer tip, if records it has since buffered have
// not yet been handed to a caller); every other child is checkpointed
// at its own last-delivered sequence number.
func (c *CombinedIterator) Checkpoint(ctx context.Context, cp Checkpointer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for idx, child := range c.children {
		var seq string
		if idx == c.activeChild {
			seq = c.lastSeqNum
		} else {
			seq = child.LastSeqNum()
		}
		if seq == "" {
			continue
		}
		if err := cp.Checkpoint(ctx, c.streamName, child.ShardID(), seq); err != nil {
			return fmt.Errorf("checkpointing shard %q: %w", child.ShardID(), err)
		}
	}
	return nil
}
