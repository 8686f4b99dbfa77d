package consumer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tritonstream/triton/triton/backend"
)

type fakePage struct {
	records []backend.RawRecord
	eos     bool
}

// fakeConsumerBackend is a hand-rolled Backend test double driving a
// scripted sequence of pages per shard, without any real Kinesis/
// Pub-Sub dependency.
type fakeConsumerBackend struct {
	mu              sync.Mutex
	pages           map[string][]fakePage
	errs            map[string][]error // queued errors returned before paging resumes
	getRecordsCalls int32
}

func newFakeConsumerBackend() *fakeConsumerBackend {
	return &fakeConsumerBackend{
		pages: make(map[string][]fakePage),
		errs:  make(map[string][]error),
	}
}

// withPages scripts the page sequence GetRecords will walk for shardID.
func (f *fakeConsumerBackend) withPages(shardID string, pages ...fakePage) *fakeConsumerBackend {
	f.pages[shardID] = pages
	return f
}

// withErrors queues errors that GetRecords returns, in order, the
// first len(errs) times a given shard's cursor is fetched, before
// paging resumes normally.
func (f *fakeConsumerBackend) withErrors(shardID string, errs ...error) *fakeConsumerBackend {
	f.errs[shardID] = errs
	return f
}

func (f *fakeConsumerBackend) BatchMax() int { return 500 }

func (f *fakeConsumerBackend) PutOne(ctx context.Context, partitionKey string, data []byte) (string, string, error) {
	return "", "", fmt.Errorf("not implemented")
}

func (f *fakeConsumerBackend) PutMany(ctx context.Context, entries []backend.Entry) ([]backend.Ack, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeConsumerBackend) DescribeShards(ctx context.Context) ([]string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.pages {
		ids = append(ids, id)
	}
	return ids, false, nil
}

func (f *fakeConsumerBackend) GetCursor(ctx context.Context, shardID string, kind backend.CursorKind, afterSeq string) (string, error) {
	return fmt.Sprintf("%s#0", shardID), nil
}

func (f *fakeConsumerBackend) GetRecords(ctx context.Context, cursor string) (backend.Page, error) {
	atomic.AddInt32(&f.getRecordsCalls, 1)

	shardID, idxStr, found := strings.Cut(cursor, "#")
	if !found {
		return backend.Page{}, fmt.Errorf("malformed cursor %q", cursor)
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return backend.Page{}, fmt.Errorf("malformed cursor %q: %w", cursor, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if queued := f.errs[shardID]; len(queued) > 0 {
		f.errs[shardID] = queued[1:]
		return backend.Page{}, queued[0]
	}

	pages := f.pages[shardID]
	if idx >= len(pages) {
		return backend.Page{NextShardIterator: cursor}, nil
	}
	p := pages[idx]
	next := fmt.Sprintf("%s#%d", shardID, idx+1)
	if p.eos {
		return backend.Page{Records: p.records}, nil
	}
	return backend.Page{Records: p.records, NextShardIterator: next}, nil
}

// transientErr is a retry.TransientError test double.
type transientErr struct{ msg string }

func (e *transientErr) Error() string   { return e.msg }
func (e *transientErr) Transient() bool { return true }

// fakeCheckpointSource is a CheckpointSource test double.
type fakeCheckpointSource struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeCheckpointSource() *fakeCheckpointSource {
	return &fakeCheckpointSource{values: make(map[string]string)}
}

func (f *fakeCheckpointSource) LastSequenceNumber(ctx context.Context, shardID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq, ok := f.values[shardID]
	return seq, ok, nil
}

// fakeCheckpointer is a Checkpointer test double recording every call.
type fakeCheckpointer struct {
	mu    sync.Mutex
	calls map[string]string // shardID -> seqNum, last write wins
}

func newFakeCheckpointer() *fakeCheckpointer {
	return &fakeCheckpointer{calls: make(map[string]string)}
}

func (f *fakeCheckpointer) Checkpoint(ctx context.Context, streamName, shardID, seqNum string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[shardID] = seqNum
	return nil
}
