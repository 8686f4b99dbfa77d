package producer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tritonstream/triton/triton/backend"
)

// fakeBackend is a hand-rolled Backend test double: no real AWS/GCP
// dependency, just enough behavior to drive the producer scenarios in
// spec.md §8.
type fakeBackend struct {
	shardIDs []string
	batchMax int

	mu      sync.Mutex
	records map[string][]backend.RawRecord // shardID -> records
	nextSeq int

	describeShardsCalls int32

	// putManyFailFirstN, when > 0, makes the first N entries of each
	// PutMany call fail until putManyFailCallBudget is exhausted.
	putManyFailFirstN     int
	putManyFailCallBudget int32
	putManyCallCount      int32
}

func newFakeBackend(shardIDs []string, batchMax int) *fakeBackend {
	return &fakeBackend{
		shardIDs: shardIDs,
		batchMax: batchMax,
		records:  make(map[string][]backend.RawRecord),
	}
}

func (f *fakeBackend) BatchMax() int { return f.batchMax }

func (f *fakeBackend) PutOne(ctx context.Context, partitionKey string, data []byte) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var shardID = f.shardIDs[0]
	f.nextSeq++
	var seq = fmt.Sprintf("%d", f.nextSeq)
	f.records[shardID] = append(f.records[shardID], backend.RawRecord{SequenceNumber: seq, Data: data})
	return shardID, seq, nil
}

func (f *fakeBackend) PutMany(ctx context.Context, entries []backend.Entry) ([]backend.Ack, error) {
	atomic.AddInt32(&f.putManyCallCount, 1)

	f.mu.Lock()
	defer f.mu.Unlock()

	var acks = make([]backend.Ack, len(entries))
	var failBudgetLeft = f.putManyFailCallBudget > 0
	if failBudgetLeft {
		f.putManyFailCallBudget--
	}

	for i, e := range entries {
		if failBudgetLeft && i < f.putManyFailFirstN {
			acks[i] = backend.Ack{Err: fmt.Errorf("simulated throughput exceeded")}
			continue
		}
		var shardID = f.shardIDs[0]
		f.nextSeq++
		var seq = fmt.Sprintf("%d", f.nextSeq)
		f.records[shardID] = append(f.records[shardID], backend.RawRecord{SequenceNumber: seq, Data: e.Data})
		acks[i] = backend.Ack{ShardID: shardID, SeqNum: seq}
	}
	return acks, nil
}

func (f *fakeBackend) DescribeShards(ctx context.Context) ([]string, bool, error) {
	atomic.AddInt32(&f.describeShardsCalls, 1)
	return f.shardIDs, false, nil
}

func (f *fakeBackend) GetCursor(ctx context.Context, shardID string, kind backend.CursorKind, afterSeq string) (string, error) {
	return "cursor:" + shardID, nil
}

func (f *fakeBackend) GetRecords(ctx context.Context, cursor string) (backend.Page, error) {
	return backend.Page{}, nil
}

// failingPutManyBackend always fails PutMany, for composite-parity tests.
type failingPutManyBackend struct {
	*fakeBackend
}

func (f *failingPutManyBackend) PutMany(ctx context.Context, entries []backend.Entry) ([]backend.Ack, error) {
	return nil, fmt.Errorf("backend unavailable")
}
