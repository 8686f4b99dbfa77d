package forward

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tritonstream/triton/triton/backend"
	"github.com/tritonstream/triton/triton/producer"
)

// sinkPutter is a debug sink standing in for the real producer: it
// just records every entry it's handed.
type sinkPutter struct {
	mu      sync.Mutex
	entries []backend.Entry
}

func (s *sinkPutter) PutManyPacked(ctx context.Context, entries []backend.Entry) ([]producer.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return make([]producer.Result, len(entries)), nil
}

func (s *sinkPutter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestDaemonFlushesOnBatchMax(t *testing.T) {
	sink := &sinkPutter{}
	daemon := NewDaemon(func(name string) (PackedPutter, error) { return sink, nil }, 10)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go daemon.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 25; i++ {
		meta, err := EncodeMeta("orders", "k")
		require.NoError(t, err)
		require.NoError(t, WriteFrame(conn, meta, []byte{byte(i)}))
	}

	require.Eventually(t, func() bool { return sink.count() == 25 }, 2*time.Second, 10*time.Millisecond)
}

func TestDaemonFlushesPartialBatchOnTick(t *testing.T) {
	sink := &sinkPutter{}
	daemon := NewDaemon(func(name string) (PackedPutter, error) { return sink, nil }, 1000)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go daemon.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	meta, err := EncodeMeta("orders", "k")
	require.NoError(t, err)
	require.NoError(t, WriteFrame(conn, meta, []byte{0x01}))

	// Never reaches batchMax; only the periodic tick flushes it.
	require.Eventually(t, func() bool { return sink.count() == 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestDaemonDropsBatchLoudlyOnUnresolvableStream(t *testing.T) {
	daemon := NewDaemon(func(name string) (PackedPutter, error) {
		return nil, fmt.Errorf("stream %q not configured", name)
	}, 1)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go daemon.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	meta, err := EncodeMeta("orders", "k")
	require.NoError(t, err)
	require.NoError(t, WriteFrame(conn, meta, []byte{0x01}))

	// The daemon logs and moves on rather than crashing the connection
	// handler; a second message on the same stream still gets a fresh
	// attempt (and still fails to resolve, but does not panic).
	require.NoError(t, WriteFrame(conn, meta, []byte{0x02}))
	time.Sleep(50 * time.Millisecond)
}

func TestForwarderVolumeThroughClientToSink(t *testing.T) {
	const volume = 20000
	const batchMax = 500

	sink := &sinkPutter{}
	daemon := NewDaemon(func(name string) (PackedPutter, error) { return sink, nil }, batchMax)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go daemon.Serve(ctx, ln)

	client, err := NewClient("tcp", ln.Addr().String(), "orders", "order_id")
	require.NoError(t, err)
	defer client.Close()

	for i := 0; i < volume; i++ {
		client.Put(map[string]interface{}{"order_id": fmt.Sprintf("%d", i), "n": int64(i)})
	}

	require.Eventually(t, func() bool { return sink.count() == volume }, 15*time.Second, 50*time.Millisecond)
}
