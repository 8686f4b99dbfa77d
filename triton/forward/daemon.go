package forward

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tritonstream/triton/triton/backend"
	"github.com/tritonstream/triton/triton/producer"
)

// PackedPutter is the minimal producer capability the daemon needs:
// dispatching already-encoded frame bodies, keyed by partition key,
// without re-running the codec. *producer.Stream satisfies this.
type PackedPutter interface {
	PutManyPacked(ctx context.Context, entries []backend.Entry) ([]producer.Result, error)
}

// StreamResolver looks up the PackedPutter for a logical stream name,
// as accumulated frames are flushed. producer.Registry.Lookup
// satisfies the shape of this modulo its *producer.Stream return type;
// callers adapt with a small closure.
type StreamResolver func(streamName string) (PackedPutter, error)

// FlushInterval is the periodic tick that flushes a partially-filled
// per-stream batch even if it never reaches BatchMax.
const FlushInterval = 1 * time.Second

// Daemon accepts forwarder connections, reassembles per-stream
// batches, and flushes them to the producer. On backend failure a
// batch is dropped with loud logging: the non-blocking forwarding path
// is not durable by design.
type Daemon struct {
	resolve  StreamResolver
	batchMax int

	mu      sync.Mutex
	batches map[string][]backend.Entry
}

// NewDaemon builds a Daemon that flushes a stream's batch once it
// reaches batchMax entries, or every FlushInterval, whichever comes
// first.
func NewDaemon(resolve StreamResolver, batchMax int) *Daemon {
	return &Daemon{
		resolve:  resolve,
		batchMax: batchMax,
		batches:  make(map[string][]backend.Entry),
	}
}

// Serve accepts connections on ln until ctx is done, handling each
// connection's frames on its own goroutine, and runs the periodic
// flush ticker until ctx is done.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	var tickerDone = make(chan struct{})
	go func() {
		defer close(tickerDone)
		var ticker = time.NewTicker(FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.flushAll(ctx)
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				wg.Wait()
				<-tickerDone
				return nil
			default:
				return fmt.Errorf("accepting forwarder connection: %w", err)
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.handleConn(ctx, conn)
		}()
	}
}

func (d *Daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			return // client disconnected, or a malformed frame ended the stream
		}
		d.accept(ctx, frame)
	}
}

// accept appends frame to its stream's batch, flushing immediately if
// the batch has reached batchMax.
func (d *Daemon) accept(ctx context.Context, frame Frame) {
	d.mu.Lock()
	d.batches[frame.Meta.StreamName] = append(d.batches[frame.Meta.StreamName], backend.Entry{
		PartitionKey: frame.Meta.PartitionKey,
		Data:         frame.Body,
	})
	var ready = len(d.batches[frame.Meta.StreamName]) >= d.batchMax
	d.mu.Unlock()

	if ready {
		d.flushStream(ctx, frame.Meta.StreamName)
	}
}

func (d *Daemon) flushAll(ctx context.Context) {
	d.mu.Lock()
	var names = make([]string, 0, len(d.batches))
	for name, entries := range d.batches {
		if len(entries) > 0 {
			names = append(names, name)
		}
	}
	d.mu.Unlock()

	for _, name := range names {
		d.flushStream(ctx, name)
	}
}

func (d *Daemon) flushStream(ctx context.Context, streamName string) {
	d.mu.Lock()
	var entries = d.batches[streamName]
	delete(d.batches, streamName)
	d.mu.Unlock()

	if len(entries) == 0 {
		return
	}

	putter, err := d.resolve(streamName)
	if err != nil {
		log.WithFields(log.Fields{"stream": streamName, "err": err, "dropped": len(entries)}).
			Error("forwarder daemon: dropping batch, stream not resolvable")
		return
	}

	if _, err := putter.PutManyPacked(ctx, entries); err != nil {
		log.WithFields(log.Fields{"stream": streamName, "err": err, "dropped": len(entries)}).
			Error("forwarder daemon: dropping batch after backend failure")
	}
}
