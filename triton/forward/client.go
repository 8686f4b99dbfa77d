package forward

import (
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tritonstream/triton/triton/record"
	"github.com/tritonstream/triton/triton/tritonerr"
	"github.com/tritonstream/triton/triton/tritonlog"
)

// MaxQueuedMessages is the high-water mark on a Client's send queue.
// Once full, Put drops the record rather than block the caller.
const MaxQueuedMessages = 3500

// LingerShutdownMsecs bounds how long Close waits for the writer
// goroutine to drain the queue before returning anyway.
const LingerShutdownMsecs = 3000

const maxFieldLen = 64

type queuedFrame struct {
	meta []byte
	body []byte
}

// Client is a non-blocking forwarder client bound to a single stream.
// One writer goroutine owns the underlying connection; Put never
// blocks the caller — a full queue or a send failure is logged and the
// record is dropped.
type Client struct {
	streamName        string
	partitionKeyField string
	network, addr     string
	codec             *record.Codec

	queue chan queuedFrame
	done  chan struct{}
	wg    sync.WaitGroup

	connMu sync.Mutex
	conn   net.Conn

	metrics *tritonlog.Metrics
}

// WithMetrics attaches a metrics bundle the client updates on every
// Put. Optional: a Client with no metrics attached behaves identically.
func (c *Client) WithMetrics(m *tritonlog.Metrics) *Client {
	c.metrics = m
	return c
}

// NewClient builds a Client for streamName, connecting lazily (on
// first Put) to addr over network ("tcp" or "unix"). streamName longer
// than 64 UTF-8 bytes is rejected at construction, matching the
// partition-key length check applied per record.
func NewClient(network, addr, streamName, partitionKeyField string) (*Client, error) {
	if len([]byte(streamName)) > maxFieldLen {
		return nil, fmt.Errorf("stream name %q is longer than %d bytes once framed", streamName, maxFieldLen)
	}
	var c = &Client{
		streamName:        streamName,
		partitionKeyField: partitionKeyField,
		network:           network,
		addr:              addr,
		codec:             record.NewCodec(),
		queue:             make(chan queuedFrame, MaxQueuedMessages),
		done:              make(chan struct{}),
	}
	c.wg.Add(1)
	go c.writeLoop()
	return c, nil
}

// Put derives the partition key from data, encodes the record, and
// enqueues a two-part frame for the writer goroutine. It never blocks
// and never returns an error to a caller expecting fire-and-forget
// semantics: a derivation, encoding, queue-full, or send failure is
// logged and the record is silently dropped, exactly as spec.md §4.9
// requires.
func (c *Client) Put(data map[string]interface{}) {
	partitionKey, err := c.derivePartitionKey(data)
	if err != nil {
		log.WithFields(log.Fields{"stream": c.streamName, "err": err}).Warn("forwarder: dropping record, partition key error")
		return
	}

	body, err := c.codec.Encode(data)
	if err != nil {
		log.WithFields(log.Fields{"stream": c.streamName, "err": err}).Warn("forwarder: dropping record, serialization error")
		return
	}

	meta, err := EncodeMeta(c.streamName, partitionKey)
	if err != nil {
		log.WithFields(log.Fields{"stream": c.streamName, "err": err}).Warn("forwarder: dropping record, meta encoding error")
		return
	}

	select {
	case c.queue <- queuedFrame{meta: meta, body: body}:
	default:
		log.WithFields(log.Fields{"stream": c.streamName}).Warn("forwarder: queue full, dropping record")
	}
	if c.metrics != nil {
		c.metrics.ForwarderQueueDepth.WithLabelValues(c.streamName).Set(float64(len(c.queue)))
	}
}

func (c *Client) derivePartitionKey(data map[string]interface{}) (string, error) {
	v, ok := data[c.partitionKeyField]
	if !ok {
		return "", &tritonerr.MissingPartitionKeyError{Field: c.partitionKeyField}
	}
	var text = coerceText(v)
	if len([]byte(text)) > maxFieldLen {
		return "", &tritonerr.PartitionKeyTooLongError{Key: text}
	}
	return text, nil
}

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

// connect lazily dials the forwarder daemon, reusing a live connection
// across Put calls. Must be called from the writer goroutine only.
func (c *Client) connect() (net.Conn, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := net.Dial(c.network, c.addr)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) dropConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// writeLoop is the single writer goroutine: it owns the connection and
// drains the queue, so concurrent Put callers never race on the socket.
func (c *Client) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case f := <-c.queue:
			c.send(f)
		case <-c.done:
			// Drain whatever is already queued before exiting, bounded
			// by the caller's Close deadline.
			for {
				select {
				case f := <-c.queue:
					c.send(f)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) send(f queuedFrame) {
	conn, err := c.connect()
	if err != nil {
		log.WithFields(log.Fields{"stream": c.streamName, "err": err}).Warn("forwarder: dropping record, connect failed")
		return
	}
	if err := WriteFrame(conn, f.meta, f.body); err != nil {
		log.WithFields(log.Fields{"stream": c.streamName, "err": err}).Warn("forwarder: dropping record, send failed")
		c.dropConn()
	}
}

// Close signals the writer goroutine to drain and exit, waiting up to
// LingerShutdownMsecs before returning regardless.
func (c *Client) Close() error {
	close(c.done)

	var drained = make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(LingerShutdownMsecs * time.Millisecond):
		log.WithFields(log.Fields{"stream": c.streamName}).Warn("forwarder: linger timeout, closing with messages possibly unsent")
	}

	c.dropConn()
	return nil
}
