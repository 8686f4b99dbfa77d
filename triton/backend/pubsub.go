package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// pubsubBatchMax is the documented BATCH_MAX_MSGS cap on a single
// publish call (spec.md §4.3).
const pubsubBatchMax = 1000

// pubsubByteCap is the documented per-publish-call byte cap.
const pubsubByteCap = 10 << 20

// pullWindow bounds how long a single GetRecords call waits to
// accumulate a page before returning whatever it has collected.
const pullWindow = 2 * time.Second

// PubSubConfig is the fully merged configuration for a pub/sub-backed
// stream.
type PubSubConfig struct {
	ProjectID      string
	Topic          string
	PrivateKeyFile string
}

// PubSubBackend is the pub/sub Backend variant: one logical shard per
// consumer subscription, cursor is the subscription identifier.
type PubSubBackend struct {
	client    *gcpubsub.Client
	topicName string
}

// NewPubSubBackend connects to GCP Pub/Sub scoped to a single topic.
func NewPubSubBackend(ctx context.Context, config PubSubConfig) (*PubSubBackend, error) {
	client, err := gcpubsub.NewClient(ctx, config.ProjectID, option.WithCredentialsFile(config.PrivateKeyFile))
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	return &PubSubBackend{client: client, topicName: config.Topic}, nil
}

func (b *PubSubBackend) BatchMax() int { return pubsubBatchMax }

func (b *PubSubBackend) PutOne(ctx context.Context, partitionKey string, data []byte) (string, string, error) {
	var topic = b.client.Topic(b.topicName)
	var result = topic.Publish(ctx, &gcpubsub.Message{
		Data:       data,
		Attributes: map[string]string{"partition_key": partitionKey},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", "", classifyPubSub(err)
	}
	return b.topicName, id, nil
}

func (b *PubSubBackend) PutMany(ctx context.Context, entries []Entry) ([]Ack, error) {
	if len(entries) > pubsubBatchMax {
		return nil, fmt.Errorf("put_many: %d entries exceeds pub/sub batch max %d", len(entries), pubsubBatchMax)
	}

	var topic = b.client.Topic(b.topicName)
	var results = make([]*gcpubsub.PublishResult, len(entries))
	for i, e := range entries {
		results[i] = topic.Publish(ctx, &gcpubsub.Message{
			Data:       e.Data,
			Attributes: map[string]string{"partition_key": e.PartitionKey},
		})
	}

	var acks = make([]Ack, len(entries))
	for i, result := range results {
		id, err := result.Get(ctx)
		if err != nil {
			acks[i] = Ack{Err: classifyPubSub(err)}
			continue
		}
		acks[i] = Ack{ShardID: b.topicName, SeqNum: id}
	}
	return acks, nil
}

func (b *PubSubBackend) DescribeShards(ctx context.Context) ([]string, bool, error) {
	// A pub/sub stream exposes exactly one logical shard: the default
	// subscription name derived from the topic. No other subscription
	// name can be configured here.
	return []string{defaultSubscriptionName(b.topicName)}, false, nil
}

func (b *PubSubBackend) GetCursor(ctx context.Context, shardID string, kind CursorKind, afterSeq string) (string, error) {
	var sub = b.client.Subscription(shardID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return "", classifyPubSub(err)
	}

	switch kind {
	case CursorLatest:
		// "create ephemeral subscription at topic head": a fresh
		// subscription only ever sees messages published after it's
		// created.
		if exists {
			if err := sub.Delete(ctx); err != nil {
				return "", classifyPubSub(err)
			}
		}
		if _, err := b.client.CreateSubscription(ctx, shardID, gcpubsub.SubscriptionConfig{
			Topic: b.client.Topic(b.topicName),
		}); err != nil {
			return "", classifyPubSub(err)
		}
	default:
		// CursorAll / CursorAfterSequenceNumber both map to "reuse a
		// named subscription" for pub/sub, since there is no backend
		// concept of replaying by sequence number.
		if !exists {
			if _, err := b.client.CreateSubscription(ctx, shardID, gcpubsub.SubscriptionConfig{
				Topic: b.client.Topic(b.topicName),
			}); err != nil {
				return "", classifyPubSub(err)
			}
		}
	}
	return shardID, nil
}

func (b *PubSubBackend) GetRecords(ctx context.Context, cursor string) (Page, error) {
	var sub = b.client.Subscription(cursor)
	var page Page
	var mu sync.Mutex

	pullCtx, cancel := context.WithTimeout(ctx, pullWindow)
	defer cancel()

	err := sub.Receive(pullCtx, func(_ context.Context, msg *gcpubsub.Message) {
		mu.Lock()
		defer mu.Unlock()
		if len(page.Records) >= pubsubBatchMax {
			msg.Nack()
			return
		}
		page.Records = append(page.Records, RawRecord{SequenceNumber: msg.ID, Data: msg.Data})
		msg.Ack()
		if len(page.Records) >= pubsubBatchMax {
			cancel()
		}
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return Page{}, classifyPubSub(err)
	}

	page.NextShardIterator = cursor // the subscription persists across pulls
	return page, nil
}

func defaultSubscriptionName(topic string) string { return topic + "-triton-sub" }

type pubsubError struct {
	cause     error
	transient bool
}

func (e *pubsubError) Error() string   { return e.cause.Error() }
func (e *pubsubError) Unwrap() error   { return e.cause }
func (e *pubsubError) Transient() bool { return e.transient }

// classifyPubSub marks gRPC Unavailable/ResourceExhausted-shaped
// failures as transient; everything else is fatal.
func classifyPubSub(err error) error {
	return &pubsubError{cause: err, transient: isResourceExhausted(err)}
}

func isResourceExhausted(err error) bool {
	switch status.Code(err) {
	case codes.ResourceExhausted, codes.Unavailable:
		return true
	default:
		return false
	}
}
