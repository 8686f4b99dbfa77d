package backend

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
)

// kinesisBatchMax is the service's hard per-call cap on PutRecords
// entries (spec.md §4.3).
const kinesisBatchMax = 500

// KinesisConfig is the fully merged configuration for a
// partitioned-log stream backed by Kinesis.
type KinesisConfig struct {
	Stream             string
	Region             string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
}

// KinesisBackend is the partitioned-log Backend variant: explicit
// shards, opaque sequence-number cursors, PutRecord/PutRecords with a
// 500-entry cap.
type KinesisBackend struct {
	client *kinesis.Kinesis
	stream string
}

// NewKinesisBackend connects to Kinesis and returns a Backend scoped to
// a single stream.
func NewKinesisBackend(config KinesisConfig) (*KinesisBackend, error) {
	var creds = credentials.NewStaticCredentials(config.AWSAccessKeyID, config.AWSSecretAccessKey, "")
	var awsConfig = aws.NewConfig().WithCredentials(creds).WithRegion(config.Region)

	awsSession, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}
	return &KinesisBackend{
		client: kinesis.New(awsSession),
		stream: config.Stream,
	}, nil
}

func (b *KinesisBackend) BatchMax() int { return kinesisBatchMax }

func (b *KinesisBackend) PutOne(ctx context.Context, partitionKey string, data []byte) (string, string, error) {
	resp, err := b.client.PutRecordWithContext(ctx, &kinesis.PutRecordInput{
		StreamName:   &b.stream,
		PartitionKey: &partitionKey,
		Data:         data,
	})
	if err != nil {
		return "", "", classify(err)
	}
	return *resp.ShardId, *resp.SequenceNumber, nil
}

func (b *KinesisBackend) PutMany(ctx context.Context, entries []Entry) ([]Ack, error) {
	if len(entries) > kinesisBatchMax {
		return nil, fmt.Errorf("put_many: %d entries exceeds kinesis batch max %d", len(entries), kinesisBatchMax)
	}

	var records = make([]*kinesis.PutRecordsRequestEntry, len(entries))
	for i, e := range entries {
		records[i] = &kinesis.PutRecordsRequestEntry{
			PartitionKey: aws.String(e.PartitionKey),
			Data:         e.Data,
		}
	}

	resp, err := b.client.PutRecordsWithContext(ctx, &kinesis.PutRecordsInput{
		StreamName: &b.stream,
		Records:    records,
	})
	if err != nil {
		return nil, classify(err)
	}

	var acks = make([]Ack, len(resp.Records))
	for i, r := range resp.Records {
		if r.ErrorCode != nil {
			acks[i] = Ack{Err: fmt.Errorf("%s: %s", *r.ErrorCode, aws.StringValue(r.ErrorMessage))}
			continue
		}
		acks[i] = Ack{ShardID: *r.ShardId, SeqNum: *r.SequenceNumber}
	}
	return acks, nil
}

func (b *KinesisBackend) DescribeShards(ctx context.Context) ([]string, bool, error) {
	var shards []string
	var nextToken string

	for {
		var req = kinesis.ListShardsInput{}
		if nextToken != "" {
			req.NextToken = &nextToken
		} else {
			req.StreamName = &b.stream
		}
		resp, err := b.client.ListShardsWithContext(ctx, &req)
		if err != nil {
			return nil, false, classify(err)
		}
		for _, s := range resp.Shards {
			shards = append(shards, *s.ShardId)
		}
		if resp.NextToken == nil || *resp.NextToken == "" {
			break
		}
		// A real production client would keep paging; we surface
		// hasMore instead, per spec.md §4.4's UnimplementedPagination
		// contract, rather than silently truncating the shard list.
		return shards, true, nil
	}
	return shards, false, nil
}

func (b *KinesisBackend) GetCursor(ctx context.Context, shardID string, kind CursorKind, afterSeq string) (string, error) {
	var req = kinesis.GetShardIteratorInput{
		StreamName: &b.stream,
		ShardId:    &shardID,
	}
	switch kind {
	case CursorLatest:
		req.ShardIteratorType = aws.String(kinesis.ShardIteratorTypeLatest)
	case CursorAll:
		req.ShardIteratorType = aws.String(kinesis.ShardIteratorTypeTrimHorizon)
	case CursorAfterSequenceNumber:
		req.ShardIteratorType = aws.String(kinesis.ShardIteratorTypeAfterSequenceNumber)
		req.StartingSequenceNumber = &afterSeq
	}

	resp, err := b.client.GetShardIteratorWithContext(ctx, &req)
	if err != nil {
		return "", classify(err)
	}
	return *resp.ShardIterator, nil
}

func (b *KinesisBackend) GetRecords(ctx context.Context, cursor string) (Page, error) {
	resp, err := b.client.GetRecordsWithContext(ctx, &kinesis.GetRecordsInput{
		ShardIterator: &cursor,
	})
	if err != nil {
		return Page{}, classify(err)
	}

	var page = Page{
		Records:         make([]RawRecord, len(resp.Records)),
		MillisBehindTip: aws.Int64Value(resp.MillisBehindLatest),
	}
	for i, r := range resp.Records {
		page.Records[i] = RawRecord{SequenceNumber: *r.SequenceNumber, Data: r.Data}
	}
	if resp.NextShardIterator != nil {
		page.NextShardIterator = *resp.NextShardIterator
	}
	return page, nil
}

// kinesisError wraps an AWS SDK error with the transient
// classification retry.IsTransient understands.
type kinesisError struct {
	cause     error
	transient bool
}

func (e *kinesisError) Error() string   { return e.cause.Error() }
func (e *kinesisError) Unwrap() error   { return e.cause }
func (e *kinesisError) Transient() bool { return e.transient }

// classify wraps an AWS SDK error, marking ProvisionedThroughputExceeded
// and internal-failure responses as transient per spec.md §4.2.
func classify(err error) error {
	if awsErr, ok := err.(awserr.Error); ok {
		switch awsErr.Code() {
		case kinesis.ErrCodeProvisionedThroughputExceededException,
			kinesis.ErrCodeInternalFailureException:
			return &kinesisError{cause: err, transient: true}
		}
	}
	return &kinesisError{cause: err, transient: false}
}
