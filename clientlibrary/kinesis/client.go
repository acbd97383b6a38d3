// Package kinesis defines narrow interfaces over the subset of the AWS
// Kinesis v2 SDK client used by shard readers, the orchestrator's
// bootstrap step, and the producer. *kinesis.Client from
// github.com/aws/aws-sdk-go-v2/service/kinesis satisfies all of them
// directly; tests substitute hand-written fakes.
package kinesis

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/kinesis"
)

// DescribeStreamAPI resolves a stream's ARN, shard list, and retention.
type DescribeStreamAPI interface {
	DescribeStream(ctx context.Context, params *kinesis.DescribeStreamInput, optFns ...func(*kinesis.Options)) (*kinesis.DescribeStreamOutput, error)
}

// ListShardsAPI lists the current shards of a stream.
type ListShardsAPI interface {
	ListShards(ctx context.Context, params *kinesis.ListShardsInput, optFns ...func(*kinesis.Options)) (*kinesis.ListShardsOutput, error)
}

// GetShardIteratorAPI resolves a concrete shard iterator from an
// IteratorSpec.
type GetShardIteratorAPI interface {
	GetShardIterator(ctx context.Context, params *kinesis.GetShardIteratorInput, optFns ...func(*kinesis.Options)) (*kinesis.GetShardIteratorOutput, error)
}

// GetRecordsAPI fetches a batch of records for the pull reader.
type GetRecordsAPI interface {
	GetRecords(ctx context.Context, params *kinesis.GetRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.GetRecordsOutput, error)
}

// DescribeStreamConsumerAPI looks up an existing EFO consumer registration.
type DescribeStreamConsumerAPI interface {
	DescribeStreamConsumer(ctx context.Context, params *kinesis.DescribeStreamConsumerInput, optFns ...func(*kinesis.Options)) (*kinesis.DescribeStreamConsumerOutput, error)
}

// RegisterStreamConsumerAPI registers a new EFO consumer.
type RegisterStreamConsumerAPI interface {
	RegisterStreamConsumer(ctx context.Context, params *kinesis.RegisterStreamConsumerInput, optFns ...func(*kinesis.Options)) (*kinesis.RegisterStreamConsumerOutput, error)
}

// SubscribeToShardAPI opens a push (EFO) subscription on a shard.
type SubscribeToShardAPI interface {
	SubscribeToShard(ctx context.Context, params *kinesis.SubscribeToShardInput, optFns ...func(*kinesis.Options)) (*kinesis.SubscribeToShardOutput, error)
}

// PutRecordsAPI publishes a batch of records, used by the producer.
type PutRecordsAPI interface {
	PutRecords(ctx context.Context, params *kinesis.PutRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error)
}

// Client is the full surface the worker package needs from a Kinesis
// client. *kinesis.Client satisfies it.
type Client interface {
	DescribeStreamAPI
	ListShardsAPI
	GetShardIteratorAPI
	GetRecordsAPI
	DescribeStreamConsumerAPI
	RegisterStreamConsumerAPI
	SubscribeToShardAPI
	PutRecordsAPI
}

var _ Client = (*kinesis.Client)(nil)
