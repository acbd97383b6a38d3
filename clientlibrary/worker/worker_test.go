package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chk "github.com/streamworks/kcl/clientlibrary/checkpoint"
	"github.com/streamworks/kcl/clientlibrary/config"
	kcl "github.com/streamworks/kcl/clientlibrary/interfaces"
	par "github.com/streamworks/kcl/clientlibrary/partition"
)

// fakeKinesisClient satisfies kin.Client with one shard ("shard-0") that
// yields its records once, then empty batches; the shard never closes.
type fakeKinesisClient struct {
	mu      sync.Mutex
	served  bool
	records []types.Record
}

func (f *fakeKinesisClient) DescribeStream(context.Context, *kinesis.DescribeStreamInput, ...func(*kinesis.Options)) (*kinesis.DescribeStreamOutput, error) {
	return &kinesis.DescribeStreamOutput{
		StreamDescription: &types.StreamDescription{
			StreamARN:             aws.String("arn:aws:kinesis:us-east-1:000000000000:stream/test-stream"),
			RetentionPeriodHours:  aws.Int32(24),
			Shards: []types.Shard{
				{ShardId: aws.String("shard-0")},
			},
		},
	}, nil
}

func (f *fakeKinesisClient) ListShards(context.Context, *kinesis.ListShardsInput, ...func(*kinesis.Options)) (*kinesis.ListShardsOutput, error) {
	return &kinesis.ListShardsOutput{}, nil
}

func (f *fakeKinesisClient) GetShardIterator(context.Context, *kinesis.GetShardIteratorInput, ...func(*kinesis.Options)) (*kinesis.GetShardIteratorOutput, error) {
	return &kinesis.GetShardIteratorOutput{ShardIterator: aws.String("iter-0")}, nil
}

func (f *fakeKinesisClient) GetRecords(context.Context, *kinesis.GetRecordsInput, ...func(*kinesis.Options)) (*kinesis.GetRecordsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.served {
		return &kinesis.GetRecordsOutput{NextShardIterator: aws.String("iter-0")}, nil
	}
	f.served = true
	return &kinesis.GetRecordsOutput{
		Records:           f.records,
		NextShardIterator: aws.String("iter-0"),
	}, nil
}

func (f *fakeKinesisClient) DescribeStreamConsumer(context.Context, *kinesis.DescribeStreamConsumerInput, ...func(*kinesis.Options)) (*kinesis.DescribeStreamConsumerOutput, error) {
	return nil, assert.AnError
}

func (f *fakeKinesisClient) RegisterStreamConsumer(context.Context, *kinesis.RegisterStreamConsumerInput, ...func(*kinesis.Options)) (*kinesis.RegisterStreamConsumerOutput, error) {
	return &kinesis.RegisterStreamConsumerOutput{
		Consumer: &types.Consumer{ConsumerARN: aws.String("arn:consumer")},
	}, nil
}

func (f *fakeKinesisClient) SubscribeToShard(context.Context, *kinesis.SubscribeToShardInput, ...func(*kinesis.Options)) (*kinesis.SubscribeToShardOutput, error) {
	return nil, assert.AnError
}

func (f *fakeKinesisClient) PutRecords(context.Context, *kinesis.PutRecordsInput, ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error) {
	return &kinesis.PutRecordsOutput{}, nil
}

// fakeCheckpointer is an in-memory Checkpointer good enough to drive a
// single worker through acquire -> renew -> release without a live store.
type fakeCheckpointer struct {
	mu      sync.Mutex
	leases  map[string]string
	checkpt map[string]string
}

func newFakeCheckpointer() *fakeCheckpointer {
	return &fakeCheckpointer{leases: map[string]string{}, checkpt: map[string]string{}}
}

func (f *fakeCheckpointer) Init() error { return nil }

func (f *fakeCheckpointer) GetLease(shard *par.ShardStatus, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if owner, ok := f.leases[shard.ID]; ok && owner != workerID {
		return chk.ErrLeaseNotAcquired{Cause: "held by " + owner}
	}
	f.leases[shard.ID] = workerID
	shard.SetLeaseOwner(workerID)
	shard.SetLeaseTimeout(time.Now().Add(time.Minute))
	return nil
}

func (f *fakeCheckpointer) CheckpointSequence(shard *par.ShardStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpt[shard.ID] = shard.GetCheckpoint()
	return nil
}

func (f *fakeCheckpointer) FetchCheckpoint(shard *par.ShardStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp, ok := f.checkpt[shard.ID]
	if !ok {
		return chk.ErrSequenceIDNotFound
	}
	shard.SetCheckpoint(cp)
	return nil
}

func (f *fakeCheckpointer) RemoveLeaseInfo(shardID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.leases, shardID)
	return nil
}

func (f *fakeCheckpointer) RemoveLeaseOwner(shardID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.leases, shardID)
	return nil
}

func (f *fakeCheckpointer) GetLeaseOwner(shardID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, ok := f.leases[shardID]
	if !ok {
		return "", chk.ErrNoLeaseOwner
	}
	return owner, nil
}

func (f *fakeCheckpointer) ListActiveWorkers(shards map[string]*par.ShardStatus) (map[string][]*par.ShardStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string][]*par.ShardStatus{}
	for id, s := range shards {
		owner := f.leases[id]
		out[owner] = append(out[owner], s)
	}
	return out, nil
}

func (f *fakeCheckpointer) ClaimShard(*par.ShardStatus, string) error { return nil }

type fakeProcessor struct {
	mu          sync.Mutex
	initialized bool
	batches     [][]types.Record
	shutdowns   []kcl.ShutdownReason
}

func (p *fakeProcessor) Initialize(*kcl.InitializationInput) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = true
}

func (p *fakeProcessor) ProcessRecords(in *kcl.ProcessRecordsInput) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, in.Records)
	if len(in.Records) > 0 {
		in.Checkpointer.Checkpoint(in.Records[len(in.Records)-1].SequenceNumber)
	}
}

func (p *fakeProcessor) Shutdown(in *kcl.ShutdownInput) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdowns = append(p.shutdowns, in.ShutdownReason)
}

func (p *fakeProcessor) batchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

type fakeProcessorFactory struct {
	mu         sync.Mutex
	processors []*fakeProcessor
}

func (f *fakeProcessorFactory) CreateProcessor() kcl.IRecordProcessor {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakeProcessor{}
	f.processors = append(f.processors, p)
	return p
}

func (f *fakeProcessorFactory) last() *fakeProcessor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processors[len(f.processors)-1]
}

func newTestWorkerConfig() *config.KinesisClientLibConfiguration {
	cfg := config.NewKinesisClientLibConfig("testApp", "test-stream", "us-east-1", "worker-1")
	cfg.LeaseRefreshPeriodMillis = 20
	cfg.ReadIntervalMillis = 10
	cfg.MaxLeasesForWorker = 10
	return cfg
}

func TestWorker_AcquiresLeaseAndDeliversRecords(t *testing.T) {
	client := &fakeKinesisClient{records: []types.Record{
		{SequenceNumber: aws.String("1"), Data: []byte("hello")},
	}}
	factory := &fakeProcessorFactory{}
	checkpointer := newFakeCheckpointer()

	w := NewWorker(factory, newTestWorkerConfig()).
		WithCheckpointer(checkpointer).
		WithKinesisClient(client)

	require.NoError(t, w.Start())
	defer w.Shutdown()

	require.Eventually(t, func() bool {
		return len(factory.processors) > 0 && factory.last().batchCount() > 0
	}, 2*time.Second, 10*time.Millisecond, "expected a batch to reach the record processor")

	proc := factory.last()
	proc.mu.Lock()
	assert.True(t, proc.initialized)
	assert.Equal(t, "hello", string(proc.batches[0][0].Data))
	proc.mu.Unlock()
}

func TestWorker_ShutdownReleasesLeaseAndStopsReaders(t *testing.T) {
	client := &fakeKinesisClient{}
	factory := &fakeProcessorFactory{}
	checkpointer := newFakeCheckpointer()

	w := NewWorker(factory, newTestWorkerConfig()).
		WithCheckpointer(checkpointer).
		WithKinesisClient(client)

	require.NoError(t, w.Start())

	require.Eventually(t, func() bool {
		_, err := checkpointer.GetLeaseOwner("shard-0")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "expected the worker to acquire the shard lease")

	w.Shutdown()

	_, err := checkpointer.GetLeaseOwner("shard-0")
	assert.ErrorIs(t, err, chk.ErrNoLeaseOwner)

	require.Len(t, factory.processors, 1)
	assert.Contains(t, factory.processors[0].shutdowns, kcl.REQUESTED)
}
