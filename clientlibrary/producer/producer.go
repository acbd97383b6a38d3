// Package producer implements a buffered Kinesis producer: callers enqueue
// records with Put, a background goroutine batches them up to the
// PutRecords size/count limits and flushes on a fixed interval, retrying
// individually failed records a bounded number of times. Grounded on the
// PutRecords-oriented Client interface pattern used elsewhere in the
// example pack for talking to Kinesis through a narrow interface.
package producer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	kin "github.com/streamworks/kcl/clientlibrary/kinesis"
	"github.com/streamworks/kcl/logger"
)

const (
	// MaxRecordsCount is the maximum number of records PutRecords accepts
	// in a single call (PRODUCER_MAX_RECORDS_COUNT).
	MaxRecordsCount = 500

	// MaxRecordsSize is the maximum total payload size, in bytes, of one
	// PutRecords call (PRODUCER_MAX_RECORDS_SIZE).
	MaxRecordsSize = 1 << 20

	// DefaultBufferTime is how long the producer waits to fill a batch
	// before flushing whatever it has (PRODUCER_DEFAULT_BUFFER_TIME).
	DefaultBufferTime = 500 * time.Millisecond

	// DefaultMaxRetries bounds how many times a failed record within a
	// batch is resubmitted before being dropped.
	DefaultMaxRetries = 3
)

// ErrClosed is returned by Put once the producer has been closed.
var ErrClosed = errors.New("producer: closed")

// Producer batches and publishes records to one Kinesis stream. Durability
// of individual records past the configured retry count is explicitly out
// of scope: PutRecords failures are logged and the record is dropped.
type Producer struct {
	streamName string
	client     kin.PutRecordsAPI
	log        logger.Logger

	maxCount   int
	maxSize    int
	bufferTime time.Duration
	maxRetries int

	recordCh chan types.PutRecordsRequestEntry
	flushReq chan chan struct{}
	closeCh  chan struct{}
	doneCh   chan struct{}

	closedMu sync.Mutex
	closed   bool

	pendingWG sync.WaitGroup
}

// Option configures a Producer via the functional options pattern used
// throughout this library's config and metrics packages.
type Option func(*Producer)

// WithMaxRecordsCount overrides the per-batch record count ceiling.
func WithMaxRecordsCount(n int) Option {
	return func(p *Producer) {
		if n > 0 {
			p.maxCount = n
		}
	}
}

// WithMaxRecordsSize overrides the per-batch byte size ceiling.
func WithMaxRecordsSize(n int) Option {
	return func(p *Producer) {
		if n > 0 {
			p.maxSize = n
		}
	}
}

// WithBufferTime overrides how long the producer waits before flushing a
// partially filled batch.
func WithBufferTime(d time.Duration) Option {
	return func(p *Producer) {
		if d > 0 {
			p.bufferTime = d
		}
	}
}

// WithMaxRetries overrides how many times a failed record is retried
// before being dropped.
func WithMaxRetries(n int) Option {
	return func(p *Producer) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

// WithLogger overrides the producer's logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Producer) {
		if l != nil {
			p.log = l
		}
	}
}

// New creates a Producer for streamName and starts its background
// batching loop.
func New(streamName string, client kin.PutRecordsAPI, opts ...Option) *Producer {
	p := &Producer{
		streamName: streamName,
		client:     client,
		log:        logger.GetDefaultLogger(),
		maxCount:   MaxRecordsCount,
		maxSize:    MaxRecordsSize,
		bufferTime: DefaultBufferTime,
		maxRetries: DefaultMaxRetries,
		flushReq:   make(chan chan struct{}),
		closeCh:    make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.recordCh = make(chan types.PutRecordsRequestEntry, p.maxCount)

	go p.run()
	return p
}

// Put enqueues a record for the next batch. It returns once the record is
// accepted into the producer's buffer, not once it has been durably
// published — use Drain to wait for outstanding records to flush.
func (p *Producer) Put(ctx context.Context, partitionKey string, data []byte) error {
	p.closedMu.Lock()
	closed := p.closed
	p.closedMu.Unlock()
	if closed {
		return ErrClosed
	}

	entry := types.PutRecordsRequestEntry{
		PartitionKey: aws.String(partitionKey),
		Data:         data,
	}

	p.pendingWG.Add(1)
	select {
	case p.recordCh <- entry:
		return nil
	case <-ctx.Done():
		p.pendingWG.Done()
		return ctx.Err()
	case <-p.closeCh:
		p.pendingWG.Done()
		return ErrClosed
	}
}

// Drain forces an immediate flush of the current batch and waits for every
// record accepted by Put so far to have been published or dropped.
func (p *Producer) Drain(ctx context.Context) error {
	signaled := make(chan struct{})
	select {
	case p.flushReq <- signaled:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.doneCh:
		return ErrClosed
	}

	select {
	case <-signaled:
	case <-ctx.Done():
		return ctx.Err()
	}

	waitDone := make(chan struct{})
	go func() {
		p.pendingWG.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new records, flushes everything already buffered,
// and blocks until the background loop exits.
func (p *Producer) Close() error {
	p.closedMu.Lock()
	if p.closed {
		p.closedMu.Unlock()
		return nil
	}
	p.closed = true
	p.closedMu.Unlock()

	close(p.closeCh)
	<-p.doneCh
	return nil
}

func (p *Producer) run() {
	defer close(p.doneCh)

	var batch []types.PutRecordsRequestEntry
	var batchSize int

	timer := time.NewTimer(p.bufferTime)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.flushBatch(batch)
		batch = nil
		batchSize = 0
	}

	// add appends entry to the batch, first flushing the batch if entry
	// would take it past maxSize.
	add := func(entry types.PutRecordsRequestEntry) {
		size := len(entry.Data) + len(aws.ToString(entry.PartitionKey))
		if len(batch) > 0 && batchSize+size > p.maxSize {
			flush()
		}
		batch = append(batch, entry)
		batchSize += size
	}

	for {
		select {
		case entry := <-p.recordCh:
			add(entry)
			if len(batch) >= p.maxCount || batchSize >= p.maxSize {
				flush()
				timer.Reset(p.bufferTime)
			}

		case <-timer.C:
			flush()
			timer.Reset(p.bufferTime)

		case signaled := <-p.flushReq:
			// Take in records Put has already queued, so the flush covers
			// every record accepted before Drain was called.
			for n := len(p.recordCh); n > 0; n-- {
				add(<-p.recordCh)
				if len(batch) >= p.maxCount {
					flush()
				}
			}
			flush()
			close(signaled)

		case <-p.closeCh:
			p.drainBuffered(add, func() bool { return len(batch) >= p.maxCount }, flush)
			flush()
			return
		}
	}
}

// drainBuffered pulls any records already queued on recordCh into the batch
// without blocking, flushing whenever the batch is full, so Close doesn't
// silently drop records that were accepted by Put just before closeCh fired.
func (p *Producer) drainBuffered(add func(types.PutRecordsRequestEntry), full func() bool, flush func()) {
	for {
		select {
		case entry := <-p.recordCh:
			add(entry)
			if full() {
				flush()
			}
		default:
			return
		}
	}
}

// flushBatch publishes one batch via PutRecords, retrying only the
// entries Kinesis reports as failed, up to maxRetries times.
func (p *Producer) flushBatch(batch []types.PutRecordsRequestEntry) {
	defer p.pendingWG.Add(-len(batch))

	attempt := batch
	for try := 0; try <= p.maxRetries && len(attempt) > 0; try++ {
		out, err := p.client.PutRecords(context.Background(), &kinesis.PutRecordsInput{
			StreamName: aws.String(p.streamName),
			Records:    attempt,
		})
		if err != nil {
			p.log.Warnf("producer: PutRecords failed (attempt %d): %v", try+1, err)
			if try == p.maxRetries {
				break
			}
			time.Sleep(retryBackoff(try))
			continue
		}

		if aws.ToInt32(out.FailedRecordCount) == 0 {
			return
		}

		var retry []types.PutRecordsRequestEntry
		for i, res := range out.Records {
			if res.ErrorCode != nil {
				retry = append(retry, attempt[i])
			}
		}
		attempt = retry

		if len(attempt) > 0 && try < p.maxRetries {
			time.Sleep(retryBackoff(try))
		}
	}

	if len(attempt) > 0 {
		p.log.Errorf("producer: dropping %d records after %d retries", len(attempt), p.maxRetries)
	}
}

func retryBackoff(try int) time.Duration {
	d := time.Duration(1<<uint(try)) * 100 * time.Millisecond
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
