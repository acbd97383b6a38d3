package worker

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"

	"github.com/streamworks/kcl/clientlibrary/config"
	kin "github.com/streamworks/kcl/clientlibrary/kinesis"
	par "github.com/streamworks/kcl/clientlibrary/partition"
	"github.com/streamworks/kcl/clientlibrary/utils"
	"github.com/streamworks/kcl/logger"
)

// pullReaderState names the states of the pull reader's state machine,
// used only for logging — control flow is driven by the loop below
// rather than a switch over this field.
type pullReaderState string

const (
	stateStarting pullReaderState = "Starting"
	stateFetching pullReaderState = "Fetching"
	stateSleeping pullReaderState = "Sleeping"
	stateRetrying pullReaderState = "Retrying"
	stateClosed   pullReaderState = "Closed"
)

// PullShardReader periodically calls GetRecords against one shard
// iterator, pushing delivered records to a shared bounded channel.
type PullShardReader struct {
	shardID      string
	streamName   string
	iteratorSpec par.IteratorSpec

	client     interface {
		kin.GetShardIteratorAPI
		kin.GetRecordsAPI
	}
	recordChan chan<- shardRecord
	errChan    chan<- error
	log        logger.Logger

	sleepTime time.Duration
	pullLimit int32

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	alive  atomic.Bool
	state  pullReaderState
}

// NewPullShardReader constructs a pull reader for shardID, starting from
// iteratorSpec. sleepTime and pullLimit fall back to
// config.DefaultReaderSleepSeconds / config.DefaultPullLimit when zero.
func NewPullShardReader(
	shardID, streamName string,
	iteratorSpec par.IteratorSpec,
	client interface {
		kin.GetShardIteratorAPI
		kin.GetRecordsAPI
	},
	recordChan chan<- shardRecord,
	errChan chan<- error,
	sleepTime time.Duration,
	pullLimit int32,
	log logger.Logger,
) *PullShardReader {
	if sleepTime <= 0 {
		sleepTime = time.Duration(config.DefaultReaderSleepSeconds * float64(time.Second))
	}
	if pullLimit <= 0 {
		pullLimit = config.DefaultPullLimit
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &PullShardReader{
		shardID:      shardID,
		streamName:   streamName,
		iteratorSpec: iteratorSpec,
		client:       client,
		recordChan:   recordChan,
		errChan:      errChan,
		log:          log,
		sleepTime:    sleepTime,
		pullLimit:    pullLimit,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	r.alive.Store(true)
	return r
}

// Start launches the reader's fetch loop on its own goroutine.
func (r *PullShardReader) Start() {
	go r.run()
}

func (r *PullShardReader) Alive() bool {
	return r.alive.Load()
}

func (r *PullShardReader) Shutdown() {
	r.cancel()
	<-r.done
}

func (r *PullShardReader) run() {
	setState := func(s pullReaderState) {
		r.log.Debugf("shard %s pull reader: %s -> %s", r.shardID, r.state, s)
		r.state = s
	}
	r.state = stateStarting

	defer func() {
		setState(stateClosed)
		r.alive.Store(false)
		close(r.done)
	}()

	iterator, err := r.resolveIterator()
	if err != nil {
		select {
		case r.errChan <- err:
		default:
		}
		return
	}

	retries := 0
	sleep := r.sleepTime

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		setState(stateFetching)
		out, err := r.client.GetRecords(r.ctx, &kinesis.GetRecordsInput{
			ShardIterator: aws.String(iterator),
			Limit:         aws.Int32(r.pullLimit),
		})
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}

			retries++
			sleep = backoffFor(retries)
			r.errChan <- err

			if !utils.IsThrottlingError(err) && sleep >= MaxReaderSleep {
				return
			}

			setState(stateRetrying)
			if !r.sleepFor(sleep) {
				return
			}
			continue
		}

		retries = 0
		sleep = r.sleepTime

		for _, rec := range out.Records {
			select {
			case r.recordChan <- shardRecord{shardID: r.shardID, record: rec}:
			case <-r.ctx.Done():
				return
			}
		}

		if out.NextShardIterator == nil {
			r.log.Infof("Shard %s is closed, pull reader exiting", r.shardID)
			return
		}
		iterator = aws.ToString(out.NextShardIterator)

		setState(stateSleeping)
		if !r.sleepFor(sleep) {
			return
		}
	}
}

// MaxReaderSleep is the ceiling on the pull reader's error backoff, which
// grows by two seconds per consecutive failed GetRecords call.
const MaxReaderSleep = time.Duration(config.MaxReaderSleepSeconds) * time.Second

func backoffFor(retries int) time.Duration {
	seconds := math.Min(config.MaxReaderSleepSeconds, float64(retries*2))
	return time.Duration(seconds) * time.Second
}

func (r *PullShardReader) sleepFor(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *PullShardReader) resolveIterator() (string, error) {
	iterType, seq, ts := kin.ShardIteratorInput(r.iteratorSpec)

	input := &kinesis.GetShardIteratorInput{
		StreamName:        aws.String(r.streamName),
		ShardId:           aws.String(r.shardID),
		ShardIteratorType: iterType,
	}
	if seq != nil {
		input.StartingSequenceNumber = seq
	}
	if ts != nil {
		input.Timestamp = ts
	}

	out, err := r.client.GetShardIterator(r.ctx, input)
	if err != nil {
		return "", err
	}

	return aws.ToString(out.ShardIterator), nil
}
