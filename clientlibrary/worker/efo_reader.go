package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	"github.com/streamworks/kcl/clientlibrary/config"
	kin "github.com/streamworks/kcl/clientlibrary/kinesis"
	par "github.com/streamworks/kcl/clientlibrary/partition"
	"github.com/streamworks/kcl/logger"
)

// EFOShardReader consumes one shard through an enhanced fan-out
// subscription, resubscribing from the last delivered continuation
// sequence number whenever the subscription ends or stalls. Rendered as
// the Go SDK's typed event-stream channel rather than registered
// callbacks.
type EFOShardReader struct {
	shardID      string
	consumerARN  string
	iteratorSpec par.IteratorSpec

	client interface {
		kin.SubscribeToShardAPI
	}
	recordChan chan<- shardRecord
	errChan    chan<- error
	log        logger.Logger

	waitTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	alive  atomic.Bool
}

// NewEFOShardReader constructs an EFO reader subscribed as consumerARN
// against shardID, starting from iteratorSpec. waitTimeout falls back to
// DefaultEFOWaitTimeout when zero.
func NewEFOShardReader(
	shardID, consumerARN string,
	iteratorSpec par.IteratorSpec,
	client interface {
		kin.SubscribeToShardAPI
	},
	recordChan chan<- shardRecord,
	errChan chan<- error,
	waitTimeout time.Duration,
	log logger.Logger,
) *EFOShardReader {
	if waitTimeout <= 0 {
		waitTimeout = config.DefaultEFOWaitTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &EFOShardReader{
		shardID:      shardID,
		consumerARN:  consumerARN,
		iteratorSpec: iteratorSpec,
		client:       client,
		recordChan:   recordChan,
		errChan:      errChan,
		log:          log,
		waitTimeout:  waitTimeout,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	r.alive.Store(true)
	return r
}

func (r *EFOShardReader) Start() {
	go r.run()
}

func (r *EFOShardReader) Alive() bool {
	return r.alive.Load()
}

func (r *EFOShardReader) Shutdown() {
	r.cancel()
	<-r.done
}

func (r *EFOShardReader) run() {
	defer r.alive.Store(false)
	defer close(r.done)

	position := kin.StartingPositionFromSpec(r.iteratorSpec)

	for {
		if r.ctx.Err() != nil {
			return
		}

		stream, err := r.subscribe(position)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			r.errChan <- err
			if !r.sleepFor(time.Second) {
				return
			}
			continue
		}

		lastSeq, shardClosed, consumeErr := r.consume(stream)
		stream.Close()

		if lastSeq != nil {
			position = types.StartingPosition{
				Type:           types.ShardIteratorTypeAfterSequenceNumber,
				SequenceNumber: lastSeq,
			}
		}

		if shardClosed {
			r.log.Infof("Shard %s is closed, EFO reader exiting", r.shardID)
			return
		}

		if consumeErr != nil {
			if r.ctx.Err() != nil {
				return
			}
			r.errChan <- consumeErr
		}

		if !r.sleepFor(time.Second) {
			return
		}
	}
}

func (r *EFOShardReader) subscribe(position types.StartingPosition) (*kinesis.SubscribeToShardEventStream, error) {
	out, err := r.client.SubscribeToShard(r.ctx, &kinesis.SubscribeToShardInput{
		ConsumerARN:      aws.String(r.consumerARN),
		ShardId:          aws.String(r.shardID),
		StartingPosition: &position,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to shard %s: %w", r.shardID, err)
	}
	return out.GetStream(), nil
}

// consume drains one subscription's event stream until it ends, stalls
// past waitTimeout, or the shard reports closure via a non-empty
// ChildShards list. It returns the last continuation sequence number
// observed, so the caller can resubscribe from there.
func (r *EFOShardReader) consume(stream *kinesis.SubscribeToShardEventStream) (lastSeq *string, shardClosed bool, err error) {
	for {
		timer := time.NewTimer(r.waitTimeout)

		select {
		case <-r.ctx.Done():
			timer.Stop()
			return lastSeq, false, nil

		case <-timer.C:
			r.log.Warnf("shard %s: no event within %s, resubscribing", r.shardID, r.waitTimeout)
			return lastSeq, false, nil

		case evt, ok := <-stream.Events():
			timer.Stop()
			if !ok {
				if err := stream.Err(); err != nil {
					r.log.Warnf("shard %s: event stream ended, resubscribing: %v", r.shardID, err)
				}
				return lastSeq, false, nil
			}

			event, isShardEvent := evt.(*types.SubscribeToShardEventStreamMemberSubscribeToShardEvent)
			if !isShardEvent {
				continue
			}

			for _, rec := range event.Value.Records {
				select {
				case r.recordChan <- shardRecord{shardID: r.shardID, record: rec}:
				case <-r.ctx.Done():
					return lastSeq, false, nil
				}
			}

			if event.Value.ContinuationSequenceNumber != nil {
				lastSeq = event.Value.ContinuationSequenceNumber
			}

			if len(event.Value.ChildShards) > 0 {
				return lastSeq, true, nil
			}
		}
	}
}

func (r *EFOShardReader) sleepFor(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-r.ctx.Done():
		return false
	}
}
