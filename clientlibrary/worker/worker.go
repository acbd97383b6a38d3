/*
 * Copyright (c) 2018 VMware, Inc.
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
 * associated documentation files (the "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is furnished to do
 * so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all copies or substantial
 * portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
 * NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY,
 * WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 */

// Package worker implements the Consumer Orchestrator: bootstrap, the
// lease-management outer loop, bounded record dispatch to the application's
// IRecordProcessor, and shutdown. It ties together the checkpoint,
// kinesis, and partition packages.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	chk "github.com/streamworks/kcl/clientlibrary/checkpoint"
	dynamochk "github.com/streamworks/kcl/clientlibrary/checkpoint/dynamodb"
	"github.com/streamworks/kcl/clientlibrary/config"
	kcl "github.com/streamworks/kcl/clientlibrary/interfaces"
	kin "github.com/streamworks/kcl/clientlibrary/kinesis"
	"github.com/streamworks/kcl/clientlibrary/metrics"
	par "github.com/streamworks/kcl/clientlibrary/partition"
	"github.com/streamworks/kcl/logger"
)

// assignment tracks one shard this worker currently owns: its reader, the
// application record processor handling it, and the checkpointer facade
// passed to that processor.
type assignment struct {
	reader     Reader
	processor  kcl.IRecordProcessor
	checkpoint kcl.IRecordProcessorCheckpointer
}

// Worker is the consumer orchestrator. It discovers a stream's
// shards, competes for shard leases against other workers sharing the same
// coordination store, runs a reader per owned shard, and dispatches
// delivered records to application-provided IRecordProcessors.
type Worker struct {
	factory   kcl.IRecordProcessorFactory
	kclConfig *config.KinesisClientLibConfiguration

	checkpointer  chk.Checkpointer
	kinesisClient kin.Client
	monitoring    metrics.MonitoringService
	log           logger.Logger

	streamARN      string
	consumerARN    string
	retentionHours int

	shardMu    sync.RWMutex
	shardState map[string]*par.ShardStatus

	assignMu    sync.Mutex
	assignments map[string]*assignment

	recordChan chan shardRecord
	errChan    chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs a Worker that will create processors via factory.
// By default it checkpoints to DynamoDB (table named after
// kclConfig.TableName); call WithCheckpointer to use a different backend.
func NewWorker(factory kcl.IRecordProcessorFactory, kclConfig *config.KinesisClientLibConfiguration) *Worker {
	log := kclConfig.Logger
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	monitoring := kclConfig.MonitoringService
	if monitoring == nil {
		monitoring = metrics.NoopMonitoringService{}
	}

	return &Worker{
		factory:       factory,
		kclConfig:     kclConfig,
		checkpointer:  dynamochk.NewDynamoCheckpoint(kclConfig),
		monitoring:    monitoring,
		log:           log,
		shardState:    make(map[string]*par.ShardStatus),
		assignments:   make(map[string]*assignment),
	}
}

// WithCheckpointer overrides the default DynamoDB checkpointer (e.g. with
// the Redis backend or a custom DynamoDB client wired via
// checkpoint/dynamodb.WithDynamoDB).
func (w *Worker) WithCheckpointer(c chk.Checkpointer) *Worker {
	w.checkpointer = c
	return w
}

// WithKinesisClient injects a Kinesis client, bypassing the default
// credential-chain client construction performed in Start. Used by tests
// to substitute a fake kin.Client.
func (w *Worker) WithKinesisClient(c kin.Client) *Worker {
	w.kinesisClient = c
	return w
}

// WithMonitoringService overrides the monitoring service. Equivalent to
// config.WithMonitoringService, kept here for discoverability alongside
// the other With* builders on Worker.
func (w *Worker) WithMonitoringService(m metrics.MonitoringService) *Worker {
	w.monitoring = m
	return w
}

// Start runs the bootstrap sequence and then launches the
// outer lease-management loop and the record dispatch loop as background
// goroutines. Returns once bootstrap has completed; consumption continues
// until Shutdown is called.
func (w *Worker) Start() error {
	if err := w.bootstrap(); err != nil {
		return fmt.Errorf("worker bootstrap: %w", err)
	}

	w.ctx, w.cancel = context.WithCancel(context.Background())

	capacity := w.kclConfig.PushChannelCapacity
	if capacity <= 0 {
		capacity = config.DefaultPushChannelCapacity
	}
	w.recordChan = make(chan shardRecord, capacity)
	w.errChan = make(chan error, capacity)

	w.wg.Add(3)
	go w.runLeaseLoop()
	go w.runDispatchLoop()
	go w.runErrorLoop()

	return nil
}

// Shutdown stops accepting new work, lets every owned shard's processor
// make a final REQUESTED shutdown call, then releases this worker's
// leases so other workers can pick them up immediately rather than
// waiting out the full failover timeout.
func (w *Worker) Shutdown() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	w.assignMu.Lock()
	owned := make(map[string]*assignment, len(w.assignments))
	for id, a := range w.assignments {
		owned[id] = a
	}
	w.assignMu.Unlock()

	for shardID, a := range owned {
		a.reader.Shutdown()
		a.processor.Shutdown(&kcl.ShutdownInput{
			ShutdownReason: kcl.REQUESTED,
			Checkpointer:   a.checkpoint,
		})
		if err := w.checkpointer.RemoveLeaseOwner(shardID); err != nil {
			w.log.Warnf("Failed to release lease on shard %s during shutdown: %v", shardID, err)
		}
	}

	w.monitoring.Shutdown()
}

// bootstrap connects the checkpoint store, builds the Kinesis client if
// one was not injected, describes the stream to learn its shards and
// retention, and (if enhanced fan-out is enabled) resolves the EFO
// consumer ARN.
func (w *Worker) bootstrap() error {
	if err := w.checkpointer.Init(); err != nil {
		return fmt.Errorf("init checkpointer: %w", err)
	}

	if err := w.monitoring.Init(w.kclConfig.ApplicationName, w.kclConfig.StreamName, w.kclConfig.WorkerID); err != nil {
		return fmt.Errorf("init monitoring service: %w", err)
	}
	if err := w.monitoring.Start(); err != nil {
		return fmt.Errorf("start monitoring service: %w", err)
	}

	if w.kinesisClient == nil {
		client, err := w.buildKinesisClient()
		if err != nil {
			return fmt.Errorf("build kinesis client: %w", err)
		}
		w.kinesisClient = client
	}

	describeOut, err := w.kinesisClient.DescribeStream(w.ctxOrBackground(), &kinesis.DescribeStreamInput{
		StreamName: awsString(w.kclConfig.StreamName),
	})
	if err != nil {
		return fmt.Errorf("describe stream %s: %w", w.kclConfig.StreamName, err)
	}

	w.streamARN = awsToString(describeOut.StreamDescription.StreamARN)
	w.retentionHours = int(awsToInt32(describeOut.StreamDescription.RetentionPeriodHours))

	w.shardMu.Lock()
	for _, shard := range describeOut.StreamDescription.Shards {
		id := awsToString(shard.ShardId)
		status := par.NewShardStatus(id, awsToString(shard.ParentShardId))
		if shard.SequenceNumberRange != nil {
			status.StartingSequenceNumber = awsToString(shard.SequenceNumberRange.StartingSequenceNumber)
			status.EndingSequenceNumber = awsToString(shard.SequenceNumberRange.EndingSequenceNumber)
		}
		w.shardState[id] = status
	}
	w.shardMu.Unlock()

	if w.kclConfig.EnableEnhancedFanOutConsumer {
		consumerARN, err := w.resolveConsumerARN()
		if err != nil {
			return fmt.Errorf("resolve EFO consumer: %w", err)
		}
		w.consumerARN = consumerARN
	}

	return nil
}

func (w *Worker) ctxOrBackground() context.Context {
	if w.ctx != nil {
		return w.ctx
	}
	return context.Background()
}

func (w *Worker) buildKinesisClient() (kin.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(w.kclConfig.RegionName),
	}
	if w.kclConfig.KinesisCredentials != nil {
		opts = append(opts, awsconfig.WithCredentialsProvider(w.kclConfig.KinesisCredentials))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	return kinesis.NewFromConfig(awsCfg, func(o *kinesis.Options) {
		if w.kclConfig.KinesisEndpoint != "" {
			o.BaseEndpoint = awsString(w.kclConfig.KinesisEndpoint)
		}
	}), nil
}

// resolveConsumerARN uses an existing EFO consumer registration if one by
// this name already exists, otherwise registers a new one.
func (w *Worker) resolveConsumerARN() (string, error) {
	if w.kclConfig.EnhancedFanOutConsumerARN != "" {
		return w.kclConfig.EnhancedFanOutConsumerARN, nil
	}

	name := w.kclConfig.EnhancedFanOutConsumerName
	if name == "" {
		name = w.kclConfig.ApplicationName
	}

	describeOut, err := w.kinesisClient.DescribeStreamConsumer(context.Background(), &kinesis.DescribeStreamConsumerInput{
		StreamARN:    awsString(w.streamARN),
		ConsumerName: awsString(name),
	})
	if err == nil {
		return awsToString(describeOut.ConsumerDescription.ConsumerARN), nil
	}

	registerOut, err := w.kinesisClient.RegisterStreamConsumer(context.Background(), &kinesis.RegisterStreamConsumerInput{
		StreamARN:    awsString(w.streamARN),
		ConsumerName: awsString(name),
	})
	if err != nil {
		return "", err
	}

	return awsToString(registerOut.Consumer.ConsumerARN), nil
}

// runLeaseLoop is the outer lease-management loop: every
// LeaseRefreshPeriodMillis it renews leases this worker holds, acquires
// unowned or expired shards, reaps readers that have stopped, and -- when
// lease stealing is enabled -- rebalances load across workers.
func (w *Worker) runLeaseLoop() {
	defer w.wg.Done()

	period := time.Duration(w.kclConfig.LeaseRefreshPeriodMillis) * time.Millisecond
	if period <= 0 {
		period = time.Duration(config.DefaultLeaseRefreshPeriodMillis) * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var lastStealAttempt time.Time

	for {
		w.reapFinishedReaders()
		w.acquireAndRenewLeases()

		if w.kclConfig.EnableLeaseStealing {
			interval := time.Duration(w.kclConfig.LeaseStealingIntervalMillis) * time.Millisecond
			if time.Since(lastStealAttempt) >= interval {
				w.attemptLeaseStealing()
				lastStealAttempt = time.Now()
			}
		}

		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// acquireAndRenewLeases walks every known shard: shards already owned by
// this worker are renewed, shards not yet owned by this worker are
// attempted, up to MaxLeasesForWorker.
func (w *Worker) acquireAndRenewLeases() {
	w.shardMu.RLock()
	shards := make([]*par.ShardStatus, 0, len(w.shardState))
	for _, s := range w.shardState {
		shards = append(shards, s)
	}
	w.shardMu.RUnlock()

	sort.Slice(shards, func(i, j int) bool { return shards[i].ID < shards[j].ID })

	for _, shard := range shards {
		if w.ctx.Err() != nil {
			return
		}

		w.assignMu.Lock()
		_, owned := w.assignments[shard.ID]
		ownedCount := len(w.assignments)
		w.assignMu.Unlock()

		if owned {
			if err := w.checkpointer.GetLease(shard, w.kclConfig.WorkerID); err != nil {
				w.log.Warnf("Failed to renew lease on shard %s: %v", shard.ID, err)
				continue
			}
			w.monitoring.LeaseRenewed(shard.ID)
			continue
		}

		if ownedCount >= w.kclConfig.MaxLeasesForWorker {
			continue
		}

		if err := w.checkpointer.FetchCheckpoint(shard); err != nil && !errors.Is(err, chk.ErrSequenceIDNotFound) {
			w.log.Warnf("Failed to fetch checkpoint for shard %s: %v", shard.ID, err)
			continue
		}
		if shard.GetCheckpoint() == chk.ShardEnd {
			continue
		}

		if err := w.checkpointer.GetLease(shard, w.kclConfig.WorkerID); err != nil {
			continue
		}

		w.monitoring.LeaseGained(shard.ID)
		w.startShard(shard)
	}
}

// attemptLeaseStealing rebalances shard load across workers:
// if another worker holds more shards than this one by more than one,
// place a claim on one of its shards rather than acquiring it outright,
// giving the current owner a chance to yield it cleanly.
func (w *Worker) attemptLeaseStealing() {
	w.shardMu.RLock()
	allShards := make(map[string]*par.ShardStatus, len(w.shardState))
	for id, s := range w.shardState {
		allShards[id] = s
	}
	w.shardMu.RUnlock()

	byWorker, err := w.checkpointer.ListActiveWorkers(allShards)
	if err != nil {
		w.log.Warnf("Failed to list active workers for lease stealing: %v", err)
		return
	}

	ownCount := len(byWorker[w.kclConfig.WorkerID])

	var target *par.ShardStatus
	maxCount := ownCount
	for workerID, owned := range byWorker {
		if workerID == w.kclConfig.WorkerID || len(owned) <= maxCount+1 {
			continue
		}
		maxCount = len(owned)
		target = owned[len(owned)-1]
	}

	if target == nil {
		return
	}

	if err := w.checkpointer.ClaimShard(target, w.kclConfig.WorkerID); err != nil {
		w.log.Debugf("Lease steal claim on shard %s not placed: %v", target.ID, err)
	}
}

// reapFinishedReaders removes assignments whose reader has stopped
// (shard closed or errored past recovery), calling the processor's
// TERMINATE or ZOMBIE shutdown as appropriate.
func (w *Worker) reapFinishedReaders() {
	w.assignMu.Lock()
	defer w.assignMu.Unlock()

	for shardID, a := range w.assignments {
		if a.reader.Alive() {
			continue
		}

		reason := kcl.ZOMBIE
		w.shardMu.RLock()
		shard := w.shardState[shardID]
		w.shardMu.RUnlock()
		if shard != nil && shard.GetCheckpoint() == chk.ShardEnd {
			reason = kcl.TERMINATE
		}

		a.processor.Shutdown(&kcl.ShutdownInput{ShutdownReason: reason, Checkpointer: a.checkpoint})
		w.monitoring.DeleteMetricMillisBehindLatest(shardID)
		delete(w.assignments, shardID)

		if reason == kcl.TERMINATE {
			if err := w.checkpointer.RemoveLeaseInfo(shardID); err != nil {
				w.log.Warnf("Failed to remove lease info for closed shard %s: %v", shardID, err)
			}
		}
	}
}

// handleCheckpointConflict reacts to a checkpoint write rejected because
// another worker now holds the shard's lease: the stale processor is shut
// down as ZOMBIE, its reader torn down, and the shard dropped from
// assignments so the next lease-management cycle re-evaluates ownership --
// respawning a fresh reader and processor if this worker still holds the
// lease, or leaving the shard alone if it does not.
func (w *Worker) handleCheckpointConflict(shardID string) {
	w.assignMu.Lock()
	a, ok := w.assignments[shardID]
	if ok {
		delete(w.assignments, shardID)
	}
	w.assignMu.Unlock()
	if !ok {
		return
	}

	w.log.Warnf("Checkpoint conflict on shard %s, lease likely taken by another worker; restarting reader", shardID)
	w.monitoring.CheckpointConflict(shardID)
	a.reader.Shutdown()
	a.processor.Shutdown(&kcl.ShutdownInput{ShutdownReason: kcl.ZOMBIE, Checkpointer: a.checkpoint})
}

// startShard wires a new reader + record processor for a newly acquired
// shard and starts the reader's background goroutine.
func (w *Worker) startShard(shard *par.ShardStatus) {
	processor := w.factory.CreateProcessor()
	checkpointer := NewRecordProcessorCheckpoint(shard, w.checkpointer, func() { w.handleCheckpointConflict(shard.ID) })

	seq := shard.GetCheckpoint()
	var extended *kcl.ExtendedSequenceNumber
	if seq == "" {
		extended = &kcl.ExtendedSequenceNumber{}
	} else {
		extended = &kcl.ExtendedSequenceNumber{SequenceNumber: awsString(seq)}
	}

	processor.Initialize(&kcl.InitializationInput{ShardId: shard.ID, ExtendedSequenceNumber: extended})

	iteratorSpec := shard.InitialIteratorSpec(w.retentionHours)

	var reader Reader
	if w.kclConfig.EnableEnhancedFanOutConsumer {
		r := NewEFOShardReader(shard.ID, w.consumerARN, iteratorSpec, w.kinesisClient, w.recordChan, w.errChan, 0, w.log)
		r.Start()
		reader = r
	} else {
		sleep := time.Duration(w.kclConfig.IdleTimeBetweenReadsInMillis) * time.Millisecond
		r := NewPullShardReader(shard.ID, w.kclConfig.StreamName, iteratorSpec, w.kinesisClient, w.recordChan, w.errChan, sleep, int32(w.kclConfig.MaxRecords), w.log)
		r.Start()
		reader = r
	}

	w.assignMu.Lock()
	w.assignments[shard.ID] = &assignment{reader: reader, processor: processor, checkpoint: checkpointer}
	w.assignMu.Unlock()
}

// runDispatchLoop drains the shared record channel, a bounded
// multiple-producer single-consumer queue fed by every shard reader,
// batches records per shard, and delivers them to the owning record
// processor on a fixed cadence controlled by ReadIntervalMillis.
func (w *Worker) runDispatchLoop() {
	defer w.wg.Done()

	interval := time.Duration(w.kclConfig.ReadIntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = time.Duration(config.DefaultReadIntervalMillis) * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pending := make(map[string][]types.Record)

	flush := func() {
		for shardID, records := range pending {
			w.deliverBatch(shardID, records)
		}
		pending = make(map[string][]types.Record)
	}

	for {
		select {
		case <-w.ctx.Done():
			flush()
			return

		case rec, ok := <-w.recordChan:
			if !ok {
				flush()
				return
			}
			pending[rec.shardID] = append(pending[rec.shardID], rec.record)

		case <-ticker.C:
			flush()
		}
	}
}

func (w *Worker) deliverBatch(shardID string, records []types.Record) {
	w.assignMu.Lock()
	a, ok := w.assignments[shardID]
	w.assignMu.Unlock()
	if !ok {
		return
	}

	if len(records) == 0 && !w.kclConfig.CallProcessRecordsEvenForEmptyRecordList {
		return
	}

	now := time.Now().UTC()
	a.processor.ProcessRecords(&kcl.ProcessRecordsInput{
		CacheEntryTime: &now,
		CacheExitTime:  &now,
		Records:        records,
		Checkpointer:   a.checkpoint,
	})

	bytes := int64(0)
	for _, r := range records {
		bytes += int64(len(r.Data))
	}
	w.monitoring.IncrRecordsProcessed(shardID, len(records))
	w.monitoring.IncrBytesProcessed(shardID, bytes)
}

// runErrorLoop logs reader errors surfaced on the shared error channel.
// Reader errors do not stop the worker: each reader manages its own
// retry/backoff internally, and a reader that stops is reaped by the
// lease loop.
func (w *Worker) runErrorLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case err, ok := <-w.errChan:
			if !ok {
				return
			}
			w.log.Warnf("shard reader error: %v", err)
		}
	}
}

func awsString(s string) *string { return &s }

func awsToString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func awsToInt32(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
