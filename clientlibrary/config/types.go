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

// Package config defines the KCL worker configuration, defaults, and the
// initial-position-in-stream vocabulary shared by readers and checkpointers.
package config

import (
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/streamworks/kcl/clientlibrary/metrics"
	"github.com/streamworks/kcl/logger"
)

// InitialPositionInStream determines where a reader starts consuming a
// shard when no checkpoint is available.
type InitialPositionInStream int

const (
	// LATEST starts at the tip of the shard; only records written after the
	// reader starts are delivered.
	LATEST InitialPositionInStream = iota + 1
	// TRIM_HORIZON starts at the oldest record still retained by the shard.
	TRIM_HORIZON
	// AT_TIMESTAMP starts at the first record at or after a given timestamp.
	AT_TIMESTAMP
)

// InitialPositionInStreamExtended carries the resolved starting position,
// including the timestamp payload for AT_TIMESTAMP.
type InitialPositionInStreamExtended struct {
	Position  InitialPositionInStream
	Timestamp *time.Time
}

func newInitialPosition(position InitialPositionInStream) *InitialPositionInStreamExtended {
	return &InitialPositionInStreamExtended{Position: position}
}

func newInitialPositionAtTimestamp(timestamp *time.Time) *InitialPositionInStreamExtended {
	return &InitialPositionInStreamExtended{Position: AT_TIMESTAMP, Timestamp: timestamp}
}

// Default configuration values, named to match the equivalent KCL
// constants (LOCK_DURATION, READ_INTERVAL, ...).
const (
	DefaultInitialPositionInStream                   = LATEST
	DefaultFailoverTimeMillis                        = 30000
	DefaultLeaseRefreshPeriodMillis                  = 5000
	DefaultMaxRecords                                = 10000
	MaxMaxRecords                                    = 10000
	DefaultIdleTimeBetweenReadsMillis                = 1000
	DefaultDontCallProcessRecordsForEmptyRecordList  = false
	DefaultParentShardPollIntervalMillis             = 10000
	DefaultShardSyncIntervalMillis                   = 60000
	DefaultCleanupLeasesUponShardsCompletion         = true
	DefaultTaskBackoffTimeMillis                     = 500
	DefaultValidateSequenceNumberBeforeCheckpointing = true
	DefaultShutdownGraceMillis                       = 5000
	DefaultMaxLeasesForWorker                        = 2147483647
	DefaultMaxLeasesToStealAtOneTime                 = 1
	DefaultInitialLeaseTableReadCapacity             = 10
	DefaultInitialLeaseTableWriteCapacity            = 10
	DefaultSkipShardSyncAtStartupIfLeasesExist       = false
	DefaultEnableLeaseStealing                       = false
	DefaultLeaseStealingIntervalMillis               = 5000
	DefaultLeaseStealingClaimTimeoutMillis           = 5000
	DefaultLeaseSyncingIntervalMillis                = 60000
	DefaultLeaseRefreshWaitTime                      = 2500
	DefaultMaxRetryCount                             = 5

	// DefaultReadIntervalMillis is how long the orchestrator sleeps between
	// dispatch attempts while draining the shared record channel.
	DefaultReadIntervalMillis = 50

	// DefaultPushChannelCapacity bounds the shared record channel used by
	// EFO (push) readers.
	DefaultPushChannelCapacity = 1000

	// DefaultPullLimit is the maximum number of records requested per
	// GetRecords call by a pull reader.
	DefaultPullLimit = 10000

	// DefaultReaderSleepSeconds is the pull reader's resting period between
	// successful GetRecords calls.
	DefaultReaderSleepSeconds = 1.0

	// MaxReaderSleepSeconds caps the pull reader's error backoff.
	MaxReaderSleepSeconds = 30.0

	// DefaultEFOWaitTimeout bounds how long an EFO reader waits for its
	// subscription to end before treating the stream as stuck.
	DefaultEFOWaitTimeout = 360 * time.Second
)

// KinesisClientLibConfiguration holds every tunable of a KCL worker: stream
// identity, credentials, lease timing, and pluggable collaborators
// (Logger, MonitoringService). Built via NewKinesisClientLibConfig and the
// With* functional setters.
type KinesisClientLibConfiguration struct {
	ApplicationName      string
	TableName            string
	StreamName           string
	RegionName           string
	WorkerID             string
	KinesisEndpoint      string
	DynamoDBEndpoint     string
	KinesisCredentials   aws.CredentialsProvider
	DynamoDBCredentials  aws.CredentialsProvider

	InitialPositionInStream          InitialPositionInStream
	InitialPositionInStreamExtended  InitialPositionInStreamExtended

	FailoverTimeMillis           int
	LeaseRefreshPeriodMillis     int
	LeaseRefreshWaitTime         int
	MaxRecords                   int
	IdleTimeBetweenReadsInMillis int

	CallProcessRecordsEvenForEmptyRecordList bool

	ParentShardPollIntervalMillis int
	ShardSyncIntervalMillis       int
	CleanupTerminatedShardsBeforeExpiry bool
	TaskBackoffTimeMillis          int
	ValidateSequenceNumberBeforeCheckpointing bool
	ShutdownGraceMillis             int

	MaxLeasesForWorker         int
	MaxLeasesToStealAtOneTime  int

	InitialLeaseTableReadCapacity  int
	InitialLeaseTableWriteCapacity int

	SkipShardSyncAtWorkerInitializationIfLeasesExist bool

	EnableLeaseStealing              bool
	LeaseStealingIntervalMillis      int
	LeaseStealingClaimTimeoutMillis  int
	LeaseSyncingTimeIntervalMillis   int

	MaxRetryCount int

	// EnableEnhancedFanOutConsumer selects the EFO (push) reader instead of
	// the default pull reader.
	EnableEnhancedFanOutConsumer bool
	EnhancedFanOutConsumerName   string
	EnhancedFanOutConsumerARN    string

	// PushChannelCapacity bounds the shared record channel used by EFO
	// readers. Zero means DefaultPushChannelCapacity.
	PushChannelCapacity int

	// ReadIntervalMillis is how long the orchestrator sleeps between
	// dispatch attempts. Zero means DefaultReadIntervalMillis.
	ReadIntervalMillis int

	Logger             logger.Logger
	MonitoringService  metrics.MonitoringService
}

func empty(s string) bool {
	return s == ""
}

func checkIsValueNotEmpty(name, value string) {
	if empty(value) {
		log.Panicf("%s must not be empty", name)
	}
}

func checkIsValuePositive(name string, value int) {
	if value <= 0 {
		log.Panicf("%s must be positive, got: %d", name, value)
	}
}
