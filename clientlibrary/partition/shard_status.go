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

// Package partition holds ShardStatus, the in-memory mirror of one shard's
// lease and checkpoint state as last observed or written by this process.
package partition

import (
	"sync"
	"time"

	"github.com/streamworks/kcl/clientlibrary/config"
)

// ShardStatus is the in-process view of a single shard's lease: who holds
// it, when it expires, the last checkpointed sequence number, and (for
// lease stealing) any outstanding claim. All access goes through the
// getters/setters below because the EFO reader's continuation path and the
// orchestrator's lease cycle touch the same ShardStatus from different
// goroutines.
type ShardStatus struct {
	ID            string
	ParentShardId string

	// StartingSequenceNumber/EndingSequenceNumber describe this shard's own
	// range, as reported by ListShards; EndingSequenceNumber is empty for a
	// shard that has not been closed.
	StartingSequenceNumber string
	EndingSequenceNumber   string

	Checkpoint   string
	AssignedTo   string
	LeaseTimeout time.Time

	// Heartbeat is refreshed on every successful checkpoint and lease
	// renewal. It is distinct from LeaseTimeout: a lease can be
	// renewed far in the future while the heartbeat still reflects when
	// this process last actually made progress.
	Heartbeat time.Time

	// ClaimRequest/ClaimRequestTimestamp implement lease stealing: a
	// worker wanting to take over a shard records its identity here; the
	// current owner yields once the claim is not yet expired.
	ClaimRequest          string
	ClaimRequestTimestamp time.Time

	Mux *sync.RWMutex
}

// NewShardStatus builds a ShardStatus ready for use.
func NewShardStatus(shardID, parentShardID string) *ShardStatus {
	return &ShardStatus{
		ID:            shardID,
		ParentShardId: parentShardID,
		Mux:           &sync.RWMutex{},
	}
}

func (ss *ShardStatus) GetCheckpoint() string {
	ss.Mux.RLock()
	defer ss.Mux.RUnlock()
	return ss.Checkpoint
}

// SetCheckpoint records the checkpoint and refreshes the heartbeat.
func (ss *ShardStatus) SetCheckpoint(checkpoint string) {
	ss.Mux.Lock()
	defer ss.Mux.Unlock()
	ss.Checkpoint = checkpoint
	ss.Heartbeat = time.Now().UTC()
}

func (ss *ShardStatus) GetLeaseOwner() string {
	ss.Mux.RLock()
	defer ss.Mux.RUnlock()
	return ss.AssignedTo
}

func (ss *ShardStatus) SetLeaseOwner(owner string) {
	ss.Mux.Lock()
	defer ss.Mux.Unlock()
	ss.AssignedTo = owner
}

func (ss *ShardStatus) GetLeaseTimeout() time.Time {
	ss.Mux.RLock()
	defer ss.Mux.RUnlock()
	return ss.LeaseTimeout
}

// SetLeaseTimeout records a new lease expiry and refreshes the heartbeat:
// a lease renewal counts as progress just like a checkpoint write.
func (ss *ShardStatus) SetLeaseTimeout(t time.Time) {
	ss.Mux.Lock()
	defer ss.Mux.Unlock()
	ss.LeaseTimeout = t
	ss.Heartbeat = time.Now().UTC()
}

func (ss *ShardStatus) GetHeartbeat() time.Time {
	ss.Mux.RLock()
	defer ss.Mux.RUnlock()
	return ss.Heartbeat
}

// RestoreFromStore applies checkpoint/owner/lease-timeout/heartbeat values
// read back from the checkpointer's backing store. Unlike SetCheckpoint and
// SetLeaseTimeout, it does not stamp Heartbeat to now: those setters record
// this process making progress, while a restore is reloading progress a
// (possibly different, possibly long-gone) owner already recorded. Zero
// values are left untouched so a checkpointer can call this with whatever
// subset of fields it read.
func (ss *ShardStatus) RestoreFromStore(checkpoint, owner string, leaseTimeout, heartbeat time.Time) {
	ss.Mux.Lock()
	defer ss.Mux.Unlock()
	if checkpoint != "" {
		ss.Checkpoint = checkpoint
	}
	if owner != "" {
		ss.AssignedTo = owner
	}
	if !leaseTimeout.IsZero() {
		ss.LeaseTimeout = leaseTimeout
	}
	if !heartbeat.IsZero() {
		ss.Heartbeat = heartbeat
	}
}

// IsClaimRequestExpired reports whether an outstanding lease-stealing
// claim on this shard is old enough to be ignored by a competing claimant.
func (ss *ShardStatus) IsClaimRequestExpired(cfg *config.KinesisClientLibConfiguration) bool {
	ss.Mux.RLock()
	defer ss.Mux.RUnlock()

	if ss.ClaimRequest == "" {
		return true
	}

	timeout := time.Duration(cfg.LeaseStealingClaimTimeoutMillis) * time.Millisecond
	return time.Now().UTC().After(ss.ClaimRequestTimestamp.Add(timeout))
}

// IteratorType mirrors the Kinesis iterator vocabulary used to resolve a
// concrete shard iterator before the first GetRecords call.
type IteratorType int

const (
	IteratorLatest IteratorType = iota + 1
	IteratorAtSequenceNumber
	IteratorAfterSequenceNumber
	IteratorAtTimestamp
	IteratorTrimHorizon
)

// IteratorSpec is the resolved starting position for a shard reader,
// derived from local lease-manager state.
type IteratorSpec struct {
	Type           IteratorType
	SequenceNumber string
	Timestamp      *time.Time
}

// InitialIteratorSpec picks LATEST iff there is no checkpoint or the
// heartbeat is older than the stream's retention period; otherwise
// AFTER_SEQUENCE_NUMBER at the stored checkpoint.
func (ss *ShardStatus) InitialIteratorSpec(retentionHours int) IteratorSpec {
	ss.Mux.RLock()
	checkpoint := ss.Checkpoint
	heartbeat := ss.Heartbeat
	ss.Mux.RUnlock()

	if checkpoint == "" {
		return IteratorSpec{Type: IteratorLatest}
	}

	if heartbeat.IsZero() {
		return IteratorSpec{Type: IteratorLatest}
	}

	if time.Since(heartbeat) > time.Duration(retentionHours)*time.Hour {
		return IteratorSpec{Type: IteratorLatest}
	}

	return IteratorSpec{Type: IteratorAfterSequenceNumber, SequenceNumber: checkpoint}
}
