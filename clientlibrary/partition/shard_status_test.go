package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/streamworks/kcl/clientlibrary/config"
)

func newTestConfig() *config.KinesisClientLibConfiguration {
	return config.NewKinesisClientLibConfig("testApp", "testStream", "us-east-1", "worker-1")
}

func TestShardStatus_CheckpointRefreshesHeartbeat(t *testing.T) {
	ss := NewShardStatus("shard-0", "")
	assert.True(t, ss.GetHeartbeat().IsZero())

	ss.SetCheckpoint("49590338271490256608559692538361571095921575989136588898")
	assert.Equal(t, "49590338271490256608559692538361571095921575989136588898", ss.GetCheckpoint())
	assert.False(t, ss.GetHeartbeat().IsZero())
}

func TestShardStatus_LeaseTimeoutRefreshesHeartbeat(t *testing.T) {
	ss := NewShardStatus("shard-0", "")
	before := ss.GetHeartbeat()

	ss.SetLeaseTimeout(time.Now().Add(30 * time.Second))
	assert.True(t, ss.GetHeartbeat().After(before))
}

func TestShardStatus_LeaseOwnerRoundTrip(t *testing.T) {
	ss := NewShardStatus("shard-0", "")
	assert.Empty(t, ss.GetLeaseOwner())

	ss.SetLeaseOwner("worker-1")
	assert.Equal(t, "worker-1", ss.GetLeaseOwner())
}

func TestShardStatus_IsClaimRequestExpired(t *testing.T) {
	cfg := newTestConfig()
	cfg.LeaseStealingClaimTimeoutMillis = 1000

	ss := NewShardStatus("shard-0", "")
	assert.True(t, ss.IsClaimRequestExpired(cfg), "no outstanding claim is trivially expired")

	ss.ClaimRequest = "worker-2"
	ss.ClaimRequestTimestamp = time.Now().UTC()
	assert.False(t, ss.IsClaimRequestExpired(cfg))

	ss.ClaimRequestTimestamp = time.Now().UTC().Add(-2 * time.Second)
	assert.True(t, ss.IsClaimRequestExpired(cfg))
}

func TestShardStatus_InitialIteratorSpec_NoCheckpointIsLatest(t *testing.T) {
	ss := NewShardStatus("shard-0", "")
	spec := ss.InitialIteratorSpec(24)
	assert.Equal(t, IteratorLatest, spec.Type)
}

func TestShardStatus_InitialIteratorSpec_FreshCheckpointResumes(t *testing.T) {
	ss := NewShardStatus("shard-0", "")
	ss.SetCheckpoint("12345")

	spec := ss.InitialIteratorSpec(24)
	assert.Equal(t, IteratorAfterSequenceNumber, spec.Type)
	assert.Equal(t, "12345", spec.SequenceNumber)
}

func TestShardStatus_InitialIteratorSpec_StaleCheckpointFallsBackToLatest(t *testing.T) {
	ss := NewShardStatus("shard-0", "")
	ss.Checkpoint = "12345"
	ss.Heartbeat = time.Now().UTC().Add(-48 * time.Hour)

	spec := ss.InitialIteratorSpec(24)
	assert.Equal(t, IteratorLatest, spec.Type)
}
