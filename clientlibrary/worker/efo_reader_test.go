package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamworks/kcl/logger"
	par "github.com/streamworks/kcl/clientlibrary/partition"
)

type fakeSubscribeClient struct {
	calls int32
	err   error
}

func (f *fakeSubscribeClient) SubscribeToShard(context.Context, *kinesis.SubscribeToShardInput, ...func(*kinesis.Options)) (*kinesis.SubscribeToShardOutput, error) {
	f.calls++
	return nil, f.err
}

func TestEFOShardReader_SurfacesSubscribeErrorsAndRetries(t *testing.T) {
	client := &fakeSubscribeClient{err: errors.New("subscribe failed")}

	recordChan := make(chan shardRecord, 10)
	errChan := make(chan error, 10)

	r := NewEFOShardReader("shard-0", "arn:consumer", par.IteratorSpec{Type: par.IteratorLatest},
		client, recordChan, errChan, time.Second, logger.GetDefaultLogger())
	r.Start()
	defer r.Shutdown()

	select {
	case err := <-errChan:
		assert.ErrorContains(t, err, "subscribe failed")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribe error")
	}

	require.Eventually(t, func() bool { return client.calls >= 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestEFOShardReader_ShutdownStopsLoop(t *testing.T) {
	client := &fakeSubscribeClient{err: errors.New("subscribe failed")}

	recordChan := make(chan shardRecord, 10)
	errChan := make(chan error, 10)

	r := NewEFOShardReader("shard-0", "arn:consumer", par.IteratorSpec{Type: par.IteratorLatest},
		client, recordChan, errChan, time.Second, logger.GetDefaultLogger())
	r.Start()

	<-errChan
	r.Shutdown()
	assert.False(t, r.Alive())
}
