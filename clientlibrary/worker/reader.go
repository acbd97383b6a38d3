package worker

import (
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
)

// shardRecord pairs a delivered record with the shard it came from, the
// unit pushed onto the orchestrator's shared record channel.
type shardRecord struct {
	shardID string
	record  types.Record
}

// Reader is the capability shared by the pull and EFO shard readers:
// sibling reader variants behind a common interface instead of
// subclassing a shared base.
type Reader interface {
	// Alive reports whether the reader's background goroutine is still
	// running. The orchestrator reaps readers for which this returns
	// false.
	Alive() bool

	// Shutdown requests the reader stop and blocks until its goroutine
	// has exited. Safe to call more than once.
	Shutdown()
}
