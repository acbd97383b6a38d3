package kinesis

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	par "github.com/streamworks/kcl/clientlibrary/partition"
)

// ShardIteratorInput translates a partition.IteratorSpec (the lease
// manager's notion of a starting position) into the corresponding
// GetShardIterator request fields: iterator type, sequence number (if
// any), and timestamp (if any).
func ShardIteratorInput(spec par.IteratorSpec) (types.ShardIteratorType, *string, *time.Time) {
	switch spec.Type {
	case par.IteratorAfterSequenceNumber:
		return types.ShardIteratorTypeAfterSequenceNumber, aws.String(spec.SequenceNumber), nil
	case par.IteratorAtSequenceNumber:
		return types.ShardIteratorTypeAtSequenceNumber, aws.String(spec.SequenceNumber), nil
	case par.IteratorAtTimestamp:
		return types.ShardIteratorTypeAtTimestamp, nil, spec.Timestamp
	case par.IteratorTrimHorizon:
		return types.ShardIteratorTypeTrimHorizon, nil, nil
	case par.IteratorLatest:
		return types.ShardIteratorTypeLatest, nil, nil
	default:
		panic(fmt.Sprintf("kinesis: unknown iterator type %v", spec.Type))
	}
}

// StartingPositionFromSpec translates an IteratorSpec into the
// StartingPosition shape used by SubscribeToShard (the EFO reader's
// equivalent of GetShardIterator).
func StartingPositionFromSpec(spec par.IteratorSpec) types.StartingPosition {
	shardType, seq, ts := ShardIteratorInput(spec)

	pos := types.StartingPosition{Type: shardType}
	if seq != nil {
		pos.SequenceNumber = seq
	}
	if ts != nil {
		pos.Timestamp = ts
	}
	return pos
}
