package interfaces

// ExtendedSequenceNumber identifies a position within a shard: the
// sequence number together with a sub-sequence number for aggregated
// (KPL) records. A nil SequenceNumber means no checkpoint exists yet.
type ExtendedSequenceNumber struct {
	SequenceNumber    *string
	SubSequenceNumber int64
}
