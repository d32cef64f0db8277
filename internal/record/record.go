// Package record defines the data model shared by every layer of the
// supplier: the partition identity, the ordered record it produces, and the
// reserved end-of-shard sentinel.
package record

// EndOfShardSequenceNumber is the reserved, distinguished sequence number
// carried by the END_OF_SHARD sentinel record.
const EndOfShardSequenceNumber = "__END_OF_SHARD__"

// StreamPartition is a value-equal, immutable identifier for a single shard
// of a single stream.
type StreamPartition struct {
	StreamID    string
	PartitionID string
}

// OrderedRecord is one unit of delivery to the caller: zero or more decoded
// payloads carrying a single upstream sequence number.
type OrderedRecord struct {
	Partition      StreamPartition
	SequenceNumber string
	Payloads       [][]byte
}

// IsEndOfShard reports whether r is the END_OF_SHARD sentinel for its
// partition.
func (r OrderedRecord) IsEndOfShard() bool {
	return r.SequenceNumber == EndOfShardSequenceNumber && len(r.Payloads) == 0
}

// EndOfShard builds the sentinel record for partition p.
func EndOfShard(p StreamPartition) OrderedRecord {
	return OrderedRecord{
		Partition:      p,
		SequenceNumber: EndOfShardSequenceNumber,
		Payloads:       nil,
	}
}
