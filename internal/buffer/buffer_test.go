package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/usedatabrew/streamsupplier/internal/record"
)

func rec(partition, seq string) record.OrderedRecord {
	return record.OrderedRecord{
		Partition:      record.StreamPartition{StreamID: "s", PartitionID: partition},
		SequenceNumber: seq,
		Payloads:       [][]byte{[]byte(seq)},
	}
}

func TestOfferAndDrainOrdering(t *testing.T) {
	b := New(4)
	ctx := context.Background()

	require.Equal(t, Accepted, b.Offer(ctx, rec("0", "1"), time.Second))
	require.Equal(t, Accepted, b.Offer(ctx, rec("0", "2"), time.Second))
	require.Equal(t, Accepted, b.Offer(ctx, rec("0", "3"), time.Second))

	out := make([]record.OrderedRecord, 3)
	n := b.Drain(ctx, out, 3, time.Second)
	require.Equal(t, 3, n)
	require.Equal(t, "1", out[0].SequenceNumber)
	require.Equal(t, "2", out[1].SequenceNumber)
	require.Equal(t, "3", out[2].SequenceNumber)
}

func TestOfferTimesOutWhenFull(t *testing.T) {
	b := New(1)
	ctx := context.Background()
	require.Equal(t, Accepted, b.Offer(ctx, rec("0", "1"), time.Second))

	start := time.Now()
	result := b.Offer(ctx, rec("0", "2"), 50*time.Millisecond)
	require.Equal(t, TimedOut, result)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestOfferInterruptedByContext(t *testing.T) {
	b := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	require.Equal(t, Accepted, b.Offer(ctx, rec("0", "1"), time.Second))

	cancel()
	result := b.Offer(ctx, rec("0", "2"), time.Second)
	require.Equal(t, Interrupted, result)
}

func TestCapacityNeverExceeded(t *testing.T) {
	b := New(2)
	ctx := context.Background()

	require.Equal(t, Accepted, b.Offer(ctx, rec("0", "1"), 0))
	require.Equal(t, Accepted, b.Offer(ctx, rec("0", "2"), 0))
	require.Equal(t, TimedOut, b.Offer(ctx, rec("0", "3"), 0))
	require.Equal(t, 2, b.Len())
}

func TestDrainTimeoutReturnsZero(t *testing.T) {
	b := New(2)
	ctx := context.Background()
	out := make([]record.OrderedRecord, 1)
	n := b.Drain(ctx, out, 1, 20*time.Millisecond)
	require.Equal(t, 0, n)
}

func TestRebuildPreservesUnaffectedPartitions(t *testing.T) {
	b := New(8)
	ctx := context.Background()

	a := record.StreamPartition{StreamID: "s", PartitionID: "A"}
	bp := record.StreamPartition{StreamID: "s", PartitionID: "B"}

	require.Equal(t, Accepted, b.Offer(ctx, record.OrderedRecord{Partition: a, SequenceNumber: "1"}, 0))
	require.Equal(t, Accepted, b.Offer(ctx, record.OrderedRecord{Partition: bp, SequenceNumber: "1"}, 0))
	require.Equal(t, Accepted, b.Offer(ctx, record.OrderedRecord{Partition: a, SequenceNumber: "2"}, 0))
	require.Equal(t, Accepted, b.Offer(ctx, record.OrderedRecord{Partition: bp, SequenceNumber: "2"}, 0))

	fresh := b.Rebuild(func(p record.StreamPartition) bool {
		return p != a
	})

	out := make([]record.OrderedRecord, 4)
	n := fresh.Drain(ctx, out, 2, time.Second)
	require.Equal(t, 2, n)
	for _, r := range out[:n] {
		require.Equal(t, bp, r.Partition)
	}
	require.Equal(t, 0, b.Len())
}
