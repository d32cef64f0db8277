// Package probe implements the time-bounded sequence-number discovery loop
// (component G of SPEC_FULL.md §4.G), used by the façade's
// GetEarliestSequenceNumber and GetLatestSequenceNumber.
//
// Grounded on the teacher's getIter/getRecords retry loop in
// input_kinesis.go, stripped down to the single-shot, no-rearm shape the
// spec's probe requires: it runs to completion or deadline on the calling
// goroutine rather than arming scheduler ticks.
package probe

import (
	"context"
	"time"

	"github.com/usedatabrew/streamsupplier/internal/record"
	"github.com/usedatabrew/streamsupplier/internal/streamclient"
)

// Result is the outcome of a probe: exactly one of Sequence being set,
// EndOfShard being true, or neither (timed out before resolving).
type Result struct {
	Sequence   string
	EndOfShard bool
	TimedOut   bool
}

const batchSize = 1000

// ThrottleBackoff mirrors partition.ThrottleBackoff; duplicated here (rather
// than imported) to keep probe free of a dependency on the worker package.
const ThrottleBackoff = 3 * time.Second

// Discover runs the probe protocol for partition p using iterator type t,
// which must be streamclient.TrimHorizon or streamclient.Latest.
func Discover(ctx context.Context, client streamclient.Client, p record.StreamPartition, t streamclient.IteratorType, timeout time.Duration) (Result, error) {
	iter, err := client.GetShardIterator(ctx, p.StreamID, p.PartitionID, t, "")
	if err != nil {
		if streamclient.ClassOf(err) == streamclient.ClassNotFound {
			return Result{EndOfShard: true}, nil
		}
		return Result{}, err
	}

	deadline := time.Now().Add(timeout)
	cursor := &iter

	for cursor != nil && time.Now().Before(deadline) {
		res, err := client.GetRecords(ctx, *cursor, batchSize)
		if err != nil {
			if streamclient.ClassOf(err) == streamclient.ClassThrottled {
				if !sleepInterruptible(ctx, ThrottleBackoff) {
					return Result{}, ctx.Err()
				}
				continue
			}
			return Result{}, err
		}

		if len(res.Records) > 0 {
			return Result{Sequence: res.Records[0].SequenceNumber}, nil
		}

		if res.NextIterator == "" {
			cursor = nil
			break
		}
		next := res.NextIterator
		cursor = &next
	}

	if cursor == nil {
		return Result{EndOfShard: true}, nil
	}
	return Result{TimedOut: true}, nil
}

func sleepInterruptible(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
