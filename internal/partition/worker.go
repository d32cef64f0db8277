// Package partition implements the per-partition fetch state machine
// (component D of SPEC_FULL.md §4.D): cursor management, the tick
// algorithm, the retry/backoff taxonomy, and the end-of-shard sentinel.
//
// Grounded on the teacher's kinesisReader.runConsumer state machine
// (input_kinesis.go): the awsKinesisConsumerConsuming/Yielding/Finished/
// Closing state variable generalizes here into the fuller
// Throttled/IteratorExpired/NotFound/InvalidArgument/RecoverableTransport/
// Unrecoverable taxonomy spec.md §4.A requires, and the one-shot-rearm-via-
// scheduler model replaces the teacher's single long-lived goroutine per
// shard (see SPEC_FULL.md §4.D). Unlike the teacher's getRecords retry loop,
// every delay here is fixed (a tunable constant or a configured delay)
// rather than an exponential backoff sequence (see DESIGN.md on why
// cenkalti/backoff was not wired into this package).
package partition

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/usedatabrew/streamsupplier/internal/buffer"
	"github.com/usedatabrew/streamsupplier/internal/decode"
	"github.com/usedatabrew/streamsupplier/internal/log"
	"github.com/usedatabrew/streamsupplier/internal/metrics"
	"github.com/usedatabrew/streamsupplier/internal/record"
	"github.com/usedatabrew/streamsupplier/internal/scheduler"
	"github.com/usedatabrew/streamsupplier/internal/streamclient"
)

// Tunable constants (not user-configurable) per SPEC_FULL.md §6.
const (
	ThrottleBackoff     = 3 * time.Second
	ExceptionRetryDelay = 10 * time.Second
)

// Config holds the user-configurable knobs that affect tick behavior.
type Config struct {
	RecordsPerFetch int
	FetchDelay      time.Duration
	OfferTimeout    time.Duration
	BufferFullWait  time.Duration
}

// Worker owns one partition's cursor and fetch loop. The zero value is not
// usable; construct with New.
type Worker struct {
	partition record.StreamPartition
	client    streamclient.Client
	decoder   decode.Decoder
	buf       *buffer.Buffer
	metrics   *metrics.Metrics
	log       log.Modular
	cfg       Config

	mu            sync.Mutex
	cursor        *string // nil == exhausted/closed
	lastSequence  *string // last sequence number successfully delivered
	started       bool
	stopRequested bool
	failed        bool
	failErr       error
}

// New builds a Worker for partition p, initially unassigned a cursor (the
// caller must call SetCursor, mirroring "assign does not start the
// worker until start or the next poll" from SPEC_FULL.md §4.F).
func New(p record.StreamPartition, client streamclient.Client, decoder decode.Decoder, buf *buffer.Buffer, m *metrics.Metrics, logger log.Modular, cfg Config) *Worker {
	instanceID := uuid.Must(uuid.NewV4()).String()
	return &Worker{
		partition: p,
		client:    client,
		decoder:   decoder,
		buf:       buf,
		metrics:   m,
		log:       logger.WithFields(map[string]any{"stream": p.StreamID, "partition": p.PartitionID, "worker_id": instanceID}),
		cfg:       cfg,
	}
}

func (w *Worker) currentBuffer() *buffer.Buffer {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf
}

// SetBuffer re-points the worker at a new buffer instance. Used by the
// façade's reseek protocol, which rebuilds the buffer and must retarget
// every assigned worker -- not just the ones in the reseek's scope --
// since all workers share the one buffer a given Poll call drains. It also
// marks the worker as not started: the reseek replaced the scheduler its
// ticks ran on, so the next Start must arm it again on the fresh one.
func (w *Worker) SetBuffer(buf *buffer.Buffer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = buf
	w.started = false
}

// SetCursor assigns a new cursor to the worker (used by assign and by the
// reseek protocol). It also clears any failed state and marks the worker
// as not started, so the next Start/rearm arms a fresh tick. The caller
// (façade) is responsible for ensuring no tick is concurrently in flight
// when reseeking, via the scheduler-shutdown fence (SPEC_FULL.md §4.F).
func (w *Worker) SetCursor(cursor *string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cursor = cursor
	w.lastSequence = nil
	w.started = false
	w.stopRequested = false
	w.failed = false
	w.failErr = nil
}

// Stop requests the worker wind down; its next tick (or the current one,
// if already armed) will not rearm.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopRequested = true
	w.mu.Unlock()
}

// Started reports whether a tick has been armed since the last
// assign/reseek.
func (w *Worker) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// Failed reports whether the worker has permanently stopped after a fatal
// upstream error, and the error that caused it.
func (w *Worker) Failed() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed, w.failErr
}

// Start arms the worker's first tick on sched, if it isn't already
// started, stopped, or failed.
func (w *Worker) Start(ctx context.Context, sched *scheduler.Scheduler) {
	w.mu.Lock()
	if w.started || w.stopRequested || w.failed {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	w.rearm(ctx, sched, 0)
}

func (w *Worker) rearm(ctx context.Context, sched *scheduler.Scheduler, delay time.Duration) {
	w.mu.Lock()
	notStarted := !w.started || w.stopRequested
	w.mu.Unlock()
	if notStarted {
		return
	}
	// Scheduler rejection (expected when a reseek replaced it mid-flight)
	// is a benign no-op, per SPEC_FULL.md §4.E.
	sched.Schedule(func() { w.tick(ctx, sched) }, delay)
}

// tick runs exactly one iteration of the state machine described in
// SPEC_FULL.md §4.D. It is never invoked concurrently with itself for the
// same Worker, because it only rearms itself after it returns.
func (w *Worker) tick(ctx context.Context, sched *scheduler.Scheduler) {
	w.mu.Lock()
	if w.stopRequested {
		w.started = false
		w.mu.Unlock()
		return
	}
	cursor := w.cursor
	w.mu.Unlock()

	if cursor == nil {
		w.tickEmitEndOfShard(ctx, sched)
		return
	}

	res, err := w.client.GetRecords(ctx, *cursor, w.cfg.RecordsPerFetch)
	if err != nil {
		w.handleFetchError(ctx, sched, *cursor, err)
		return
	}

	for _, raw := range res.Records {
		payloads, derr := w.decoder.Decode(raw.Data)
		if derr != nil {
			w.log.Errorf("failed to decode record %q: %v", raw.SequenceNumber, derr)
			w.fail(derr)
			return
		}
		rec := record.OrderedRecord{
			Partition:      w.partition,
			SequenceNumber: raw.SequenceNumber,
			Payloads:       payloads,
		}

		switch w.currentBuffer().Offer(ctx, rec, w.cfg.OfferTimeout) {
		case buffer.Accepted:
			seq := raw.SequenceNumber
			w.mu.Lock()
			w.lastSequence = &seq
			w.mu.Unlock()
			w.metrics.RecordSupplied(w.partition.StreamID, w.partition.PartitionID)
		case buffer.TimedOut:
			// The single re-entry point guaranteeing at-least-once across
			// backpressure: re-request the iterator at the offending
			// sequence number so no record is skipped, then rearm.
			w.rewindAndRearm(ctx, sched, raw.SequenceNumber, "buffer_full")
			return
		case buffer.Interrupted:
			// Transient: the record is dropped but the cursor was not
			// advanced, so it will be re-fetched next tick.
			w.metrics.Retry(w.partition.StreamID, w.partition.PartitionID, "interrupted")
			w.log.Warnf("offer interrupted, will re-fetch from current cursor")
			w.rearm(ctx, sched, ExceptionRetryDelay)
			return
		}
	}

	var next *string
	if res.NextIterator != "" {
		nc := res.NextIterator
		next = &nc
	}
	w.mu.Lock()
	w.cursor = next
	w.mu.Unlock()
	w.rearm(ctx, sched, w.cfg.FetchDelay)
}

func (w *Worker) tickEmitEndOfShard(ctx context.Context, sched *scheduler.Scheduler) {
	switch w.currentBuffer().Offer(ctx, record.EndOfShard(w.partition), w.cfg.OfferTimeout) {
	case buffer.Accepted:
		w.metrics.EndOfShardEmitted(w.partition.StreamID, w.partition.PartitionID)
		w.metrics.RecordSupplied(w.partition.StreamID, w.partition.PartitionID)
		w.mu.Lock()
		w.started = false
		w.mu.Unlock()
	case buffer.TimedOut, buffer.Interrupted:
		w.rearm(ctx, sched, w.cfg.BufferFullWait)
	}
}

func (w *Worker) rewindAndRearm(ctx context.Context, sched *scheduler.Scheduler, sequence, reason string) {
	newIter, err := w.client.GetShardIterator(ctx, w.partition.StreamID, w.partition.PartitionID, streamclient.AtSequenceNumber, sequence)
	if err != nil {
		w.log.Errorf("failed to rewind iterator to sequence %q after buffer-full: %v", sequence, err)
		w.fail(err)
		return
	}
	w.mu.Lock()
	w.cursor = &newIter
	w.mu.Unlock()
	w.metrics.Retry(w.partition.StreamID, w.partition.PartitionID, reason)
	w.rearm(ctx, sched, w.cfg.BufferFullWait)
}

// handleFetchError applies the taxonomy of SPEC_FULL.md §4.D's error table.
func (w *Worker) handleFetchError(ctx context.Context, sched *scheduler.Scheduler, cursorAtCallTime string, err error) {
	class := streamclient.ClassOf(err)
	switch class {
	case streamclient.ClassThrottled:
		w.metrics.Retry(w.partition.StreamID, w.partition.PartitionID, "throttled")
		w.log.Warnf("throttled fetching records: %v", err)
		delay := w.cfg.FetchDelay
		if ThrottleBackoff > delay {
			delay = ThrottleBackoff
		}
		w.rearm(ctx, sched, delay)

	case streamclient.ClassIteratorExpired:
		// "set cursor to result.next_iterator if we have a result; else
		// FAIL the worker (cannot recover)". We have no raw next_iterator
		// on an errored GetRecords call, but we do have the last
		// successfully delivered sequence number when one exists: refresh
		// the cursor from there (AFTER_SEQUENCE_NUMBER), exactly the
		// fallback the teacher's runConsumer performs on
		// ErrCodeExpiredIteratorException. With nothing ever delivered
		// there is no position to resume from, so the worker fails.
		w.mu.Lock()
		last := w.lastSequence
		w.mu.Unlock()
		if last == nil {
			w.log.Errorf("shard iterator expired with no prior sequence to resume from: %v", err)
			w.fail(err)
			return
		}
		w.log.Warnf("shard iterator expired, refreshing from sequence %q: %v", *last, err)
		newIter, iterErr := w.client.GetShardIterator(ctx, w.partition.StreamID, w.partition.PartitionID, streamclient.AfterSequenceNumber, *last)
		if iterErr != nil {
			w.log.Errorf("failed to refresh expired iterator: %v", iterErr)
			w.fail(iterErr)
			return
		}
		w.mu.Lock()
		w.cursor = &newIter
		w.mu.Unlock()
		w.metrics.Retry(w.partition.StreamID, w.partition.PartitionID, "iterator_expired")
		w.rearm(ctx, sched, w.cfg.FetchDelay)

	case streamclient.ClassNotFound, streamclient.ClassInvalidArgument:
		w.log.Errorf("fatal upstream error: %v", err)
		w.fail(err)

	case streamclient.ClassRecoverableTransport:
		w.metrics.Retry(w.partition.StreamID, w.partition.PartitionID, "transport")
		w.log.Warnf("recoverable transport error, retrying: %v", err)
		w.rearm(ctx, sched, ExceptionRetryDelay)

	default:
		w.log.Errorf("unrecoverable error: %v", err)
		w.fail(err)
	}
}

func (w *Worker) fail(err error) {
	w.mu.Lock()
	w.failed = true
	w.failErr = err
	w.started = false
	w.mu.Unlock()
	w.metrics.WorkerFailed(w.partition.StreamID, w.partition.PartitionID)
}
