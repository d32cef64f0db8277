// Package supplier implements the Supplier Façade (component F of
// SPEC_FULL.md §4.F): the seekable, assignable stream-consumer surface that
// wires together the buffer, the partition workers, and the scheduler, and
// runs the reseek protocol.
//
// Grounded on the teacher's kinesisReader (input_kinesis.go), which owns the
// equivalent assignment/buffer/consumer-goroutine trio for a single input;
// this façade generalizes that to many concurrently assigned partitions
// behind one bounded buffer.
package supplier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/usedatabrew/streamsupplier/internal/buffer"
	"github.com/usedatabrew/streamsupplier/internal/decode"
	"github.com/usedatabrew/streamsupplier/internal/log"
	"github.com/usedatabrew/streamsupplier/internal/metrics"
	"github.com/usedatabrew/streamsupplier/internal/partition"
	"github.com/usedatabrew/streamsupplier/internal/probe"
	"github.com/usedatabrew/streamsupplier/internal/record"
	"github.com/usedatabrew/streamsupplier/internal/scheduler"
	"github.com/usedatabrew/streamsupplier/internal/streamclient"
	"github.com/usedatabrew/streamsupplier/internal/supconf"
)

// ErrStateError is returned by any operation attempted after Close, by a
// seek on a partition that is not currently assigned, and always by
// GetPosition (explicitly unsupported per SPEC_FULL.md §7).
var ErrStateError = errors.New("supplier: invalid state")

// Supplier is the façade. The zero value is not usable; construct with New.
type Supplier struct {
	client  streamclient.Client
	decoder decode.Decoder
	metrics *metrics.Metrics
	log     log.Modular
	cfg     supconf.Config

	mu                     sync.RWMutex
	assignment             map[record.StreamPartition]*partition.Worker
	buf                    *buffer.Buffer
	sched                  *scheduler.Scheduler
	checkPartitionsStarted bool
	closed                 bool
}

// New constructs a Supplier. It fails with a ConfigurationError-wrapping
// error if decoding is enabled but no decoder was supplied (SPEC_FULL.md
// §4.B).
func New(client streamclient.Client, decoderEnabled bool, decoder decode.Decoder, m *metrics.Metrics, logger log.Modular, cfg supconf.Config) (*Supplier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	resolved, err := decode.Resolve(decoderEnabled, decoder)
	if err != nil {
		return nil, err
	}
	m.SetBufferCapacity(cfg.BufferSize)
	return &Supplier{
		client:     client,
		decoder:    resolved,
		metrics:    m,
		log:        logger,
		cfg:        cfg,
		assignment: make(map[record.StreamPartition]*partition.Worker),
		buf:        buffer.New(cfg.BufferSize),
		sched:      scheduler.New(cfg.FetchThreads),
	}, nil
}

func (s *Supplier) workerConfig() partition.Config {
	return partition.Config{
		RecordsPerFetch: s.cfg.RecordsPerFetch,
		FetchDelay:      time.Duration(s.cfg.FetchDelayMs) * time.Millisecond,
		OfferTimeout:    time.Duration(s.cfg.OfferTimeoutMs) * time.Millisecond,
		BufferFullWait:  time.Duration(s.cfg.BufferFullWaitMs) * time.Millisecond,
	}
}

// Assign installs a PartitionResource for every partition in set not
// already assigned, and removes (stopping) every currently assigned
// partition no longer present in set. Idempotent. Newly assigned workers do
// not start until Start or the next Poll.
func (s *Supplier) Assign(set []record.StreamPartition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateError
	}

	want := make(map[record.StreamPartition]struct{}, len(set))
	for _, p := range set {
		want[p] = struct{}{}
	}

	for p, w := range s.assignment {
		if _, ok := want[p]; !ok {
			w.Stop()
			delete(s.assignment, p)
		}
	}

	for p := range want {
		if _, ok := s.assignment[p]; ok {
			continue
		}
		s.assignment[p] = partition.New(p, s.client, s.decoder, s.buf, s.metrics, s.log, s.workerConfig())
	}
	return nil
}

// Start arms every assigned worker once, if the one-shot
// checkPartitionsStarted flag is set, and clears it.
func (s *Supplier) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateError
	}
	s.startLocked(ctx)
	return nil
}

func (s *Supplier) startLocked(ctx context.Context) {
	if !s.checkPartitionsStarted {
		return
	}
	for _, w := range s.assignment {
		w.Start(ctx, s.sched)
	}
	s.checkPartitionsStarted = false
}

// Seek reseeks a single partition to AT_SEQUENCE_NUMBER at seq, running the
// reseek protocol scoped to {p}. p must already be assigned.
func (s *Supplier) Seek(ctx context.Context, p record.StreamPartition, seq string) error {
	return s.reseek(ctx, []record.StreamPartition{p}, func(pp record.StreamPartition) (string, error) {
		return s.client.GetShardIterator(ctx, pp.StreamID, pp.PartitionID, streamclient.AtSequenceNumber, seq)
	})
}

// SeekToEarliest reseeks every partition in set to TRIM_HORIZON.
func (s *Supplier) SeekToEarliest(ctx context.Context, set []record.StreamPartition) error {
	return s.reseek(ctx, set, func(pp record.StreamPartition) (string, error) {
		return s.client.GetShardIterator(ctx, pp.StreamID, pp.PartitionID, streamclient.TrimHorizon, "")
	})
}

// SeekToLatest reseeks every partition in set to LATEST.
func (s *Supplier) SeekToLatest(ctx context.Context, set []record.StreamPartition) error {
	return s.reseek(ctx, set, func(pp record.StreamPartition) (string, error) {
		return s.client.GetShardIterator(ctx, pp.StreamID, pp.PartitionID, streamclient.Latest, "")
	})
}

// reseek runs the protocol of SPEC_FULL.md §4.F for the given scope,
// resolving each partition's new cursor with newCursor.
func (s *Supplier) reseek(ctx context.Context, scope []record.StreamPartition, newCursor func(record.StreamPartition) (string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateError
	}

	inScope := make(map[record.StreamPartition]struct{}, len(scope))
	for _, p := range scope {
		if _, ok := s.assignment[p]; !ok {
			return fmt.Errorf("%w: seek on unassigned partition %+v", ErrStateError, p)
		}
		inScope[p] = struct{}{}
	}

	// Steps 1-2: fence off any in-flight tick that might still enqueue a
	// pre-seek record for a partition in scope.
	s.sched = scheduler.Replace(s.sched, s.cfg.FetchThreads, time.Duration(s.cfg.BufferFullWaitMs)*time.Millisecond*10)

	// Step 3: logical truncation, discarding buffered records of in-scope
	// partitions while preserving everything else.
	s.buf = s.buf.Rebuild(func(p record.StreamPartition) bool {
		_, dropped := inScope[p]
		return !dropped
	})

	// Every assigned worker -- not just the ones in scope -- shares this one
	// buffer, so all of them must be retargeted at the rebuilt instance or
	// out-of-scope workers would keep offering into the orphaned old buffer
	// while Poll drains the new one. SetBuffer also marks each worker not
	// started, so the next Start/Poll rearms it on the fresh scheduler.
	for _, w := range s.assignment {
		w.SetBuffer(s.buf)
	}

	// Step 4: resolve a fresh cursor per in-scope partition and reset its
	// worker; defer rearming to the next Start/Poll.
	for p := range inScope {
		cursor, err := newCursor(p)
		if err != nil {
			return err
		}
		w := s.assignment[p]
		c := cursor
		w.SetCursor(&c)
	}
	s.checkPartitionsStarted = true
	return nil
}

// Poll arms any not-yet-started workers, then drains up to
// max_records_per_poll records within timeout, filtering out records whose
// partition was removed from the assignment after being enqueued. A timeout
// of 0 is a non-blocking best-effort drain; interrupt returns an empty
// list, never an error.
func (s *Supplier) Poll(ctx context.Context, timeout time.Duration) ([]record.OrderedRecord, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStateError
	}
	s.startLocked(ctx)
	buf := s.buf
	max := s.cfg.MaxRecordsPerPoll
	s.mu.Unlock()

	out := make([]record.OrderedRecord, max)
	n := buf.Drain(ctx, out, max, timeout)
	if n == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	filtered := out[:0:0]
	for _, r := range out[:n] {
		if _, ok := s.assignment[r.Partition]; ok {
			filtered = append(filtered, r)
		}
	}
	s.metrics.SetBufferDepth(buf.Len())
	return filtered, nil
}

// GetEarliestSequenceNumber runs the probe protocol with TRIM_HORIZON.
func (s *Supplier) GetEarliestSequenceNumber(ctx context.Context, p record.StreamPartition) (probe.Result, error) {
	if s.isClosed() {
		return probe.Result{}, ErrStateError
	}
	return probe.Discover(ctx, s.client, p, streamclient.TrimHorizon, time.Duration(s.cfg.ProbeTimeoutMs)*time.Millisecond)
}

// GetLatestSequenceNumber runs the probe protocol with LATEST.
func (s *Supplier) GetLatestSequenceNumber(ctx context.Context, p record.StreamPartition) (probe.Result, error) {
	if s.isClosed() {
		return probe.Result{}, ErrStateError
	}
	return probe.Discover(ctx, s.client, p, streamclient.Latest, time.Duration(s.cfg.ProbeTimeoutMs)*time.Millisecond)
}

// GetPartitionIds delegates to the stream client.
func (s *Supplier) GetPartitionIds(ctx context.Context, stream string) ([]string, error) {
	if s.isClosed() {
		return nil, ErrStateError
	}
	return s.client.ListPartitions(ctx, stream)
}

// GetPosition is explicitly unsupported (SPEC_FULL.md §7): a pure
// "current position" read has no single well-defined answer once buffered
// records may already be ahead of any cursor a caller could observe.
func (s *Supplier) GetPosition(record.StreamPartition) (string, error) {
	return "", ErrStateError
}

// GetAssignment returns the currently assigned partitions.
func (s *Supplier) GetAssignment() []record.StreamPartition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]record.StreamPartition, 0, len(s.assignment))
	for p := range s.assignment {
		out = append(out, p)
	}
	return out
}

// Close idempotently stops every worker, shuts down the scheduler with a
// bounded wait (exception_retry_delay), and marks the façade closed. After
// Close, every public operation except a second Close fails with
// ErrStateError.
func (s *Supplier) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	for _, w := range s.assignment {
		w.Stop()
	}
	s.assignment = make(map[record.StreamPartition]*partition.Worker)
	s.sched.Shutdown(partition.ExceptionRetryDelay)
	s.closed = true
	return nil
}

func (s *Supplier) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
