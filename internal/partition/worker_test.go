package partition

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/usedatabrew/streamsupplier/internal/buffer"
	"github.com/usedatabrew/streamsupplier/internal/decode"
	"github.com/usedatabrew/streamsupplier/internal/log"
	"github.com/usedatabrew/streamsupplier/internal/record"
	"github.com/usedatabrew/streamsupplier/internal/scheduler"
	"github.com/usedatabrew/streamsupplier/internal/streamclient"
)

// shardClient simulates a single closed, finite shard as an ordered list of
// sequence numbers, addressed by offset-encoded iterator strings
// ("off:<n>"), so GetRecords behaves consistently regardless of how many
// times a cursor is rewound or refreshed -- unlike a fixed response queue,
// it can answer a repeated or rewound request the same way a real shard
// would.
type shardClient struct {
	mu   sync.Mutex
	seqs []string

	calls         int
	throttleCalls map[int]bool // 1-indexed call number -> inject Throttled
	expireCalls   map[int]bool // 1-indexed call number -> inject IteratorExpired

	iterCalls []struct {
		iterType streamclient.IteratorType
		sequence string
	}
}

func newShardClient(seqs ...string) *shardClient {
	return &shardClient{seqs: seqs}
}

func (c *shardClient) GetShardIterator(ctx context.Context, stream, partition string, iterType streamclient.IteratorType, sequence string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.iterCalls = append(c.iterCalls, struct {
		iterType streamclient.IteratorType
		sequence string
	}{iterType, sequence})

	switch iterType {
	case streamclient.TrimHorizon:
		return "off:0", nil
	case streamclient.Latest:
		return fmt.Sprintf("off:%d", len(c.seqs)), nil
	case streamclient.AtSequenceNumber, streamclient.AfterSequenceNumber:
		idx := c.indexOf(sequence)
		if idx < 0 {
			return "", streamclient.NewServiceError(streamclient.ClassInvalidArgument, fmt.Errorf("sequence %q not found", sequence))
		}
		if iterType == streamclient.AfterSequenceNumber {
			idx++
		}
		return fmt.Sprintf("off:%d", idx), nil
	}
	return "", streamclient.NewServiceError(streamclient.ClassInvalidArgument, fmt.Errorf("bad iterator type"))
}

func (c *shardClient) indexOf(seq string) int {
	for i, s := range c.seqs {
		if s == seq {
			return i
		}
	}
	return -1
}

func (c *shardClient) GetRecords(ctx context.Context, iterator string, limit int) (streamclient.GetRecordsResult, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()

	if c.throttleCalls[call] {
		return streamclient.GetRecordsResult{}, streamclient.NewServiceError(streamclient.ClassThrottled, fmt.Errorf("throttled"))
	}
	if c.expireCalls[call] {
		return streamclient.GetRecordsResult{}, streamclient.NewServiceError(streamclient.ClassIteratorExpired, fmt.Errorf("iterator expired"))
	}

	offset, err := strconv.Atoi(strings.TrimPrefix(iterator, "off:"))
	if err != nil {
		return streamclient.GetRecordsResult{}, streamclient.NewServiceError(streamclient.ClassInvalidArgument, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if offset >= len(c.seqs) {
		return streamclient.GetRecordsResult{NextIterator: ""}, nil
	}
	end := offset + limit
	if end > len(c.seqs) {
		end = len(c.seqs)
	}
	batch := c.seqs[offset:end]
	recs := make([]streamclient.RawRecord, len(batch))
	for i, s := range batch {
		recs[i] = streamclient.RawRecord{SequenceNumber: s, Data: []byte(s)}
	}
	next := ""
	if end < len(c.seqs) {
		next = fmt.Sprintf("off:%d", end)
	}
	return streamclient.GetRecordsResult{Records: recs, NextIterator: next}, nil
}

func (c *shardClient) ListPartitions(ctx context.Context, stream string) ([]string, error) {
	return nil, nil
}

func testPartition() record.StreamPartition {
	return record.StreamPartition{StreamID: "s", PartitionID: "0"}
}

func testConfig() Config {
	return Config{RecordsPerFetch: 10, FetchDelay: time.Millisecond, OfferTimeout: time.Second, BufferFullWait: 10 * time.Millisecond}
}

func drainSeqs(t *testing.T, buf *buffer.Buffer, want int, timeout time.Duration) []string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var got []string
	for time.Now().Before(deadline) && len(got) < want {
		out := make([]record.OrderedRecord, 8)
		n := buf.Drain(context.Background(), out, 8, 50*time.Millisecond)
		for _, r := range out[:n] {
			got = append(got, r.SequenceNumber)
		}
	}
	return got
}

func TestHappyPathDeliversRecordsThenEndOfShard(t *testing.T) {
	client := newShardClient("1", "2", "3")
	buf := buffer.New(8)
	w := New(testPartition(), client, decode.Identity{}, buf, nil, log.Noop(), testConfig())
	cursor := "off:0"
	w.SetCursor(&cursor)

	sched := scheduler.New(2)
	defer sched.ForceShutdown()
	w.Start(context.Background(), sched)

	got := drainSeqs(t, buf, 4, 2*time.Second)
	require.Equal(t, []string{"1", "2", "3", record.EndOfShardSequenceNumber}, got)
}

func TestThrottlingRetriesWithoutLosingRecords(t *testing.T) {
	client := newShardClient("10")
	client.throttleCalls = map[int]bool{1: true}
	buf := buffer.New(8)
	w := New(testPartition(), client, decode.Identity{}, buf, nil, log.Noop(), testConfig())
	cursor := "off:0"
	w.SetCursor(&cursor)

	sched := scheduler.New(2)
	defer sched.ForceShutdown()

	start := time.Now()
	w.Start(context.Background(), sched)
	got := drainSeqs(t, buf, 1, 5*time.Second)
	require.Equal(t, []string{"10"}, got)
	require.GreaterOrEqual(t, time.Since(start), ThrottleBackoff-500*time.Millisecond)
}

func TestExpiredIteratorRecoversFromLastDeliveredSequence(t *testing.T) {
	client := newShardClient("5", "6", "7")
	client.expireCalls = map[int]bool{2: true}
	buf := buffer.New(8)
	cfg := testConfig()
	cfg.RecordsPerFetch = 1 // force one record per fetch, so "5" lands before the expiry
	w := New(testPartition(), client, decode.Identity{}, buf, nil, log.Noop(), cfg)
	cursor := "off:0"
	w.SetCursor(&cursor)

	sched := scheduler.New(2)
	defer sched.ForceShutdown()
	w.Start(context.Background(), sched)

	got := drainSeqs(t, buf, 4, 3*time.Second)
	require.Equal(t, []string{"5", "6", "7", record.EndOfShardSequenceNumber}, got)

	client.mu.Lock()
	defer client.mu.Unlock()
	var sawRecovery bool
	for _, c := range client.iterCalls {
		if c.iterType == streamclient.AfterSequenceNumber && c.sequence == "5" {
			sawRecovery = true
		}
	}
	require.True(t, sawRecovery, "worker must refresh the iterator AFTER_SEQUENCE_NUMBER of the last delivered record")
}

func TestExpiredIteratorWithNoPriorDeliveryFailsWorker(t *testing.T) {
	client := newShardClient("5", "6")
	client.expireCalls = map[int]bool{1: true}
	buf := buffer.New(8)
	w := New(testPartition(), client, decode.Identity{}, buf, nil, log.Noop(), testConfig())
	cursor := "off:0"
	w.SetCursor(&cursor)

	sched := scheduler.New(2)
	defer sched.ForceShutdown()
	w.Start(context.Background(), sched)

	require.Eventually(t, func() bool {
		failed, _ := w.Failed()
		return failed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBufferFullRewindsCursorToOffendingSequence(t *testing.T) {
	client := newShardClient("1", "2", "3", "4")
	buf := buffer.New(2)
	cfg := testConfig()
	cfg.OfferTimeout = 20 * time.Millisecond
	w := New(testPartition(), client, decode.Identity{}, buf, nil, log.Noop(), cfg)
	cursor := "off:0"
	w.SetCursor(&cursor)

	sched := scheduler.New(2)
	defer sched.ForceShutdown()
	w.Start(context.Background(), sched)

	// Let the first tick fill the buffer and hit the offer timeout before we
	// start draining, so the rewind is exercised deterministically.
	time.Sleep(100 * time.Millisecond)

	got := drainSeqs(t, buf, 5, 3*time.Second)
	require.Equal(t, []string{"1", "2", "3", "4", record.EndOfShardSequenceNumber}, got)
	require.LessOrEqual(t, buf.Len(), 2)

	client.mu.Lock()
	defer client.mu.Unlock()
	foundRewind := false
	for _, c := range client.iterCalls {
		if c.iterType == streamclient.AtSequenceNumber {
			foundRewind = true
		}
	}
	require.True(t, foundRewind, "worker must rewind cursor to AT_SEQUENCE_NUMBER after buffer-full")
}

func TestFatalErrorStopsWorkerWithoutRearm(t *testing.T) {
	faultyClient := &alwaysNotFoundClient{}
	buf := buffer.New(8)
	w := New(testPartition(), faultyClient, decode.Identity{}, buf, nil, log.Noop(), testConfig())
	cursor := "off:0"
	w.SetCursor(&cursor)

	sched := scheduler.New(2)
	defer sched.ForceShutdown()
	w.Start(context.Background(), sched)

	require.Eventually(t, func() bool {
		failed, _ := w.Failed()
		return failed
	}, time.Second, 10*time.Millisecond)
	require.False(t, w.Started())
}

type alwaysNotFoundClient struct{}

func (alwaysNotFoundClient) GetShardIterator(ctx context.Context, stream, partition string, iterType streamclient.IteratorType, sequence string) (string, error) {
	return "off:0", nil
}

func (alwaysNotFoundClient) GetRecords(ctx context.Context, iterator string, limit int) (streamclient.GetRecordsResult, error) {
	return streamclient.GetRecordsResult{}, streamclient.NewServiceError(streamclient.ClassNotFound, fmt.Errorf("no such stream"))
}

func (alwaysNotFoundClient) ListPartitions(ctx context.Context, stream string) ([]string, error) {
	return nil, nil
}

func TestSetCursorClearsFailedAndStarted(t *testing.T) {
	faultyClient := &alwaysNotFoundClient{}
	buf := buffer.New(8)
	w := New(testPartition(), faultyClient, decode.Identity{}, buf, nil, log.Noop(), testConfig())
	cursor := "off:0"
	w.SetCursor(&cursor)

	sched := scheduler.New(2)
	defer sched.ForceShutdown()
	w.Start(context.Background(), sched)
	require.Eventually(t, func() bool {
		failed, _ := w.Failed()
		return failed
	}, time.Second, 10*time.Millisecond)

	newCursor := "off:0"
	w.SetCursor(&newCursor)
	failed, err := w.Failed()
	require.False(t, failed)
	require.NoError(t, err)
	require.False(t, w.Started())
}
