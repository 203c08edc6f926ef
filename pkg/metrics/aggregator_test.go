package metrics

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

// syncBuffer guards a bytes.Buffer read by the test while Run writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSummarizeOutOfOrder(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	sum := Summarize([]Sample{
		{Timestamp: base.Add(2 * time.Second), Duration: 40 * time.Millisecond, Uncompressed: 100, Sent: 10, Records: 5},
		{Timestamp: base, Duration: 1500 * time.Millisecond, Uncompressed: 300, Sent: 30, Records: 7},
		{Timestamp: base.Add(time.Second), Duration: 20 * time.Millisecond, Uncompressed: 50, Sent: 5, Records: 1},
	})

	assert.Equal(t, base, sum.Timestamp)
	assert.Equal(t, 1500*time.Millisecond, sum.MaxLatency)
	assert.Equal(t, int64(450), sum.Uncompressed)
	assert.Equal(t, int64(45), sum.Sent)
	assert.Equal(t, int64(13), sum.Records)
	assert.Equal(t, 3, sum.Count)
	assert.Equal(t,
		"#metric# Timestamp=2024-05-01 10:00:00.000, Uncompressed=450, Compressed=45, MaxLatency=1.5s, RowCount=13, BlobCount=3",
		sum.String())
}

func TestSummaryTimestampIsUTC(t *testing.T) {
	berlin := time.FixedZone("CEST", 2*60*60)
	sum := Summary{Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, berlin), Count: 1}
	assert.True(t, strings.HasPrefix(sum.String(), "#metric# Timestamp=2024-05-01 10:00:00.000,"), sum.String())
}

func TestFlushEmptyPeriodWritesNothing(t *testing.T) {
	var out bytes.Buffer
	agg := NewAggregator(&out)

	_, ok := agg.Flush()
	assert.False(t, ok)
	assert.Empty(t, out.String())

	agg.Add(Sample{Timestamp: time.Now(), Records: 1})
	_, ok = agg.Flush()
	assert.True(t, ok)
	_, ok = agg.Flush()
	assert.False(t, ok, "samples are drained by the first flush")
	assert.Equal(t, 1, strings.Count(out.String(), "#metric#"))
}

func TestConcurrentAdd(t *testing.T) {
	agg := NewAggregator(&bytes.Buffer{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				agg.Add(Sample{Timestamp: time.Now(), Records: 1})
			}
		}()
	}
	wg.Wait()

	sum, ok := agg.Flush()
	require.True(t, ok)
	assert.Equal(t, int64(4000), sum.Records)
	assert.Equal(t, 4000, sum.Count)
}

func TestRunFlushesOnTickAndOnCancel(t *testing.T) {
	fake := clocktesting.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	out := &syncBuffer{}
	agg := NewAggregator(out, WithClock(fake), WithInterval(10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Run(ctx)
		close(done)
	}()

	require.Eventually(t, fake.HasWaiters, time.Second, time.Millisecond)

	agg.Add(Sample{Timestamp: fake.Now(), Records: 3})
	fake.Step(10 * time.Second)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "RowCount=3")
	}, time.Second, time.Millisecond)

	agg.Add(Sample{Timestamp: fake.Now(), Records: 4})
	cancel()
	<-done

	assert.Contains(t, out.String(), "RowCount=4")
	assert.Equal(t, 2, strings.Count(out.String(), "#metric#"))
}
