package scanner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockProber implements Prober
type MockProber struct {
	mock.Mock
}

func (m *MockProber) HasActivityInRange(ctx context.Context, address, chainSlug string, startBlock, endBlock uint64) bool {
	args := m.Called(ctx, address, chainSlug, startBlock, endBlock)
	return args.Bool(0)
}

// funcProber adapts a function for tests that need custom behaviour
type funcProber func(start, end uint64) bool

func (f funcProber) HasActivityInRange(_ context.Context, _, _ string, start, end uint64) bool {
	return f(start, end)
}

func TestPlan(t *testing.T) {
	chunks := Plan(0, 124999, 50000)
	assert.Equal(t, []Chunk{{0, 49999}, {50000, 99999}, {100000, 124999}}, chunks)

	// Exact multiple
	chunks = Plan(0, 99999, 50000)
	assert.Equal(t, []Chunk{{0, 49999}, {50000, 99999}}, chunks)

	// Range one block past a multiple keeps the last block
	chunks = Plan(0, 100000, 50000)
	assert.Equal(t, []Chunk{{0, 49999}, {50000, 99999}, {100000, 100000}}, chunks)

	// Single block
	assert.Equal(t, []Chunk{{7, 7}}, Plan(7, 7, 50000))

	// Inverted range
	assert.Empty(t, Plan(10, 9, 50000))

	// Zero size falls back to default
	assert.Equal(t, []Chunk{{0, 49999}, {50000, 60000}}, Plan(0, 60000, 0))
}

func TestPlan_Coverage(t *testing.T) {
	ranges := [][2]uint64{
		{74250, 2286948},
		{2286949, 5147719},
		{1, 1},
		{0, 49999},
		{123, 123456},
	}
	for _, r := range ranges {
		chunks := Plan(r[0], r[1], DefaultChunkSize)
		assert.NotEmpty(t, chunks)
		assert.Equal(t, r[0], chunks[0].Start)
		assert.Equal(t, r[1], chunks[len(chunks)-1].End)

		var covered uint64
		for i, c := range chunks {
			assert.LessOrEqual(t, c.Start, c.End)
			assert.LessOrEqual(t, c.Size(), DefaultChunkSize)
			if i > 0 {
				assert.Equal(t, chunks[i-1].End+1, c.Start, "chunks must be contiguous")
			}
			covered += c.Size()
		}
		assert.Equal(t, r[1]-r[0]+1, covered)
	}
}

func TestScan_ShortCircuit(t *testing.T) {
	prober := new(MockProber)
	s := New(prober, Config{ChunkSize: 10, MaxConcurrent: 5})

	// 15 chunks -> 3 batches of 5. Batch 2 holds the only positive chunk.
	chunks := Plan(0, 149, 10)
	assert.Len(t, chunks, 15)

	for i, c := range chunks {
		if i >= 10 {
			break
		}
		prober.On("HasActivityInRange", mock.Anything, "0xabc", "c", c.Start, c.End).Return(i == 7).Once()
	}

	var progress [][2]int
	found, err := s.Scan(context.Background(), "0xabc", "c", chunks, func(checked, total int) {
		progress = append(progress, [2]int{checked, total})
	})
	assert.NoError(t, err)
	assert.True(t, found)

	// Batch 3 is never queried
	prober.AssertNumberOfCalls(t, "HasActivityInRange", 10)
	for _, c := range chunks[10:] {
		prober.AssertNotCalled(t, "HasActivityInRange", mock.Anything, "0xabc", "c", c.Start, c.End)
	}
	assert.Equal(t, [][2]int{{5, 15}, {10, 15}}, progress)
}

func TestScan_NoActivity(t *testing.T) {
	prober := new(MockProber)
	prober.On("HasActivityInRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false)

	s := New(prober, Config{ChunkSize: 10})
	var last [2]int
	found, err := s.ScanRange(context.Background(), "0xabc", "c", 0, 119, func(checked, total int) {
		last = [2]int{checked, total}
	})
	assert.NoError(t, err)
	assert.False(t, found)
	prober.AssertNumberOfCalls(t, "HasActivityInRange", 12)
	assert.Equal(t, [2]int{12, 12}, last)
}

func TestScan_Empty(t *testing.T) {
	prober := new(MockProber)
	s := New(prober, Config{})
	called := false
	found, err := s.Scan(context.Background(), "0xabc", "c", nil, func(int, int) { called = true })
	assert.NoError(t, err)
	assert.False(t, found)
	assert.False(t, called)
	prober.AssertNotCalled(t, "HasActivityInRange")
}

func TestScan_BoundedConcurrency(t *testing.T) {
	var inFlight, peak int32
	var mu sync.Mutex
	batches := map[uint64]bool{}

	prober := funcProber(func(start, end uint64) bool {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		batches[start] = true
		mu.Unlock()
		atomic.AddInt32(&inFlight, -1)
		return false
	})

	s := New(prober, Config{ChunkSize: 1, MaxConcurrent: 3})
	found, err := s.ScanRange(context.Background(), "0xabc", "c", 0, 9, nil)
	assert.NoError(t, err)
	assert.False(t, found)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Len(t, batches, 10)
}

func TestScan_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := int32(0)
	prober := funcProber(func(start, end uint64) bool {
		atomic.AddInt32(&calls, 1)
		cancel()
		return false
	})

	s := New(prober, Config{ChunkSize: 10, MaxConcurrent: 1})
	found, err := s.ScanRange(ctx, "0xabc", "c", 0, 99, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, found)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNew_Defaults(t *testing.T) {
	s := New(new(MockProber), Config{})
	assert.Equal(t, DefaultChunkSize, s.Config().ChunkSize)
	assert.Equal(t, DefaultMaxConcurrent, s.Config().MaxConcurrent)
}

func TestScan_ProberPanic(t *testing.T) {
	prober := funcProber(func(start, end uint64) bool {
		if start == 20 {
			panic("network layer blew up")
		}
		return false
	})

	s := New(prober, Config{ChunkSize: 10, MaxConcurrent: 5})
	found, err := s.ScanRange(context.Background(), "0xabc", "c", 0, 99, nil)
	assert.ErrorIs(t, err, ErrProbePanicked)
	assert.False(t, found)
}
