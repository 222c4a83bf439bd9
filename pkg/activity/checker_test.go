package activity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/84hero/evm-activity/pkg/cache"
	"github.com/84hero/evm-activity/pkg/chain"
	"github.com/84hero/evm-activity/pkg/scanner"
	"github.com/84hero/evm-activity/pkg/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const (
	testAddr  = "0x00000000000000000000000000000000000000A1"
	testChain = "test-chain"
)

// MockScanner implements RangeScanner
type MockScanner struct {
	mock.Mock
}

func (m *MockScanner) ScanRange(ctx context.Context, address, chainSlug string, start, end uint64, onProgress scanner.ProgressFunc) (bool, error) {
	args := m.Called(ctx, address, chainSlug, start, end)
	return args.Bool(0), args.Error(1)
}

// funcScanner adapts a function for tests that need custom behaviour
type funcScanner func(ctx context.Context, start, end uint64) (bool, error)

func (f funcScanner) ScanRange(ctx context.Context, _, _ string, start, end uint64, _ scanner.ProgressFunc) (bool, error) {
	return f(ctx, start, end)
}

func newTestRegistry() *chain.Registry {
	reg := chain.NewRegistry()
	reg.Register(chain.Descriptor{ID: 7, Slug: testChain, Name: "Test", IsActive: true})
	reg.Register(chain.Descriptor{ID: 8, Slug: "sleepy-chain", Name: "Sleepy"})
	reg.RegisterMonths(testChain,
		chain.MonthWindow{Name: chain.October, Year: 2025, StartBlock: 0, EndBlock: 99, MetadataURI: "ipfs://oct"},
		chain.MonthWindow{Name: chain.November, Year: 2025, StartBlock: 100, EndBlock: 199},
		chain.MonthWindow{Name: chain.December, Year: 2025, StartBlock: 200, EndBlock: 299},
	)
	return reg
}

func newTestChecker(s RangeScanner) (*Checker, *cache.Cache, *chain.Registry) {
	reg := newTestRegistry()
	c := cache.New(storage.NewMemoryStore(""), reg)
	return NewChecker(reg, c, s), c, reg
}

func TestCheckMonth_CacheHit(t *testing.T) {
	ctx := context.Background()
	s := new(MockScanner)
	checker, c, _ := newTestChecker(s)

	assert.NoError(t, c.Put(ctx, testAddr, testChain, chain.October, true))

	has, err := checker.CheckMonth(ctx, testAddr, testChain, chain.October, nil)
	assert.NoError(t, err)
	assert.True(t, has)
	s.AssertNotCalled(t, "ScanRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckMonth_MissScansAndCaches(t *testing.T) {
	ctx := context.Background()
	s := new(MockScanner)
	s.On("ScanRange", mock.Anything, testAddr, testChain, uint64(100), uint64(199)).Return(true, nil).Once()
	checker, c, _ := newTestChecker(s)

	has, err := checker.CheckMonth(ctx, testAddr, testChain, chain.November, nil)
	assert.NoError(t, err)
	assert.True(t, has)

	cached, ok := c.Get(ctx, testAddr, testChain, chain.November)
	assert.True(t, ok)
	assert.True(t, cached)

	// Second call is served from cache
	has, err = checker.CheckMonth(ctx, testAddr, testChain, chain.November, nil)
	assert.NoError(t, err)
	assert.True(t, has)
	s.AssertNumberOfCalls(t, "ScanRange", 1)
}

func TestCheckMonth_NegativeIsCached(t *testing.T) {
	ctx := context.Background()
	s := new(MockScanner)
	s.On("ScanRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Once()
	checker, c, _ := newTestChecker(s)

	has, err := checker.CheckMonth(ctx, testAddr, testChain, chain.December, nil)
	assert.NoError(t, err)
	assert.False(t, has)

	cached, ok := c.Get(ctx, testAddr, testChain, chain.December)
	assert.True(t, ok)
	assert.False(t, cached)
}

func TestCheckMonth_Validation(t *testing.T) {
	s := new(MockScanner)
	checker, _, _ := newTestChecker(s)
	ctx := context.Background()

	cases := []struct {
		name    string
		address string
		chain   string
		month   chain.Month
		want    error
	}{
		{"invalid address", "0x123", testChain, chain.October, ErrInvalidAddress},
		{"empty address", "", testChain, chain.October, ErrInvalidAddress},
		{"unknown chain", testAddr, "nope", chain.October, ErrUnknownChain},
		{"inactive chain", testAddr, "sleepy-chain", chain.October, ErrChainInactive},
		{"unconfigured month", testAddr, testChain, chain.January, ErrMonthNotConfigured},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			has, err := checker.CheckMonth(ctx, tc.address, tc.chain, tc.month, nil)
			assert.ErrorIs(t, err, tc.want)
			assert.False(t, has)
		})
	}
	s.AssertNotCalled(t, "ScanRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckMonth_ScanErrorNotCached(t *testing.T) {
	ctx := context.Background()
	s := new(MockScanner)
	s.On("ScanRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, context.Canceled)
	checker, c, _ := newTestChecker(s)

	_, err := checker.CheckMonth(ctx, testAddr, testChain, chain.October, nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, ok := c.Get(ctx, testAddr, testChain, chain.October)
	assert.False(t, ok)
}

func TestCheckMonth_SharesInflightScan(t *testing.T) {
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	checker, _, _ := newTestChecker(funcScanner(func(ctx context.Context, start, end uint64) (bool, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return true, nil
	}))

	var wg sync.WaitGroup
	results := make([]bool, 2)
	run := func(i int, addr string) {
		defer wg.Done()
		has, err := checker.CheckMonth(context.Background(), addr, testChain, chain.October, nil)
		assert.NoError(t, err)
		results[i] = has
	}

	wg.Add(2)
	go run(0, testAddr)
	<-started
	// Same wallet with different casing shares the key
	go run(1, "0x00000000000000000000000000000000000000a1")
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []bool{true, true}, results)
}

func TestCheckMonth_CanceledCallerDoesNotFailOthers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	scanCanceled := make(chan struct{}, 1)

	checker, c, _ := newTestChecker(funcScanner(func(ctx context.Context, start, end uint64) (bool, error) {
		close(started)
		select {
		case <-release:
			return true, nil
		case <-ctx.Done():
			scanCanceled <- struct{}{}
			return false, ctx.Err()
		}
	}))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := checker.CheckMonth(firstCtx, testAddr, testChain, chain.October, nil)
		firstErr <- err
	}()
	<-started

	type result struct {
		has bool
		err error
	}
	second := make(chan result, 1)
	go func() {
		has, err := checker.CheckMonth(context.Background(), testAddr, testChain, chain.October, nil)
		second <- result{has, err}
	}()
	assert.Eventually(t, func() bool {
		checker.mu.Lock()
		defer checker.mu.Unlock()
		f := checker.flights[cache.Key(testAddr, testChain, chain.October)]
		return f != nil && f.waiters == 2
	}, time.Second, 5*time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	assert.NoError(t, res.err)
	assert.True(t, res.has)
	assert.Empty(t, scanCanceled)

	cached, ok := c.Get(context.Background(), testAddr, testChain, chain.October)
	assert.True(t, ok)
	assert.True(t, cached)
}

func TestCheckMonth_LastCallerCancelStopsScan(t *testing.T) {
	scanDone := make(chan error, 1)
	started := make(chan struct{})
	checker, c, _ := newTestChecker(funcScanner(func(ctx context.Context, start, end uint64) (bool, error) {
		close(started)
		<-ctx.Done()
		scanDone <- ctx.Err()
		return false, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := checker.CheckMonth(ctx, testAddr, testChain, chain.October, nil)
	assert.ErrorIs(t, err, context.Canceled)

	select {
	case err := <-scanDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scan kept running after its only caller left")
	}

	_, ok := c.Get(context.Background(), testAddr, testChain, chain.October)
	assert.False(t, ok)
}

func TestCheckMonth_ScannerPanic(t *testing.T) {
	checker, c, _ := newTestChecker(funcScanner(func(ctx context.Context, start, end uint64) (bool, error) {
		panic("explorer exploded")
	}))

	var has bool
	var err error
	assert.NotPanics(t, func() {
		has, err = checker.CheckMonth(context.Background(), testAddr, testChain, chain.October, nil)
	})
	assert.ErrorIs(t, err, ErrCheckPanicked)
	assert.Contains(t, err.Error(), "explorer exploded")
	assert.False(t, has)

	_, ok := c.Get(context.Background(), testAddr, testChain, chain.October)
	assert.False(t, ok)
}

func TestCheckAllMonths_SequentialAndIsolated(t *testing.T) {
	type span struct{ from, to time.Time }
	var mu sync.Mutex
	spans := map[uint64]span{}

	checker, c, _ := newTestChecker(funcScanner(func(ctx context.Context, start, end uint64) (bool, error) {
		begin := time.Now()
		time.Sleep(10 * time.Millisecond)
		defer func() {
			mu.Lock()
			spans[start] = span{begin, time.Now()}
			mu.Unlock()
		}()
		switch start {
		case 100:
			panic("explorer exploded")
		case 200:
			return true, nil
		}
		return false, nil
	}))

	var order []chain.Month
	report, err := checker.CheckAllMonths(context.Background(), testAddr, testChain, func(st Status) {
		order = append(order, st.Month)
	})
	assert.NoError(t, err)
	assert.Equal(t, []chain.Month{chain.October, chain.November, chain.December}, order)

	assert.Len(t, report.Statuses, 3)
	assert.False(t, report.Statuses[0].Failed())
	assert.False(t, report.Statuses[0].HasActivity)
	assert.True(t, report.Statuses[1].Failed())
	assert.Contains(t, report.Statuses[1].Error, "explorer exploded")
	assert.True(t, report.Statuses[2].HasActivity)

	assert.Equal(t, map[chain.Month]bool{chain.October: false, chain.December: true}, report.Verdicts())
	assert.Len(t, report.Failures(), 1)

	// Month checks never overlap
	assert.Len(t, spans, 3)
	assert.False(t, spans[100].from.Before(spans[0].to))
	assert.False(t, spans[200].from.Before(spans[100].to))

	// The failed month is not cached
	_, ok := c.Get(context.Background(), testAddr, testChain, chain.November)
	assert.False(t, ok)
}

func TestCheckAllMonths_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	checker, _, _ := newTestChecker(funcScanner(func(scanCtx context.Context, start, end uint64) (bool, error) {
		cancel()
		<-scanCtx.Done()
		return false, scanCtx.Err()
	}))

	report, err := checker.CheckAllMonths(ctx, testAddr, testChain, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, report.Statuses, 1)
	assert.True(t, report.Statuses[0].Failed())
}

func TestCheckAllMonths_InvalidInput(t *testing.T) {
	checker, _, _ := newTestChecker(new(MockScanner))
	_, err := checker.CheckAllMonths(context.Background(), "not-an-address", testChain, nil)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = checker.CheckAllMonths(context.Background(), testAddr, "sleepy-chain", nil)
	assert.ErrorIs(t, err, ErrChainInactive)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	s := new(MockScanner)
	s.On("ScanRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	checker, c, _ := newTestChecker(s)

	for _, m := range []chain.Month{chain.October, chain.November, chain.December} {
		assert.NoError(t, c.Put(ctx, testAddr, testChain, m, true))
	}

	report, err := checker.Refresh(ctx, testAddr, testChain, nil)
	assert.NoError(t, err)
	s.AssertNumberOfCalls(t, "ScanRange", 3)
	for _, v := range report.Verdicts() {
		assert.False(t, v)
	}
}

func TestEvent(t *testing.T) {
	checker, _, reg := newTestChecker(new(MockScanner))
	checker.now = func() time.Time { return time.Unix(1700000000, 0) }
	assert.NoError(t, reg.SetContract(testChain, chain.October, "0x00000000000000000000000000000000000000c0"))

	ev := checker.Event("0x00000000000000000000000000000000000000a1", Status{
		Month: chain.October, ChainSlug: testChain, HasActivity: true,
	})
	assert.Equal(t, common.HexToAddress(testAddr).Hex(), ev.Address)
	assert.Equal(t, uint64(7), ev.ChainID)
	assert.Equal(t, 2025, ev.Year)
	assert.Equal(t, common.HexToAddress("0xc0").Hex(), ev.Contract)
	assert.Equal(t, "ipfs://oct", ev.MetadataURI)
	assert.Equal(t, int64(1700000000), ev.CheckedAt)
	assert.True(t, ev.Claimable())

	ev = checker.Event(testAddr, Status{Month: chain.November, ChainSlug: testChain, Error: "boom"})
	assert.Empty(t, ev.Contract)
	assert.False(t, ev.Claimable())

	events := checker.Events(Report{Address: testAddr, Statuses: []Status{
		{Month: chain.October, ChainSlug: testChain},
		{Month: chain.November, ChainSlug: testChain},
	}})
	assert.Len(t, events, 2)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "", errorMessage(nil))
	assert.Equal(t, "boom", errorMessage(errors.New("boom")))
	assert.Equal(t, DefaultErrorMessage, errorMessage(errors.New("")))
}
