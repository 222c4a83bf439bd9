// Package activity decides, per wallet, chain and month, whether the wallet transacted
// during the month's block window. Verdicts are served from the cache when fresh and
// otherwise computed by scanning the window through the explorer.
package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/84hero/evm-activity/pkg/cache"
	"github.com/84hero/evm-activity/pkg/chain"
	"github.com/84hero/evm-activity/pkg/metrics"
	"github.com/84hero/evm-activity/pkg/scanner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/singleflight"
)

// Registry is the subset of chain.Registry the checker reads.
type Registry interface {
	Resolve(slug string) (chain.Descriptor, bool)
	Months(slug string) []chain.MonthWindow
	Window(slug string, month chain.Month) (chain.MonthWindow, bool)
}

// VerdictCache stores month verdicts.
type VerdictCache interface {
	Get(ctx context.Context, address, chainSlug string, month chain.Month) (bool, bool)
	Put(ctx context.Context, address, chainSlug string, month chain.Month, hasActivity bool) error
	Invalidate(ctx context.Context, address, chainSlug string) error
}

// RangeScanner scans an inclusive block range for activity.
type RangeScanner interface {
	ScanRange(ctx context.Context, address, chainSlug string, start, end uint64, onProgress scanner.ProgressFunc) (bool, error)
}

// MonthFunc receives each month's status as soon as it resolves.
type MonthFunc func(Status)

type Checker struct {
	registry Registry
	cache    VerdictCache
	scanner  RangeScanner
	now      func() time.Time

	inflight singleflight.Group
	mu       sync.Mutex
	flights  map[string]*flight
}

// flight is the context a shared scan runs on. It is canceled once every caller
// waiting on the scan has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func NewChecker(registry Registry, c VerdictCache, s RangeScanner) *Checker {
	return &Checker{
		registry: registry,
		cache:    c,
		scanner:  s,
		now:      time.Now,
		flights:  make(map[string]*flight),
	}
}

// Registry returns the chain registry the checker resolves against.
func (c *Checker) Registry() Registry {
	return c.registry
}

func (c *Checker) validate(address, chainSlug string) (chain.Descriptor, error) {
	if !common.IsHexAddress(address) {
		return chain.Descriptor{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	desc, ok := c.registry.Resolve(chainSlug)
	if !ok {
		return chain.Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownChain, chainSlug)
	}
	if !desc.IsActive {
		return chain.Descriptor{}, fmt.Errorf("%w: %s", ErrChainInactive, chainSlug)
	}
	return desc, nil
}

// CheckMonth returns whether address transacted on chainSlug during month.
// A fresh cached verdict is returned without touching the network. Concurrent calls for
// the same address, chain and month share one scan; only the caller that started it
// receives progress. A caller whose ctx is canceled returns early without failing the
// others, and the scan stops once no caller is waiting.
func (c *Checker) CheckMonth(ctx context.Context, address, chainSlug string, month chain.Month, onProgress scanner.ProgressFunc) (hasActivity bool, err error) {
	if _, err := c.validate(address, chainSlug); err != nil {
		return false, err
	}
	defer func() {
		metrics.ObserveMonthCheck(chainSlug, string(month), hasActivity, err)
	}()

	if v, ok := c.cache.Get(ctx, address, chainSlug, month); ok {
		log.Debug("Verdict served from cache", "chain", chainSlug, "address", address, "month", month, "active", v)
		return v, nil
	}

	window, ok := c.registry.Window(chainSlug, month)
	if !ok {
		return false, fmt.Errorf("%w: %s on %s", ErrMonthNotConfigured, month, chainSlug)
	}

	key := cache.Key(address, chainSlug, month)
	f := c.join(ctx, key)
	ch := c.inflight.DoChan(key, func() (interface{}, error) {
		return c.scanMonth(f.ctx, address, chainSlug, window, onProgress)
	})

	select {
	case res := <-ch:
		c.leave(key, f)
		if res.Err != nil {
			return false, res.Err
		}
		if res.Shared {
			log.Debug("Joined in-flight month check", "chain", chainSlug, "address", address, "month", month)
		}
		return res.Val.(bool), nil
	case <-ctx.Done():
		c.leave(key, f)
		return false, ctx.Err()
	}
}

func (c *Checker) scanMonth(ctx context.Context, address, chainSlug string, window chain.MonthWindow, onProgress scanner.ProgressFunc) (found bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			found = false
			err = fmt.Errorf("%w: %s %s: %v", ErrCheckPanicked, chainSlug, window.Name, r)
		}
	}()

	start := c.now()
	found, err = c.scanner.ScanRange(ctx, address, chainSlug, window.StartBlock, window.EndBlock, onProgress)
	if err != nil {
		return false, err
	}
	if err := c.cache.Put(ctx, address, chainSlug, window.Name, found); err != nil {
		log.Warn("Failed to cache verdict", "chain", chainSlug, "address", address, "month", window.Name, "err", err)
	}
	log.Info("Month checked", "chain", chainSlug, "address", address, "month", window.Name,
		"from", window.StartBlock, "to", window.EndBlock, "active", found, "elapsed", c.now().Sub(start))
	return found, nil
}

// join registers a caller on the scan for key. The scan context keeps the first
// caller's values but not its cancellation.
func (c *Checker) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[key]
	if !ok {
		scanCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: scanCtx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

// leave drops a caller. The last one out cancels the scan and forgets it so a new
// caller never joins a canceled scan.
func (c *Checker) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
		c.inflight.Forget(key)
	}
}

// CheckAllMonths checks every configured month of the chain one after another, in
// registry order. A failing month is recorded in its status and does not stop the rest.
// The returned error is reserved for invalid input and context cancellation.
func (c *Checker) CheckAllMonths(ctx context.Context, address, chainSlug string, onMonthComplete MonthFunc) (Report, error) {
	if _, err := c.validate(address, chainSlug); err != nil {
		return Report{}, err
	}

	windows := c.registry.Months(chainSlug)
	report := Report{
		Address:   address,
		ChainSlug: chainSlug,
		Statuses:  make([]Status, 0, len(windows)),
	}

	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		has, err := c.checkIsolated(ctx, address, chainSlug, w.Name)
		st := Status{
			Month:       w.Name,
			ChainSlug:   chainSlug,
			HasActivity: has,
			Error:       errorMessage(err),
		}
		if err != nil {
			log.Warn("Month check failed", "chain", chainSlug, "address", address, "month", w.Name, "err", err)
		}

		report.Statuses = append(report.Statuses, st)
		if onMonthComplete != nil {
			onMonthComplete(st)
		}
	}

	return report, ctx.Err()
}

// Refresh drops the cached verdicts of address on chainSlug and checks every month again.
func (c *Checker) Refresh(ctx context.Context, address, chainSlug string, onMonthComplete MonthFunc) (Report, error) {
	if _, err := c.validate(address, chainSlug); err != nil {
		return Report{}, err
	}
	if err := c.cache.Invalidate(ctx, address, chainSlug); err != nil {
		return Report{}, fmt.Errorf("invalidate cache: %w", err)
	}
	return c.CheckAllMonths(ctx, address, chainSlug, onMonthComplete)
}

func (c *Checker) checkIsolated(ctx context.Context, address, chainSlug string, month chain.Month) (has bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			has = false
			err = fmt.Errorf("%w: %v", ErrCheckPanicked, r)
		}
	}()
	return c.CheckMonth(ctx, address, chainSlug, month, nil)
}

// Event builds the publishable record of a resolved status.
func (c *Checker) Event(address string, st Status) Event {
	ev := Event{
		Address:     address,
		ChainSlug:   st.ChainSlug,
		Month:       st.Month,
		HasActivity: st.HasActivity,
		Error:       st.Error,
		CheckedAt:   c.now().Unix(),
	}
	if common.IsHexAddress(address) {
		ev.Address = common.HexToAddress(address).Hex()
	}
	if desc, ok := c.registry.Resolve(st.ChainSlug); ok {
		ev.ChainID = desc.ID
	}
	if w, ok := c.registry.Window(st.ChainSlug, st.Month); ok {
		ev.Year = w.Year
		ev.MetadataURI = w.MetadataURI
		if w.HasContract() {
			ev.Contract = w.Contract.Hex()
		}
	}
	return ev
}

// Events converts every status of a report.
func (c *Checker) Events(r Report) []Event {
	out := make([]Event, 0, len(r.Statuses))
	for _, st := range r.Statuses {
		out = append(out, c.Event(r.Address, st))
	}
	return out
}
