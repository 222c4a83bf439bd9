package activity

import (
	"context"
	"sync"

	"github.com/84hero/evm-activity/pkg/chain"
	"github.com/84hero/evm-activity/pkg/scanner"
)

// Session tracks the month statuses of one wallet on one chain across repeated checks.
// Each month holds exactly one status that is overwritten as checks start and resolve.
// A session without an address is disconnected and all checks are no-ops.
type Session struct {
	checker   *Checker
	address   string
	chainSlug string

	mu          sync.RWMutex
	months      []chain.Month
	statuses    map[chain.Month]Status
	checkingAll bool
}

func (c *Checker) NewSession(address, chainSlug string) *Session {
	s := &Session{
		checker:   c,
		address:   address,
		chainSlug: chainSlug,
	}
	for _, w := range c.registry.Months(chainSlug) {
		s.months = append(s.months, w.Name)
	}
	s.Reset()
	return s
}

func (s *Session) Address() string   { return s.address }
func (s *Session) ChainSlug() string { return s.chainSlug }

// Reset returns every month to the idle, inactive state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = make(map[chain.Month]Status, len(s.months))
	for _, m := range s.months {
		s.statuses[m] = Status{Month: m, ChainSlug: s.chainSlug}
	}
}

// Statuses returns a snapshot in month order.
func (s *Session) Statuses() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.statuses))
	for _, m := range s.months {
		out = append(out, s.statuses[m])
	}
	// Months checked explicitly but not configured for the chain.
	for _, m := range chain.Months() {
		if st, ok := s.statuses[m]; ok && !s.known(m) {
			out = append(out, st)
		}
	}
	return out
}

func (s *Session) Status(month chain.Month) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[month]
	return st, ok
}

func (s *Session) IsCheckingAll() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkingAll
}

func (s *Session) known(month chain.Month) bool {
	for _, m := range s.months {
		if m == month {
			return true
		}
	}
	return false
}

func (s *Session) begin(month chain.Month) {
	st, ok := s.statuses[month]
	if !ok {
		st = Status{Month: month, ChainSlug: s.chainSlug}
	}
	st.IsLoading = true
	st.Error = ""
	s.statuses[month] = st
}

// resolve settles a month. A failure keeps the previous verdict alongside the error.
func (s *Session) resolve(month chain.Month, hasActivity bool, err error) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statuses[month]
	st.Month = month
	st.ChainSlug = s.chainSlug
	st.IsLoading = false
	if err != nil {
		st.Error = errorMessage(err)
	} else {
		st.HasActivity = hasActivity
		st.Error = ""
	}
	s.statuses[month] = st
	return st
}

// CheckMonth checks a single month and returns its settled status.
func (s *Session) CheckMonth(ctx context.Context, month chain.Month, onProgress scanner.ProgressFunc) Status {
	if s.address == "" {
		st, _ := s.Status(month)
		return st
	}

	s.mu.Lock()
	s.begin(month)
	s.mu.Unlock()

	has, err := s.checker.CheckMonth(ctx, s.address, s.chainSlug, month, onProgress)
	return s.resolve(month, has, err)
}

// CheckAll checks every month in order. If the run aborts, months still loading
// settle with the abort error.
func (s *Session) CheckAll(ctx context.Context, onMonthComplete MonthFunc) error {
	return s.runAll(ctx, onMonthComplete, s.checker.CheckAllMonths)
}

// Refresh invalidates the wallet's cached verdicts before checking every month.
func (s *Session) Refresh(ctx context.Context, onMonthComplete MonthFunc) error {
	return s.runAll(ctx, onMonthComplete, s.checker.Refresh)
}

type allMonthsFunc func(ctx context.Context, address, chainSlug string, onMonthComplete MonthFunc) (Report, error)

func (s *Session) runAll(ctx context.Context, onMonthComplete MonthFunc, run allMonthsFunc) error {
	if s.address == "" {
		return nil
	}

	s.mu.Lock()
	s.checkingAll = true
	for _, m := range s.months {
		s.begin(m)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.checkingAll = false
		s.mu.Unlock()
	}()

	_, err := run(ctx, s.address, s.chainSlug, func(st Status) {
		var resolved Status
		if st.Failed() {
			resolved = s.resolve(st.Month, false, errString(st.Error))
		} else {
			resolved = s.resolve(st.Month, st.HasActivity, nil)
		}
		if onMonthComplete != nil {
			onMonthComplete(resolved)
		}
	})
	if err != nil {
		s.mu.Lock()
		for m, st := range s.statuses {
			if st.IsLoading {
				st.IsLoading = false
				st.Error = errorMessage(err)
				s.statuses[m] = st
			}
		}
		s.mu.Unlock()
	}
	return err
}

type errString string

func (e errString) Error() string { return string(e) }
