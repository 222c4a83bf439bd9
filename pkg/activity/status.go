package activity

import "github.com/84hero/evm-activity/pkg/chain"

// Status is the resolution state of one month on one chain.
type Status struct {
	Month       chain.Month `json:"month"`
	ChainSlug   string      `json:"chainSlug"`
	HasActivity bool        `json:"hasActivity"`
	IsLoading   bool        `json:"isLoading"`
	Error       string      `json:"error,omitempty"`
}

// Failed reports whether the month resolved to an error rather than a verdict.
func (s Status) Failed() bool {
	return s.Error != ""
}

// Report holds the statuses of one CheckAllMonths run in month order.
type Report struct {
	Address   string   `json:"address"`
	ChainSlug string   `json:"chainSlug"`
	Statuses  []Status `json:"statuses"`
}

// Verdicts maps each successfully checked month to its verdict. Failed months are absent.
func (r Report) Verdicts() map[chain.Month]bool {
	out := make(map[chain.Month]bool, len(r.Statuses))
	for _, st := range r.Statuses {
		if !st.Failed() {
			out[st.Month] = st.HasActivity
		}
	}
	return out
}

func (r Report) Status(month chain.Month) (Status, bool) {
	for _, st := range r.Statuses {
		if st.Month == month {
			return st, true
		}
	}
	return Status{}, false
}

// Failures returns the statuses that carry an error.
func (r Report) Failures() []Status {
	var out []Status
	for _, st := range r.Statuses {
		if st.Failed() {
			out = append(out, st)
		}
	}
	return out
}

// Event is a resolved month status enriched with chain and deployment details,
// in the shape published to outputs.
type Event struct {
	Address     string      `json:"address"`
	ChainID     uint64      `json:"chainId"`
	ChainSlug   string      `json:"chainSlug"`
	Month       chain.Month `json:"month"`
	Year        int         `json:"year,omitempty"`
	Contract    string      `json:"contract,omitempty"`
	MetadataURI string      `json:"metadataUri,omitempty"`
	HasActivity bool        `json:"hasActivity"`
	Error       string      `json:"error,omitempty"`
	CheckedAt   int64       `json:"checkedAt"`
}

// Claimable reports whether the wallet may claim the month's badge.
func (e Event) Claimable() bool {
	return e.Error == "" && e.HasActivity
}
