package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Currency describes a chain's native token
type Currency struct {
	Name     string
	Symbol   string
	Decimals int
}

// Descriptor identifies a supported network and where its explorer API lives
type Descriptor struct {
	ID        uint64
	Slug      string
	Name      string
	ShortName string

	NativeCurrency Currency

	RPCURL         string
	ExplorerURL    string // Human facing explorer
	ExplorerAPIURL string // Etherscan-compatible API endpoint
	APIKeyEnv      string // Environment variable holding the explorer API key

	IsTestnet bool
	IsActive  bool // Inactive chains are listed but never checked
}

// Month is one of the fixed claimable periods
type Month string

const (
	October  Month = "October"
	November Month = "November"
	December Month = "December"
	January  Month = "January"
	February Month = "February"
)

var allMonths = []Month{October, November, December, January, February}

// Months returns the claimable months in claim order.
func Months() []Month {
	out := make([]Month, len(allMonths))
	copy(out, allMonths)
	return out
}

// ParseMonth resolves a month name case-insensitively.
func ParseMonth(s string) (Month, error) {
	for _, m := range allMonths {
		if strings.EqualFold(string(m), strings.TrimSpace(s)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown month %q", s)
}

// MonthWindow is one claimable period on one chain.
// StartBlock and EndBlock are both inclusive.
type MonthWindow struct {
	Name        Month
	Year        int
	ChainSlug   string
	Contract    common.Address
	StartBlock  uint64
	EndBlock    uint64
	MetadataURI string
}

// HasContract reports whether a deployment address has been configured.
func (w MonthWindow) HasContract() bool {
	return w.Contract != (common.Address{})
}

// Blocks returns the number of blocks covered by the window.
func (w MonthWindow) Blocks() uint64 {
	if w.EndBlock < w.StartBlock {
		return 0
	}
	return w.EndBlock - w.StartBlock + 1
}
