package activity

import "errors"

var (
	ErrInvalidAddress     = errors.New("invalid wallet address")
	ErrUnknownChain       = errors.New("unknown chain")
	ErrChainInactive      = errors.New("chain is not active")
	ErrMonthNotConfigured = errors.New("month not configured for chain")
	ErrCheckPanicked      = errors.New("month check panicked")
)

// DefaultErrorMessage is reported for failures that carry no message of their own.
const DefaultErrorMessage = "Failed to check activity"

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return DefaultErrorMessage
}
