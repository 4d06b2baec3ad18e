package models

import "errors"

var (
	// ErrDataUnavailable marks a missing or too short lookback window.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrConflictingSignal marks open intents of opposite directions on one symbol.
	ErrConflictingSignal = errors.New("conflicting signal")
	// ErrOrderFailure marks an order the broker rejected or never acknowledged.
	ErrOrderFailure = errors.New("order failure")
	// ErrStrategyFault marks a processor that failed during evaluation.
	ErrStrategyFault = errors.New("strategy fault")
	// ErrConfiguration marks a fatal startup problem.
	ErrConfiguration = errors.New("configuration fault")
	// ErrLedgerInvariant marks a ledger whose bookkeeping no longer adds up.
	ErrLedgerInvariant = errors.New("ledger invariant violated")
)
