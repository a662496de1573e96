package models

import "time"

// ExecutionStatus is the status of a single execution attempt.
type ExecutionStatus string

const (
	ExecFilled           ExecutionStatus = "filled"
	ExecPartialFill      ExecutionStatus = "partial_fill"
	ExecExcessSlippage   ExecutionStatus = "filled_with_excess_slippage"
	ExecTransientError   ExecutionStatus = "transient_error"
	ExecRejected         ExecutionStatus = "rejected"
	ExecAbortedPaused    ExecutionStatus = "aborted_paused"
	ExecExhaustedRetries ExecutionStatus = "exhausted_retries"
)

// Filled reports whether the attempt resulted in a standing fill.
func (s ExecutionStatus) Filled() bool {
	switch s {
	case ExecFilled, ExecPartialFill, ExecExcessSlippage:
		return true
	}
	return false
}

// MarketSnapshot captures venue conditions at the moment of an attempt.
type MarketSnapshot struct {
	Price     float64
	Bid       float64
	Ask       float64
	SpreadPct float64
	Timestamp time.Time
}

// ExecutionLogRecord is an append-only audit entry, one per execution
// attempt. Records are never mutated or deleted once written.
type ExecutionLogRecord struct {
	ID      string
	UserID  string
	OrderID string
	Symbol  string
	Side    Side

	OrderType      OrderType
	RequestedPrice float64
	ExecutedPrice  float64
	SlippagePct    float64
	RequestedUnits float64
	FilledUnits    float64
	Fees           float64
	Latency        time.Duration

	Status     ExecutionStatus
	RetryCount int
	Error      string

	Market MarketSnapshot

	CreatedAt time.Time
}

// CircuitStatus is the state of a user's circuit breaker.
type CircuitStatus string

const (
	CircuitActive CircuitStatus = "ACTIVE"
	CircuitPaused CircuitStatus = "PAUSED"
	CircuitKilled CircuitStatus = "KILLED"
)

// CircuitBreakerState holds per-user circuit breaker state. Mutated by
// the loss tracker on auto-trip and by explicit operator action.
type CircuitBreakerState struct {
	UserID      string
	Status      CircuitStatus
	PauseReason string
	PausedBy    string // "system" or operator id
	TrippedAt   time.Time
	// Count of anomalies (e.g. excess slippage fills) since last reset.
	AnomalyCount int
}

// TradingAllowed reports whether new orders may be submitted.
func (s *CircuitBreakerState) TradingAllowed() bool {
	return s.Status == CircuitActive
}
