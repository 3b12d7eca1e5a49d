package types

import (
	"time"

	"gorm.io/gorm"
)

// Execution sides after normalization.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trade direction, derived from the opening fill.
const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// Trade lifecycle states. A trade is closed exactly when its open
// quantity has reached zero.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Execution is one brokerage fill, append-only after ingestion.
// (UserID, AccountID, Broker, ExternalID) is the dedup key, enforced
// by a unique index at the storage layer.
type Execution struct {
	gorm.Model     `json:"-"`
	ExecutionID    string    `gorm:"uniqueIndex" json:"execution_id"`
	UserID         string    `json:"user_id"`
	AccountID      string    `json:"account_id"`
	Broker         string    `json:"broker"`
	ExternalID     string    `json:"external_id"`
	Symbol         string    `json:"symbol"`
	Product        string    `json:"product,omitempty"`
	Side           string    `json:"side"` // BUY or SELL
	Quantity       float64   `json:"quantity"`
	Price          float64   `json:"price"`
	Fees           float64   `json:"fees"`
	Commission     float64   `json:"commission"`
	ExecutedAt     time.Time `json:"executed_at"`
	Currency       string    `json:"currency"`
	InstrumentType string    `json:"instrument_type"`
	CreatedAt      time.Time `json:"created_at"`
}

// StoredTrade is a reconstructed round-trip position spanning one or
// more executions. Quantity is the net open size; ClosedQuantity and
// RealizedPnl accumulate across partial closes so a trade left open by
// one import batch can be continued by the next.
type StoredTrade struct {
	gorm.Model       `json:"-"`
	TradeID          string     `gorm:"uniqueIndex" json:"trade_id"`
	UserID           string     `json:"user_id"`
	AccountID        string     `json:"account_id"`
	Broker           string     `json:"broker"`
	Symbol           string     `json:"symbol"`
	Side             string     `json:"side"` // LONG or SHORT
	Quantity         float64    `json:"quantity"`
	ClosedQuantity   float64    `json:"closed_quantity"`
	EntryPrice       float64    `json:"entry_price"`
	ExitPrice        *float64   `json:"exit_price,omitempty"`
	EntryTime        time.Time  `json:"entry_time"`
	ExitTime         *time.Time `json:"exit_time,omitempty"`
	Pnl              *float64   `json:"pnl,omitempty"`
	PnlPoints        *float64   `json:"pnl_points,omitempty"`
	RealizedPnl      float64    `json:"realized_pnl"`
	Fees             float64    `json:"fees"`
	Commissions      float64    `json:"commissions"`
	Status           string     `json:"status"` // open or closed
	InstrumentType   string     `json:"instrument_type"`
	Currency         string     `json:"currency"`
	OpenExecutionID  string     `json:"open_execution_id"`
	CloseExecutionID string     `json:"close_execution_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Closed reports whether the trade has no remaining open quantity.
func (t *StoredTrade) Closed() bool {
	return t.Status == StatusClosed
}

// ParsedExecution is the row parser's output: a normalized fill that
// has not yet passed deduplication and carries no identity.
type ParsedExecution struct {
	Broker         string
	ExternalID     string
	Symbol         string
	Product        string
	Side           string // BUY or SELL
	Quantity       float64
	Price          float64
	Fees           float64
	Commission     float64
	ExecutedAt     time.Time
	Currency       string
	InstrumentType string
}

// ImportResult reports the outcome of one import batch. It is returned
// to the caller and never persisted.
type ImportResult struct {
	Success            bool     `json:"success"`
	ExecutionsImported int      `json:"executions_imported"`
	TradesCreated      int      `json:"trades_created"`
	TradesUpdated      int      `json:"trades_updated"`
	SkippedRows        int      `json:"skipped_rows"`
	Errors             []string `json:"errors,omitempty"`
}

// WipeResult reports the outcome of a bulk user-data wipe.
type WipeResult struct {
	TradesDeleted     int64  `json:"trades_deleted"`
	ExecutionsDeleted int64  `json:"executions_deleted"`
	Warning           string `json:"warning,omitempty"`
}
