// Package matcher reconstructs round-trip trades from a chronologically
// ordered stream of executions for one (user, account, symbol) group.
//
// The model keeps at most one open trade per instrument per account.
// Buys add to a LONG, sells add to a SHORT; an opposing fill reduces
// the open quantity FIFO-style, and an over-fill closes the trade and
// flips the remainder into a new trade in the opposite direction.
package matcher

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mhodgson/fillbook/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MatchError describes an execution the matcher refused to apply, most
// commonly a reducing fill with no open position. It is recoverable:
// the row is skipped and reported, no trade is fabricated.
type MatchError struct {
	ExternalID string
	Symbol     string
	Reason     string
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("execution %s (%s): %s", e.ExternalID, e.Symbol, e.Reason)
}

// quantityEpsilon absorbs float64 rounding residue on fractional
// quantities (fractional shares, crypto fills). Remaining or remainder
// quantities below it are treated as zero when deciding closure and
// flips, so 0.1+0.2 closed by 0.3 is a clean full close, not a trade
// stuck open with dust.
const quantityEpsilon = 1e-9

// Options tunes matching for the broker format being imported.
type Options struct {
	// LongOnly treats a sell with no open position (including the
	// remainder of an over-fill) as invalid input instead of a short
	// entry. Set for equities formats.
	LongOnly bool
}

// Result collects the trades touched by one group run. Created holds
// trades born in this run, Updated holds pre-existing trades that were
// modified; a trade appears in exactly one of the two.
type Result struct {
	Created []*types.StoredTrade
	Updated []*types.StoredTrade
	Errors  []*MatchError
}

// Matcher applies executions to the single current-open-trade pointer
// of one (user, account, symbol) group. It is not safe for concurrent
// use; each group gets its own Matcher.
type Matcher struct {
	opts    Options
	current *types.StoredTrade
	result  *Result
}

// New returns a Matcher seeded with the group's currently open trade,
// or nil when the group has no open position.
func New(open *types.StoredTrade, opts Options) *Matcher {
	m := &Matcher{
		opts:    opts,
		current: open,
		result:  &Result{},
	}
	if open != nil {
		m.result.Updated = append(m.result.Updated, open)
	}
	return m
}

// SortExecutions orders executions by execution time, ties broken by
// externalId lexical order so re-imports are deterministic.
func SortExecutions(execs []types.Execution) {
	sort.SliceStable(execs, func(i, j int) bool {
		if !execs[i].ExecutedAt.Equal(execs[j].ExecutedAt) {
			return execs[i].ExecutedAt.Before(execs[j].ExecutedAt)
		}
		return execs[i].ExternalID < execs[j].ExternalID
	})
}

// Result returns the trades and errors accumulated so far.
func (m *Matcher) Result() *Result {
	return m.result
}

// Process applies one execution to the group state. A non-nil return
// means the execution was rejected outright and must not be persisted;
// errors for a partially applied fill (a long-only flip remainder) are
// recorded on the Result instead.
func (m *Matcher) Process(e *types.Execution) *MatchError {
	logger := log.With().
		Str("component", "matcher").
		Str("symbol", e.Symbol).
		Str("external_id", e.ExternalID).
		Str("side", e.Side).
		Logger()

	if m.current == nil {
		return m.open(e, e.Quantity, e.Fees, e.Commission, &logger)
	}

	if sameDirection(m.current.Side, e.Side) {
		m.add(e, &logger)
		return nil
	}

	m.reduce(e, &logger)
	return nil
}

// open starts a new trade from an opening fill (or the remainder of a
// flip). quantity, fees and commission may be a slice of the fill.
func (m *Matcher) open(e *types.Execution, quantity, fees, commission float64, logger *zerolog.Logger) *MatchError {
	direction := types.DirectionLong
	if e.Side == types.SideSell {
		direction = types.DirectionShort
	}

	if direction == types.DirectionShort && m.opts.LongOnly {
		return m.fail(e, "sell with no open position for long-only instrument")
	}

	trade := &types.StoredTrade{
		TradeID:         uuid.New().String(),
		UserID:          e.UserID,
		AccountID:       e.AccountID,
		Broker:          e.Broker,
		Symbol:          e.Symbol,
		Side:            direction,
		Quantity:        quantity,
		EntryPrice:      e.Price,
		EntryTime:       e.ExecutedAt,
		Fees:            fees,
		Commissions:     commission,
		Status:          types.StatusOpen,
		InstrumentType:  e.InstrumentType,
		Currency:        e.Currency,
		OpenExecutionID: e.ExecutionID,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	m.current = trade
	m.result.Created = append(m.result.Created, trade)

	logger.Debug().
		Str("trade_id", trade.TradeID).
		Str("direction", direction).
		Float64("quantity", quantity).
		Float64("entry_price", trade.EntryPrice).
		Msg("opened new trade")
	return nil
}

// add folds a same-direction fill into the open trade, re-weighting the
// entry price by quantity.
func (m *Matcher) add(e *types.Execution, logger *zerolog.Logger) {
	trade := m.current
	total := trade.Quantity + e.Quantity
	trade.EntryPrice = (trade.EntryPrice*trade.Quantity + e.Price*e.Quantity) / total
	trade.Quantity = total
	trade.Fees += e.Fees
	trade.Commissions += e.Commission
	trade.UpdatedAt = time.Now()

	logger.Debug().
		Str("trade_id", trade.TradeID).
		Float64("quantity", trade.Quantity).
		Float64("entry_price", trade.EntryPrice).
		Msg("added to open trade")
}

// reduce applies an opposing fill: partial close, full close, or flip.
func (m *Matcher) reduce(e *types.Execution, logger *zerolog.Logger) {
	trade := m.current
	reduceQty := e.Quantity
	if reduceQty > trade.Quantity {
		reduceQty = trade.Quantity
	}
	remainder := e.Quantity - reduceQty
	if remainder < quantityEpsilon {
		remainder = 0
	}

	// Fees on a flip fill are split pro rata between the trade being
	// closed and the position opened from the remainder.
	closeShare := reduceQty / e.Quantity
	trade.Fees += e.Fees * closeShare
	trade.Commissions += e.Commission * closeShare

	// Exit price is the quantity-weighted average across every
	// reducing fill applied to this trade so far.
	prevClosed := trade.ClosedQuantity
	exit := e.Price
	if trade.ExitPrice != nil && prevClosed > 0 {
		exit = (*trade.ExitPrice*prevClosed + e.Price*reduceQty) / (prevClosed + reduceQty)
	}
	trade.ExitPrice = &exit

	// Realized P&L accrues at the entry price in force at this moment;
	// later adding fills re-weight the entry without rewriting history.
	trade.RealizedPnl += reduceQty * (e.Price - trade.EntryPrice) * directionSign(trade.Side)
	trade.ClosedQuantity = prevClosed + reduceQty
	trade.Quantity -= reduceQty
	if trade.Quantity < quantityEpsilon {
		trade.Quantity = 0
	}
	exitTime := e.ExecutedAt
	trade.ExitTime = &exitTime
	trade.CloseExecutionID = e.ExecutionID
	trade.UpdatedAt = time.Now()

	if trade.Quantity == 0 {
		m.close(trade, logger)
	} else {
		logger.Debug().
			Str("trade_id", trade.TradeID).
			Float64("remaining_quantity", trade.Quantity).
			Float64("closed_quantity", trade.ClosedQuantity).
			Msg("partially closed trade")
	}

	if remainder > 0 {
		m.current = nil
		if err := m.open(e, remainder, e.Fees*(1-closeShare), e.Commission*(1-closeShare), logger); err != nil {
			// The closing portion already applied; the remainder error
			// stays on the result so the batch report carries it.
			m.result.Errors = append(m.result.Errors, err)
		}
	}
}

// close finalizes a trade whose open quantity reached zero.
func (m *Matcher) close(trade *types.StoredTrade, logger *zerolog.Logger) {
	trade.Status = types.StatusClosed

	pnl := trade.RealizedPnl - trade.Fees - trade.Commissions
	trade.Pnl = &pnl

	points := (*trade.ExitPrice - trade.EntryPrice) * directionSign(trade.Side)
	trade.PnlPoints = &points

	m.current = nil

	logger.Info().
		Str("trade_id", trade.TradeID).
		Str("direction", trade.Side).
		Float64("entry_price", trade.EntryPrice).
		Float64("exit_price", *trade.ExitPrice).
		Float64("pnl", pnl).
		Float64("pnl_points", points).
		Msg("closed trade")
}

func (m *Matcher) fail(e *types.Execution, reason string) *MatchError {
	return &MatchError{
		ExternalID: e.ExternalID,
		Symbol:     e.Symbol,
		Reason:     reason,
	}
}

func sameDirection(tradeSide, execSide string) bool {
	if tradeSide == types.DirectionLong {
		return execSide == types.SideBuy
	}
	return execSide == types.SideSell
}

func directionSign(side string) float64 {
	if side == types.DirectionShort {
		return -1
	}
	return 1
}
