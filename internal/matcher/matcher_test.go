package matcher

import (
	"fmt"
	"testing"
	"time"

	"github.com/mhodgson/fillbook/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC)

func fill(seq int, side string, qty, price float64) types.Execution {
	return types.Execution{
		ExecutionID:    fmt.Sprintf("exec-%d", seq),
		UserID:         "user-1",
		AccountID:      "acc-1",
		Broker:         "tradovate",
		ExternalID:     fmt.Sprintf("%04d", seq),
		Symbol:         "ESZ5",
		Side:           side,
		Quantity:       qty,
		Price:          price,
		ExecutedAt:     baseTime.Add(time.Duration(seq) * time.Minute),
		Currency:       "USD",
		InstrumentType: "future",
	}
}

func run(t *testing.T, m *Matcher, execs ...types.Execution) *Result {
	t.Helper()
	for i := range execs {
		require.Nil(t, m.Process(&execs[i]))
	}
	return m.Result()
}

func TestFractionalFullCloseHasNoDust(t *testing.T) {
	t.Parallel()

	// 0.1 + 0.2 leaves binary rounding residue against a 0.3 sell; the
	// trade must still close with zero quantity.
	res := run(t, New(nil, Options{}),
		fill(1, types.SideBuy, 0.1, 100),
		fill(2, types.SideBuy, 0.2, 100),
		fill(3, types.SideSell, 0.3, 110),
	)

	require.Len(t, res.Created, 1)
	trade := res.Created[0]
	assert.Equal(t, types.StatusClosed, trade.Status)
	assert.Zero(t, trade.Quantity)
	require.NotNil(t, trade.Pnl)
	assert.InDelta(t, 3.0, *trade.Pnl, 1e-9)
}

func TestFractionalCloseDoesNotFabricateFlip(t *testing.T) {
	t.Parallel()

	// 0.3 - 0.1 - 0.2 nets to a rounding-residue remainder on the final
	// sell; exactly one trade comes out, closed, with no phantom short.
	res := run(t, New(nil, Options{}),
		fill(1, types.SideBuy, 0.3, 100),
		fill(2, types.SideSell, 0.1, 110),
		fill(3, types.SideSell, 0.2, 110),
	)

	require.Len(t, res.Created, 1)
	trade := res.Created[0]
	assert.Equal(t, types.StatusClosed, trade.Status)
	assert.Zero(t, trade.Quantity)
	require.NotNil(t, trade.Pnl)
	assert.InDelta(t, 3.0, *trade.Pnl, 1e-9)
	assert.Empty(t, res.Errors)
}

func TestOpenLongAndShort(t *testing.T) {
	t.Parallel()

	res := run(t, New(nil, Options{}), fill(1, types.SideBuy, 10, 100))
	require.Len(t, res.Created, 1)
	long := res.Created[0]
	assert.Equal(t, types.DirectionLong, long.Side)
	assert.Equal(t, 10.0, long.Quantity)
	assert.Equal(t, 100.0, long.EntryPrice)
	assert.Equal(t, types.StatusOpen, long.Status)
	assert.Equal(t, "exec-1", long.OpenExecutionID)
	assert.Nil(t, long.Pnl)

	res = run(t, New(nil, Options{}), fill(1, types.SideSell, 3, 50))
	require.Len(t, res.Created, 1)
	assert.Equal(t, types.DirectionShort, res.Created[0].Side)
}

func TestFIFOWeightedExit(t *testing.T) {
	t.Parallel()

	e1 := fill(1, types.SideBuy, 10, 100)
	e2 := fill(2, types.SideSell, 4, 110)
	e3 := fill(3, types.SideSell, 6, 120)
	res := run(t, New(nil, Options{}), e1, e2, e3)

	require.Len(t, res.Created, 1)
	trade := res.Created[0]

	assert.Equal(t, types.StatusClosed, trade.Status)
	assert.Zero(t, trade.Quantity)
	assert.Equal(t, 100.0, trade.EntryPrice)
	require.NotNil(t, trade.ExitPrice)
	assert.InDelta(t, 116.0, *trade.ExitPrice, 1e-9)
	require.NotNil(t, trade.Pnl)
	assert.InDelta(t, 160.0, *trade.Pnl, 1e-9)
	require.NotNil(t, trade.PnlPoints)
	assert.InDelta(t, 16.0, *trade.PnlPoints, 1e-9)
	assert.Equal(t, "exec-3", trade.CloseExecutionID)
	require.NotNil(t, trade.ExitTime)
	assert.True(t, trade.EntryTime.Before(*trade.ExitTime))
}

func TestPartialCloseStaysOpen(t *testing.T) {
	t.Parallel()

	e1 := fill(1, types.SideBuy, 10, 50)
	e1.Fees = 1.5
	e2 := fill(2, types.SideSell, 3, 55)
	e2.Fees = 0.5
	res := run(t, New(nil, Options{}), e1, e2)

	require.Len(t, res.Created, 1)
	trade := res.Created[0]

	assert.Equal(t, types.StatusOpen, trade.Status)
	assert.Equal(t, 7.0, trade.Quantity)
	assert.Equal(t, 3.0, trade.ClosedQuantity)
	assert.Nil(t, trade.Pnl, "pnl stays null while the trade is open")
	assert.Nil(t, trade.PnlPoints)
	assert.InDelta(t, 2.0, trade.Fees, 1e-9, "fees from both fills accumulate")
	assert.InDelta(t, 15.0, trade.RealizedPnl, 1e-9)
}

func TestAddingFillReweightsEntry(t *testing.T) {
	t.Parallel()

	res := run(t, New(nil, Options{}),
		fill(1, types.SideBuy, 10, 100),
		fill(2, types.SideBuy, 10, 110),
	)

	require.Len(t, res.Created, 1)
	trade := res.Created[0]
	assert.Equal(t, 20.0, trade.Quantity)
	assert.InDelta(t, 105.0, trade.EntryPrice, 1e-9)
}

func TestFlipClosesAndOpensOpposite(t *testing.T) {
	t.Parallel()

	e1 := fill(1, types.SideBuy, 5, 100)
	e2 := fill(2, types.SideSell, 8, 104)
	res := run(t, New(nil, Options{}), e1, e2)

	require.Len(t, res.Created, 2)
	closed, opened := res.Created[0], res.Created[1]

	assert.Equal(t, types.StatusClosed, closed.Status)
	assert.Equal(t, types.DirectionLong, closed.Side)
	require.NotNil(t, closed.Pnl)
	assert.InDelta(t, 20.0, *closed.Pnl, 1e-9, "pnl computed on the 5 closed units")

	assert.Equal(t, types.StatusOpen, opened.Status)
	assert.Equal(t, types.DirectionShort, opened.Side)
	assert.Equal(t, 3.0, opened.Quantity)
	assert.Equal(t, 104.0, opened.EntryPrice)
	assert.Equal(t, e2.ExecutedAt, opened.EntryTime)
	assert.Equal(t, "exec-2", opened.OpenExecutionID)
	assert.Empty(t, res.Errors)
}

func TestFlipSplitsFeesProRata(t *testing.T) {
	t.Parallel()

	e1 := fill(1, types.SideBuy, 5, 100)
	e2 := fill(2, types.SideSell, 8, 104)
	e2.Fees = 8.0
	e2.Commission = 4.0
	res := run(t, New(nil, Options{}), e1, e2)

	require.Len(t, res.Created, 2)
	closed, opened := res.Created[0], res.Created[1]

	assert.InDelta(t, 5.0, closed.Fees, 1e-9)
	assert.InDelta(t, 2.5, closed.Commissions, 1e-9)
	assert.InDelta(t, 3.0, opened.Fees, 1e-9)
	assert.InDelta(t, 1.5, opened.Commissions, 1e-9)
}

func TestShortRoundTrip(t *testing.T) {
	t.Parallel()

	res := run(t, New(nil, Options{}),
		fill(1, types.SideSell, 4, 120),
		fill(2, types.SideBuy, 4, 110),
	)

	require.Len(t, res.Created, 1)
	trade := res.Created[0]
	assert.Equal(t, types.DirectionShort, trade.Side)
	assert.Equal(t, types.StatusClosed, trade.Status)
	require.NotNil(t, trade.Pnl)
	assert.InDelta(t, 40.0, *trade.Pnl, 1e-9)
	require.NotNil(t, trade.PnlPoints)
	assert.InDelta(t, 10.0, *trade.PnlPoints, 1e-9)
}

func TestLongOnlyRejectsSellWithNoPosition(t *testing.T) {
	t.Parallel()

	m := New(nil, Options{LongOnly: true})
	e := fill(1, types.SideSell, 5, 100)

	merr := m.Process(&e)
	require.NotNil(t, merr)
	assert.Contains(t, merr.Reason, "no open position")
	assert.Empty(t, m.Result().Created, "no trade is fabricated")

	// A buy afterwards opens normally.
	e2 := fill(2, types.SideBuy, 5, 100)
	require.Nil(t, m.Process(&e2))
	assert.Len(t, m.Result().Created, 1)
}

func TestLongOnlyFlipRemainderReported(t *testing.T) {
	t.Parallel()

	m := New(nil, Options{LongOnly: true})
	e1 := fill(1, types.SideBuy, 5, 100)
	e2 := fill(2, types.SideSell, 8, 104)
	require.Nil(t, m.Process(&e1))
	require.Nil(t, m.Process(&e2), "the closing portion still applies")

	res := m.Result()
	require.Len(t, res.Created, 1)
	assert.Equal(t, types.StatusClosed, res.Created[0].Status)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Reason, "long-only")
}

func TestReentryAfterCloseStartsNewTrade(t *testing.T) {
	t.Parallel()

	res := run(t, New(nil, Options{}),
		fill(1, types.SideBuy, 5, 100),
		fill(2, types.SideSell, 5, 105),
		fill(3, types.SideBuy, 2, 101),
	)

	require.Len(t, res.Created, 2)
	assert.Equal(t, types.StatusClosed, res.Created[0].Status)
	second := res.Created[1]
	assert.Equal(t, types.StatusOpen, second.Status)
	assert.NotEqual(t, res.Created[0].TradeID, second.TradeID)
	assert.Equal(t, 2.0, second.Quantity)
}

func TestSeededOpenTradeIsUpdated(t *testing.T) {
	t.Parallel()

	open := &types.StoredTrade{
		TradeID:    "trade-prior",
		UserID:     "user-1",
		AccountID:  "acc-1",
		Symbol:     "ESZ5",
		Side:       types.DirectionLong,
		Quantity:   10,
		EntryPrice: 100,
		EntryTime:  baseTime.Add(-time.Hour),
		Status:     types.StatusOpen,
	}

	res := run(t, New(open, Options{}), fill(1, types.SideSell, 10, 103))

	assert.Empty(t, res.Created)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, "trade-prior", res.Updated[0].TradeID)
	assert.Equal(t, types.StatusClosed, res.Updated[0].Status)
	require.NotNil(t, res.Updated[0].Pnl)
	assert.InDelta(t, 30.0, *res.Updated[0].Pnl, 1e-9)
}

func TestPartialCloseThenAddKeepsRealizedPnl(t *testing.T) {
	t.Parallel()

	res := run(t, New(nil, Options{}),
		fill(1, types.SideBuy, 10, 100),
		fill(2, types.SideSell, 4, 110), // realizes 40 at entry 100
		fill(3, types.SideBuy, 4, 90),   // re-weights entry to 96 for the remaining 10
		fill(4, types.SideSell, 10, 106),
	)

	require.Len(t, res.Created, 1)
	trade := res.Created[0]
	assert.Equal(t, types.StatusClosed, trade.Status)
	require.NotNil(t, trade.Pnl)
	// 4*(110-100) + 10*(106-96) = 140
	assert.InDelta(t, 140.0, *trade.Pnl, 1e-9)
	require.NotNil(t, trade.ExitPrice)
	// (4*110 + 10*106) / 14
	assert.InDelta(t, 107.142857142857, *trade.ExitPrice, 1e-6)
}

func TestSortExecutions(t *testing.T) {
	t.Parallel()

	a := fill(1, types.SideBuy, 1, 100)
	b := fill(2, types.SideBuy, 1, 100)
	c := fill(3, types.SideBuy, 1, 100)
	// Same instant as b: external id breaks the tie.
	c.ExecutedAt = b.ExecutedAt
	c.ExternalID = "0000"

	execs := []types.Execution{b, c, a}
	SortExecutions(execs)

	assert.Equal(t, "0001", execs[0].ExternalID)
	assert.Equal(t, "0000", execs[1].ExternalID)
	assert.Equal(t, "0002", execs[2].ExternalID)
}
