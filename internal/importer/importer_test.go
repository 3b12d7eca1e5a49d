package importer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/mhodgson/fillbook/internal/config"
	"github.com/mhodgson/fillbook/internal/database"
	"github.com/mhodgson/fillbook/internal/parser"
	"github.com/mhodgson/fillbook/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testUser    = "user-1"
	testAccount = "acc-1"
)

// testDB opens a fresh in-memory sqlite database per test. The shared
// cache keeps the schema visible across pool connections.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := database.NewDatabase(dsn)
	require.NoError(t, err)
	return db
}

func testService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	return NewService(db, config.ImportConfig{
		Concurrency:      1,
		RetryAttempts:    2,
		RetryDelayMs:     1,
		StorageTimeoutMs: 1000,
	})
}

func genericRows(rows ...string) [][]string {
	out := [][]string{{"external_id", "symbol", "side", "quantity", "price", "timestamp", "currency", "fees", "commission"}}
	for _, r := range rows {
		out = append(out, strings.Split(r, ","))
	}
	return out
}

func importRows(t *testing.T, s *Service, format parser.Format, rows [][]string) *types.ImportResult {
	t.Helper()
	result, err := s.ImportBatch(context.Background(), ImportRequest{
		UserID:    testUser,
		AccountID: testAccount,
		Format:    format,
		Rows:      rows,
	})
	require.NoError(t, err)
	return result
}

func TestImportBatchRoundTrip(t *testing.T) {
	db := testDB(t)
	s := testService(t, db)

	rows := genericRows(
		"EX-1,AAPL,BUY,10,100,2025-03-04T14:30:00Z,USD,0.5,1.0",
		"EX-2,AAPL,SELL,4,110,2025-03-04T15:00:00Z,USD,0.5,1.0",
		"EX-3,AAPL,SELL,6,120,2025-03-04T16:00:00Z,USD,0.5,1.0",
	)

	result := importRows(t, s, parser.FormatGenericCSV, rows)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.ExecutionsImported)
	assert.Equal(t, 1, result.TradesCreated)
	assert.Zero(t, result.TradesUpdated)
	assert.Zero(t, result.SkippedRows)
	assert.Empty(t, result.Errors)

	var trade types.StoredTrade
	require.NoError(t, db.Where("symbol = ?", "AAPL").First(&trade).Error)
	assert.Equal(t, types.StatusClosed, trade.Status)
	assert.Equal(t, 100.0, trade.EntryPrice)
	require.NotNil(t, trade.ExitPrice)
	assert.InDelta(t, 116.0, *trade.ExitPrice, 1e-9)
	require.NotNil(t, trade.Pnl)
	// 10*(116-100) minus 1.5 fees and 3.0 commissions
	assert.InDelta(t, 155.5, *trade.Pnl, 1e-9)

	var count int64
	require.NoError(t, db.Model(&types.Execution{}).Count(&count).Error)
	assert.EqualValues(t, 3, count)
}

func TestImportBatchIdempotent(t *testing.T) {
	db := testDB(t)
	s := testService(t, db)

	rows := genericRows(
		"EX-1,AAPL,BUY,10,100,2025-03-04T14:30:00Z,USD,0,0",
		"EX-2,AAPL,SELL,10,110,2025-03-04T15:00:00Z,USD,0,0",
		"EX-3,MSFT,BUY,5,400,2025-03-04T15:30:00Z,USD,0,0",
	)

	first := importRows(t, s, parser.FormatGenericCSV, rows)
	require.True(t, first.Success)
	require.Equal(t, 3, first.ExecutionsImported)
	require.Equal(t, 2, first.TradesCreated)

	second := importRows(t, s, parser.FormatGenericCSV, rows)
	assert.True(t, second.Success)
	assert.Zero(t, second.ExecutionsImported)
	assert.Zero(t, second.TradesCreated)
	assert.Zero(t, second.TradesUpdated)
	assert.Equal(t, 3, second.SkippedRows)
	assert.Empty(t, second.Errors)

	var execCount, tradeCount int64
	require.NoError(t, db.Model(&types.Execution{}).Count(&execCount).Error)
	require.NoError(t, db.Model(&types.StoredTrade{}).Count(&tradeCount).Error)
	assert.EqualValues(t, 3, execCount)
	assert.EqualValues(t, 2, tradeCount)
}

func TestImportBatchDedupesWithinBatch(t *testing.T) {
	db := testDB(t)
	s := testService(t, db)

	rows := genericRows(
		"EX-1,AAPL,BUY,10,100,2025-03-04T14:30:00Z,USD,0,0",
		"EX-1,AAPL,BUY,10,100,2025-03-04T14:30:00Z,USD,0,0",
	)

	result := importRows(t, s, parser.FormatGenericCSV, rows)
	assert.Equal(t, 1, result.ExecutionsImported)
	assert.Equal(t, 1, result.SkippedRows)
	assert.Empty(t, result.Errors, "duplicate skips are not errors")
}

func TestImportBatchParseErrorsSkipRows(t *testing.T) {
	db := testDB(t)
	s := testService(t, db)

	rows := genericRows(
		"EX-1,AAPL,BUY,10,100,2025-03-04T14:30:00Z,USD,0,0",
		"EX-2,AAPL,HOLD,10,100,2025-03-04T14:30:00Z,USD,0,0",
		"EX-3,AAPL,SELL,ten,110,2025-03-04T15:00:00Z,USD,0,0",
	)

	result := importRows(t, s, parser.FormatGenericCSV, rows)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ExecutionsImported)
	assert.Equal(t, 2, result.SkippedRows)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "unknown side")
	assert.Contains(t, result.Errors[1], "invalid quantity")
}

func TestImportBatchInvalidReducingFill(t *testing.T) {
	db := testDB(t)
	s := testService(t, db)

	rows := genericRows(
		"EX-1,AAPL,SELL,5,100,2025-03-04T14:30:00Z,USD,0,0",
	)

	result := importRows(t, s, parser.FormatGenericCSV, rows)
	assert.False(t, result.Success)
	assert.Zero(t, result.ExecutionsImported)
	assert.Equal(t, 1, result.SkippedRows)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "no open position")

	var tradeCount int64
	require.NoError(t, db.Model(&types.StoredTrade{}).Count(&tradeCount).Error)
	assert.Zero(t, tradeCount, "no trade with negative quantity is fabricated")
}

func TestImportBatchContinuesOpenTradeAcrossBatches(t *testing.T) {
	db := testDB(t)
	s := testService(t, db)

	first := importRows(t, s, parser.FormatGenericCSV, genericRows(
		"EX-1,AAPL,BUY,10,50,2025-03-04T14:30:00Z,USD,1.0,0",
		"EX-2,AAPL,SELL,3,55,2025-03-04T15:00:00Z,USD,1.0,0",
	))
	require.True(t, first.Success)
	require.Equal(t, 1, first.TradesCreated)

	var open types.StoredTrade
	require.NoError(t, db.Where("status = ?", types.StatusOpen).First(&open).Error)
	assert.Equal(t, 7.0, open.Quantity)
	assert.Nil(t, open.Pnl)
	assert.InDelta(t, 2.0, open.Fees, 1e-9)

	second := importRows(t, s, parser.FormatGenericCSV, genericRows(
		"EX-3,AAPL,SELL,7,60,2025-03-04T16:00:00Z,USD,1.0,0",
	))
	assert.True(t, second.Success)
	assert.Zero(t, second.TradesCreated)
	assert.Equal(t, 1, second.TradesUpdated)

	var closed types.StoredTrade
	require.NoError(t, db.Where("trade_id = ?", open.TradeID).First(&closed).Error)
	assert.Equal(t, types.StatusClosed, closed.Status)
	require.NotNil(t, closed.ExitPrice)
	// (3*55 + 7*60) / 10
	assert.InDelta(t, 58.5, *closed.ExitPrice, 1e-9)
	require.NotNil(t, closed.Pnl)
	// 3*(55-50) + 7*(60-50) = 85, minus 3.0 fees
	assert.InDelta(t, 82.0, *closed.Pnl, 1e-9)
}

func TestImportBatchFlip(t *testing.T) {
	db := testDB(t)
	s := testService(t, db)

	rows := [][]string{
		{"orderId", "contract", "product", "b/s", "qty", "price", "fees", "commission", "timestamp"},
		{"T-1", "ESZ5", "ES", "B", "5", "100", "0", "0", "03/04/2025 09:30:00"},
		{"T-2", "ESZ5", "ES", "S", "8", "104", "0", "0", "03/04/2025 10:00:00"},
	}

	result := importRows(t, s, parser.FormatTradovateCSV, rows)
	require.True(t, result.Success)
	assert.Equal(t, 2, result.ExecutionsImported)
	assert.Equal(t, 2, result.TradesCreated)

	var trades []types.StoredTrade
	require.NoError(t, db.Order("entry_time ASC").Find(&trades).Error)
	require.Len(t, trades, 2)

	assert.Equal(t, types.StatusClosed, trades[0].Status)
	assert.Equal(t, types.DirectionLong, trades[0].Side)
	require.NotNil(t, trades[0].Pnl)
	assert.InDelta(t, 20.0, *trades[0].Pnl, 1e-9)

	assert.Equal(t, types.StatusOpen, trades[1].Status)
	assert.Equal(t, types.DirectionShort, trades[1].Side)
	assert.Equal(t, 3.0, trades[1].Quantity)
	assert.Equal(t, 104.0, trades[1].EntryPrice)
}

func TestImportBatchFingerprintDedup(t *testing.T) {
	db := testDB(t)
	s := testService(t, db)

	// No external ids: dedup falls back to the composite fingerprint.
	rows := genericRows(
		",AAPL,BUY,10,100,2025-03-04T14:30:00Z,USD,0,0",
	)

	first := importRows(t, s, parser.FormatGenericCSV, rows)
	require.Equal(t, 1, first.ExecutionsImported)

	second := importRows(t, s, parser.FormatGenericCSV, rows)
	assert.Zero(t, second.ExecutionsImported)
	assert.Equal(t, 1, second.SkippedRows)
}

func TestImportBatchUnknownFormat(t *testing.T) {
	db := testDB(t)
	s := testService(t, db)

	_, err := s.ImportBatch(context.Background(), ImportRequest{
		UserID:    testUser,
		AccountID: testAccount,
		Format:    parser.Format("etrade_ofx"),
		Rows:      [][]string{{"a"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no parser available")
}

func TestImportBatchCanceledStartsNoGroups(t *testing.T) {
	db := testDB(t)
	s := testService(t, db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := s.ImportBatch(ctx, ImportRequest{
		UserID:    testUser,
		AccountID: testAccount,
		Format:    parser.FormatGenericCSV,
		Rows: genericRows(
			"EX-1,AAPL,BUY,10,100,2025-03-04T14:30:00Z,USD,0,0",
			"EX-2,MSFT,BUY,5,400,2025-03-04T14:30:00Z,USD,0,0",
		),
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Zero(t, result.ExecutionsImported)
	assert.Equal(t, 2, result.SkippedRows)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "canceled before start")

	var count int64
	require.NoError(t, db.Model(&types.Execution{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWithRetryBoundsEachAttempt(t *testing.T) {
	db := testDB(t)
	s := NewService(db, config.ImportConfig{
		Concurrency:      1,
		RetryAttempts:    3,
		RetryDelayMs:     1,
		StorageTimeoutMs: 10,
	})

	// An op that hangs until its deadline must be cut off per attempt
	// rather than blocking the group forever.
	attempts := 0
	err := s.withRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	db := testDB(t)
	s := testService(t, db)

	attempts := 0
	err := s.withRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		return gorm.ErrDuplicatedKey
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "constraint violations are not retried")
}

func TestWithRetryRecoversFromTransientError(t *testing.T) {
	db := testDB(t)
	s := testService(t, db)

	attempts := 0
	err := s.withRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return fmt.Errorf("disk I/O error")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestImportBatchIndependentGroups(t *testing.T) {
	db := testDB(t)
	s := testService(t, db)

	// One group carries an invalid reducing fill; the other group must
	// still import in full.
	rows := genericRows(
		"EX-1,AAPL,SELL,5,100,2025-03-04T14:30:00Z,USD,0,0",
		"EX-2,MSFT,BUY,5,400,2025-03-04T14:30:00Z,USD,0,0",
	)

	result := importRows(t, s, parser.FormatGenericCSV, rows)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ExecutionsImported)
	assert.Equal(t, 1, result.TradesCreated)
	assert.Equal(t, 1, result.SkippedRows)
	require.Len(t, result.Errors, 1)
}
