package trades

import (
	"errors"

	"github.com/mhodgson/fillbook/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetTrade(userID, tradeID string) (*types.StoredTrade, error) {
	var trade types.StoredTrade
	err := d.db.
		Where("trade_id = ? AND user_id = ?", tradeID, userID).
		First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

// ListTrades returns an account's trades newest-first, optionally
// filtered by status.
func (d *Database) ListTrades(userID, accountID, status string) ([]types.StoredTrade, error) {
	query := d.db.Where("user_id = ? AND account_id = ?", userID, accountID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var result []types.StoredTrade
	if err := query.Order("entry_time DESC").Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// ListTradeExecutions returns the fills that contributed to a trade:
// every execution for its (account, symbol) between entry and exit (or
// all later ones while the trade is still open).
func (d *Database) ListTradeExecutions(trade *types.StoredTrade) ([]types.Execution, error) {
	query := d.db.
		Where("user_id = ? AND account_id = ? AND symbol = ? AND executed_at >= ?",
			trade.UserID, trade.AccountID, trade.Symbol, trade.EntryTime)
	if trade.ExitTime != nil {
		query = query.Where("executed_at <= ?", *trade.ExitTime)
	}

	var executions []types.Execution
	if err := query.Order("executed_at ASC").Find(&executions).Error; err != nil {
		return nil, err
	}
	return executions, nil
}

func (d *Database) ListExecutions(userID, accountID string) ([]types.Execution, error) {
	var executions []types.Execution
	err := d.db.
		Where("user_id = ? AND account_id = ?", userID, accountID).
		Order("executed_at ASC").
		Find(&executions).Error
	if err != nil {
		return nil, err
	}
	return executions, nil
}

// DeleteTrades removes every stored trade for a user and returns the
// count removed.
func (d *Database) DeleteTrades(userID string) (int64, error) {
	result := d.db.Unscoped().Where("user_id = ?", userID).Delete(&types.StoredTrade{})
	return result.RowsAffected, result.Error
}

// DeleteExecutions removes every execution for a user and returns the
// count removed.
func (d *Database) DeleteExecutions(userID string) (int64, error) {
	result := d.db.Unscoped().Where("user_id = ?", userID).Delete(&types.Execution{})
	return result.RowsAffected, result.Error
}
