package importer

import (
	"context"
	"errors"

	"github.com/mhodgson/fillbook/internal/types"
	"gorm.io/gorm"
)

// Database is the importer's persistence layer.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// ListExecutionsForDedup loads the prior executions whose keys the
// batch dedupes against. Scoped to (user, account, broker) so the key
// set is loaded once per batch, not once per row.
func (d *Database) ListExecutionsForDedup(ctx context.Context, userID, accountID, broker string) ([]types.Execution, error) {
	var executions []types.Execution
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND account_id = ? AND broker = ?", userID, accountID, broker).
		Find(&executions).Error
	if err != nil {
		return nil, err
	}
	return executions, nil
}

// GetOpenTrade returns the currently open trade for an
// (account, symbol) group, or nil when the group is flat.
func (d *Database) GetOpenTrade(ctx context.Context, userID, accountID, symbol string) (*types.StoredTrade, error) {
	var trade types.StoredTrade
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND account_id = ? AND symbol = ? AND status = ?",
			userID, accountID, symbol, types.StatusOpen).
		First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

// SaveGroup persists one group's executions and trades atomically. A
// failure rolls the whole group back so a retry never half-commits; the
// context bounds the transaction so a hung storage call cannot block a
// group past its deadline.
func (d *Database) SaveGroup(ctx context.Context, executions []types.Execution, created, updated []*types.StoredTrade) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range executions {
			if err := tx.Create(&executions[i]).Error; err != nil {
				return err
			}
		}
		for _, trade := range created {
			if err := tx.Create(trade).Error; err != nil {
				return err
			}
		}
		for _, trade := range updated {
			if err := tx.Save(trade).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
