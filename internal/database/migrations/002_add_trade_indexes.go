package migrations

import (
	"gorm.io/gorm"
)

// AddTradeIndexes creates query indexes for the trades table.
func AddTradeIndexes(db *gorm.DB) error {
	indexes := []string{
		// Open-trade lookup per (account, symbol) group.
		`CREATE INDEX IF NOT EXISTS idx_stored_trades_group_status
		 ON stored_trades(user_id, account_id, symbol, status)`,

		// Account-scoped trade listing.
		`CREATE INDEX IF NOT EXISTS idx_stored_trades_account
		 ON stored_trades(user_id, account_id)`,

		// Time-ordered listings.
		`CREATE INDEX IF NOT EXISTS idx_stored_trades_entry_time
		 ON stored_trades(entry_time)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
