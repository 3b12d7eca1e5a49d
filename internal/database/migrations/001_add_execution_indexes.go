package migrations

import (
	"gorm.io/gorm"
)

// AddExecutionIndexes creates the indexes the import pipeline depends
// on. The partial unique index is the storage-level enforcement of the
// dedup key: application-level dedup alone cannot rule out a duplicate
// slipping in from a concurrent import in another process.
func AddExecutionIndexes(db *gorm.DB) error {
	indexes := []string{
		// Dedup key. Partial: brokers without stable fill ids store an
		// empty external_id and dedupe by fingerprint instead.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_dedup_key
		 ON executions(user_id, account_id, broker, external_id)
		 WHERE external_id <> ''`,

		// Batch key-set load and account-scoped listing.
		`CREATE INDEX IF NOT EXISTS idx_executions_account
		 ON executions(user_id, account_id)`,

		// Per-group chronological reads.
		`CREATE INDEX IF NOT EXISTS idx_executions_symbol_time
		 ON executions(user_id, account_id, symbol, executed_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
