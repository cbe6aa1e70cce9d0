package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// The partial indexes back the due scan and the stale-claim recovery.
func addNotificationsDueIndexes() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_add_notifications_due_indexes",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_notifications_due ON notifications (scheduled_for, id) WHERE status = 'pending'`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_sending ON notifications (updated_at) WHERE status = 'sending'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`DROP INDEX IF EXISTS idx_notifications_sending`,
				`DROP INDEX IF EXISTS idx_notifications_due`,
			})
		},
	}
}
