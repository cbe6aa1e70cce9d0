package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/practiceflow/notify-engine/internal/repository"
)

func createNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_notifications_status_scheduled ON notifications (status, scheduled_for)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_type ON notifications (type)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_metadata ON notifications USING GIN (metadata)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationModel{})
		},
	}
}
