package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// All returns the ordered migration list. IDs are append-only.
func All() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		createNotificationsTable(),
		createNotificationAttemptsTable(),
		createBulkDispatchesTable(),
		addNotificationsDueIndexes(),
	}
}

func Migrate(db *gorm.DB) error {
	return gormigrate.New(db, gormigrate.DefaultOptions, All()).Migrate()
}

// RollbackLast undoes the most recently applied migration.
func RollbackLast(db *gorm.DB) error {
	return gormigrate.New(db, gormigrate.DefaultOptions, All()).RollbackLast()
}

func execAll(tx *gorm.DB, statements []string) error {
	for _, sql := range statements {
		if err := tx.Exec(sql).Error; err != nil {
			return err
		}
	}
	return nil
}
