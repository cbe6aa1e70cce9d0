package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/practiceflow/notify-engine/internal/repository"
)

func createBulkDispatchesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_bulk_dispatches",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.BulkDispatchModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BulkDispatchModel{})
		},
	}
}
