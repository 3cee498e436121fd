package migrate

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
)

const sentKeyIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ux_notification_records_sent_key
	ON notification_records (related_entity_id, notification_type)
	WHERE status = 'sent'`

// Models lists every table the service owns, in dependency order.
func Models() []any {
	return []any{
		&models.InventoryRecord{},
		&models.InventoryMovement{},
		&models.Reservation{},
		&models.ReservationItem{},
		&models.NotificationRecord{},
	}
}

// AutoMigrateModels builds the schema from the gorm models. It backs the
// SQLite mode, where the Postgres-flavoured goose files do not apply.
func AutoMigrateModels(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db is required")
	}
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	// The partial index guarding duplicate sends is not declared on the model.
	if err := conn.Exec(sentKeyIndex).Error; err != nil {
		return fmt.Errorf("create sent notification index: %w", err)
	}
	return nil
}
