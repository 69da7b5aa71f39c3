package logging

import (
	"context"
	"time"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/models"
	"gorm.io/gorm"
)

// PruneSystemLogs deletes system_logs older than retention.
func PruneSystemLogs(ctx context.Context, db *gorm.DB, now time.Time, retention time.Duration) (int64, error) {
	cutoff := now.Add(-retention)
	result := db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.SystemLog{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
