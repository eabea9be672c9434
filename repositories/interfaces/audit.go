package interfaces

import (
	"time"

	"github.com/2001J/nebular-power-sub002/models"
	"gorm.io/gorm"
)

// ControlActionRepositoryInterface is the append-only control audit store.
type ControlActionRepositoryInterface interface {
	Create(tx *gorm.DB, action *models.ControlAction) error
	FindByInstallation(installationID uint, limit, offset int) ([]models.ControlAction, error)
}

// OperationalLogRepositoryInterface is the append-only operations audit store.
type OperationalLogRepositoryInterface interface {
	Create(tx *gorm.DB, entry *models.OperationalLog) error
	FindByInstallation(installationID uint, limit, offset int) ([]models.OperationalLog, error)
	FindByOperation(op models.OperationType, limit, offset int) ([]models.OperationalLog, error)
	FindByTimeRange(from, to time.Time, limit, offset int) ([]models.OperationalLog, error)
}
