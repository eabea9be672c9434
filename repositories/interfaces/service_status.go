package interfaces

import (
	"time"

	"github.com/2001J/nebular-power-sub002/models"
	"gorm.io/gorm"
)

// ServiceStatusRepositoryInterface is the durable status-history store.
// Transactional methods take the caller's tx so that the deactivate-old /
// insert-new pair and its audit rows commit as one unit.
type ServiceStatusRepositoryInterface interface {
	FindActiveByInstallation(installationID uint) (*models.ServiceStatus, error)
	FindHistoryByInstallation(installationID uint, limit, offset int) ([]models.ServiceStatus, error)
	FindActiveByState(state models.ServiceState, limit, offset int) ([]models.ServiceStatus, error)
	FindActiveByOwner(owner string) ([]models.ServiceStatus, error)
	FindDueScheduled(now time.Time) ([]models.ServiceStatus, error)
	CountActiveByState() (map[models.ServiceState]int64, error)

	CreateStatus(tx *gorm.DB, status *models.ServiceStatus) error
	// DeactivateIfActive flips the row's active flag off only when it is
	// still the active row. Returns false when a concurrent transition got
	// there first.
	DeactivateIfActive(tx *gorm.DB, statusID uint) (bool, error)
	SetSchedule(tx *gorm.DB, statusID uint, target models.ServiceState, at time.Time, reason, updatedBy string) error
	ClearSchedule(tx *gorm.DB, statusID uint, reason, updatedBy string) error
}
