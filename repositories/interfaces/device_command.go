package interfaces

import (
	"time"

	"github.com/2001J/nebular-power-sub002/models"
	"gorm.io/gorm"
)

// DeviceCommandRepositoryInterface is the command lifecycle store.
type DeviceCommandRepositoryInterface interface {
	Create(tx *gorm.DB, cmd *models.DeviceCommand) error
	GetByID(id uint) (*models.DeviceCommand, error)
	GetByCorrelationID(correlationID string) (*models.DeviceCommand, error)

	// TransitionStatus applies updates only when the command's current status
	// is in the allowed source set. Returns false when the precondition did
	// not hold at write time.
	TransitionStatus(tx *gorm.DB, id uint, from []models.CommandStatus, updates map[string]interface{}) (bool, error)

	FindExpired(now time.Time) ([]models.DeviceCommand, error)
	// FindRetryCandidates returns FAILED commands last touched before
	// failedBefore, and SENT commands stalled since stalledBefore, with
	// retryCount below maxRetries.
	FindRetryCandidates(maxRetries int, failedBefore, stalledBefore time.Time) ([]models.DeviceCommand, error)
	FindExhausted(maxRetries int) ([]models.DeviceCommand, error)

	FindByInstallation(installationID uint, limit, offset int) ([]models.DeviceCommand, error)
	FindByStatus(status models.CommandStatus, limit, offset int) ([]models.DeviceCommand, error)
	FindPendingByInstallation(installationID uint) ([]models.DeviceCommand, error)
	CountByStatus() (map[models.CommandStatus]int64, error)
}
