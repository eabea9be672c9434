package interfaces

import (
	"time"

	"github.com/2001J/nebular-power-sub002/models"
	"gorm.io/gorm"
)

// PaymentRepositoryInterface reads the payment subsystem's records. The
// control core only marks payments paid; everything else is read-only.
type PaymentRepositoryInterface interface {
	GetByID(id uint) (*models.Payment, error)
	// FindOverdueBefore returns OVERDUE payments whose due date is earlier
	// than the cutoff (i.e. past the grace period).
	FindOverdueBefore(cutoff time.Time) ([]models.Payment, error)
	MarkPaid(tx *gorm.DB, id uint, paidAt time.Time) error
}

// InstallationRepositoryInterface looks up the installation aggregate.
type InstallationRepositoryInterface interface {
	GetByID(id uint) (*models.SolarInstallation, error)
	Create(tx *gorm.DB, inst *models.SolarInstallation) error
}
