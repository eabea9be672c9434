package repositories

import (
	"fmt"
	"time"

	"github.com/2001J/nebular-power-sub002/models"
	"github.com/2001J/nebular-power-sub002/repositories/base"
	"github.com/2001J/nebular-power-sub002/repositories/interfaces"
	"gorm.io/gorm"
)

const (
	paymentTable      = "payments"
	installationTable = "solar_installations"
)

// PaymentRepository reads the payment subsystem's records.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) interfaces.PaymentRepositoryInterface {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) GetByID(id uint) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Where("id = ?", id).First(&payment).Error
	if err != nil {
		return nil, base.HandleDBError("get", paymentTable, fmt.Sprintf("ID %d", id), err)
	}
	return &payment, nil
}

func (r *PaymentRepository) FindOverdueBefore(cutoff time.Time) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.
		Where("status = ? AND due_date <= ?", models.PaymentStatusOverdue, cutoff).
		Order("due_date asc").
		Find(&payments).Error
	if err != nil {
		return nil, base.WrapDBError("list overdue", paymentTable, err)
	}
	return payments, nil
}

func (r *PaymentRepository) MarkPaid(tx *gorm.DB, id uint, paidAt time.Time) error {
	result := tx.Model(&models.Payment{}).
		Where("id = ? AND status <> ?", id, models.PaymentStatusPaid).
		Updates(map[string]interface{}{
			"status":     models.PaymentStatusPaid,
			"paid_at":    paidAt,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return base.WrapDBError("mark paid", paymentTable, result.Error)
	}
	return nil
}

// InstallationRepository looks up installations for command and status
// operations.
type InstallationRepository struct {
	db *gorm.DB
}

func NewInstallationRepository(db *gorm.DB) interfaces.InstallationRepositoryInterface {
	return &InstallationRepository{db: db}
}

func (r *InstallationRepository) GetByID(id uint) (*models.SolarInstallation, error) {
	var inst models.SolarInstallation
	err := r.db.Where("id = ?", id).First(&inst).Error
	if err != nil {
		return nil, base.HandleDBError("get", installationTable, fmt.Sprintf("ID %d", id), err)
	}
	return &inst, nil
}

func (r *InstallationRepository) Create(tx *gorm.DB, inst *models.SolarInstallation) error {
	if err := tx.Create(inst).Error; err != nil {
		return base.WrapDBError("create", installationTable, err)
	}
	return nil
}
