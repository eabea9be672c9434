package repositories

import (
	"fmt"
	"time"

	"github.com/2001J/nebular-power-sub002/models"
	"github.com/2001J/nebular-power-sub002/repositories/base"
	"github.com/2001J/nebular-power-sub002/repositories/interfaces"
	"gorm.io/gorm"
)

const serviceStatusTable = "service_statuses"

// ServiceStatusRepository persists the per-installation status history.
type ServiceStatusRepository struct {
	db *gorm.DB
}

func NewServiceStatusRepository(db *gorm.DB) interfaces.ServiceStatusRepositoryInterface {
	return &ServiceStatusRepository{db: db}
}

// FindActiveByInstallation returns the single authoritative status row.
func (r *ServiceStatusRepository) FindActiveByInstallation(installationID uint) (*models.ServiceStatus, error) {
	var status models.ServiceStatus
	err := r.db.Where("installation_id = ? AND active = ?", installationID, true).First(&status).Error
	if err != nil {
		return nil, base.HandleDBError("get active status", serviceStatusTable, fmt.Sprintf("installation %d", installationID), err)
	}
	return &status, nil
}

func (r *ServiceStatusRepository) FindHistoryByInstallation(installationID uint, limit, offset int) ([]models.ServiceStatus, error) {
	var history []models.ServiceStatus
	query := r.db.Where("installation_id = ?", installationID).Order("updated_at desc, id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&history).Error; err != nil {
		return nil, base.WrapDBError("list history", serviceStatusTable, err)
	}
	return history, nil
}

func (r *ServiceStatusRepository) FindActiveByState(state models.ServiceState, limit, offset int) ([]models.ServiceStatus, error) {
	var statuses []models.ServiceStatus
	query := r.db.Where("status = ? AND active = ?", state, true).Order("updated_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&statuses).Error; err != nil {
		return nil, base.WrapDBError("list by state", serviceStatusTable, err)
	}
	return statuses, nil
}

func (r *ServiceStatusRepository) FindActiveByOwner(owner string) ([]models.ServiceStatus, error) {
	var statuses []models.ServiceStatus
	err := r.db.
		Joins("JOIN solar_installations ON solar_installations.id = service_statuses.installation_id").
		Where("solar_installations.owner = ? AND service_statuses.active = ?", owner, true).
		Find(&statuses).Error
	if err != nil {
		return nil, base.WrapDBError("list by owner", serviceStatusTable, err)
	}
	return statuses, nil
}

// FindDueScheduled returns active rows whose scheduled change is due.
func (r *ServiceStatusRepository) FindDueScheduled(now time.Time) ([]models.ServiceStatus, error) {
	var statuses []models.ServiceStatus
	err := r.db.
		Where("active = ? AND scheduled_change IS NOT NULL AND scheduled_time <= ?", true, now).
		Find(&statuses).Error
	if err != nil {
		return nil, base.WrapDBError("list due scheduled", serviceStatusTable, err)
	}
	return statuses, nil
}

func (r *ServiceStatusRepository) CountActiveByState() (map[models.ServiceState]int64, error) {
	type row struct {
		Status models.ServiceState
		Total  int64
	}
	var rows []row
	err := r.db.Model(&models.ServiceStatus{}).
		Select("status, count(*) as total").
		Where("active = ?", true).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, base.WrapDBError("count by state", serviceStatusTable, err)
	}
	counts := make(map[models.ServiceState]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}

func (r *ServiceStatusRepository) CreateStatus(tx *gorm.DB, status *models.ServiceStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now()
	}
	if err := tx.Create(status).Error; err != nil {
		return base.WrapDBError("create", serviceStatusTable, err)
	}
	return nil
}

// DeactivateIfActive is the precondition write that keeps the single-active
// invariant under concurrent transitions: the WHERE clause only matches the
// row if it is still active, and a zero rows-affected result tells the
// caller it lost the race.
func (r *ServiceStatusRepository) DeactivateIfActive(tx *gorm.DB, statusID uint) (bool, error) {
	result := tx.Model(&models.ServiceStatus{}).
		Where("id = ? AND active = ?", statusID, true).
		Update("active", false)
	if result.Error != nil {
		return false, base.WrapDBError("deactivate", serviceStatusTable, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *ServiceStatusRepository) SetSchedule(tx *gorm.DB, statusID uint, target models.ServiceState, at time.Time, reason, updatedBy string) error {
	result := tx.Model(&models.ServiceStatus{}).
		Where("id = ? AND active = ?", statusID, true).
		Updates(map[string]interface{}{
			"scheduled_change": target,
			"scheduled_time":   at,
			"status_reason":    reason,
			"updated_by":       updatedBy,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return base.WrapDBError("set schedule", serviceStatusTable, result.Error)
	}
	if result.RowsAffected == 0 {
		return base.NewConflictError(serviceStatusTable, fmt.Sprintf("ID %d", statusID))
	}
	return nil
}

func (r *ServiceStatusRepository) ClearSchedule(tx *gorm.DB, statusID uint, reason, updatedBy string) error {
	result := tx.Model(&models.ServiceStatus{}).
		Where("id = ? AND active = ?", statusID, true).
		Updates(map[string]interface{}{
			"scheduled_change": nil,
			"scheduled_time":   nil,
			"status_reason":    reason,
			"updated_by":       updatedBy,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return base.WrapDBError("clear schedule", serviceStatusTable, result.Error)
	}
	if result.RowsAffected == 0 {
		return base.NewConflictError(serviceStatusTable, fmt.Sprintf("ID %d", statusID))
	}
	return nil
}
