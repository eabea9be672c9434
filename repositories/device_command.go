package repositories

import (
	"fmt"
	"time"

	"github.com/2001J/nebular-power-sub002/models"
	"github.com/2001J/nebular-power-sub002/repositories/base"
	"github.com/2001J/nebular-power-sub002/repositories/interfaces"
	"gorm.io/gorm"
)

const deviceCommandTable = "device_commands"

// DeviceCommandRepository persists the command lifecycle.
type DeviceCommandRepository struct {
	db *gorm.DB
}

func NewDeviceCommandRepository(db *gorm.DB) interfaces.DeviceCommandRepositoryInterface {
	return &DeviceCommandRepository{db: db}
}

func (r *DeviceCommandRepository) Create(tx *gorm.DB, cmd *models.DeviceCommand) error {
	if cmd.SentAt.IsZero() {
		cmd.SentAt = time.Now()
	}
	if err := tx.Create(cmd).Error; err != nil {
		return base.WrapDBError("create", deviceCommandTable, err)
	}
	return nil
}

func (r *DeviceCommandRepository) GetByID(id uint) (*models.DeviceCommand, error) {
	var cmd models.DeviceCommand
	err := r.db.Where("id = ?", id).First(&cmd).Error
	if err != nil {
		return nil, base.HandleDBError("get", deviceCommandTable, fmt.Sprintf("ID %d", id), err)
	}
	return &cmd, nil
}

func (r *DeviceCommandRepository) GetByCorrelationID(correlationID string) (*models.DeviceCommand, error) {
	var cmd models.DeviceCommand
	err := r.db.Where("correlation_id = ?", correlationID).First(&cmd).Error
	if err != nil {
		return nil, base.HandleDBError("get", deviceCommandTable, fmt.Sprintf("correlation ID %s", correlationID), err)
	}
	return &cmd, nil
}

// TransitionStatus is the command aggregate's precondition write: updates
// apply only while the current status is in the allowed source set, so two
// racing transitions resolve to whichever precondition held at write time.
func (r *DeviceCommandRepository) TransitionStatus(tx *gorm.DB, id uint, from []models.CommandStatus, updates map[string]interface{}) (bool, error) {
	updates["updated_at"] = time.Now()
	result := tx.Model(&models.DeviceCommand{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, base.WrapDBError("transition", deviceCommandTable, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *DeviceCommandRepository) FindExpired(now time.Time) ([]models.DeviceCommand, error) {
	var cmds []models.DeviceCommand
	err := r.db.
		Where("status IN ? AND expires_at <= ?", models.NonTerminalCommandStatuses(), now).
		Find(&cmds).Error
	if err != nil {
		return nil, base.WrapDBError("list expired", deviceCommandTable, err)
	}
	return cmds, nil
}

func (r *DeviceCommandRepository) FindRetryCandidates(maxRetries int, failedBefore, stalledBefore time.Time) ([]models.DeviceCommand, error) {
	var cmds []models.DeviceCommand
	err := r.db.
		Where("retry_count < ? AND ((status = ? AND updated_at <= ?) OR (status = ? AND updated_at <= ?))",
			maxRetries,
			models.CommandStatusFailed, failedBefore,
			models.CommandStatusSent, stalledBefore).
		Find(&cmds).Error
	if err != nil {
		return nil, base.WrapDBError("list retry candidates", deviceCommandTable, err)
	}
	return cmds, nil
}

func (r *DeviceCommandRepository) FindExhausted(maxRetries int) ([]models.DeviceCommand, error) {
	var cmds []models.DeviceCommand
	err := r.db.
		Where("status = ? AND retry_count >= ?", models.CommandStatusFailed, maxRetries).
		Find(&cmds).Error
	if err != nil {
		return nil, base.WrapDBError("list exhausted", deviceCommandTable, err)
	}
	return cmds, nil
}

func (r *DeviceCommandRepository) FindByInstallation(installationID uint, limit, offset int) ([]models.DeviceCommand, error) {
	var cmds []models.DeviceCommand
	query := r.db.Where("installation_id = ?", installationID).Order("sent_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&cmds).Error; err != nil {
		return nil, base.WrapDBError("list by installation", deviceCommandTable, err)
	}
	return cmds, nil
}

func (r *DeviceCommandRepository) FindByStatus(status models.CommandStatus, limit, offset int) ([]models.DeviceCommand, error) {
	var cmds []models.DeviceCommand
	query := r.db.Where("status = ?", status).Order("sent_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&cmds).Error; err != nil {
		return nil, base.WrapDBError("list by status", deviceCommandTable, err)
	}
	return cmds, nil
}

func (r *DeviceCommandRepository) FindPendingByInstallation(installationID uint) ([]models.DeviceCommand, error) {
	var cmds []models.DeviceCommand
	pending := []models.CommandStatus{
		models.CommandStatusPending,
		models.CommandStatusQueued,
		models.CommandStatusSent,
		models.CommandStatusDelivered,
	}
	err := r.db.
		Where("installation_id = ? AND status IN ?", installationID, pending).
		Order("sent_at asc").
		Find(&cmds).Error
	if err != nil {
		return nil, base.WrapDBError("list pending", deviceCommandTable, err)
	}
	return cmds, nil
}

func (r *DeviceCommandRepository) CountByStatus() (map[models.CommandStatus]int64, error) {
	type row struct {
		Status models.CommandStatus
		Total  int64
	}
	var rows []row
	err := r.db.Model(&models.DeviceCommand{}).
		Select("status, count(*) as total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, base.WrapDBError("count by status", deviceCommandTable, err)
	}
	counts := make(map[models.CommandStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}
