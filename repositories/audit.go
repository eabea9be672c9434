package repositories

import (
	"time"

	"github.com/2001J/nebular-power-sub002/models"
	"github.com/2001J/nebular-power-sub002/repositories/base"
	"github.com/2001J/nebular-power-sub002/repositories/interfaces"
	"gorm.io/gorm"
)

const (
	controlActionTable  = "control_actions"
	operationalLogTable = "operational_logs"
)

// ControlActionRepository appends control audit facts. Rows are never
// updated or deleted.
type ControlActionRepository struct {
	db *gorm.DB
}

func NewControlActionRepository(db *gorm.DB) interfaces.ControlActionRepositoryInterface {
	return &ControlActionRepository{db: db}
}

func (r *ControlActionRepository) Create(tx *gorm.DB, action *models.ControlAction) error {
	if action.ExecutedAt.IsZero() {
		action.ExecutedAt = time.Now()
	}
	if err := tx.Create(action).Error; err != nil {
		return base.WrapDBError("create", controlActionTable, err)
	}
	return nil
}

func (r *ControlActionRepository) FindByInstallation(installationID uint, limit, offset int) ([]models.ControlAction, error) {
	var actions []models.ControlAction
	query := r.db.Where("installation_id = ?", installationID).Order("executed_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&actions).Error; err != nil {
		return nil, base.WrapDBError("list", controlActionTable, err)
	}
	return actions, nil
}

// OperationalLogRepository appends operational audit facts.
type OperationalLogRepository struct {
	db *gorm.DB
}

func NewOperationalLogRepository(db *gorm.DB) interfaces.OperationalLogRepositoryInterface {
	return &OperationalLogRepository{db: db}
}

func (r *OperationalLogRepository) Create(tx *gorm.DB, entry *models.OperationalLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if err := tx.Create(entry).Error; err != nil {
		return base.WrapDBError("create", operationalLogTable, err)
	}
	return nil
}

func (r *OperationalLogRepository) FindByInstallation(installationID uint, limit, offset int) ([]models.OperationalLog, error) {
	var entries []models.OperationalLog
	query := r.db.Where("installation_id = ?", installationID).Order("timestamp desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, base.WrapDBError("list", operationalLogTable, err)
	}
	return entries, nil
}

func (r *OperationalLogRepository) FindByOperation(op models.OperationType, limit, offset int) ([]models.OperationalLog, error) {
	var entries []models.OperationalLog
	query := r.db.Where("operation = ?", op).Order("timestamp desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, base.WrapDBError("list by operation", operationalLogTable, err)
	}
	return entries, nil
}

func (r *OperationalLogRepository) FindByTimeRange(from, to time.Time, limit, offset int) ([]models.OperationalLog, error) {
	var entries []models.OperationalLog
	query := r.db.Where("timestamp >= ? AND timestamp <= ?", from, to).Order("timestamp desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, base.WrapDBError("list by time range", operationalLogTable, err)
	}
	return entries, nil
}
