package services

import (
	"log/slog"
	"time"

	"github.com/2001J/nebular-power-sub002/models"
	"github.com/2001J/nebular-power-sub002/repositories/interfaces"
	"github.com/2001J/nebular-power-sub002/utils"
)

// AuditService exposes the read side of the audit trail. Writes happen
// inside the owning operation's transaction, never here.
type AuditService struct {
	actionRepo interfaces.ControlActionRepositoryInterface
	opLogRepo  interfaces.OperationalLogRepositoryInterface
	logger     *slog.Logger
}

func NewAuditService(
	actionRepo interfaces.ControlActionRepositoryInterface,
	opLogRepo interfaces.OperationalLogRepositoryInterface,
	logger *slog.Logger,
) *AuditService {
	return &AuditService{
		actionRepo: actionRepo,
		opLogRepo:  opLogRepo,
		logger:     logger.With("component", "audit"),
	}
}

// GetControlActions lists an installation's control actions, newest first.
func (s *AuditService) GetControlActions(installationID uint, limit, offset int) ([]models.ControlAction, error) {
	actions, err := s.actionRepo.FindByInstallation(installationID, limit, offset)
	if err != nil {
		return nil, utils.NewInternalServerError("failed to list control actions", err)
	}
	return actions, nil
}

// GetOperationalLogs lists an installation's operational log entries.
func (s *AuditService) GetOperationalLogs(installationID uint, limit, offset int) ([]models.OperationalLog, error) {
	entries, err := s.opLogRepo.FindByInstallation(installationID, limit, offset)
	if err != nil {
		return nil, utils.NewInternalServerError("failed to list operational logs", err)
	}
	return entries, nil
}

// GetLogsByOperation lists log entries of one operation type.
func (s *AuditService) GetLogsByOperation(op models.OperationType, limit, offset int) ([]models.OperationalLog, error) {
	entries, err := s.opLogRepo.FindByOperation(op, limit, offset)
	if err != nil {
		return nil, utils.NewInternalServerError("failed to list logs by operation", err)
	}
	return entries, nil
}

// GetLogsByTimeRange lists log entries inside a time window.
func (s *AuditService) GetLogsByTimeRange(from, to time.Time, limit, offset int) ([]models.OperationalLog, error) {
	if !to.After(from) {
		return nil, utils.NewBadRequestError("time range end must be after start")
	}
	entries, err := s.opLogRepo.FindByTimeRange(from, to, limit, offset)
	if err != nil {
		return nil, utils.NewInternalServerError("failed to list logs by time range", err)
	}
	return entries, nil
}
