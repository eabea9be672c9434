package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2001J/nebular-power-sub002/database"
	"github.com/2001J/nebular-power-sub002/models"
	"github.com/2001J/nebular-power-sub002/repositories/base"
	"github.com/2001J/nebular-power-sub002/repositories/interfaces"
	"github.com/2001J/nebular-power-sub002/utils"
)

// LastSeenStore records device liveness; the Redis client implements it.
type LastSeenStore interface {
	RecordDeviceLastSeen(ctx context.Context, installationID uint, at time.Time) error
	GetDeviceLastSeen(ctx context.Context, installationID uint) (time.Time, error)
}

// HeartbeatService ingests device heartbeats: token check, last-seen stamp,
// audit entry.
type HeartbeatService struct {
	uow       database.UnitOfWorkInterface
	instRepo  interfaces.InstallationRepositoryInterface
	opLogRepo interfaces.OperationalLogRepositoryInterface
	lastSeen  LastSeenStore
	logger    *slog.Logger
}

func NewHeartbeatService(
	uow database.UnitOfWorkInterface,
	instRepo interfaces.InstallationRepositoryInterface,
	opLogRepo interfaces.OperationalLogRepositoryInterface,
	lastSeen LastSeenStore,
	logger *slog.Logger,
) *HeartbeatService {
	return &HeartbeatService{
		uow:       uow,
		instRepo:  instRepo,
		opLogRepo: opLogRepo,
		lastSeen:  lastSeen,
		logger:    logger.With("component", "heartbeat"),
	}
}

// RecordHeartbeat processes one device heartbeat.
func (s *HeartbeatService) RecordHeartbeat(ctx context.Context, hb *models.HeartbeatMessage) error {
	if hb.InstallationID == 0 {
		return utils.NewBadRequestError("heartbeat missing installation ID")
	}

	inst, err := s.instRepo.GetByID(hb.InstallationID)
	if err != nil {
		if base.IsEntityNotFound(err) {
			return utils.NewNotFoundError(fmt.Sprintf("installation %d not found", hb.InstallationID))
		}
		return utils.NewInternalServerError("failed to load installation", err)
	}
	if inst.DeviceToken != "" && hb.DeviceToken != inst.DeviceToken {
		return utils.NewUnauthorizedError(fmt.Sprintf("device token mismatch for installation %d", hb.InstallationID))
	}

	now := time.Now()
	if s.lastSeen != nil {
		if err := s.lastSeen.RecordDeviceLastSeen(ctx, hb.InstallationID, now); err != nil {
			s.logger.Warn("Failed to record device last seen",
				"installation_id", hb.InstallationID, "error", err)
		}
	}

	tx := s.uow.Begin()
	defer s.uow.Rollback(tx)

	instID := hb.InstallationID
	entry := &models.OperationalLog{
		InstallationID: &instID,
		Operation:      models.OpDeviceHeartbeat,
		Initiator:      hb.DeviceID,
		Details:        fmt.Sprintf("Heartbeat: status=%s battery=%.1f firmware=%s", hb.Status, hb.BatteryLevel, hb.FirmwareVersion),
		SourceSystem:   sourceControl,
		SourceAction:   "HEARTBEAT",
		Success:        true,
	}
	if err := s.opLogRepo.Create(tx, entry); err != nil {
		return utils.NewInternalServerError("failed to log heartbeat", err)
	}
	if err := s.uow.Commit(tx); err != nil {
		return utils.NewInternalServerError("failed to commit heartbeat log", err)
	}

	s.logger.Debug("Heartbeat recorded",
		"installation_id", hb.InstallationID, "device_id", hb.DeviceID)
	return nil
}

// GetDeviceLastSeen returns the device's last heartbeat time.
func (s *HeartbeatService) GetDeviceLastSeen(ctx context.Context, installationID uint) (time.Time, error) {
	if s.lastSeen == nil {
		return time.Time{}, nil
	}
	at, err := s.lastSeen.GetDeviceLastSeen(ctx, installationID)
	if err != nil {
		return time.Time{}, utils.NewInternalServerError("failed to read device last seen", err)
	}
	return at, nil
}
