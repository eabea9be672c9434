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

// Initiator names recorded on rows written by the system itself.
const (
	InitiatorScheduler       = "SYSTEM_SCHEDULER"
	InitiatorPaymentService  = "PAYMENT_SERVICE"
	InitiatorSecurityService = "SECURITY_SERVICE"
)

const (
	sourcePayment  = "PAYMENT"
	sourceSecurity = "SECURITY"
	sourceControl  = "SERVICE_CONTROL"
)

// Device command names pushed on a status transition.
const (
	commandSuspendService = "SUSPEND_SERVICE"
	commandRestoreService = "RESTORE_SERVICE"
)

// maxTransitionAttempts bounds the re-read loop when a concurrent transition
// steals the active row between our read and our write.
const maxTransitionAttempts = 3

// ServiceStatusService owns the status history of every installation. A
// transition deactivates the current active row and inserts a new one in a
// single transaction together with its audit rows; the deactivate step is a
// precondition write, so two racing transitions cannot both win.
type ServiceStatusService struct {
	uow        database.UnitOfWorkInterface
	statusRepo interfaces.ServiceStatusRepositoryInterface
	instRepo   interfaces.InstallationRepositoryInterface
	actionRepo interfaces.ControlActionRepositoryInterface
	opLogRepo  interfaces.OperationalLogRepositoryInterface
	cmdRepo    interfaces.DeviceCommandRepositoryInterface
	cache      StatusCache
	notifier   Notifier
	dispatcher CommandDispatcher
	logger     *slog.Logger
}

func NewServiceStatusService(
	uow database.UnitOfWorkInterface,
	statusRepo interfaces.ServiceStatusRepositoryInterface,
	instRepo interfaces.InstallationRepositoryInterface,
	actionRepo interfaces.ControlActionRepositoryInterface,
	opLogRepo interfaces.OperationalLogRepositoryInterface,
	cmdRepo interfaces.DeviceCommandRepositoryInterface,
	cache StatusCache,
	notifier Notifier,
	logger *slog.Logger,
) *ServiceStatusService {
	return &ServiceStatusService{
		uow:        uow,
		statusRepo: statusRepo,
		instRepo:   instRepo,
		actionRepo: actionRepo,
		opLogRepo:  opLogRepo,
		cmdRepo:    cmdRepo,
		cache:      cache,
		notifier:   notifier,
		logger:     logger.With("component", "service_status"),
	}
}

// SetDispatcher wires the command service in after construction. The command
// service itself depends on this service's types, so the link is made in main.
func (s *ServiceStatusService) SetDispatcher(d CommandDispatcher) {
	s.dispatcher = d
}

// RegisterInstallation creates the installation record and seeds its first
// active status row.
func (s *ServiceStatusService) RegisterInstallation(ctx context.Context, inst *models.SolarInstallation) (*models.ServiceStatus, error) {
	tx := s.uow.Begin()
	defer s.uow.Rollback(tx)

	if err := s.instRepo.Create(tx, inst); err != nil {
		return nil, utils.NewInternalServerError("failed to register installation", err)
	}

	status := &models.ServiceStatus{
		InstallationID: inst.ID,
		Status:         models.ServiceStateActive,
		StatusReason:   "Installation registered",
		UpdatedBy:      InitiatorScheduler,
		UpdatedAt:      time.Now(),
		Active:         true,
	}
	if err := s.statusRepo.CreateStatus(tx, status); err != nil {
		return nil, utils.NewInternalServerError("failed to seed service status", err)
	}

	instID := inst.ID
	entry := &models.OperationalLog{
		InstallationID: &instID,
		Operation:      models.OpServiceStatusChange,
		Initiator:      InitiatorScheduler,
		Details:        "Installation registered with active service",
		SourceSystem:   sourceControl,
		SourceAction:   "REGISTER_INSTALLATION",
		Success:        true,
	}
	if err := s.opLogRepo.Create(tx, entry); err != nil {
		return nil, utils.NewInternalServerError("failed to write operational log", err)
	}

	if err := s.uow.Commit(tx); err != nil {
		return nil, utils.NewInternalServerError("failed to commit registration", err)
	}

	s.refreshCache(ctx, status)
	s.logger.Info("Installation registered", "installation_id", inst.ID)
	return status, nil
}

// GetCurrentStatus returns the active status row, preferring the cache.
func (s *ServiceStatusService) GetCurrentStatus(ctx context.Context, installationID uint) (*models.ServiceStatus, error) {
	if s.cache != nil {
		cached, err := s.cache.GetCachedServiceStatus(ctx, installationID)
		if err != nil {
			s.logger.Warn("Status cache read failed", "installation_id", installationID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	status, err := s.statusRepo.FindActiveByInstallation(installationID)
	if err != nil {
		if base.IsEntityNotFound(err) {
			return nil, utils.NewNotFoundError(fmt.Sprintf("no service status for installation %d", installationID))
		}
		return nil, utils.NewInternalServerError("failed to load service status", err)
	}

	s.refreshCache(ctx, status)
	return status, nil
}

// UpdateStatus performs an admin-initiated status change.
func (s *ServiceStatusService) UpdateStatus(ctx context.Context, installationID uint, target models.ServiceState, reason, updatedBy string) (*models.ServiceStatus, error) {
	if !models.IsValidServiceState(string(target)) {
		return nil, utils.NewBadRequestError(fmt.Sprintf("unknown service state %q", target))
	}
	return s.transition(ctx, transitionRequest{
		installationID: installationID,
		target:         target,
		reason:         reason,
		updatedBy:      updatedBy,
		sourceSystem:   sourceControl,
		sourceEvent:    "STATUS_UPDATE",
	})
}

// SuspendForPayment suspends service on behalf of the payment subsystem.
func (s *ServiceStatusService) SuspendForPayment(ctx context.Context, installationID uint, reason string) (*models.ServiceStatus, error) {
	return s.transition(ctx, transitionRequest{
		installationID: installationID,
		target:         models.ServiceStateSuspendedPayment,
		reason:         reason,
		updatedBy:      InitiatorPaymentService,
		sourceSystem:   sourcePayment,
		sourceEvent:    "PAYMENT_OVERDUE",
	})
}

// SuspendForSecurity suspends service on behalf of the security subsystem.
func (s *ServiceStatusService) SuspendForSecurity(ctx context.Context, installationID uint, reason string) (*models.ServiceStatus, error) {
	return s.transition(ctx, transitionRequest{
		installationID: installationID,
		target:         models.ServiceStateSuspendedSecurity,
		reason:         reason,
		updatedBy:      InitiatorSecurityService,
		sourceSystem:   sourceSecurity,
		sourceEvent:    "TAMPER_EVENT",
	})
}

// SuspendForMaintenance puts an installation into maintenance mode.
func (s *ServiceStatusService) SuspendForMaintenance(ctx context.Context, installationID uint, reason, updatedBy string) (*models.ServiceStatus, error) {
	return s.transition(ctx, transitionRequest{
		installationID: installationID,
		target:         models.ServiceStateSuspendedMaintenance,
		reason:         reason,
		updatedBy:      updatedBy,
		sourceSystem:   sourceControl,
		sourceEvent:    "MAINTENANCE",
	})
}

// RestoreService returns an installation to active service.
func (s *ServiceStatusService) RestoreService(ctx context.Context, installationID uint, reason, updatedBy string) (*models.ServiceStatus, error) {
	return s.transition(ctx, transitionRequest{
		installationID: installationID,
		target:         models.ServiceStateActive,
		reason:         reason,
		updatedBy:      updatedBy,
		sourceSystem:   sourceControl,
		sourceEvent:    "RESTORE",
	})
}

// RestoreServiceIf restores to active only while the current state is still
// expectFrom. A mismatch is a silent no-op: some other cause now owns the
// suspension and must not be cleared by this caller.
func (s *ServiceStatusService) RestoreServiceIf(ctx context.Context, installationID uint, expectFrom models.ServiceState, reason, updatedBy, sourceSystem, sourceEvent string) (*models.ServiceStatus, error) {
	return s.transition(ctx, transitionRequest{
		installationID: installationID,
		target:         models.ServiceStateActive,
		reason:         reason,
		updatedBy:      updatedBy,
		sourceSystem:   sourceSystem,
		sourceEvent:    sourceEvent,
		expectFrom:     &expectFrom,
	})
}

type transitionRequest struct {
	installationID uint
	target         models.ServiceState
	reason         string
	updatedBy      string
	sourceSystem   string
	sourceEvent    string
	// expectFrom, when set, turns the transition into a conditional one: a
	// current state other than expectFrom makes the call a no-op.
	expectFrom *models.ServiceState
}

// transition is the single write path for status changes. It re-reads and
// retries when the active row is stolen by a concurrent transition.
func (s *ServiceStatusService) transition(ctx context.Context, req transitionRequest) (*models.ServiceStatus, error) {
	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		current, err := s.statusRepo.FindActiveByInstallation(req.installationID)
		if err != nil {
			if base.IsEntityNotFound(err) {
				return nil, utils.NewNotFoundError(fmt.Sprintf("no service status for installation %d", req.installationID))
			}
			return nil, utils.NewInternalServerError("failed to load service status", err)
		}

		if req.expectFrom != nil && current.Status != *req.expectFrom {
			s.logger.Info("Conditional restore skipped, state no longer matches",
				"installation_id", req.installationID,
				"expected", *req.expectFrom,
				"actual", current.Status)
			return current, nil
		}

		if current.Status == req.target {
			return nil, utils.NewInvalidTransitionError(fmt.Sprintf("installation %d is already %s", req.installationID, req.target))
		}
		if !models.CanTransitionService(current.Status, req.target) {
			return nil, utils.NewInvalidTransitionError(fmt.Sprintf("cannot transition from %s to %s", current.Status, req.target))
		}

		newStatus, err := s.commitTransition(current, req)
		if err != nil {
			return nil, err
		}
		if newStatus == nil {
			// Lost the race on the active row; re-read and try again.
			s.logger.Debug("Status transition conflict, retrying",
				"installation_id", req.installationID, "attempt", attempt)
			continue
		}

		s.afterTransition(ctx, current.Status, newStatus, req)
		return newStatus, nil
	}
	return nil, utils.NewInvalidTransitionError(fmt.Sprintf("installation %d status changed concurrently, retry the request", req.installationID))
}

// commitTransition runs the deactivate-old / insert-new pair with its audit
// rows in one transaction. Returns (nil, nil) when the precondition write
// found the row already deactivated.
func (s *ServiceStatusService) commitTransition(current *models.ServiceStatus, req transitionRequest) (*models.ServiceStatus, error) {
	tx := s.uow.Begin()
	defer s.uow.Rollback(tx)

	won, err := s.statusRepo.DeactivateIfActive(tx, current.ID)
	if err != nil {
		return nil, utils.NewInternalServerError("failed to deactivate status row", err)
	}
	if !won {
		return nil, nil
	}

	newStatus := &models.ServiceStatus{
		InstallationID: req.installationID,
		Status:         req.target,
		StatusReason:   req.reason,
		UpdatedBy:      req.updatedBy,
		UpdatedAt:      time.Now(),
		Active:         true,
	}
	if err := s.statusRepo.CreateStatus(tx, newStatus); err != nil {
		return nil, utils.NewInternalServerError("failed to create status row", err)
	}

	action := &models.ControlAction{
		InstallationID: req.installationID,
		ActionType:     actionTypeFor(current.Status, req.target),
		ExecutedBy:     req.updatedBy,
		Success:        true,
		ActionDetails:  req.reason,
		SourceSystem:   req.sourceSystem,
		SourceEvent:    req.sourceEvent,
	}
	if err := s.actionRepo.Create(tx, action); err != nil {
		return nil, utils.NewInternalServerError("failed to write control action", err)
	}

	instID := req.installationID
	entry := &models.OperationalLog{
		InstallationID: &instID,
		Operation:      operationFor(req.target),
		Initiator:      req.updatedBy,
		Details:        fmt.Sprintf("Status changed from %s to %s: %s", current.Status, req.target, req.reason),
		SourceSystem:   req.sourceSystem,
		SourceAction:   req.sourceEvent,
		Success:        true,
	}
	if err := s.opLogRepo.Create(tx, entry); err != nil {
		return nil, utils.NewInternalServerError("failed to write operational log", err)
	}

	if err := s.uow.Commit(tx); err != nil {
		return nil, utils.NewInternalServerError("failed to commit status transition", err)
	}
	return newStatus, nil
}

// afterTransition runs the post-commit side effects: cache refresh, device
// command dispatch, operator notification. None of them can fail the
// already-committed transition.
func (s *ServiceStatusService) afterTransition(ctx context.Context, from models.ServiceState, newStatus *models.ServiceStatus, req transitionRequest) {
	s.logger.Info("Service status changed",
		"installation_id", req.installationID,
		"from", from,
		"to", newStatus.Status,
		"updated_by", req.updatedBy)

	s.refreshCache(ctx, newStatus)

	if s.dispatcher != nil {
		var command string
		switch {
		case newStatus.Status.IsSuspended() && !from.IsSuspended():
			command = commandSuspendService
		case newStatus.Status == models.ServiceStateActive && from.IsSuspended():
			command = commandRestoreService
		}
		if command != "" {
			params := map[string]interface{}{"reason": req.reason}
			if _, err := s.dispatcher.SendCommand(ctx, req.installationID, command, params, req.updatedBy); err != nil {
				s.logger.Error("Failed to dispatch device command after transition",
					"installation_id", req.installationID, "command", command, "error", err)
			}
		}
	}

	if s.notifier != nil {
		s.notifier.NotifyStatusChange(ctx, req.installationID, from, newStatus.Status, req.reason)
	}
}

// ScheduleStatusChange records a future status change on the active row.
func (s *ServiceStatusService) ScheduleStatusChange(ctx context.Context, installationID uint, req *models.ScheduleChangeRequest, updatedBy string) (*models.ServiceStatus, error) {
	if !models.IsValidServiceState(string(req.TargetStatus)) {
		return nil, utils.NewBadRequestError(fmt.Sprintf("unknown service state %q", req.TargetStatus))
	}
	if !req.ScheduledTime.After(time.Now()) {
		return nil, utils.NewBadRequestError("scheduled time must be in the future")
	}

	current, err := s.statusRepo.FindActiveByInstallation(installationID)
	if err != nil {
		if base.IsEntityNotFound(err) {
			return nil, utils.NewNotFoundError(fmt.Sprintf("no service status for installation %d", installationID))
		}
		return nil, utils.NewInternalServerError("failed to load service status", err)
	}

	tx := s.uow.Begin()
	defer s.uow.Rollback(tx)

	if err := s.statusRepo.SetSchedule(tx, current.ID, req.TargetStatus, req.ScheduledTime, req.Reason, updatedBy); err != nil {
		if base.IsConflict(err) {
			return nil, utils.NewInvalidTransitionError(fmt.Sprintf("installation %d status changed concurrently, retry the request", installationID))
		}
		return nil, utils.NewInternalServerError("failed to set scheduled change", err)
	}

	instID := installationID
	entry := &models.OperationalLog{
		InstallationID: &instID,
		Operation:      models.OpStatusChangeScheduled,
		Initiator:      updatedBy,
		Details:        fmt.Sprintf("Change to %s scheduled for %s: %s", req.TargetStatus, req.ScheduledTime.Format(time.RFC3339), req.Reason),
		SourceSystem:   sourceControl,
		SourceAction:   "SCHEDULE_CHANGE",
		Success:        true,
	}
	if err := s.opLogRepo.Create(tx, entry); err != nil {
		return nil, utils.NewInternalServerError("failed to write operational log", err)
	}

	if err := s.uow.Commit(tx); err != nil {
		return nil, utils.NewInternalServerError("failed to commit scheduled change", err)
	}

	current.ScheduledChange = &req.TargetStatus
	current.ScheduledTime = &req.ScheduledTime
	s.refreshCache(ctx, current)
	s.logger.Info("Status change scheduled",
		"installation_id", installationID, "target", req.TargetStatus, "at", req.ScheduledTime)
	return current, nil
}

// CancelScheduledChange clears a pending scheduled change.
func (s *ServiceStatusService) CancelScheduledChange(ctx context.Context, installationID uint, reason, updatedBy string) (*models.ServiceStatus, error) {
	current, err := s.statusRepo.FindActiveByInstallation(installationID)
	if err != nil {
		if base.IsEntityNotFound(err) {
			return nil, utils.NewNotFoundError(fmt.Sprintf("no service status for installation %d", installationID))
		}
		return nil, utils.NewInternalServerError("failed to load service status", err)
	}
	if current.ScheduledChange == nil {
		return nil, utils.NewBadRequestError(fmt.Sprintf("installation %d has no scheduled change", installationID))
	}

	tx := s.uow.Begin()
	defer s.uow.Rollback(tx)

	if err := s.statusRepo.ClearSchedule(tx, current.ID, reason, updatedBy); err != nil {
		if base.IsConflict(err) {
			return nil, utils.NewInvalidTransitionError(fmt.Sprintf("installation %d status changed concurrently, retry the request", installationID))
		}
		return nil, utils.NewInternalServerError("failed to clear scheduled change", err)
	}

	instID := installationID
	entry := &models.OperationalLog{
		InstallationID: &instID,
		Operation:      models.OpScheduledChangeCancelled,
		Initiator:      updatedBy,
		Details:        fmt.Sprintf("Scheduled change to %s cancelled: %s", *current.ScheduledChange, reason),
		SourceSystem:   sourceControl,
		SourceAction:   "CANCEL_SCHEDULED_CHANGE",
		Success:        true,
	}
	if err := s.opLogRepo.Create(tx, entry); err != nil {
		return nil, utils.NewInternalServerError("failed to write operational log", err)
	}

	if err := s.uow.Commit(tx); err != nil {
		return nil, utils.NewInternalServerError("failed to commit cancellation", err)
	}

	current.ScheduledChange = nil
	current.ScheduledTime = nil
	s.refreshCache(ctx, current)
	s.logger.Info("Scheduled change cancelled", "installation_id", installationID)
	return current, nil
}

// ProcessScheduledChanges applies every due scheduled change. Safe to run
// concurrently with itself: the active-row precondition makes each change
// apply at most once. Returns the number of changes applied.
func (s *ServiceStatusService) ProcessScheduledChanges(ctx context.Context) (int, error) {
	due, err := s.statusRepo.FindDueScheduled(time.Now())
	if err != nil {
		return 0, utils.NewInternalServerError("failed to list due scheduled changes", err)
	}

	processed := 0
	for i := range due {
		row := &due[i]
		if row.ScheduledChange == nil {
			continue
		}
		target := *row.ScheduledChange
		reason := fmt.Sprintf("Scheduled change applied (originally requested by %s)", row.UpdatedBy)

		_, err := s.transition(ctx, transitionRequest{
			installationID: row.InstallationID,
			target:         target,
			reason:         reason,
			updatedBy:      InitiatorScheduler,
			sourceSystem:   sourceControl,
			sourceEvent:    "SCHEDULED_CHANGE",
		})
		if err != nil {
			if utils.IsKind(err, utils.KindInvalidTransition) {
				// The state moved since scheduling; drop the stale schedule so
				// the sweep does not pick it up again.
				s.dropStaleSchedule(row, target)
				continue
			}
			s.logger.Error("Failed to apply scheduled change",
				"installation_id", row.InstallationID, "target", target, "error", err)
			continue
		}
		processed++
	}

	if processed > 0 || len(due) > 0 {
		s.logger.Info("Scheduled change sweep finished", "due", len(due), "applied", processed)
	}
	return processed, nil
}

func (s *ServiceStatusService) dropStaleSchedule(row *models.ServiceStatus, target models.ServiceState) {
	tx := s.uow.Begin()
	defer s.uow.Rollback(tx)

	if err := s.statusRepo.ClearSchedule(tx, row.ID, "Scheduled change no longer applicable", InitiatorScheduler); err != nil {
		s.logger.Error("Failed to clear stale schedule",
			"installation_id", row.InstallationID, "error", err)
		return
	}
	instID := row.InstallationID
	entry := &models.OperationalLog{
		InstallationID: &instID,
		Operation:      models.OpScheduledChangeCancelled,
		Initiator:      InitiatorScheduler,
		Details:        fmt.Sprintf("Scheduled change to %s dropped, transition no longer valid", target),
		SourceSystem:   sourceControl,
		SourceAction:   "SCHEDULED_CHANGE",
		Success:        false,
	}
	if err := s.opLogRepo.Create(tx, entry); err != nil {
		s.logger.Error("Failed to log stale schedule drop",
			"installation_id", row.InstallationID, "error", err)
		return
	}
	if err := s.uow.Commit(tx); err != nil {
		s.logger.Error("Failed to commit stale schedule drop",
			"installation_id", row.InstallationID, "error", err)
	}
}

// GetStatusHistory returns the installation's status rows, newest first.
func (s *ServiceStatusService) GetStatusHistory(installationID uint, limit, offset int) ([]models.ServiceStatus, error) {
	history, err := s.statusRepo.FindHistoryByInstallation(installationID, limit, offset)
	if err != nil {
		return nil, utils.NewInternalServerError("failed to load status history", err)
	}
	return history, nil
}

// GetStatusesByOwner returns the active status of every installation that
// belongs to the owner.
func (s *ServiceStatusService) GetStatusesByOwner(owner string) ([]models.ServiceStatus, error) {
	statuses, err := s.statusRepo.FindActiveByOwner(owner)
	if err != nil {
		return nil, utils.NewInternalServerError("failed to load statuses by owner", err)
	}
	return statuses, nil
}

// GetInstallationsByState lists active status rows currently in the state.
func (s *ServiceStatusService) GetInstallationsByState(state models.ServiceState, limit, offset int) ([]models.ServiceStatus, error) {
	if !models.IsValidServiceState(string(state)) {
		return nil, utils.NewBadRequestError(fmt.Sprintf("unknown service state %q", state))
	}
	statuses, err := s.statusRepo.FindActiveByState(state, limit, offset)
	if err != nil {
		return nil, utils.NewInternalServerError("failed to load statuses by state", err)
	}
	return statuses, nil
}

// GetSystemOverview summarizes status and command counts for dashboards.
func (s *ServiceStatusService) GetSystemOverview() (*models.SystemOverview, error) {
	stateCounts, err := s.statusRepo.CountActiveByState()
	if err != nil {
		return nil, utils.NewInternalServerError("failed to count statuses", err)
	}
	commandCounts, err := s.cmdRepo.CountByStatus()
	if err != nil {
		return nil, utils.NewInternalServerError("failed to count commands", err)
	}
	return &models.SystemOverview{
		CountsByState: stateCounts,
		CommandCounts: commandCounts,
		GeneratedAt:   time.Now(),
	}, nil
}

func (s *ServiceStatusService) refreshCache(ctx context.Context, status *models.ServiceStatus) {
	if s.cache == nil {
		return
	}
	if err := s.cache.CacheServiceStatus(ctx, status); err != nil {
		s.logger.Warn("Status cache write failed",
			"installation_id", status.InstallationID, "error", err)
	}
}

func actionTypeFor(from, to models.ServiceState) models.ActionType {
	switch {
	case to == models.ServiceStateSuspendedMaintenance:
		return models.ActionEnableMaintenance
	case to == models.ServiceStateSuspendedSecurity:
		return models.ActionSecurityLockdown
	case to.IsSuspended():
		return models.ActionSuspendService
	case to == models.ServiceStateActive && from == models.ServiceStateSuspendedMaintenance:
		return models.ActionDisableMaintenance
	case to == models.ServiceStateActive && from == models.ServiceStateSuspendedSecurity:
		return models.ActionSecurityRestore
	case to == models.ServiceStateActive:
		return models.ActionRestoreService
	default:
		return models.ActionConfigChange
	}
}

func operationFor(target models.ServiceState) models.OperationType {
	switch {
	case target.IsSuspended():
		return models.OpServiceSuspension
	case target == models.ServiceStateActive:
		return models.OpServiceRestoration
	default:
		return models.OpServiceStatusChange
	}
}
