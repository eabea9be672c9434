package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2001J/nebular-power-sub002/database"
	"github.com/2001J/nebular-power-sub002/models"
	"github.com/2001J/nebular-power-sub002/repositories/interfaces"
	"github.com/2001J/nebular-power-sub002/utils"
)

// SecurityIntegrationService bridges tamper events from the security
// subsystem into service control. High and critical events suspend service;
// service is restored only when the installation's last open issue is
// resolved and the suspension is still security-owned.
//
// Open issues are tracked in memory only. A restart clears them, which is
// acceptable: the security subsystem re-delivers unresolved events.
type SecurityIntegrationService struct {
	uow       database.UnitOfWorkInterface
	opLogRepo interfaces.OperationalLogRepositoryInterface
	statusSvc *ServiceStatusService
	notifier  Notifier
	logger    *slog.Logger

	mu         sync.Mutex
	openIssues map[uint]map[uint]struct{} // installationID -> set of tamper event IDs
}

func NewSecurityIntegrationService(
	uow database.UnitOfWorkInterface,
	opLogRepo interfaces.OperationalLogRepositoryInterface,
	statusSvc *ServiceStatusService,
	notifier Notifier,
	logger *slog.Logger,
) *SecurityIntegrationService {
	return &SecurityIntegrationService{
		uow:        uow,
		opLogRepo:  opLogRepo,
		statusSvc:  statusSvc,
		notifier:   notifier,
		logger:     logger.With("component", "security_integration"),
		openIssues: make(map[uint]map[uint]struct{}),
	}
}

// HandleTamperEvent records a tamper event and suspends service when the
// severity requires it. Low and medium events are logged and alerted only.
func (s *SecurityIntegrationService) HandleTamperEvent(ctx context.Context, req *models.TamperEventRequest) error {
	if req.InstallationID == 0 || req.TamperEventID == 0 {
		return utils.NewBadRequestError("tamper event needs an installation ID and an event ID")
	}

	s.logEvent(req)

	if s.notifier != nil {
		s.notifier.NotifyTamperAlert(ctx, req.InstallationID, req.EventType, req.Severity)
	}

	if !req.Severity.RequiresSuspension() {
		s.logger.Info("Tamper event below suspension threshold",
			"installation_id", req.InstallationID,
			"event_id", req.TamperEventID,
			"severity", req.Severity)
		return nil
	}

	s.addOpenIssue(req.InstallationID, req.TamperEventID)

	reason := fmt.Sprintf("Tamper event %d (%s, severity %s): %s",
		req.TamperEventID, req.EventType, req.Severity, req.Description)
	_, err := s.statusSvc.SuspendForSecurity(ctx, req.InstallationID, reason)
	if err != nil {
		if utils.IsKind(err, utils.KindInvalidTransition) {
			// Already suspended; the open issue is recorded either way.
			s.logger.Info("Installation already suspended on tamper event",
				"installation_id", req.InstallationID, "event_id", req.TamperEventID)
			return nil
		}
		if utils.IsKind(err, utils.KindNotFound) {
			// No such installation; an issue for it must not linger.
			s.removeOpenIssue(req.InstallationID, req.TamperEventID)
		}
		return err
	}
	return nil
}

// ResolveTamperEvent clears one open issue. Service is restored only when no
// issues remain open and the suspension is still security-owned.
func (s *SecurityIntegrationService) ResolveTamperEvent(ctx context.Context, req *models.TamperResolutionRequest) error {
	if req.InstallationID == 0 || req.TamperEventID == 0 {
		return utils.NewBadRequestError("tamper resolution needs an installation ID and an event ID")
	}

	remaining := s.removeOpenIssue(req.InstallationID, req.TamperEventID)
	s.logResolution(req, remaining)

	if remaining > 0 {
		s.logger.Info("Tamper event resolved, issues still open",
			"installation_id", req.InstallationID,
			"event_id", req.TamperEventID,
			"remaining", remaining)
		return nil
	}

	_, err := s.statusSvc.RestoreServiceIf(ctx, req.InstallationID,
		models.ServiceStateSuspendedSecurity,
		fmt.Sprintf("Tamper event %d resolved by %s, no open issues remain", req.TamperEventID, req.ResolvedBy),
		InitiatorSecurityService, sourceSecurity, "TAMPER_RESOLVED")
	if err != nil {
		if utils.IsKind(err, utils.KindNotFound) {
			s.logger.Warn("Tamper resolution for installation without status",
				"installation_id", req.InstallationID)
			return nil
		}
		return err
	}
	return nil
}

// OpenIssueCount reports the number of unresolved suspension-grade tamper
// events for an installation.
func (s *SecurityIntegrationService) OpenIssueCount(installationID uint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.openIssues[installationID])
}

func (s *SecurityIntegrationService) addOpenIssue(installationID, eventID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	issues, ok := s.openIssues[installationID]
	if !ok {
		issues = make(map[uint]struct{})
		s.openIssues[installationID] = issues
	}
	issues[eventID] = struct{}{}
}

// removeOpenIssue drops the issue and returns how many remain open.
func (s *SecurityIntegrationService) removeOpenIssue(installationID, eventID uint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	issues := s.openIssues[installationID]
	delete(issues, eventID)
	if len(issues) == 0 {
		delete(s.openIssues, installationID)
		return 0
	}
	return len(issues)
}

func (s *SecurityIntegrationService) logEvent(req *models.TamperEventRequest) {
	tx := s.uow.Begin()
	defer s.uow.Rollback(tx)

	instID := req.InstallationID
	entry := &models.OperationalLog{
		InstallationID: &instID,
		Operation:      models.OpTamperEventReceived,
		Initiator:      InitiatorSecurityService,
		Details:        fmt.Sprintf("Tamper event %d (%s, severity %s)", req.TamperEventID, req.EventType, req.Severity),
		SourceSystem:   sourceSecurity,
		SourceAction:   req.EventType,
		Success:        true,
	}
	if err := s.opLogRepo.Create(tx, entry); err != nil {
		s.logger.Error("Failed to log tamper event",
			"installation_id", req.InstallationID, "error", err)
		return
	}
	if err := s.uow.Commit(tx); err != nil {
		s.logger.Error("Failed to commit tamper event log",
			"installation_id", req.InstallationID, "error", err)
	}
}

func (s *SecurityIntegrationService) logResolution(req *models.TamperResolutionRequest, remaining int) {
	tx := s.uow.Begin()
	defer s.uow.Rollback(tx)

	instID := req.InstallationID
	entry := &models.OperationalLog{
		InstallationID: &instID,
		Operation:      models.OpSecurityResponse,
		Initiator:      req.ResolvedBy,
		Details:        fmt.Sprintf("Tamper event %d resolved, %d issues remain", req.TamperEventID, remaining),
		SourceSystem:   sourceSecurity,
		SourceAction:   "TAMPER_RESOLVED",
		Success:        true,
	}
	if err := s.opLogRepo.Create(tx, entry); err != nil {
		s.logger.Error("Failed to log tamper resolution",
			"installation_id", req.InstallationID, "error", err)
		return
	}
	if err := s.uow.Commit(tx); err != nil {
		s.logger.Error("Failed to commit tamper resolution log",
			"installation_id", req.InstallationID, "error", err)
	}
}
